package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lorawan-server/lorawan-adr/pkg/adr"
)

// evaluateRequest is a HandleRequest with an optional algorithm selector
type evaluateRequest struct {
	Algorithm string `json:"algorithm,omitempty"`
	adr.HandleRequest
}

// evaluateLimits are the bounds a request must respect to fit a LinkADRReq
type evaluateLimits struct {
	DR           int `json:"dr" validate:"min=0,max=15"`
	TxPowerIndex int `json:"txPowerIndex" validate:"min=0,max=15"`
	NbTrans      int `json:"nbTrans" validate:"min=0,max=15"`
	MinDR        int `json:"minDr" validate:"min=0,max=15"`
	MaxDR        int `json:"maxDr" validate:"min=0,max=15"`
}

type evaluateResponse struct {
	Algorithm string `json:"algorithm"`
	adr.HandleResponse
	LostPackets int      `json:"lostPackets"`
	MinSNR      *float64 `json:"minSnr,omitempty"`
}

// HandleListAlgorithms lists the registered ADR algorithms
func (s *RESTServer) HandleListAlgorithms(w http.ResponseWriter, r *http.Request) {
	type algorithm struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Default bool   `json:"default"`
	}

	handlers := s.registry.List()
	out := make([]algorithm, 0, len(handlers))
	for _, h := range handlers {
		out = append(out, algorithm{
			ID:      h.ID(),
			Name:    h.Name(),
			Default: h.ID() == s.config.Network.ADR.Algorithm,
		})
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"algorithms": out,
	})
}

// HandleEvaluate runs an ADR algorithm on the posted request without
// touching any device state
func (s *RESTServer) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	limits := evaluateLimits{
		DR:           req.DR,
		TxPowerIndex: req.TxPowerIndex,
		NbTrans:      req.NbTrans,
		MinDR:        req.MinDR,
		MaxDR:        req.MaxDR,
	}
	if err := s.validator.Validate(limits); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	algorithm := req.Algorithm
	if algorithm == "" {
		algorithm = s.config.Network.ADR.Algorithm
	}

	handler, err := s.registry.Get(algorithm)
	if err != nil {
		if errors.Is(err, adr.ErrUnknownHandler) {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := evaluateResponse{
		Algorithm:      handler.ID(),
		HandleResponse: handler.Handle(req.HandleRequest),
		LostPackets:    adr.LostPacketCount(req.UplinkHistory, adr.HistoryWindow),
	}
	if len(req.UplinkHistory) > 0 {
		minSNR := adr.MinSNR(req.UplinkHistory)
		resp.MinSNR = &minSNR
	}

	s.respondJSON(w, http.StatusOK, resp)
}
