package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-adr/internal/models"
	"github.com/lorawan-server/lorawan-adr/internal/storage"
	"github.com/lorawan-server/lorawan-adr/pkg/adr"
	"github.com/lorawan-server/lorawan-adr/pkg/lorawan"
)

// HandleListDevices lists device sessions
func (s *RESTServer) HandleListDevices(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	sessions, total, err := s.store.ListDeviceSessions(r.Context(), limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"devices": sessions,
		"total":   total,
	})
}

// HandleGetDeviceADR returns the ADR state of a device together with the
// settings the algorithm would recommend for it now
func (s *RESTServer) HandleGetDeviceADR(w http.ResponseWriter, r *http.Request) {
	session, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	resp := map[string]interface{}{
		"devEUI":      session.DevEUI,
		"adr":         session.ADR,
		"dr":          session.DR,
		"dataRate":    s.engine.Region().GetDRString(int(session.DR)),
		"txPower":     session.TXPower,
		"nbTrans":     session.NbTrans,
		"history":     session.ADRHistory,
		"pending":     session.PendingADR,
		"lastUplink":  session.LastUplinkAt,
		"lostPackets": 0,
	}

	result, err := s.engine.Evaluate(session)
	if err != nil {
		log.Warn().Err(err).Str("devEUI", session.DevEUI.String()).Msg("ADR dry run failed")
	} else {
		resp["lostPackets"] = adr.LostPacketCount(result.Request.UplinkHistory, adr.HistoryWindow)
		resp["recommendation"] = result.Response
		resp["changed"] = result.Changed()
	}

	s.respondJSON(w, http.StatusOK, resp)
}

// HandleResetADRHistory clears the uplink history and pending LinkADRReq
func (s *RESTServer) HandleResetADRHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	session, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	session.ADRHistory = nil
	session.PendingADR = nil

	if err := s.store.SaveDeviceSession(ctx, session); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	event := &models.EventLog{
		DevEUI:      &session.DevEUI,
		Type:        models.EventTypeADR,
		Level:       models.EventLevelInfo,
		Code:        models.EventCodeHistoryReset,
		Description: "ADR history reset",
	}
	if claims := claimsFromContext(ctx); claims != nil {
		event.Details = models.Variables{"operator": claims.Email}
	}
	if err := s.store.CreateEventLog(ctx, event); err != nil {
		log.Error().Err(err).Msg("Failed to create event log")
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleListEvents lists events
func (s *RESTServer) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	query := r.URL.Query()

	filters := storage.EventLogFilters{}

	// Parse filters
	if devEUIStr := query.Get("dev_eui"); devEUIStr != "" {
		devEUI, err := lorawan.ParseEUI64(devEUIStr)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid dev_eui")
			return
		}
		filters.DevEUI = &devEUI
	}

	if eventType := query.Get("type"); eventType != "" {
		modelEventType := models.EventType(eventType)
		filters.Type = &modelEventType
	}

	if level := query.Get("level"); level != "" {
		modelEventLevel := models.EventLevel(level)
		filters.Level = &modelEventLevel
	}

	for key, dst := range map[string]**time.Time{"start": &filters.StartTime, "end": &filters.EndTime} {
		v := query.Get(key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid "+key+" time")
			return
		}
		*dst = &t
	}

	events, total, err := s.store.ListEventLogs(r.Context(), filters, limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  total,
	})
}

// loadSession reads the dev_eui URL parameter and loads its session
func (s *RESTServer) loadSession(w http.ResponseWriter, r *http.Request) (*models.DeviceSession, bool) {
	devEUI, err := lorawan.ParseEUI64(chi.URLParam(r, "dev_eui"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid dev_eui")
		return nil, false
	}

	session, err := s.store.GetDeviceSession(r.Context(), devEUI)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "device session not found")
			return nil, false
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}

	return session, true
}
