package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// ========== Auth handlers ==========

// HandleLogin handles operator login
func (s *RESTServer) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	operator := s.config.API.Operator
	if operator.PasswordHash == "" || req.Email != operator.Email ||
		!s.auth.VerifyPassword(req.Password, operator.PasswordHash) {
		log.Warn().Str("email", req.Email).Msg("Login failed")
		s.respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	accessToken, expiresAt, err := s.auth.GenerateToken(req.Email)
	if err != nil {
		log.Error().Err(err).Msg("Failed to generate token")
		s.respondError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_token": accessToken,
		"expires_in":   int(time.Until(expiresAt).Seconds()),
		"token_type":   "Bearer",
	})
}

// HandleGetCurrentUser returns the authenticated operator
func (s *RESTServer) HandleGetCurrentUser(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		s.respondError(w, http.StatusUnauthorized, "missing claims")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"email":      claims.Email,
		"expires_at": claims.ExpiresAt,
	})
}

// ========== Health ==========

// HandleHealth handles health check
func (s *RESTServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"time":      time.Now(),
		"band":      s.engine.Region().Name,
		"algorithm": s.engine.Handler().ID(),
	})
}

// ========== Helpers ==========

// pagination reads limit and offset query parameters
func pagination(r *http.Request) (int, int) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 20
	}
	if limit > 1000 {
		limit = 1000
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// respondJSON sends a JSON response
func (s *RESTServer) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

// respondError sends an error response
func (s *RESTServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{
		"error": message,
	})
}
