package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorawan-server/lorawan-adr/internal/config"
	"github.com/lorawan-server/lorawan-adr/internal/models"
	"github.com/lorawan-server/lorawan-adr/internal/network"
	"github.com/lorawan-server/lorawan-adr/internal/storage"
	"github.com/lorawan-server/lorawan-adr/pkg/adr"
	"github.com/lorawan-server/lorawan-adr/pkg/crypto"
	"github.com/lorawan-server/lorawan-adr/pkg/lorawan"
)

var testDevEUI = lorawan.EUI64{0x70, 0xb3, 0xd5, 0x7e, 0xd0, 0x00, 0x00, 0x01}

type memStore struct {
	mu       sync.Mutex
	sessions map[lorawan.EUI64]models.DeviceSession
	events   []*models.EventLog
	filters  storage.EventLogFilters
}

func (s *memStore) BeginTx(ctx context.Context) (storage.Store, error) { return s, nil }
func (s *memStore) Commit() error                                        { return nil }
func (s *memStore) Rollback() error                                      { return nil }
func (s *memStore) Close() error                                         { return nil }

func (s *memStore) GetDeviceSession(ctx context.Context, devEUI lorawan.EUI64) (*models.DeviceSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ds, ok := s.sessions[devEUI]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &ds, nil
}

func (s *memStore) SaveDeviceSession(ctx context.Context, session *models.DeviceSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[session.DevEUI] = *session
	return nil
}

func (s *memStore) DeleteDeviceSession(ctx context.Context, devEUI lorawan.EUI64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, devEUI)
	return nil
}

func (s *memStore) ListDeviceSessions(ctx context.Context, limit, offset int) ([]*models.DeviceSession, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.DeviceSession
	for _, ds := range s.sessions {
		ds := ds
		out = append(out, &ds)
	}
	return out, int64(len(out)), nil
}

func (s *memStore) CreateEventLog(ctx context.Context, event *models.EventLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, event)
	return nil
}

func (s *memStore) ListEventLogs(ctx context.Context, filters storage.EventLogFilters, limit, offset int) ([]*models.EventLog, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.filters = filters
	return s.events, int64(len(s.events)), nil
}

type testServer struct {
	*RESTServer
	store *memStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	hash, err := crypto.HashPassword("secret-password")
	require.NoError(t, err)

	cfg := config.Default()
	cfg.JWT.Secret = "test-secret"
	cfg.API.Operator = config.OperatorConfig{Email: "ops@example.com", PasswordHash: hash}

	region, err := lorawan.GetRegionConfiguration(cfg.Network.Band)
	require.NoError(t, err)

	registry := adr.DefaultRegistry(cfg.Network.ADR.InstallationMargin)
	handler, err := registry.Get(cfg.Network.ADR.Algorithm)
	require.NoError(t, err)

	store := &memStore{sessions: make(map[lorawan.EUI64]models.DeviceSession)}
	engine := network.NewADREngine(handler, region, cfg.Network.ADR.HistorySize, cfg.Network.ADR.Enabled)

	return &testServer{
		RESTServer: NewRESTServer(cfg, store, registry, engine),
		store:      store,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func (s *testServer) login(t *testing.T) string {
	t.Helper()

	rec := s.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email":    "ops@example.com",
		"password": "secret-password",
	}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "Bearer", resp.TokenType)
	return resp.AccessToken
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func history(n int, snr float64) []adr.UplinkMetaData {
	out := make([]adr.UplinkMetaData, n)
	for i := range out {
		out[i] = adr.UplinkMetaData{FCnt: uint32(i), MaxSNR: snr, GatewayCount: 1}
	}
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "EU868", body["band"])
	assert.Equal(t, "scadra", body["algorithm"])
}

func TestListAlgorithms(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/adr/algorithms", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Algorithms []struct {
			ID      string `json:"id"`
			Name    string `json:"name"`
			Default bool   `json:"default"`
		} `json:"algorithms"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Algorithms, 1)
	assert.Equal(t, "scadra", resp.Algorithms[0].ID)
	assert.Equal(t, "Slowly Correcting ADR Algorithm", resp.Algorithms[0].Name)
	assert.True(t, resp.Algorithms[0].Default)
}

func TestEvaluate(t *testing.T) {
	s := newTestServer(t)

	req := adr.HandleRequest{
		ADR:              true,
		DR:               2,
		TxPowerIndex:     3,
		NbTrans:          1,
		MaxTxPowerIndex:  7,
		RequiredSNRForDR: -15,
		MinDR:            0,
		MaxDR:            5,
		UplinkHistory:    history(20, 5),
	}

	rec := s.do(t, http.MethodPost, "/api/v1/adr/evaluate", req, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp evaluateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "scadra", resp.Algorithm)
	assert.Equal(t, adr.HandleResponse{DR: 3, TxPowerIndex: 0, NbTrans: 1}, resp.HandleResponse)
	assert.Equal(t, 0, resp.LostPackets)
	require.NotNil(t, resp.MinSNR)
	assert.Equal(t, 5.0, *resp.MinSNR)
}

func TestEvaluateEmptyHistory(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/adr/evaluate",
		`{"algorithm":"scadra","adr":true,"dr":4,"nbTrans":2,"minDr":0,"maxDr":5,"uplinkHistory":[]}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, 4.0, body["dr"])
	assert.Equal(t, 0.0, body["txPowerIndex"])
	assert.Equal(t, 2.0, body["nbTrans"])
	assert.NotContains(t, body, "minSnr")
}

func TestEvaluateErrors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{"dr":`},
		{"unknown algorithm", `{"algorithm":"nope","dr":1}`},
		{"dr out of range", `{"dr":16}`},
		{"negative nb trans", `{"dr":1,"nbTrans":-1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/v1/adr/evaluate", tt.body, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, decode(t, rec)["error"])
		})
	}
}

func TestLogin(t *testing.T) {
	s := newTestServer(t)

	token := s.login(t)
	assert.NotEmpty(t, token)

	rec := s.do(t, http.MethodGet, "/api/v1/me", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ops@example.com", decode(t, rec)["email"])

	for name, body := range map[string]map[string]string{
		"wrong password": {"email": "ops@example.com", "password": "guess"},
		"wrong email":    {"email": "other@example.com", "password": "secret-password"},
	} {
		t.Run(name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/v1/auth/login", body, "")
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}

	rec = s.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"email": "not-an-email", "password": "x"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/api/v1/devices", "/api/v1/events", "/api/v1/devices/70b3d57ed0000001/adr"} {
		rec := s.do(t, http.MethodGet, path, nil, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)

		rec = s.do(t, http.MethodGet, path, nil, "bogus")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestDeviceADR(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t)

	session := models.DeviceSession{
		DevEUI:     testDevEUI,
		Band:       "EU868",
		DR:         2,
		NbTrans:    1,
		ADR:        true,
		PendingADR: &models.PendingADR{DR: 3, NbTrans: 1, SentAt: time.Now()},
	}
	for i := 0; i < 20; i++ {
		session.ADRHistory = append(session.ADRHistory, models.ADRHistory{FCnt: uint32(i), MaxSNR: 5, GatewayCount: 1})
	}
	s.store.sessions[testDevEUI] = session

	rec := s.do(t, http.MethodGet, "/api/v1/devices", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, decode(t, rec)["total"])

	rec = s.do(t, http.MethodGet, "/api/v1/devices/70b3d57ed0000001/adr", nil, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "SF10BW125", body["dataRate"])
	assert.Equal(t, true, body["changed"])
	assert.Equal(t, map[string]interface{}{"dr": 3.0, "txPowerIndex": 0.0, "nbTrans": 1.0}, body["recommendation"])

	rec = s.do(t, http.MethodDelete, "/api/v1/devices/70b3d57ed0000001/adr/history", nil, token)
	require.Equal(t, http.StatusNoContent, rec.Code)

	stored := s.store.sessions[testDevEUI]
	assert.Empty(t, stored.ADRHistory)
	assert.Nil(t, stored.PendingADR)
	require.Len(t, s.store.events, 1)
	assert.Equal(t, models.EventCodeHistoryReset, s.store.events[0].Code)
	assert.Equal(t, "ops@example.com", s.store.events[0].Details["operator"])
}

func TestDeviceADRErrors(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t)

	rec := s.do(t, http.MethodGet, "/api/v1/devices/zz/adr", nil, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/devices/0102030405060708/adr", nil, token)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/v1/devices/0102030405060708/adr/history", nil, token)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListEvents(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t)

	rec := s.do(t, http.MethodGet, "/api/v1/events?dev_eui=70b3d57ed0000001&type=ADR&start=2024-01-01T00:00:00Z", nil, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.NotNil(t, s.store.filters.DevEUI)
	assert.Equal(t, testDevEUI, *s.store.filters.DevEUI)
	require.NotNil(t, s.store.filters.Type)
	assert.Equal(t, models.EventTypeADR, *s.store.filters.Type)
	require.NotNil(t, s.store.filters.StartTime)
	assert.Nil(t, s.store.filters.EndTime)

	rec = s.do(t, http.MethodGet, "/api/v1/events?dev_eui=nope", nil, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/events?end=yesterday", nil, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
