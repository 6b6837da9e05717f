package network

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/lorawan-server/lorawan-adr/internal/models"
	"github.com/lorawan-server/lorawan-adr/internal/storage"
	"github.com/lorawan-server/lorawan-adr/pkg/lorawan"
)

// memStore is an in-memory storage.Store for tests
type memStore struct {
	mu       sync.Mutex
	sessions map[lorawan.EUI64][]byte
	events   []*models.EventLog
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[lorawan.EUI64][]byte)}
}

func (s *memStore) BeginTx(ctx context.Context) (storage.Store, error) { return s, nil }
func (s *memStore) Commit() error                                        { return nil }
func (s *memStore) Rollback() error                                      { return nil }
func (s *memStore) Close() error                                         { return nil }

func (s *memStore) GetDeviceSession(ctx context.Context, devEUI lorawan.EUI64) (*models.DeviceSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.sessions[devEUI]
	if !ok {
		return nil, storage.ErrNotFound
	}
	var ds models.DeviceSession
	if err := json.Unmarshal(b, &ds); err != nil {
		return nil, err
	}
	return &ds, nil
}

func (s *memStore) SaveDeviceSession(ctx context.Context, session *models.DeviceSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := json.Marshal(session)
	if err != nil {
		return err
	}
	s.sessions[session.DevEUI] = b
	return nil
}

func (s *memStore) DeleteDeviceSession(ctx context.Context, devEUI lorawan.EUI64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[devEUI]; !ok {
		return storage.ErrNotFound
	}
	delete(s.sessions, devEUI)
	return nil
}

func (s *memStore) ListDeviceSessions(ctx context.Context, limit, offset int) ([]*models.DeviceSession, int64, error) {
	s.mu.Lock()
	keys := make([]lorawan.EUI64, 0, len(s.sessions))
	for k := range s.sessions {
		keys = append(keys, k)
	}
	s.mu.Unlock()

	var out []*models.DeviceSession
	for _, k := range keys {
		ds, err := s.GetDeviceSession(ctx, k)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, ds)
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

	return s.events, int64(len(s.events)), nil
}

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.msgs = append(p.msgs, published{subject: subject, data: data})
	return nil
}
