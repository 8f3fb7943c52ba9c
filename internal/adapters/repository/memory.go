package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okian/vault/internal/domain/model"
)

type partition struct {
	events  []model.EncryptedEvent
	secrets map[string]model.EncryptedSecret
	order   []string // secret ids in insertion order
}

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu         sync.RWMutex
	partitions map[string]*partition
	eventIDs   map[string]struct{}
	closed     bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		partitions: make(map[string]*partition),
		eventIDs:   make(map[string]struct{}),
	}
}

func (s *MemoryStore) partition(accountID string) *partition {
	p, ok := s.partitions[accountID]
	if !ok {
		p = &partition{secrets: make(map[string]model.EncryptedSecret)}
		s.partitions[accountID] = p
	}
	return p
}

// Events implements Store.
func (s *MemoryStore) Events(_ context.Context, accountID string, from, to time.Time) ([]model.EncryptedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	p, ok := s.partitions[accountID]
	if !ok {
		return nil, nil
	}
	var out []model.EncryptedEvent
	for _, e := range p.events {
		if e.Timestamp.Before(from) || e.Timestamp.After(to) {
			continue
		}
		out = append(out, e)
	}
	sortEvents(out)
	return out, nil
}

// Secrets implements Store.
func (s *MemoryStore) Secrets(_ context.Context, accountID string) ([]model.EncryptedSecret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	p, ok := s.partitions[accountID]
	if !ok {
		return nil, nil
	}
	out := make([]model.EncryptedSecret, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.secrets[id])
	}
	return out, nil
}

// InsertEvents implements Store.
func (s *MemoryStore) InsertEvents(_ context.Context, accountID string, events ...model.EncryptedEvent) (int, error) {
	for _, e := range events {
		if err := checkEvent(e); err != nil {
			return 0, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}

	p := s.partition(accountID)
	inserted := 0
	for _, e := range events {
		if _, dup := s.eventIDs[e.EventID]; dup {
			continue
		}
		s.eventIDs[e.EventID] = struct{}{}
		p.events = append(p.events, e)
		inserted++
	}
	return inserted, nil
}

// InsertSecrets implements Store.
func (s *MemoryStore) InsertSecrets(_ context.Context, accountID string, secrets ...model.EncryptedSecret) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	p := s.partition(accountID)
	for _, sec := range secrets {
		if _, ok := p.secrets[sec.SecretID]; !ok {
			p.order = append(p.order, sec.SecretID)
		}
		p.secrets[sec.SecretID] = sec
	}
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func sortEvents(events []model.EncryptedEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.Before(events[j].Timestamp)
		}
		return events[i].EventID < events[j].EventID
	})
}

func checkEvent(e model.EncryptedEvent) error {
	switch {
	case e.EventID == "":
		return fmt.Errorf("%w: missing event id", ErrInvalidEvent)
	case e.Payload == "":
		return fmt.Errorf("%w: event %s has no payload", ErrInvalidEvent, e.EventID)
	case e.Timestamp.IsZero():
		return fmt.Errorf("%w: event %s has no timestamp", ErrInvalidEvent, e.EventID)
	}
	return nil
}
