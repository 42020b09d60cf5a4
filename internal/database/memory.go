package database

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps hosts in process memory. Used by tests and --memory runs.
type MemoryStore struct {
	mu    sync.RWMutex
	hosts map[string]Host
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{hosts: make(map[string]Host)}
}

func (s *MemoryStore) ListHosts(ctx context.Context, filters HostFilters) ([]Host, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hosts := make([]Host, 0, len(s.hosts))
	for _, h := range s.hosts {
		if filters.Match(&h) {
			hosts = append(hosts, cloneHost(h))
		}
	}
	sortHosts(hosts)
	return hosts, nil
}

func (s *MemoryStore) GetHost(ctx context.Context, id string) (*Host, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.hosts[id]
	if !ok {
		return nil, ErrHostNotFound
	}
	out := cloneHost(h)
	return &out, nil
}

func (s *MemoryStore) AddHost(ctx context.Context, host *Host) error {
	if err := host.Validate(); err != nil {
		return err
	}
	host.Normalize()
	if host.ID == "" {
		host.ID = uuid.New().String()
	}
	now := time.Now()
	host.CreatedAt = now
	host.UpdatedAt = now

	s.mu.Lock()
	s.hosts[host.ID] = cloneHost(*host)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) UpdateHost(ctx context.Context, host *Host) error {
	if err := host.Validate(); err != nil {
		return err
	}
	host.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.hosts[host.ID]
	if !ok {
		return ErrHostNotFound
	}
	host.CreatedAt = prev.CreatedAt
	host.UpdatedAt = time.Now()
	s.hosts[host.ID] = cloneHost(*host)
	return nil
}

func (s *MemoryStore) DeleteHost(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.hosts, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Stats(ctx context.Context) (*Stats, error) {
	hosts, _ := s.ListHosts(ctx, HostFilters{})
	return statsFor(hosts), nil
}

func (s *MemoryStore) Close() error { return nil }

func cloneHost(h Host) Host {
	h.Methods = append([]CheckMethod(nil), h.Methods...)
	return h
}
