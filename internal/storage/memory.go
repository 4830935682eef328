package storage

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"
)

type memoryStore struct {
	mu      sync.RWMutex
	servers map[string]ServerInfo
	matches map[string]MatchRecord
}

// NewMemory returns a process-local Store.
func NewMemory() Store {
	return &memoryStore{
		servers: make(map[string]ServerInfo),
		matches: make(map[string]MatchRecord),
	}
}

func (s *memoryStore) Servers(_ context.Context) ([]EndpointInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]EndpointInfo, 0, len(s.servers))
	for endpoint, info := range s.servers {
		out = append(out, EndpointInfo{Endpoint: endpoint, Info: cloneServerInfo(info)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out, nil
}

func (s *memoryStore) Server(_ context.Context, endpoint string) (ServerInfo, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.servers[endpoint]
	if !ok {
		return ServerInfo{}, false, nil
	}
	return cloneServerInfo(info), true, nil
}

func (s *memoryStore) PutServer(_ context.Context, endpoint string, info ServerInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.servers[endpoint] = cloneServerInfo(info)
	return nil
}

func (s *memoryStore) Match(_ context.Context, endpoint string, ts time.Time) (MatchInfo, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.matches[matchField(endpoint, ts)]
	if !ok {
		return MatchInfo{}, false, nil
	}
	return cloneMatchInfo(record.Results), true, nil
}

func (s *memoryStore) InsertMatch(_ context.Context, endpoint string, ts time.Time, match MatchInfo) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.servers[endpoint]; !ok {
		return false, nil
	}
	field := matchField(endpoint, ts)
	if _, exists := s.matches[field]; exists {
		return false, nil
	}
	s.matches[field] = MatchRecord{Server: endpoint, Timestamp: ts.UTC(), Results: cloneMatchInfo(match)}
	return true, nil
}

func (s *memoryStore) Matches(_ context.Context) ([]MatchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]MatchRecord, 0, len(s.matches))
	for _, record := range s.matches {
		record.Results = cloneMatchInfo(record.Results)
		out = append(out, record)
	}
	return out, nil
}

func (s *memoryStore) Close(_ context.Context) error {
	return nil
}

func cloneServerInfo(in ServerInfo) ServerInfo {
	return ServerInfo{Name: in.Name, GameModes: slices.Clone(in.GameModes)}
}

func cloneMatchInfo(in MatchInfo) MatchInfo {
	out := in
	out.Scoreboard = slices.Clone(in.Scoreboard)
	return out
}
