package storage

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

type RedisTLSConfig struct {
	Enabled bool
	CAFile  string
}

type RedisConfig struct {
	Address   string
	Username  string
	Password  string
	DB        int
	KeyPrefix string
	TLS       RedisTLSConfig
}

// redisStore keeps two hashes: <prefix>:servers (endpoint -> ServerInfo) and
// <prefix>:matches (endpoint|timestamp -> MatchRecord), both JSON encoded.
type redisStore struct {
	client     valkey.Client
	serversKey string
	matchesKey string
}

// NewRedis connects to a redis-compatible server and verifies it with PING.
func NewRedis(cfg RedisConfig) (Store, error) {
	if cfg.Address == "" {
		return nil, errors.New("storage: redis address required")
	}
	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = "gamestats"
	}

	option := valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	}

	if cfg.TLS.Enabled {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
		if cfg.TLS.CAFile != "" {
			caData, err := os.ReadFile(cfg.TLS.CAFile)
			if err != nil {
				return nil, fmt.Errorf("storage: read redis ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caData) {
				return nil, errors.New("storage: redis ca file contains no certificates")
			}
			tlsConfig.RootCAs = pool
		}
		option.TLSConfig = tlsConfig
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("storage: redis client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("storage: redis ping: %w", err)
	}

	return &redisStore{
		client:     client,
		serversKey: prefix + ":servers",
		matchesKey: prefix + ":matches",
	}, nil
}

func (s *redisStore) Servers(ctx context.Context) ([]EndpointInfo, error) {
	raw, err := s.client.Do(ctx, s.client.B().Hgetall().Key(s.serversKey).Build()).AsStrMap()
	if err != nil {
		return nil, fmt.Errorf("storage: redis hgetall servers: %w", err)
	}
	out := make([]EndpointInfo, 0, len(raw))
	for endpoint, payload := range raw {
		var info ServerInfo
		if err := json.Unmarshal([]byte(payload), &info); err != nil {
			return nil, fmt.Errorf("storage: redis unmarshal server %s: %w", endpoint, err)
		}
		out = append(out, EndpointInfo{Endpoint: endpoint, Info: info})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out, nil
}

func (s *redisStore) Server(ctx context.Context, endpoint string) (ServerInfo, bool, error) {
	payload, ok, err := s.hget(ctx, s.serversKey, endpoint)
	if err != nil || !ok {
		return ServerInfo{}, false, err
	}
	var info ServerInfo
	if err := json.Unmarshal(payload, &info); err != nil {
		return ServerInfo{}, false, fmt.Errorf("storage: redis unmarshal server: %w", err)
	}
	return info, true, nil
}

func (s *redisStore) PutServer(ctx context.Context, endpoint string, info ServerInfo) error {
	payload, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("storage: redis marshal server: %w", err)
	}
	cmd := s.client.B().Hset().Key(s.serversKey).FieldValue().FieldValue(endpoint, string(payload)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("storage: redis hset server: %w", err)
	}
	return nil
}

func (s *redisStore) Match(ctx context.Context, endpoint string, ts time.Time) (MatchInfo, bool, error) {
	payload, ok, err := s.hget(ctx, s.matchesKey, matchField(endpoint, ts))
	if err != nil || !ok {
		return MatchInfo{}, false, err
	}
	var record MatchRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return MatchInfo{}, false, fmt.Errorf("storage: redis unmarshal match: %w", err)
	}
	return record.Results, true, nil
}

func (s *redisStore) InsertMatch(ctx context.Context, endpoint string, ts time.Time, match MatchInfo) (bool, error) {
	known, err := s.client.Do(ctx, s.client.B().Hexists().Key(s.serversKey).Field(endpoint).Build()).AsInt64()
	if err != nil {
		return false, fmt.Errorf("storage: redis hexists server: %w", err)
	}
	if known != 1 {
		return false, nil
	}
	payload, err := json.Marshal(MatchRecord{Server: endpoint, Timestamp: ts.UTC(), Results: match})
	if err != nil {
		return false, fmt.Errorf("storage: redis marshal match: %w", err)
	}
	cmd := s.client.B().Hsetnx().Key(s.matchesKey).Field(matchField(endpoint, ts)).Value(string(payload)).Build()
	inserted, err := s.client.Do(ctx, cmd).AsInt64()
	if err != nil {
		return false, fmt.Errorf("storage: redis hsetnx match: %w", err)
	}
	return inserted == 1, nil
}

func (s *redisStore) Matches(ctx context.Context) ([]MatchRecord, error) {
	raw, err := s.client.Do(ctx, s.client.B().Hgetall().Key(s.matchesKey).Build()).AsStrMap()
	if err != nil {
		return nil, fmt.Errorf("storage: redis hgetall matches: %w", err)
	}
	out := make([]MatchRecord, 0, len(raw))
	for field, payload := range raw {
		var record MatchRecord
		if err := json.Unmarshal([]byte(payload), &record); err != nil {
			return nil, fmt.Errorf("storage: redis unmarshal match %s: %w", field, err)
		}
		out = append(out, record)
	}
	return out, nil
}

func (s *redisStore) Close(context.Context) error {
	s.client.Close()
	return nil
}

func (s *redisStore) hget(ctx context.Context, key, field string) ([]byte, bool, error) {
	resp := s.client.Do(ctx, s.client.B().Hget().Key(key).Field(field).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("storage: redis hget: %w", err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		return nil, false, fmt.Errorf("storage: redis hget bytes: %w", err)
	}
	return payload, true, nil
}
