// Package storage persists game servers and their matches. It only stores and
// retrieves records; all aggregation lives in the worker package.
package storage

import (
	"context"
	"time"
)

// ServerInfo is the self-description a game server advertises.
type ServerInfo struct {
	Name      string   `json:"name"`
	GameModes []string `json:"gameModes"`
}

// EndpointInfo pairs a server endpoint with its advertised info.
type EndpointInfo struct {
	Endpoint string     `json:"endpoint"`
	Info     ServerInfo `json:"info"`
}

// ScoreboardEntry is one player's line in a finished match, in final
// standing order.
type ScoreboardEntry struct {
	Name   string `json:"name"`
	Frags  int    `json:"frags"`
	Kills  int    `json:"kills"`
	Deaths int    `json:"deaths"`
}

// MatchInfo is the result of a finished match.
type MatchInfo struct {
	Map         string            `json:"map"`
	GameMode    string            `json:"gameMode"`
	FragLimit   int               `json:"fragLimit"`
	TimeLimit   int               `json:"timeLimit"`
	TimeElapsed float64           `json:"timeElapsed"`
	Scoreboard  []ScoreboardEntry `json:"scoreboard"`
}

// MatchRecord is a match together with where and when it finished.
type MatchRecord struct {
	Server    string    `json:"server"`
	Timestamp time.Time `json:"timestamp"`
	Results   MatchInfo `json:"results"`
}

// Store is the persistence contract consumed by the worker. Implementations
// must be safe for concurrent use.
type Store interface {
	Servers(ctx context.Context) ([]EndpointInfo, error)
	Server(ctx context.Context, endpoint string) (ServerInfo, bool, error)
	PutServer(ctx context.Context, endpoint string, info ServerInfo) error
	Match(ctx context.Context, endpoint string, ts time.Time) (MatchInfo, bool, error)
	// InsertMatch stores a match and reports false without storing when the
	// server is unknown or a match already exists at ts.
	InsertMatch(ctx context.Context, endpoint string, ts time.Time, match MatchInfo) (bool, error)
	Matches(ctx context.Context) ([]MatchRecord, error)
	Close(ctx context.Context) error
}

func matchField(endpoint string, ts time.Time) string {
	return endpoint + "|" + ts.UTC().Format(time.RFC3339)
}
