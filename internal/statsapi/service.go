// Package statsapi serves the game statistics HTTP operations. Each handler
// extracts its key from the encoded request path, calls the backend directly
// or through a weak memo cache, and emits exactly one status and body.
package statsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/l0p7/gamestats/internal/metrics"
	"github.com/l0p7/gamestats/internal/pathparam"
	"github.com/l0p7/gamestats/internal/storage"
	"github.com/l0p7/gamestats/internal/weakcache"
)

const maxBodyBytes = 1 << 20

var (
	// ErrNotFound marks a get-by-key the backend has no record for.
	ErrNotFound = errors.New("statsapi: not found")
	// ErrRejected marks a write the backend declined.
	ErrRejected = errors.New("statsapi: rejected")
)

// Backend stores servers and matches and renders reports as JSON strings.
type Backend interface {
	ListServers(ctx context.Context) ([]storage.EndpointInfo, error)
	GetServerInfo(ctx context.Context, endpoint string) (storage.ServerInfo, bool, error)
	PutServerInfo(ctx context.Context, endpoint string, info storage.ServerInfo) error
	GetMatch(ctx context.Context, endpoint string, ts time.Time) (storage.MatchInfo, bool, error)
	PutMatch(ctx context.Context, endpoint string, ts time.Time, match storage.MatchInfo) (bool, error)
	MakeServerStats(ctx context.Context, endpoint string) (string, error)
	MakePlayerStats(ctx context.Context, name string) (string, error)
	MakeRecentMatchesReport(ctx context.Context, count int) (string, error)
	MakeBestPlayersReport(ctx context.Context, count int) (string, error)
	MakePopularServersReport(ctx context.Context, count int) (string, error)
}

// Options tunes the report caches. Retention and SweepInterval map onto
// weakcache.WithRetention and weakcache.WithSweepInterval.
type Options struct {
	CacheEnabled  bool
	Retention     time.Duration
	SweepInterval time.Duration
	Metrics       *metrics.Recorder
}

// Service holds the five report caches and the global cache switch.
type Service struct {
	logger  *slog.Logger
	backend Backend
	metrics *metrics.Recorder

	cacheEnabled atomic.Bool

	serverStats    *weakcache.Cache[pathparam.ServerEndpoint, string]
	playerStats    *weakcache.Cache[pathparam.PlayerName, string]
	recentMatches  *weakcache.Cache[pathparam.BoundedCount, string]
	bestPlayers    *weakcache.Cache[pathparam.BoundedCount, string]
	popularServers *weakcache.Cache[pathparam.BoundedCount, string]
}

// New builds the service and its five report caches over backend.
func New(logger *slog.Logger, backend Backend, opts Options) (*Service, error) {
	if backend == nil {
		return nil, errors.New("statsapi: backend required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cacheOpts := []weakcache.Option{
		weakcache.WithRetention(opts.Retention),
		weakcache.WithSweepInterval(opts.SweepInterval),
		weakcache.WithMetrics(opts.Metrics),
	}
	s := &Service{
		logger:  logger.With(slog.String("agent", "statsapi")),
		backend: backend,
		metrics: opts.Metrics,
		serverStats: weakcache.New("server_stats", func(ctx context.Context, k pathparam.ServerEndpoint) (string, error) {
			return backend.MakeServerStats(ctx, string(k))
		}, cacheOpts...),
		playerStats: weakcache.New("player_stats", func(ctx context.Context, k pathparam.PlayerName) (string, error) {
			return backend.MakePlayerStats(ctx, string(k))
		}, cacheOpts...),
		recentMatches: weakcache.New("recent_matches", func(ctx context.Context, k pathparam.BoundedCount) (string, error) {
			return backend.MakeRecentMatchesReport(ctx, int(k))
		}, cacheOpts...),
		bestPlayers: weakcache.New("best_players", func(ctx context.Context, k pathparam.BoundedCount) (string, error) {
			return backend.MakeBestPlayersReport(ctx, int(k))
		}, cacheOpts...),
		popularServers: weakcache.New("popular_servers", func(ctx context.Context, k pathparam.BoundedCount) (string, error) {
			return backend.MakePopularServersReport(ctx, int(k))
		}, cacheOpts...),
	}
	s.cacheEnabled.Store(opts.CacheEnabled)
	return s, nil
}

// SetCacheEnabled flips the cache switch for every cacheable operation.
func (s *Service) SetCacheEnabled(enabled bool) {
	if s.cacheEnabled.Swap(enabled) != enabled {
		s.logger.Info("report cache toggled", slog.Bool("enabled", enabled))
	}
}

// CacheEnabled reports the current cache switch.
func (s *Service) CacheEnabled() bool {
	return s.cacheEnabled.Load()
}

// CacheEntries reports live entries per cache.
func (s *Service) CacheEntries() map[string]int {
	return map[string]int{
		s.serverStats.Name():    s.serverStats.Len(),
		s.playerStats.Name():    s.playerStats.Len(),
		s.recentMatches.Name():  s.recentMatches.Len(),
		s.bestPlayers.Name():    s.bestPlayers.Len(),
		s.popularServers.Name(): s.popularServers.Len(),
	}
}

// Close stops the cache sweepers.
func (s *Service) Close() {
	s.serverStats.Close()
	s.playerStats.Close()
	s.recentMatches.Close()
	s.bestPlayers.Close()
	s.popularServers.Close()
}

// ListServers answers GET /servers with every registered server.
func (s *Service) ListServers(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, "list_servers", func(ctx context.Context, _ string) (result, error) {
		servers, err := s.backend.ListServers(ctx)
		if err != nil {
			return result{}, err
		}
		if servers == nil {
			servers = []storage.EndpointInfo{}
		}
		return jsonResult(servers)
	})
}

// GetServerInfo answers 404 for an unregistered endpoint.
func (s *Service) GetServerInfo(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, "get_server_info", func(ctx context.Context, path string) (result, error) {
		endpoint, err := pathparam.Endpoint(path)
		if err != nil {
			return result{}, err
		}
		info, ok, err := s.backend.GetServerInfo(ctx, string(endpoint))
		if err != nil {
			return result{}, err
		}
		if !ok {
			return result{}, fmt.Errorf("server %s: %w", endpoint, ErrNotFound)
		}
		return jsonResult(info)
	})
}

// PutServerInfo registers or replaces a server's info.
func (s *Service) PutServerInfo(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, "put_server_info", func(ctx context.Context, path string) (result, error) {
		endpoint, err := pathparam.Endpoint(path)
		if err != nil {
			return result{}, err
		}
		var info storage.ServerInfo
		if err := decodeBody(r, &info); err != nil {
			return result{}, err
		}
		if err := s.backend.PutServerInfo(ctx, string(endpoint), info); err != nil {
			return result{}, err
		}
		return result{status: http.StatusOK}, nil
	})
}

// GetMatch answers 404 when no match finished at the path timestamp.
func (s *Service) GetMatch(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, "get_match", func(ctx context.Context, path string) (result, error) {
		endpoint, ts, err := matchKey(path)
		if err != nil {
			return result{}, err
		}
		match, ok, err := s.backend.GetMatch(ctx, string(endpoint), ts)
		if err != nil {
			return result{}, err
		}
		if !ok {
			return result{}, fmt.Errorf("match %s at %s: %w", endpoint, ts.Format(pathparam.TimestampLayout), ErrNotFound)
		}
		return jsonResult(match)
	})
}

// PutMatch answers 400 when the backend declines the match.
func (s *Service) PutMatch(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, "put_match", func(ctx context.Context, path string) (result, error) {
		endpoint, ts, err := matchKey(path)
		if err != nil {
			return result{}, err
		}
		var match storage.MatchInfo
		if err := decodeBody(r, &match); err != nil {
			return result{}, err
		}
		accepted, err := s.backend.PutMatch(ctx, string(endpoint), ts, match)
		if err != nil {
			return result{}, err
		}
		if !accepted {
			return result{}, fmt.Errorf("match %s at %s: %w", endpoint, ts.Format(pathparam.TimestampLayout), ErrRejected)
		}
		return result{status: http.StatusOK}, nil
	})
}

// GetServerStats serves ServerStats through the server_stats cache.
func (s *Service) GetServerStats(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, "get_server_stats", func(ctx context.Context, path string) (result, error) {
		endpoint, err := pathparam.Endpoint(path)
		if err != nil {
			return result{}, err
		}
		return cached(ctx, s, s.serverStats, endpoint)
	})
}

// GetPlayerStats serves PlayerStats through the player_stats cache.
func (s *Service) GetPlayerStats(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, "get_player_stats", func(ctx context.Context, path string) (result, error) {
		name, err := pathparam.Player(path)
		if err != nil {
			return result{}, err
		}
		return cached(ctx, s, s.playerStats, name)
	})
}

// GetRecentMatchesReport serves /reports/recent-matches[/{count}].
func (s *Service) GetRecentMatchesReport(w http.ResponseWriter, r *http.Request) {
	s.serveReport(w, r, "get_recent_matches_report", s.recentMatches)
}

// GetBestPlayersReport serves /reports/best-players[/{count}].
func (s *Service) GetBestPlayersReport(w http.ResponseWriter, r *http.Request) {
	s.serveReport(w, r, "get_best_players_report", s.bestPlayers)
}

// GetPopularServersReport serves /reports/popular-servers[/{count}].
func (s *Service) GetPopularServersReport(w http.ResponseWriter, r *http.Request) {
	s.serveReport(w, r, "get_popular_servers_report", s.popularServers)
}

// HandleIncorrect answers any request no route accepts.
func (s *Service) HandleIncorrect(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, "incorrect", func(_ context.Context, path string) (result, error) {
		return result{}, &pathparam.MalformedRequestError{
			Path:   path,
			Shape:  "any route",
			Reason: "no route for " + r.Method,
		}
	})
}

// ServeHealth reports the cache switch and live cache entries.
func (s *Service) ServeHealth(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, "health", func(context.Context, string) (result, error) {
		return jsonResult(map[string]any{
			"status":       "ok",
			"cacheEnabled": s.CacheEnabled(),
			"cacheEntries": s.CacheEntries(),
			"observedAt":   time.Now().UTC(),
		})
	})
}

func (s *Service) serveReport(w http.ResponseWriter, r *http.Request, operation string, c *weakcache.Cache[pathparam.BoundedCount, string]) {
	s.serve(w, r, operation, func(ctx context.Context, path string) (result, error) {
		count, err := pathparam.Count(path)
		if err != nil {
			return result{}, err
		}
		return cached(ctx, s, c, count)
	})
}

type result struct {
	status    int
	body      string
	fromCache bool
}

func jsonResult(v any) (result, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return result{}, fmt.Errorf("statsapi: encode response: %w", err)
	}
	return result{status: http.StatusOK, body: string(payload)}, nil
}

// cached goes through c when the switch is on and straight to the producer
// behind c otherwise.
func cached[K comparable](ctx context.Context, s *Service, c *weakcache.Cache[K, string], key K) (result, error) {
	if !s.CacheEnabled() {
		payload, err := c.Produce(ctx, key)
		if err != nil {
			return result{}, err
		}
		return result{status: http.StatusOK, body: payload}, nil
	}
	payload, hit, err := c.Fetch(ctx, key)
	if err != nil {
		return result{}, err
	}
	return result{status: http.StatusOK, body: payload, fromCache: hit}, nil
}

func (s *Service) serve(w http.ResponseWriter, r *http.Request, operation string, op func(context.Context, string) (result, error)) {
	start := time.Now()
	resp := newResponse(w)
	defer func() {
		if err := resp.Close(); err != nil {
			s.logger.Error("response close failed", slog.String("operation", operation), slog.Any("error", err))
		}
	}()

	ctx := r.Context()
	path := r.URL.EscapedPath()
	res, err := op(ctx, path)
	if err != nil {
		res = result{status: statusFor(err)}
	}
	if sendErr := resp.Send(res.status, res.body); sendErr != nil {
		s.logger.Error("response write failed", slog.String("operation", operation), slog.Any("error", sendErr))
	}

	elapsed := time.Since(start)
	s.metrics.ObserveRequest(operation, res.status, res.fromCache, elapsed)

	attrs := []slog.Attr{
		slog.String("operation", operation),
		slog.String("method", r.Method),
		slog.Int("status", res.status),
		slog.Float64("latency_ms", float64(elapsed)/float64(time.Millisecond)),
		slog.Bool("from_cache", res.fromCache),
	}
	level := slog.LevelInfo
	switch {
	case err == nil:
	case errors.Is(err, pathparam.ErrMalformedRequest):
		level = slog.LevelWarn
		attrs = append(attrs, slog.Any("segments", pathparam.Segments(path)), slog.String("error", err.Error()))
	case res.status >= http.StatusInternalServerError:
		level = slog.LevelError
		attrs = append(attrs, slog.String("path", path), slog.String("error", err.Error()))
	default:
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	s.logger.LogAttrs(ctx, level, "request handled", attrs...)
}

// statusFor maps an operation error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pathparam.ErrMalformedRequest), errors.Is(err, ErrRejected):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func matchKey(path string) (pathparam.ServerEndpoint, time.Time, error) {
	endpoint, err := pathparam.Endpoint(path)
	if err != nil {
		return "", time.Time{}, err
	}
	ts, err := pathparam.Timestamp(path)
	if err != nil {
		return "", time.Time{}, err
	}
	return endpoint, ts, nil
}

func decodeBody(r *http.Request, v any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("%w: decode body: %v", pathparam.ErrMalformedRequest, err)
	}
	return nil
}
