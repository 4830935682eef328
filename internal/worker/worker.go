// Package worker is the statistics backend: it forwards record reads and
// writes to a storage.Store and renders aggregate reports from the stored
// matches. Every report is recomputed from scratch on each call.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/l0p7/gamestats/internal/storage"
)

// Worker is safe for concurrent use as long as its Store is.
type Worker struct {
	store  storage.Store
	logger *slog.Logger
	now    func() time.Time
}

// New returns a Worker over store. A nil logger falls back to slog.Default.
func New(store storage.Store, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:  store,
		logger: logger.With(slog.String("agent", "worker")),
		now:    time.Now,
	}
}

// ListServers returns registered servers ordered by endpoint.
func (w *Worker) ListServers(ctx context.Context) ([]storage.EndpointInfo, error) {
	return w.store.Servers(ctx)
}

// GetServerInfo reports false for an unregistered endpoint.
func (w *Worker) GetServerInfo(ctx context.Context, endpoint string) (storage.ServerInfo, bool, error) {
	return w.store.Server(ctx, endpoint)
}

// PutServerInfo registers endpoint or replaces its info.
func (w *Worker) PutServerInfo(ctx context.Context, endpoint string, info storage.ServerInfo) error {
	return w.store.PutServer(ctx, endpoint, info)
}

// GetMatch reports false when no match finished at ts on endpoint.
func (w *Worker) GetMatch(ctx context.Context, endpoint string, ts time.Time) (storage.MatchInfo, bool, error) {
	return w.store.Match(ctx, endpoint, ts)
}

// PutMatch stores a match; it returns false for matches on unregistered
// servers, duplicate timestamps and empty scoreboards.
func (w *Worker) PutMatch(ctx context.Context, endpoint string, ts time.Time, match storage.MatchInfo) (bool, error) {
	if len(match.Scoreboard) == 0 {
		return false, nil
	}
	return w.store.InsertMatch(ctx, endpoint, ts, match)
}

// MakeServerStats renders ServerStats for endpoint.
func (w *Worker) MakeServerStats(ctx context.Context, endpoint string) (string, error) {
	return w.render(ctx, "server_stats", func(ds *dataset) any {
		return ds.serverStats(endpoint)
	})
}

// MakePlayerStats matches name case-insensitively after percent-decoding it.
func (w *Worker) MakePlayerStats(ctx context.Context, name string) (string, error) {
	return w.render(ctx, "player_stats", func(ds *dataset) any {
		return ds.playerStats(normalizeName(name))
	})
}

// MakeRecentMatchesReport renders up to count matches, newest first.
func (w *Worker) MakeRecentMatchesReport(ctx context.Context, count int) (string, error) {
	return w.render(ctx, "recent_matches", func(ds *dataset) any {
		return ds.recentMatches(count)
	})
}

// MakeBestPlayersReport renders up to count players by kill/death ratio.
func (w *Worker) MakeBestPlayersReport(ctx context.Context, count int) (string, error) {
	return w.render(ctx, "best_players", func(ds *dataset) any {
		return ds.bestPlayers(count)
	})
}

// MakePopularServersReport renders up to count servers by matches per day.
func (w *Worker) MakePopularServersReport(ctx context.Context, count int) (string, error) {
	servers, err := w.store.Servers(ctx)
	if err != nil {
		return "", fmt.Errorf("worker: list servers: %w", err)
	}
	return w.render(ctx, "popular_servers", func(ds *dataset) any {
		return ds.popularServers(servers, count)
	})
}

func (w *Worker) render(ctx context.Context, report string, build func(*dataset) any) (string, error) {
	start := w.now()
	records, err := w.store.Matches(ctx)
	if err != nil {
		return "", fmt.Errorf("worker: load matches for %s: %w", report, err)
	}
	payload, err := json.Marshal(build(newDataset(records)))
	if err != nil {
		return "", fmt.Errorf("worker: encode %s: %w", report, err)
	}
	w.logger.LogAttrs(ctx, slog.LevelDebug, "report computed",
		slog.String("report", report),
		slog.Int("matches", len(records)),
		slog.Float64("latency_ms", float64(w.now().Sub(start))/float64(time.Millisecond)),
	)
	return string(payload), nil
}

func normalizeName(name string) string {
	if decoded, err := url.PathUnescape(name); err == nil {
		name = decoded
	}
	return strings.ToLower(name)
}
