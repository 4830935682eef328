package worker

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/l0p7/gamestats/internal/storage"
)

const topLimit = 5

type ServerStats struct {
	TotalMatchesPlayed   int      `json:"totalMatchesPlayed"`
	MaximumMatchesPerDay int      `json:"maximumMatchesPerDay"`
	AverageMatchesPerDay float64  `json:"averageMatchesPerDay"`
	MaximumPopulation    int      `json:"maximumPopulation"`
	AveragePopulation    float64  `json:"averagePopulation"`
	Top5GameModes        []string `json:"top5GameModes"`
	Top5Maps             []string `json:"top5Maps"`
}

type PlayerStats struct {
	TotalMatchesPlayed       int     `json:"totalMatchesPlayed"`
	TotalMatchesWon          int     `json:"totalMatchesWon"`
	FavoriteServer           string  `json:"favoriteServer"`
	UniqueServers            int     `json:"uniqueServers"`
	FavoriteGameMode         string  `json:"favoriteGameMode"`
	AverageScoreboardPercent float64 `json:"averageScoreboardPercent"`
	MaximumMatchesPerDay     int     `json:"maximumMatchesPerDay"`
	AverageMatchesPerDay     float64 `json:"averageMatchesPerDay"`
	LastMatchPlayed          string  `json:"lastMatchPlayed"`
	KillToDeathRatio         float64 `json:"killToDeathRatio"`
}

type BestPlayer struct {
	Name             string  `json:"name"`
	KillToDeathRatio float64 `json:"killToDeathRatio"`
}

type PopularServer struct {
	Endpoint             string  `json:"endpoint"`
	Name                 string  `json:"name"`
	AverageMatchesPerDay float64 `json:"averageMatchesPerDay"`
}

// minBestPlayerMatches is how many matches a player needs before appearing
// in the best-players report.
const minBestPlayerMatches = 10

// dataset is a snapshot of every stored match ordered oldest first. Per-day
// averages divide by the days from a subject's first match to the last match
// day of the whole snapshot, both inclusive.
type dataset struct {
	records []storage.MatchRecord
	lastDay time.Time
}

func newDataset(records []storage.MatchRecord) *dataset {
	sorted := slices.Clone(records)
	slices.SortFunc(sorted, func(a, b storage.MatchRecord) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return strings.Compare(a.Server, b.Server)
	})
	ds := &dataset{records: sorted}
	if n := len(sorted); n > 0 {
		ds.lastDay = day(sorted[n-1].Timestamp)
	}
	return ds
}

func (ds *dataset) serverStats(endpoint string) ServerStats {
	stats := ServerStats{Top5GameModes: []string{}, Top5Maps: []string{}}
	perDay := newCounter[time.Time]()
	modes := newCounter[string]()
	maps := newCounter[string]()
	population := 0
	var first time.Time

	for _, record := range ds.records {
		if record.Server != endpoint {
			continue
		}
		if stats.TotalMatchesPlayed == 0 {
			first = day(record.Timestamp)
		}
		stats.TotalMatchesPlayed++
		perDay.add(day(record.Timestamp))
		modes.add(record.Results.GameMode)
		maps.add(record.Results.Map)
		players := len(record.Results.Scoreboard)
		population += players
		stats.MaximumPopulation = max(stats.MaximumPopulation, players)
	}
	if stats.TotalMatchesPlayed == 0 {
		return stats
	}

	stats.MaximumMatchesPerDay = perDay.max()
	stats.AverageMatchesPerDay = ds.perDay(stats.TotalMatchesPlayed, first)
	stats.AveragePopulation = float64(population) / float64(stats.TotalMatchesPlayed)
	stats.Top5GameModes = modes.top(topLimit, strings.Compare)
	stats.Top5Maps = maps.top(topLimit, strings.Compare)
	return stats
}

// playerStats expects name already lower-cased.
func (ds *dataset) playerStats(name string) PlayerStats {
	var stats PlayerStats
	perDay := newCounter[time.Time]()
	servers := newCounter[string]()
	modes := newCounter[string]()
	var first, last time.Time
	var percentSum float64
	var kills, deaths int

	for _, record := range ds.records {
		board := record.Results.Scoreboard
		position := slices.IndexFunc(board, func(entry storage.ScoreboardEntry) bool {
			return strings.ToLower(entry.Name) == name
		})
		if position < 0 {
			continue
		}
		if stats.TotalMatchesPlayed == 0 {
			first = day(record.Timestamp)
		}
		last = record.Timestamp
		stats.TotalMatchesPlayed++
		if position == 0 {
			stats.TotalMatchesWon++
		}
		perDay.add(day(record.Timestamp))
		servers.add(record.Server)
		modes.add(record.Results.GameMode)
		percentSum += scoreboardPercent(position, len(board))
		kills += board[position].Kills
		deaths += board[position].Deaths
	}
	if stats.TotalMatchesPlayed == 0 {
		return stats
	}

	stats.FavoriteServer = servers.favorite()
	stats.UniqueServers = servers.len()
	stats.FavoriteGameMode = modes.favorite()
	stats.AverageScoreboardPercent = percentSum / float64(stats.TotalMatchesPlayed)
	stats.MaximumMatchesPerDay = perDay.max()
	stats.AverageMatchesPerDay = ds.perDay(stats.TotalMatchesPlayed, first)
	stats.LastMatchPlayed = last.UTC().Format(time.RFC3339)
	stats.KillToDeathRatio = killToDeath(kills, deaths)
	return stats
}

func (ds *dataset) recentMatches(count int) []storage.MatchRecord {
	n := min(max(count, 0), len(ds.records))
	out := make([]storage.MatchRecord, 0, n)
	for i := len(ds.records) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, ds.records[i])
	}
	return out
}

func (ds *dataset) bestPlayers(count int) []BestPlayer {
	type tally struct {
		name          string
		matches       int
		kills, deaths int
	}
	players := make(map[string]*tally)
	for _, record := range ds.records {
		for _, entry := range record.Results.Scoreboard {
			key := strings.ToLower(entry.Name)
			t, ok := players[key]
			if !ok {
				t = &tally{name: entry.Name}
				players[key] = t
			}
			t.matches++
			t.kills += entry.Kills
			t.deaths += entry.Deaths
		}
	}

	out := make([]BestPlayer, 0, len(players))
	for _, t := range players {
		if t.matches < minBestPlayerMatches || t.deaths == 0 {
			continue
		}
		out = append(out, BestPlayer{Name: t.name, KillToDeathRatio: killToDeath(t.kills, t.deaths)})
	}
	slices.SortFunc(out, func(a, b BestPlayer) int {
		if c := cmp.Compare(b.KillToDeathRatio, a.KillToDeathRatio); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return truncate(out, count)
}

func (ds *dataset) popularServers(servers []storage.EndpointInfo, count int) []PopularServer {
	type tally struct {
		matches int
		first   time.Time
	}
	perServer := make(map[string]*tally)
	for _, record := range ds.records {
		t, ok := perServer[record.Server]
		if !ok {
			t = &tally{first: day(record.Timestamp)}
			perServer[record.Server] = t
		}
		t.matches++
	}

	out := make([]PopularServer, 0, len(servers))
	for _, server := range servers {
		entry := PopularServer{Endpoint: server.Endpoint, Name: server.Info.Name}
		if t, ok := perServer[server.Endpoint]; ok {
			entry.AverageMatchesPerDay = ds.perDay(t.matches, t.first)
		}
		out = append(out, entry)
	}
	slices.SortFunc(out, func(a, b PopularServer) int {
		if c := cmp.Compare(b.AverageMatchesPerDay, a.AverageMatchesPerDay); c != 0 {
			return c
		}
		return strings.Compare(a.Endpoint, b.Endpoint)
	})
	return truncate(out, count)
}

func (ds *dataset) perDay(matches int, first time.Time) float64 {
	days := int(ds.lastDay.Sub(first)/(24*time.Hour)) + 1
	if days < 1 {
		days = 1
	}
	return float64(matches) / float64(days)
}

// scoreboardPercent is the share of other players ranked below position.
// A player alone on the scoreboard counts as 100.
func scoreboardPercent(position, players int) float64 {
	if players <= 1 {
		return 100
	}
	return float64(players-1-position) / float64(players-1) * 100
}

// killToDeath falls back to the raw kill count when there were no deaths.
func killToDeath(kills, deaths int) float64 {
	if deaths == 0 {
		return float64(kills)
	}
	return float64(kills) / float64(deaths)
}

func day(ts time.Time) time.Time {
	return ts.UTC().Truncate(24 * time.Hour)
}

func truncate[T any](items []T, count int) []T {
	if count < 0 {
		count = 0
	}
	if count < len(items) {
		return items[:count]
	}
	return items
}

// counter tallies occurrences and keeps first-seen order for stable ties.
type counter[K comparable] struct {
	counts map[K]int
	order  []K
}

func newCounter[K comparable]() *counter[K] {
	return &counter[K]{counts: make(map[K]int)}
}

func (c *counter[K]) add(key K) {
	if _, ok := c.counts[key]; !ok {
		c.order = append(c.order, key)
	}
	c.counts[key]++
}

func (c *counter[K]) len() int { return len(c.order) }

func (c *counter[K]) max() int {
	best := 0
	for _, n := range c.counts {
		best = max(best, n)
	}
	return best
}

// favorite returns the most frequent key; ties go to the key seen first.
func (c *counter[K]) favorite() K {
	var best K
	bestCount := 0
	for _, key := range c.order {
		if n := c.counts[key]; n > bestCount {
			best, bestCount = key, n
		}
	}
	return best
}

// top returns up to limit keys by descending count, ties broken by less.
func (c *counter[K]) top(limit int, less func(a, b K) int) []K {
	keys := slices.Clone(c.order)
	slices.SortStableFunc(keys, func(a, b K) int {
		if d := cmp.Compare(c.counts[b], c.counts[a]); d != 0 {
			return d
		}
		return less(a, b)
	})
	return truncate(keys, limit)
}
