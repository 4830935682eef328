package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func sampleMatch() MatchInfo {
	return MatchInfo{
		Map:         "DM-HelloWorld",
		GameMode:    "DM",
		FragLimit:   20,
		TimeLimit:   20,
		TimeElapsed: 12.345678,
		Scoreboard: []ScoreboardEntry{
			{Name: "Player1", Frags: 20, Kills: 21, Deaths: 3},
			{Name: "Player2", Frags: 2, Kills: 2, Deaths: 21},
		},
	}
}

func newMiniredisStore(t *testing.T) Store {
	t.Helper()
	server, err := miniredis.Run()
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skip("miniredis unavailable in sandbox")
		}
		require.NoError(t, err)
	}
	t.Cleanup(server.Close)

	store, err := NewRedis(RedisConfig{Address: server.Addr(), KeyPrefix: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close(context.Background())) })
	return store
}

func TestStoreContract(t *testing.T) {
	backends := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemory() },
		"redis":  newMiniredisStore,
	}

	for name, build := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := build(t)
			endpoint := "192.168.0.1-8080"
			ts := time.Date(2017, time.January, 22, 15, 17, 0, 0, time.UTC)

			_, ok, err := store.Server(ctx, endpoint)
			require.NoError(t, err)
			require.False(t, ok)

			inserted, err := store.InsertMatch(ctx, endpoint, ts, sampleMatch())
			require.NoError(t, err)
			require.False(t, inserted, "match for unknown server must be rejected")

			info := ServerInfo{Name: "] My P3rfect Server [", GameModes: []string{"DM", "TDM"}}
			require.NoError(t, store.PutServer(ctx, endpoint, info))
			require.NoError(t, store.PutServer(ctx, "10.0.0.1-1", ServerInfo{Name: "other"}))

			got, ok, err := store.Server(ctx, endpoint)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, info, got)

			servers, err := store.Servers(ctx)
			require.NoError(t, err)
			require.Len(t, servers, 2)
			require.Equal(t, "10.0.0.1-1", servers[0].Endpoint)
			require.Equal(t, endpoint, servers[1].Endpoint)

			inserted, err = store.InsertMatch(ctx, endpoint, ts, sampleMatch())
			require.NoError(t, err)
			require.True(t, inserted)

			inserted, err = store.InsertMatch(ctx, endpoint, ts, sampleMatch())
			require.NoError(t, err)
			require.False(t, inserted, "duplicate match must be rejected")

			match, ok, err := store.Match(ctx, endpoint, ts)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, sampleMatch(), match)

			_, ok, err = store.Match(ctx, endpoint, ts.Add(time.Second))
			require.NoError(t, err)
			require.False(t, ok)

			records, err := store.Matches(ctx)
			require.NoError(t, err)
			require.Len(t, records, 1)
			require.Equal(t, endpoint, records[0].Server)
			require.True(t, ts.Equal(records[0].Timestamp))
		})
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	info := ServerInfo{Name: "s", GameModes: []string{"DM"}}
	require.NoError(t, store.PutServer(ctx, "1.1.1.1-1", info))
	info.GameModes[0] = "mutated"

	got, ok, err := store.Server(ctx, "1.1.1.1-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{"DM"}, got.GameModes)

	got.GameModes[0] = "again"
	again, _, err := store.Server(ctx, "1.1.1.1-1")
	require.NoError(t, err)
	require.Equal(t, []string{"DM"}, again.GameModes)
}

func TestNewRedisRequiresAddress(t *testing.T) {
	_, err := NewRedis(RedisConfig{})
	require.Error(t, err)
}

func TestNewRedisFailsOnMissingCAFile(t *testing.T) {
	_, err := NewRedis(RedisConfig{Address: "127.0.0.1:1", TLS: RedisTLSConfig{Enabled: true, CAFile: "/nonexistent/ca.pem"}})
	require.Error(t, err)
}
