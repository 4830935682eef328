package pathparam

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEndpoint(t *testing.T) {
	cases := map[string]struct {
		path string
		want ServerEndpoint
		ok   bool
	}{
		"bare":             {path: "/servers/192.168.0.1-8080", want: "192.168.0.1-8080", ok: true},
		"trailing slash":   {path: "/servers/1.2.3.4-1/", want: "1.2.3.4-1", ok: true},
		"nested stats":     {path: "/servers/10.0.0.1-27015/stats", want: "10.0.0.1-27015", ok: true},
		"nested match":     {path: "/servers/10.0.0.1-27015/matches/2017-01-22T15:17:00Z", want: "10.0.0.1-27015", ok: true},
		"octet unchecked":  {path: "/servers/999.999.999.999-1", want: "999.999.999.999-1", ok: true},
		"missing port":     {path: "/servers/1.2.3.4"},
		"empty port":       {path: "/servers/1.2.3.4-"},
		"three octets":     {path: "/servers/1.2.3-80"},
		"long octet":       {path: "/servers/1.2.3.4444-80"},
		"hostname":         {path: "/servers/example.com-80"},
		"wrong collection": {path: "/players/1.2.3.4-80"},
		"no endpoint":      {path: "/servers"},
		"empty endpoint":   {path: "/servers//stats"},
		"relative":         {path: "servers/1.2.3.4-80"},
		"empty":            {path: ""},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := Endpoint(tc.path)
			if !tc.ok {
				require.ErrorIs(t, err, ErrMalformedRequest)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestEndpointRoundTrip(t *testing.T) {
	for _, e := range []string{"0.0.0.0-0", "127.0.0.1-65535", "8.8.8.8-53", "1.22.133.4-1234"} {
		got, err := Endpoint("/servers/" + e)
		require.NoError(t, err)
		require.Equal(t, ServerEndpoint(e), got)
	}
}

func TestPlayer(t *testing.T) {
	cases := map[string]struct {
		path string
		want PlayerName
		ok   bool
	}{
		"plain":          {path: "/players/Player1/stats", want: "Player1", ok: true},
		"encoded":        {path: "/players/Big%20Boss/stats", want: "Big%20Boss", ok: true},
		"trailing slash": {path: "/players/x_y/stats/", want: "x_y", ok: true},
		"dashes":         {path: "/players/a-b.c~d/stats", want: "a-b.c~d", ok: true},
		"missing stats":  {path: "/players/name"},
		"extra segment":  {path: "/players/name/stats/more"},
		"empty name":     {path: "/players//stats"},
		"raw space":      {path: "/players/a b/stats"},
		"wrong suffix":   {path: "/players/name/info"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := Player(tc.path)
			if !tc.ok {
				require.ErrorIs(t, err, ErrMalformedRequest)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestTimestamp(t *testing.T) {
	want := time.Date(2017, time.January, 22, 15, 17, 0, 0, time.UTC)

	got, err := Timestamp("/servers/1.2.3.4-80/matches/2017-01-22T15:17:00Z")
	require.NoError(t, err)
	require.True(t, want.Equal(got))
	require.Equal(t, time.UTC, got.Location())

	got, err = Timestamp("/servers/1.2.3.4-80/matches/2017-01-22T15:17:00Z/")
	require.NoError(t, err)
	require.True(t, want.Equal(got))

	for _, bad := range []string{
		"/servers/1.2.3.4-80/matches/2017-01-22T15:17:00.123Z",
		"/servers/1.2.3.4-80/matches/2017-13-22T15:17:00Z",
		"/servers/1.2.3.4-80/matches/2017-01-22T15:17:00+03:00",
		"/servers/1.2.3.4-80/matches/yesterday",
		"/servers/1.2.3.4-80/matches/",
		"/servers/1.2.3.4-80/matches",
		"/servers/bad-80/matches/2017-01-22T15:17:00Z",
		"/servers/1.2.3.4-80/games/2017-01-22T15:17:00Z",
		"/servers/1.2.3.4-80/matches/2017-01-22T15:17:00Z/extra",
	} {
		_, err := Timestamp(bad)
		require.ErrorIs(t, err, ErrMalformedRequest, bad)
	}
}

func TestCountClamp(t *testing.T) {
	cases := map[string]BoundedCount{
		"/reports/x/0":                    0,
		"/reports/x/50":                   50,
		"/reports/x/51":                   50,
		"/reports/x":                      5,
		"/reports/x/":                     5,
		"/reports/x/7":                    7,
		"/reports/x/1":                    1,
		"/reports/x/49":                   49,
		"/reports/x/000":                  0,
		"/reports/best-players/10":        10,
		"/reports/x/99999999999999999999": 50,
	}
	for path, want := range cases {
		got, err := Count(path)
		require.NoError(t, err, path)
		require.Equal(t, want, got, path)
	}

	for _, bad := range []string{
		"/reports",
		"/reports/",
		"/reports/x/-1",
		"/reports/x/abc",
		"/reports/x/5/6",
		"/reports//5",
		"/report/x/5",
		"/reports/x y/5",
	} {
		_, err := Count(bad)
		require.ErrorIs(t, err, ErrMalformedRequest, bad)
	}
}

func TestReport(t *testing.T) {
	name, err := Report("/reports/recent-matches/5")
	require.NoError(t, err)
	require.Equal(t, "recent-matches", name)

	_, err = Report("/reports")
	require.ErrorIs(t, err, ErrMalformedRequest)
}

func TestMalformedRequestErrorDetails(t *testing.T) {
	_, err := Player("/players/a/b/c/d")
	var malformed *MalformedRequestError
	require.True(t, errors.As(err, &malformed))
	require.Equal(t, "/players/a/b/c/d", malformed.Path)
	require.Equal(t, "player stats", malformed.Shape)
	require.Contains(t, err.Error(), "player stats")
}

func TestSegments(t *testing.T) {
	require.Equal(t, []string{"servers", "1.2.3.4-80", "stats"}, Segments("/servers/1.2.3.4-80/stats"))
	require.Nil(t, Segments("/"))
	require.Nil(t, Segments(""))
}
