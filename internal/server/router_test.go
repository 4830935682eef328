package server

import (
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"

	"github.com/gorilla/mux"
)

// stubAPI records which handler served each request. Every handler answers
// with 200 except HandleIncorrect, which answers 400.
type stubAPI struct {
	calls []string
	paths []string
}

func (s *stubAPI) hit(name string, w http.ResponseWriter, r *http.Request) {
	s.calls = append(s.calls, name)
	s.paths = append(s.paths, r.URL.EscapedPath())
	status := http.StatusOK
	if name == "incorrect" {
		status = http.StatusBadRequest
	}
	w.WriteHeader(status)
}

func (s *stubAPI) ListServers(w http.ResponseWriter, r *http.Request) { s.hit("list_servers", w, r) }
func (s *stubAPI) GetServerInfo(w http.ResponseWriter, r *http.Request) {
	s.hit("get_server_info", w, r)
}
func (s *stubAPI) PutServerInfo(w http.ResponseWriter, r *http.Request) {
	s.hit("put_server_info", w, r)
}
func (s *stubAPI) GetMatch(w http.ResponseWriter, r *http.Request) { s.hit("get_match", w, r) }
func (s *stubAPI) PutMatch(w http.ResponseWriter, r *http.Request) { s.hit("put_match", w, r) }
func (s *stubAPI) GetServerStats(w http.ResponseWriter, r *http.Request) {
	s.hit("server_stats", w, r)
}
func (s *stubAPI) GetPlayerStats(w http.ResponseWriter, r *http.Request) {
	s.hit("player_stats", w, r)
}
func (s *stubAPI) GetRecentMatchesReport(w http.ResponseWriter, r *http.Request) {
	s.hit("recent_matches", w, r)
}
func (s *stubAPI) GetBestPlayersReport(w http.ResponseWriter, r *http.Request) {
	s.hit("best_players", w, r)
}
func (s *stubAPI) GetPopularServersReport(w http.ResponseWriter, r *http.Request) {
	s.hit("popular_servers", w, r)
}
func (s *stubAPI) HandleIncorrect(w http.ResponseWriter, r *http.Request) { s.hit("incorrect", w, r) }
func (s *stubAPI) ServeHealth(w http.ResponseWriter, r *http.Request)     { s.hit("health", w, r) }

func TestNewRouterNilAPI(t *testing.T) {
	handler := NewRouter(nil, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/servers", http.NoBody)

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503 when api unavailable, got %d", rec.Code)
	}
}

func TestRouterDispatchesRoutes(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		path     string
		wantCall string
	}{
		{"list servers", http.MethodGet, "/servers", "list_servers"},
		{"get server", http.MethodGet, "/servers/1.2.3.4-5", "get_server_info"},
		{"put server", http.MethodPut, "/servers/1.2.3.4-5", "put_server_info"},
		{"server stats", http.MethodGet, "/servers/1.2.3.4-5/stats", "server_stats"},
		{"get match", http.MethodGet, "/servers/1.2.3.4-5/matches/2017-01-22T15:17:00Z", "get_match"},
		{"put match trailing slash", http.MethodPut, "/servers/1.2.3.4-5/matches/2017-01-22T15:17:00Z/", "put_match"},
		{"player stats", http.MethodGet, "/players/Big%20Boss/stats", "player_stats"},
		{"player stats trailing slash", http.MethodGet, "/players/name/stats/", "player_stats"},
		{"recent default", http.MethodGet, "/reports/recent-matches", "recent_matches"},
		{"recent trailing slash", http.MethodGet, "/reports/recent-matches/", "recent_matches"},
		{"best count", http.MethodGet, "/reports/best-players/7", "best_players"},
		{"popular count slash", http.MethodGet, "/reports/popular-servers/51/", "popular_servers"},
		{"health", http.MethodGet, "/healthz", "health"},
		{"unknown root", http.MethodGet, "/unknown", "incorrect"},
		{"unknown report", http.MethodGet, "/reports/worst-players", "incorrect"},
		{"wrong method", http.MethodDelete, "/servers/1.2.3.4-5", "incorrect"},
		{"put stats", http.MethodPut, "/servers/1.2.3.4-5/stats", "incorrect"},
		{"double slash", http.MethodGet, "/servers//stats", "incorrect"},
		{"too deep", http.MethodGet, "/reports/best-players/5/6", "incorrect"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			stub := &stubAPI{}
			handler := NewRouter(stub, nil)

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(tc.method, tc.path, http.NoBody)
			handler.ServeHTTP(rec, req)

			if len(stub.calls) != 1 || stub.calls[0] != tc.wantCall {
				t.Fatalf("expected single %q call, got %v", tc.wantCall, stub.calls)
			}
			if stub.paths[0] != tc.path {
				t.Fatalf("expected handler to see encoded path %q, got %q", tc.path, stub.paths[0])
			}
			wantStatus := http.StatusOK
			if tc.wantCall == "incorrect" {
				wantStatus = http.StatusBadRequest
			}
			if rec.Code != wantStatus {
				t.Fatalf("expected status %d, got %d", wantStatus, rec.Code)
			}
		})
	}
}

func TestRouterServesMetrics(t *testing.T) {
	stub := &stubAPI{}
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	handler := NewRouter(stub, metricsHandler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected metrics handler status, got %d", rec.Code)
	}
	if len(stub.calls) != 0 {
		t.Fatalf("expected no api calls, got %v", stub.calls)
	}
}

func TestRouterWithoutMetricsHandler(t *testing.T) {
	stub := &stubAPI{}
	handler := NewRouter(stub, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without metrics handler, got %d", rec.Code)
	}
}

func TestRouterRegistersReportsInOrder(t *testing.T) {
	want := []string{
		"/reports/recent-matches",
		"/reports/recent-matches/",
		"/reports/recent-matches/{count}",
		"/reports/recent-matches/{count}/",
		"/reports/best-players",
		"/reports/best-players/",
		"/reports/best-players/{count}",
		"/reports/best-players/{count}/",
		"/reports/popular-servers",
		"/reports/popular-servers/",
		"/reports/popular-servers/{count}",
		"/reports/popular-servers/{count}/",
	}

	for range 5 {
		router, ok := NewRouter(&stubAPI{}, nil).(*mux.Router)
		if !ok {
			t.Fatal("expected a *mux.Router")
		}
		var got []string
		err := router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
			tpl, err := route.GetPathTemplate()
			if err == nil && strings.HasPrefix(tpl, "/reports/") {
				got = append(got, tpl)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("walk routes: %v", err)
		}
		if !slices.Equal(got, want) {
			t.Fatalf("expected report routes %v, got %v", want, got)
		}
	}
}
