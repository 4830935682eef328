package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

// StatsAPI defines the handler surface the router dispatches to.
type StatsAPI interface {
	ListServers(http.ResponseWriter, *http.Request)
	GetServerInfo(http.ResponseWriter, *http.Request)
	PutServerInfo(http.ResponseWriter, *http.Request)
	GetMatch(http.ResponseWriter, *http.Request)
	PutMatch(http.ResponseWriter, *http.Request)
	GetServerStats(http.ResponseWriter, *http.Request)
	GetPlayerStats(http.ResponseWriter, *http.Request)
	GetRecentMatchesReport(http.ResponseWriter, *http.Request)
	GetBestPlayersReport(http.ResponseWriter, *http.Request)
	GetPopularServersReport(http.ResponseWriter, *http.Request)
	HandleIncorrect(http.ResponseWriter, *http.Request)
	ServeHealth(http.ResponseWriter, *http.Request)
}

// NewRouter maps the public URL space onto api. Routes only select the
// handler; every handler validates its own path segments, so variables here
// accept any single segment. Anything unmatched goes to HandleIncorrect.
// metricsHandler may be nil.
func NewRouter(api StatsAPI, metricsHandler http.Handler) http.Handler {
	if api == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "stats api unavailable", http.StatusServiceUnavailable)
		})
	}

	r := mux.NewRouter()
	r.UseEncodedPath()
	r.SkipClean(true)

	incorrect := http.HandlerFunc(api.HandleIncorrect)
	r.NotFoundHandler = incorrect
	r.MethodNotAllowedHandler = incorrect

	get := func(path string, h http.HandlerFunc) {
		r.HandleFunc(path, h).Methods(http.MethodGet)
	}
	put := func(path string, h http.HandlerFunc) {
		r.HandleFunc(path, h).Methods(http.MethodPut)
	}

	get("/servers", api.ListServers)
	get("/servers/{endpoint}", api.GetServerInfo)
	put("/servers/{endpoint}", api.PutServerInfo)
	get("/servers/{endpoint}/stats", api.GetServerStats)

	for _, path := range withTrailingSlash("/servers/{endpoint}/matches/{timestamp}") {
		get(path, api.GetMatch)
		put(path, api.PutMatch)
	}
	for _, path := range withTrailingSlash("/players/{name}/stats") {
		get(path, api.GetPlayerStats)
	}

	reports := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"recent-matches", api.GetRecentMatchesReport},
		{"best-players", api.GetBestPlayersReport},
		{"popular-servers", api.GetPopularServersReport},
	}
	for _, report := range reports {
		base := "/reports/" + report.name
		for _, path := range append(withTrailingSlash(base), withTrailingSlash(base+"/{count}")...) {
			get(path, report.handler)
		}
	}

	get("/healthz", api.ServeHealth)
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
	}
	return r
}

func withTrailingSlash(path string) []string {
	return []string{path, path + "/"}
}
