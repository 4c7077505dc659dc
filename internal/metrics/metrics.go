// Package metrics exposes Prometheus counters for searches, booklets and ingestion.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeInvalid = "invalid"
	OutcomeError   = "error"
	OutcomeSkipped = "skipped"
	OutcomeEmpty   = "empty"
)

// Booklet source labels.
const (
	SourceLLM      = "llm"
	SourceCache    = "cache"
	SourceFallback = "fallback"
)

var (
	searches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nakama_searches_total",
			Help: "Total number of profile searches",
		},
		[]string{"outcome", "match_type"},
	)

	matchedProfiles = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nakama_search_matched_profiles_total",
			Help: "Total number of profiles returned by searches",
		},
	)

	booklets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nakama_booklets_total",
			Help: "Total number of generated booklets",
		},
		[]string{"source"}, // llm, cache or fallback
	)

	ingestedFiles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nakama_ingested_files_total",
			Help: "Total number of self-introduction files processed",
		},
		[]string{"outcome"},
	)

	ingestedProfiles = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nakama_ingested_profiles_total",
			Help: "Total number of profiles written by ingestion",
		},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nakama_http_request_duration_seconds",
			Help:    "Time spent serving HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// ObserveSearch records one search. matchType is empty for rejected queries.
func ObserveSearch(outcome, matchType string, matched int) {
	searches.WithLabelValues(outcome, matchType).Inc()
	if matched > 0 {
		matchedProfiles.Add(float64(matched))
	}
}

// ObserveBooklet records one generated booklet by where its text came from.
func ObserveBooklet(source string) {
	booklets.WithLabelValues(source).Inc()
}

// ObserveIngest records one processed file and the profiles it produced.
func ObserveIngest(outcome string, profiles int) {
	ingestedFiles.WithLabelValues(outcome).Inc()
	if profiles > 0 {
		ingestedProfiles.Add(float64(profiles))
	}
}

// ObserveRequest records the duration of one HTTP request.
func ObserveRequest(method, route string, status int, elapsed time.Duration) {
	requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
