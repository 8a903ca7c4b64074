package agent

import (
	"net/http"
	"time"

	"github.com/aussiebroadwan/sessionguard/pkg/authsdk"
	"github.com/aussiebroadwan/sessionguard/pkg/httpx"
	"github.com/aussiebroadwan/sessionguard/pkg/session"
	"github.com/aussiebroadwan/sessionguard/pkg/slogx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves the local diagnostics surface:
//
//	GET  /livez     liveness
//	GET  /status    Report as JSON
//	GET  /metrics   Prometheus exposition
//	POST /activity  records user activity (?kind=keyboard|mouse|touch|scroll|click)
func (a *Agent) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /livez", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, authsdk.HealthResponse{
			Status:  "ok",
			Uptime:  time.Since(a.startTime).Round(time.Second).String(),
			Version: BuildVersion,
		})
	})

	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, a.Status(r.Context()))
	})

	mux.Handle("GET /metrics", promhttp.HandlerFor(a.metrics.Registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("POST /activity", func(w http.ResponseWriter, r *http.Request) {
		kind := session.ActivityKind(r.URL.Query().Get("kind"))
		if kind == "" {
			kind = session.ActivityKeyboard
		}
		a.session.RecordActivity(kind)
		w.WriteHeader(http.StatusNoContent)
	})

	return httpx.Chain(mux, slogx.HTTPMiddleware(a.logger))
}
