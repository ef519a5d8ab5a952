package rpcapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/netconfd/controller/internal/notify"
)

// NewDebugRouter builds the HTTP debug surface (SPEC_FULL.md §4.8):
// /healthz and a show-devices-equivalent /devices, plus /metrics for
// the default Prometheus registry NewGRPCServer registers the RPC
// interceptor metrics with. This is a supplementary operator surface, not a substitute for
// the excluded CLI command grammar.
func NewDebugRouter(srv *Server) http.Handler {
	var r = chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/devices", func(w http.ResponseWriter, r *http.Request) {
		var resp, err = srv.ShowDevices(r.Context(), &Empty{})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	r.Get("/events", func(w http.ResponseWriter, r *http.Request) {
		var events, unsubscribe = srv.notifier.Subscribe(32)
		defer unsubscribe()

		var flusher, _ = w.(http.Flusher)
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)

		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				var line, err = notify.EncodeJSON(ev)
				if err != nil {
					continue
				}
				if _, writeErr := w.Write(line); writeErr != nil {
					return
				}
				if flusher != nil {
					flusher.Flush()
				}
			case <-r.Context().Done():
				return
			}
		}
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
