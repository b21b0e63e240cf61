package worker

import (
	"net/http"
	"strconv"

	"github.com/voicegrid/transched/internal/pkg/cmdapp"
	"github.com/gorilla/mux"
	"github.com/heptiolabs/healthcheck"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StartWebServer starts the health and metrics HTTP endpoints
func StartWebServer(port int, health healthcheck.Handler) error {
	cmdapp.Log.Infof("Starting HTTP service at %d", port)
	r := NewRouter(health)
	portStr := strconv.Itoa(port)
	err := http.ListenAndServe(":"+portStr, r)
	if err != nil {
		return errors.Wrap(err, "Can't start HTTP listener at port "+portStr)
	}
	return nil
}

// NewRouter creates the router for HTTP service
func NewRouter(health healthcheck.Handler) *mux.Router {
	router := mux.NewRouter()
	router.Methods("GET").Path("/metrics").Handler(promhttp.Handler())
	if health != nil {
		router.Methods("GET").Path("/live").HandlerFunc(health.LiveEndpoint)
		router.Methods("GET").Path("/ready").HandlerFunc(health.ReadyEndpoint)
	}
	return router
}
