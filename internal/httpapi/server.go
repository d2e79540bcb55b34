// Package httpapi is a thin HTTP adapter: every handler does nothing but
// translate a request into an internal/procs call and project the result.
package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/alexhsamuel/procstar/internal/procs"
)

var httpapiLog = logrus.WithField("component", "httpapi")

// Server wires the Registry/Launcher onto a gorilla/mux router.
type Server struct {
	registry *procs.Registry
	launcher *procs.Launcher
	router   *mux.Router
}

// NewServer builds a Server ready to serve once it is wrapped in an
// http.Server (cmd/procstar owns the listener and lifecycle).
func NewServer(registry *procs.Registry, launcher *procs.Launcher) *Server {
	s := &Server{registry: registry, launcher: launcher, router: mux.NewRouter()}
	s.routes()
	return s
}

// Handler returns the http.Handler to mount.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	r := s.router
	r.HandleFunc("/procs", s.handleListProcs).Methods(http.MethodGet)
	r.HandleFunc("/procs", s.handleStartProcs).Methods(http.MethodPost)
	r.HandleFunc("/procs/{id}", s.handleGetProc).Methods(http.MethodGet)
	r.HandleFunc("/procs/{id}", s.handleDeleteProc).Methods(http.MethodDelete)
	r.HandleFunc("/procs/{id}/fds/{fd}", s.handleGetFd).Methods(http.MethodGet)
	r.HandleFunc("/procs/{id}/signals/{signum}", s.handleSendSignal).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.HandlerFor(newMetricsRegistry(s.registry), promhttp.HandlerOpts{}))
}
