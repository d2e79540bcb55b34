package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/alexhsamuel/procstar/internal/procs"
	"github.com/alexhsamuel/procstar/internal/spec"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, procs.ErrNoProcId), errors.Is(err, procs.ErrNoFd):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, procs.ErrProcRunning):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, spec.ErrDuplicateProcId), errors.Is(err, spec.ErrMalformedSpec),
		errors.Is(err, spec.ErrInvalidFdName), errors.Is(err, spec.ErrFdDupCycle),
		errors.Is(err, spec.ErrUnknownFdRef):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		httpapiLog.WithError(err).Error("internal error")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

// GET /procs
func (s *Server) handleListProcs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, procs.ToRes(s.registry.ToResult()))
}

// POST /procs
func (s *Server) handleStartProcs(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	specs, err := spec.Load(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.launcher.StartProcs(r.Context(), specs); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, nil)
}

// GET /procs/{id}
func (s *Server) handleGetProc(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, ok := s.registry.Get(id)
	if !ok {
		writeError(w, errors.Wrapf(procs.ErrNoProcId, "%q", id))
		return
	}
	writeJSON(w, http.StatusOK, procs.ToResult(rec))
}

// DELETE /procs/{id}
func (s *Server) handleDeleteProc(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.registry.RemoveIfNotRunning(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// GET /procs/{id}/fds/{fd}?start=&stop=
func (s *Server) handleGetFd(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, fdName := vars["id"], vars["fd"]

	rec, ok := s.registry.Get(id)
	if !ok {
		writeError(w, errors.Wrapf(procs.ErrNoProcId, "%q", id))
		return
	}
	fdNum, err := spec.ParseFdName(fdName)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	var handler procs.FdHandler
	for _, entry := range rec.FdHandlers {
		if entry.FdNum == fdNum {
			handler = entry.Handler
			break
		}
	}
	if handler == nil {
		writeError(w, errors.Wrapf(procs.ErrNoFd, "fd %q", fdName))
		return
	}

	start := 0
	if v := r.URL.Query().Get("start"); v != "" {
		start, err = strconv.Atoi(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid start"})
			return
		}
	}
	var stop *int
	if v := r.URL.Query().Get("stop"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid stop"})
			return
		}
		stop = &n
	}

	data, valid, err := handler.GetData(start, stop)
	if err != nil {
		writeError(w, err)
		return
	}
	if valid {
		writeJSON(w, http.StatusOK, map[string]string{"text": string(data)})
		return
	}
	writeJSON(w, http.StatusOK, map[string][]byte{"data": data})
}

// POST /procs/{id}/signals/{signum}
func (s *Server) handleSendSignal(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]
	signum, err := strconv.Atoi(vars["signum"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid signum"})
		return
	}
	if err := s.registry.SendSignal(id, signum, func(pid, sig int) error {
		return unix.Kill(pid, unix.Signal(sig))
	}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}
