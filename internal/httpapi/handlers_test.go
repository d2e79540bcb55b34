package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexhsamuel/procstar/internal/procs"
	"github.com/alexhsamuel/procstar/internal/spec"
)

func newTestServer() (*Server, *procs.Registry) {
	reg := procs.NewRegistry()
	launcher := procs.NewLauncher(reg, "")
	return NewServer(reg, launcher), reg
}

func TestHandleListProcsEmpty(t *testing.T) {
	s, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/procs", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body procs.Res
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body)
}

func TestHandleGetProcNotFound(t *testing.T) {
	s, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/procs/nope", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleStartProcsThenGetAndDelete(t *testing.T) {
	s, reg := newTestServer()

	body, err := json.Marshal(spec.ProcsSpec{
		"a": {Argv: []string{"/bin/echo", "hi"}},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/procs", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, reg.WaitRunning(ctx))

	getReq := httptest.NewRequest(http.MethodGet, "/procs/a", nil)
	getRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(getRec, getReq)
	assert.Equal(t, http.StatusOK, getRec.Code)

	delReq := httptest.NewRequest(http.MethodDelete, "/procs/a", nil)
	delRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(delRec, delReq)
	assert.Equal(t, http.StatusNoContent, delRec.Code)
}

func TestHandleDeleteProcRunningConflict(t *testing.T) {
	s, reg := newTestServer()
	body, err := json.Marshal(spec.ProcsSpec{"b": {Argv: []string{"/bin/sleep", "0.3"}}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/procs", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	delReq := httptest.NewRequest(http.MethodDelete, "/procs/b", nil)
	delRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(delRec, delReq)
	assert.Equal(t, http.StatusConflict, delRec.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = reg.WaitRunning(ctx)
}

func TestHandleMetrics(t *testing.T) {
	s, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "procstar_procs_total")
}
