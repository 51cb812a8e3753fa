// Package sitetest provides an in-process fake function app for tests. One
// server answers the deployment-control, management and host endpoints so a
// whole publish run can be exercised against it.
package sitetest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/artpar/fnpublish/internal/core/domain"
)

// SiteID is the management resource id the fake answers to.
const SiteID = "/subscriptions/sub/resourceGroups/rg/providers/Microsoft.Web/sites/app"

// MasterKey is returned by the listkeys endpoint.
const MasterKey = "master-key"

// Request is one request the fake received.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// Reply is a scripted response of the deployment status endpoint.
type Reply struct {
	Code int
	Body string
}

// State replies with a numeric deployment state.
func State(n int) Reply {
	return Reply{Code: http.StatusOK, Body: `{"id":"` + DeploymentID + `","status":` + strconv.Itoa(n) + `,"complete":` + completeFor(n) + `}`}
}

// Named replies with a deployment state name, as Flex targets may.
func Named(name string) Reply {
	return Reply{Code: http.StatusOK, Body: `{"id":"` + DeploymentID + `","status":"` + name + `"}`}
}

// Garbage replies 200 with a body no dialect can parse.
func Garbage() Reply {
	return Reply{Code: http.StatusOK, Body: `<html>warming up</html>`}
}

// Unavailable replies 503.
func Unavailable() Reply {
	return Reply{Code: http.StatusServiceUnavailable, Body: "unavailable"}
}

// DeploymentID is the id of the deployment created by an upload.
const DeploymentID = "d3b07384"

// Site is the fake function app.
type Site struct {
	URL string

	mu sync.Mutex

	// configuration: what the management endpoint stores, and what the
	// deployment-control endpoint currently shows
	stored      map[string]string
	visible     map[string]string
	settingsLag int
	lagLeft     int

	uploadFailures int
	uploadCode     int
	deployed       bool

	script      []Reply
	statusReads int
	logs        map[string]string

	syncFailures int
	hostCode     int

	requests []Request
}

// New starts a fake site and stops it when the test ends.
func New(t testing.TB) *Site {
	s := &Site{
		stored:   map[string]string{},
		visible:  map[string]string{},
		logs:     map[string]string{},
		hostCode: http.StatusOK,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.record)

	// deployment-control
	r.Post("/api/zipdeploy", s.handleUpload)
	r.Post("/api/publish", s.handleUpload)
	r.Get("/api/settings", s.handleSettingsView)
	for _, prefix := range []string{"/deployments", "/api/deployments"} {
		r.Get(prefix, s.handleListDeployments)
		r.Get(prefix+"/{id}", s.handleGetDeployment)
		r.Get(prefix+"/{id}/log", s.handleLog)
	}
	r.Get("/logs/{name}", s.handleLog)

	// management
	r.Route(SiteID, func(r chi.Router) {
		r.Put("/config/appsettings", s.handlePutSettings)
		r.Post("/config/appsettings/list", s.handleListSettings)
		r.Post("/host/default/sync", s.handleSync)
		r.Post("/host/default/listkeys", s.handleListKeys)
	})

	// host
	r.Get("/admin/host/status", s.handleHostStatus)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	s.URL = srv.URL
	return s
}

// Target returns a target pointing every endpoint at the fake.
func (s *Site) Target(os domain.OSClass, hosting domain.HostingMode) *domain.Target {
	s.mu.Lock()
	settings := domain.Settings{}
	for k, v := range s.stored {
		settings[k] = v
	}
	s.mu.Unlock()

	return &domain.Target{
		Name:          "app",
		SiteID:        SiteID,
		OS:            os,
		Hosting:       hosting,
		ManagementURL: s.URL,
		ScmHost:       s.URL,
		HostName:      s.URL,
		Settings:      settings,
		Credentials: domain.Credentials{
			BearerToken: "token",
			Username:    "$app",
			Password:    "secret",
		},
	}
}

// =============================================================================
// Scripting
// =============================================================================

// SetSettings replaces the stored settings and makes them visible at once.
func (s *Site) SetSettings(m map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stored = copyMap(m)
	s.visible = copyMap(m)
}

// SetSettingsLag delays the visibility of written settings on the
// deployment-control endpoint by n reads.
func (s *Site) SetSettingsLag(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settingsLag = n
}

// StageSettings stores m and makes it visible only after n more reads of the
// settings view.
func (s *Site) StageSettings(m map[string]string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stored = copyMap(m)
	s.lagLeft = n
	if n == 0 {
		s.visible = copyMap(m)
	}
}

// ScriptStatus sets the replies of the deployment status endpoint. The last
// reply repeats.
func (s *Site) ScriptStatus(replies ...Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = replies
	s.statusReads = 0
}

// SetLog serves body as the log of the deployment, or of a details URL
// "/logs/{name}".
func (s *Site) SetLog(name, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[name] = body
}

// FailUploads makes the next n uploads answer code.
func (s *Site) FailUploads(n, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploadFailures = n
	s.uploadCode = code
}

// FailSync makes the next n trigger syncs answer 500.
func (s *Site) FailSync(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncFailures = n
}

// SetHostStatus sets the status code of the host status endpoint.
func (s *Site) SetHostStatus(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hostCode = code
}

// =============================================================================
// Inspection
// =============================================================================

// Stored returns a copy of the settings held by the management endpoint.
func (s *Site) Stored() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyMap(s.stored)
}

// Requests returns the requests received so far.
func (s *Site) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Count returns how many requests matched method and a path suffix.
func (s *Site) Count(method, pathSuffix string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Method == method && strings.HasSuffix(r.Path, pathSuffix) {
			n++
		}
	}
	return n
}

// Find returns the requests matching method and a path suffix.
func (s *Site) Find(method, pathSuffix string) []Request {
	var out []Request
	for _, r := range s.Requests() {
		if r.Method == method && strings.HasSuffix(r.Path, pathSuffix) {
			out = append(out, r)
		}
	}
	return out
}

// =============================================================================
// Handlers
// =============================================================================

func (s *Site) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body.Close()
		r.Body = io.NopCloser(strings.NewReader(string(body)))

		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.Query(),
			Header: r.Header.Clone(),
			Body:   body,
		})
		s.mu.Unlock()

		next.ServeHTTP(w, r)
	})
}

func (s *Site) handleUpload(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.uploadFailures > 0 {
		s.uploadFailures--
		w.Header().Set("x-ms-correlation-request-id", "upload-failure")
		http.Error(w, "upload rejected", s.uploadCode)
		return
	}
	s.deployed = true
	if r.URL.Query().Get("isAsync") == "true" {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Site) handleSettingsView(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.lagLeft > 0 {
		s.lagLeft--
	} else {
		s.visible = copyMap(s.stored)
	}
	view := copyMap(s.visible)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, view)
}

func (s *Site) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	deployed := s.deployed
	s.mu.Unlock()

	if !deployed {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, []map[string]any{
		{"id": "queued", "status": 0},
		{"id": DeploymentID, "status": 1},
	})
}

func (s *Site) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	reply := State(4)
	if n := len(s.script); n > 0 {
		i := s.statusReads
		if i >= n {
			i = n - 1
		}
		reply = s.script[i]
	}
	s.statusReads++
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(reply.Code)
	io.WriteString(w, reply.Body)
}

func (s *Site) handleLog(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		name = chi.URLParam(r, "id")
	}
	s.mu.Lock()
	body, ok := s.logs[name]
	s.mu.Unlock()

	if !ok {
		body = "[]"
	}
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, body)
}

func (s *Site) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Properties map[string]string `json:"properties"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.stored = copyMap(payload.Properties)
	s.lagLeft = s.settingsLag
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"properties": payload.Properties})
}

func (s *Site) handleListSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"properties": s.Stored()})
}

func (s *Site) handleSync(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	fail := s.syncFailures > 0
	if fail {
		s.syncFailures--
	}
	s.mu.Unlock()

	if fail {
		w.Header().Set("x-ms-correlation-request-id", "sync-correlation")
		http.Error(w, "sync failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Site) handleListKeys(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"masterKey": MasterKey})
}

func (s *Site) handleHostStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	code := s.hostCode
	s.mu.Unlock()

	if r.URL.Query().Get("code") != MasterKey {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, code, map[string]any{"state": "Running"})
}

// =============================================================================
// Helpers
// =============================================================================

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func completeFor(n int) string {
	if n == 3 || n == 4 || n == 5 || n == 6 {
		return "true"
	}
	return "false"
}
