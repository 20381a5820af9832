package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sigs.k8s.io/controller-runtime/pkg/healthz"

	"github.com/yuriy-kovalchuk/yk-ddns/internal/collector"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/config"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/controller"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/history"
)

// fakeRunner returns canned reports and remembers the requests it served.
type fakeRunner struct {
	mu       sync.Mutex
	requests []controller.Request
	err      error
}

func (f *fakeRunner) Run(_ context.Context, req controller.Request) (*controller.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)

	rep := &controller.Report{ID: "run-1", Trigger: req.Trigger, Domain: "home.example.com"}
	if f.err != nil {
		rep.Error = f.err.Error()
		return rep, f.err
	}
	rep.Addresses = []string{"1.1.1.1"}
	rep.Results = []controller.Result{{Address: "1.1.1.1", Type: "A", Success: true}}
	rep.Summary = controller.Aggregate(rep.Results)
	return rep, nil
}

func (f *fakeRunner) calls() []controller.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]controller.Request(nil), f.requests...)
}

type fakeHistory struct {
	entries []history.Entry
	limit   int
}

func (f *fakeHistory) List(_ context.Context, limit int) ([]history.Entry, error) {
	f.limit = limit
	return f.entries, nil
}

func staticLoader(password string) config.Loader {
	return func() (*config.Config, error) {
		return &config.Config{Domain: "home.example.com", Password: password}, nil
	}
}

func newTestServer(opts Options) *Server {
	gin.SetMode(gin.TestMode)
	if opts.Log.GetSink() == nil {
		opts.Log = logr.Discard()
	}
	return New(opts)
}

func performRequest(h http.Handler, method, path string, form url.Values) *httptest.ResponseRecorder {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestTrigger_NoPasswordConfigured(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestServer(Options{Runner: runner, Load: staticLoader("")})

	w := performRequest(s.Engine(), http.MethodGet, "/", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	var rep controller.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rep))
	assert.Equal(t, 1, rep.Summary.SuccessCount)
	assert.Equal(t, []string{"1.1.1.1"}, rep.Summary.Succeeded)

	calls := runner.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, controller.TriggerHTTP, calls[0].Trigger)
	require.NotNil(t, calls[0].Config, "gate hands its config to the run")
	assert.Equal(t, "home.example.com", calls[0].Config.Domain)
}

func TestTrigger_PasswordGate(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		form   url.Values
		header string
		want   int
	}{
		{name: "missing", method: http.MethodGet, path: "/", want: http.StatusForbidden},
		{name: "wrong", method: http.MethodGet, path: "/?password=nope", want: http.StatusForbidden},
		{name: "query", method: http.MethodGet, path: "/?password=s3cret", want: http.StatusOK},
		{name: "header", method: http.MethodGet, path: "/", header: "s3cret", want: http.StatusOK},
		{name: "manual without password", method: http.MethodPost, path: "/update", want: http.StatusForbidden},
		{name: "manual form", method: http.MethodPost, path: "/update", form: url.Values{"password": {"s3cret"}}, want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{}
			s := newTestServer(Options{Runner: runner, Load: staticLoader("s3cret")})

			var body *strings.Reader
			if tt.form != nil {
				body = strings.NewReader(tt.form.Encode())
			} else {
				body = strings.NewReader("")
			}
			req := httptest.NewRequest(tt.method, tt.path, body)
			if tt.form != nil {
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			}
			if tt.header != "" {
				req.Header.Set("X-Password", tt.header)
			}
			w := httptest.NewRecorder()
			s.Engine().ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusForbidden {
				assert.Empty(t, runner.calls(), "rejected request must not start a run")
			}
		})
	}
}

func TestTrigger_IPsOverride(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestServer(Options{Runner: runner, Load: staticLoader("")})

	w := performRequest(s.Engine(), http.MethodPost, "/update", url.Values{"ips": {"1.1.1.1, 2001:db8::1\n3.3.3.3"}})
	require.Equal(t, http.StatusOK, w.Code)

	calls := runner.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, controller.TriggerManual, calls[0].Trigger)
	assert.Equal(t, []string{"1.1.1.1", "2001:db8::1", "3.3.3.3"}, calls[0].Override)
}

func TestTrigger_Failure(t *testing.T) {
	runner := &fakeRunner{err: &collector.NoAddressesError{Source: collector.SourceFeed}}
	s := newTestServer(Options{Runner: runner, Load: staticLoader("")})

	w := performRequest(s.Engine(), http.MethodGet, "/", nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error, "feed")
}

func TestTrigger_TextFormat(t *testing.T) {
	s := newTestServer(Options{Runner: &fakeRunner{}, Load: staticLoader("")})

	w := performRequest(s.Engine(), http.MethodGet, "/?format=text", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, w.Body.String(), "1 succeeded, 0 failed")
}

func TestTrigger_LoadError(t *testing.T) {
	runner := &fakeRunner{}
	load := func() (*config.Config, error) {
		return nil, &config.ConfigError{Problems: []string{"domain is required"}}
	}
	s := newTestServer(Options{Runner: runner, Load: load})

	w := performRequest(s.Engine(), http.MethodGet, "/", nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "domain is required")
	assert.Empty(t, runner.calls())
}

func TestTrigger_RateLimited(t *testing.T) {
	s := newTestServer(Options{
		Runner:       &fakeRunner{},
		Load:         staticLoader(""),
		TriggerRate:  0.001,
		TriggerBurst: 2,
	})

	assert.Equal(t, http.StatusOK, performRequest(s.Engine(), http.MethodGet, "/", nil).Code)
	assert.Equal(t, http.StatusOK, performRequest(s.Engine(), http.MethodGet, "/", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, performRequest(s.Engine(), http.MethodGet, "/", nil).Code)

	// Health stays reachable while triggers are throttled.
	assert.Equal(t, http.StatusOK, performRequest(s.Engine(), http.MethodGet, "/healthz", nil).Code)
}

func TestHistory(t *testing.T) {
	hist := &fakeHistory{entries: []history.Entry{
		{ID: "run-2", Trigger: "scheduled", Domain: "home.example.com", StartedAt: time.Unix(20, 0).UTC()},
		{ID: "run-1", Trigger: "http", Domain: "home.example.com", StartedAt: time.Unix(10, 0).UTC()},
	}}
	s := newTestServer(Options{Runner: &fakeRunner{}, Load: staticLoader("s3cret"), History: hist, HistoryLimit: 7})

	w := performRequest(s.Engine(), http.MethodGet, "/history", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = performRequest(s.Engine(), http.MethodGet, "/history?password=s3cret", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 7, hist.limit)

	var resp HistoryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Runs, 2)
	assert.Equal(t, "run-2", resp.Runs[0].ID)

	w = performRequest(s.Engine(), http.MethodGet, "/history?password=s3cret&limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, hist.limit)

	w = performRequest(s.Engine(), http.MethodGet, "/history?password=s3cret&limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHistory_Disabled(t *testing.T) {
	s := newTestServer(Options{Runner: &fakeRunner{}, Load: staticLoader("")})

	w := performRequest(s.Engine(), http.MethodGet, "/history", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealthz(t *testing.T) {
	healthy := true
	s := newTestServer(Options{
		Runner: &fakeRunner{},
		Load:   staticLoader("s3cret"),
		Checks: map[string]healthz.Checker{
			"history": func(*http.Request) error {
				if !healthy {
					return errors.New("database is locked")
				}
				return nil
			},
		},
	})

	w := performRequest(s.Engine(), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = performRequest(s.Engine(), http.MethodGet, "/healthz/ping", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	healthy = false
	w = performRequest(s.Engine(), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	w = performRequest(s.Engine(), http.MethodGet, "/healthz/history", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestMetrics(t *testing.T) {
	s := newTestServer(Options{Runner: &fakeRunner{}, Load: staticLoader("s3cret")})

	w := performRequest(s.Engine(), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ykddns_desired_addresses")
}

func TestNew_PanicsWithoutRunner(t *testing.T) {
	assert.Panics(t, func() { New(Options{}) })
}
