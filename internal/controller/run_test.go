package controller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/yuriy-kovalchuk/yk-ddns/internal/collector"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/config"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/dns"
	_ "github.com/yuriy-kovalchuk/yk-ddns/internal/dns/cloudflare"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/dns/cloudflare/cloudflaretest"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/history"
)

const (
	testToken  = "test-token"
	testZone   = "zone-1"
	testDomain = "home.example.com"
)

type memoryRecorder struct {
	mu      sync.Mutex
	entries []history.Entry
	err     error
}

func (m *memoryRecorder) Record(_ context.Context, e history.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return m.err
}

func testConfig(api *cloudflaretest.Server) *config.Config {
	return &config.Config{
		Provider: "cloudflare",
		APIToken: testToken,
		ZoneID:   testZone,
		Domain:   testDomain,
		TTL:      1,
		Settings: map[string]string{
			"base_url":    api.URL(),
			"retry_delay": "1ms",
		},
	}
}

func newTestRunner(cfg *config.Config, rec Recorder) *Runner {
	return &Runner{
		Load:             func() (*config.Config, error) { return cfg, nil },
		Log:              logr.Discard(),
		History:          rec,
		CollectorOptions: []collector.Option{collector.WithBackoff(wait.Backoff{Steps: 3, Duration: time.Millisecond})},
	}
}

func contents(api *cloudflaretest.Server) string {
	var out []string
	for _, r := range api.Records() {
		out = append(out, r.Type+" "+r.Content)
	}
	return strings.Join(out, ",")
}

func TestRunner_ConvergesToStaticList(t *testing.T) {
	api := cloudflaretest.NewServer(testToken, testZone)
	defer api.Close()
	api.Seed(dns.TypeA, testDomain, "9.9.9.9")
	api.Seed(dns.TypeAAAA, testDomain, "2001:db8::9")

	cfg := testConfig(api)
	cfg.CustomIPs = config.List{"1.1.1.1", "2001:db8::1", "not-an-ip", "1.1.1.1"}
	rec := &memoryRecorder{}

	rep, err := newTestRunner(cfg, rec).Run(context.Background(), Request{Trigger: TriggerCLI})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got, want := contents(api), "A 1.1.1.1,AAAA 2001:db8::1"; got != want {
		t.Errorf("records = %q, want %q", got, want)
	}
	if rep.Source != string(collector.SourceStatic) {
		t.Errorf("source = %q, want static", rep.Source)
	}
	if rep.Summary.SuccessCount != 2 || rep.Summary.FailureCount != 0 {
		t.Errorf("summary = %+v", rep.Summary)
	}
	if rep.ID == "" || rep.Domain != testDomain || rep.Error != "" {
		t.Errorf("report = %+v", rep)
	}

	if len(rec.entries) != 1 {
		t.Fatalf("recorded %d entries, want 1", len(rec.entries))
	}
	if e := rec.entries[0]; e.ID != rep.ID || e.Trigger != TriggerCLI || e.SuccessCount != 2 {
		t.Errorf("entry = %+v", e)
	}
}

func TestRunner_OverrideWins(t *testing.T) {
	api := cloudflaretest.NewServer(testToken, testZone)
	defer api.Close()

	cfg := testConfig(api)
	cfg.CustomIPs = config.List{"1.1.1.1"}

	rep, err := newTestRunner(cfg, nil).Run(context.Background(), Request{
		Trigger:  TriggerHTTP,
		Override: config.SplitList("5.5.5.5,\n6.6.6.6"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := contents(api), "A 5.5.5.5,A 6.6.6.6"; got != want {
		t.Errorf("records = %q, want %q", got, want)
	}
	if rep.Source != string(collector.SourceRequest) {
		t.Errorf("source = %q, want request", rep.Source)
	}
}

func TestRunner_FeedSource(t *testing.T) {
	api := cloudflaretest.NewServer(testToken, testZone)
	defer api.Close()
	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "203.0.113.7\n")
	}))
	defer feed.Close()

	cfg := testConfig(api)
	cfg.IPAPI = feed.URL

	rep, err := newTestRunner(cfg, nil).Run(context.Background(), Request{Trigger: TriggerScheduled})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := contents(api); got != "A 203.0.113.7" {
		t.Errorf("records = %q", got)
	}
	if len(rep.Addresses) != 1 || rep.Addresses[0] != "203.0.113.7" {
		t.Errorf("addresses = %v", rep.Addresses)
	}
}

func TestRunner_EmptyFeedIsFatal(t *testing.T) {
	api := cloudflaretest.NewServer(testToken, testZone)
	defer api.Close()
	api.Seed(dns.TypeA, testDomain, "9.9.9.9")
	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, " \n , garbage\n")
	}))
	defer feed.Close()

	cfg := testConfig(api)
	cfg.IPAPI = feed.URL
	rec := &memoryRecorder{}

	rep, err := newTestRunner(cfg, rec).Run(context.Background(), Request{Trigger: TriggerScheduled})
	var noAddr *collector.NoAddressesError
	if !errors.As(err, &noAddr) {
		t.Fatalf("expected NoAddressesError, got %v", err)
	}
	if calls := api.Calls(); len(calls) != 0 {
		t.Errorf("record store was contacted: %v", calls)
	}
	if got := contents(api); got != "A 9.9.9.9" {
		t.Errorf("records changed: %q", got)
	}
	if rep.Error == "" {
		t.Error("report carries no error")
	}
	if len(rec.entries) != 1 || rec.entries[0].Error == "" {
		t.Errorf("failed run not recorded: %+v", rec.entries)
	}
}

func TestRunner_StoreUnavailable(t *testing.T) {
	api := cloudflaretest.NewServer(testToken, testZone)
	defer api.Close()
	api.Drop(http.MethodGet, cloudflaretest.Always)

	cfg := testConfig(api)
	cfg.CustomIPs = config.List{"1.1.1.1"}

	_, err := newTestRunner(cfg, nil).Run(context.Background(), Request{Trigger: TriggerManual})
	var unavailable *dns.StoreUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected StoreUnavailableError, got %v", err)
	}
	if unavailable.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", unavailable.Attempts)
	}
	if n := api.CountCalls(http.MethodDelete) + api.CountCalls(http.MethodPost); n != 0 {
		t.Errorf("%d mutations after list failure", n)
	}
}

func TestRunner_PartialFailure(t *testing.T) {
	api := cloudflaretest.NewServer(testToken, testZone)
	defer api.Close()
	api.FailCreate("2.2.2.2", "Invalid content")

	cfg := testConfig(api)
	cfg.CustomIPs = config.List{"1.1.1.1", "2.2.2.2"}

	rep, err := newTestRunner(cfg, nil).Run(context.Background(), Request{Trigger: TriggerManual})
	if err != nil {
		t.Fatalf("partial failure must not fail the run: %v", err)
	}
	if rep.Summary.SuccessCount != 1 || rep.Summary.FailureCount != 1 {
		t.Fatalf("summary = %+v", rep.Summary)
	}
	if !strings.Contains(rep.Results[1].Error, "Invalid content") {
		t.Errorf("error detail = %q", rep.Results[1].Error)
	}
	text := rep.Text()
	if !strings.Contains(text, "1 succeeded, 1 failed") || !strings.Contains(text, "fail  2.2.2.2") {
		t.Errorf("text summary = %q", text)
	}
}

func TestRunner_ConfigErrors(t *testing.T) {
	r := &Runner{
		Load: func() (*config.Config, error) {
			return nil, &config.ConfigError{Problems: []string{"domain is required"}}
		},
		Log: logr.Discard(),
	}
	rep, err := r.Run(context.Background(), Request{Trigger: TriggerCLI})
	var cerr *config.ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if !strings.Contains(rep.Text(), "failed") {
		t.Errorf("text = %q", rep.Text())
	}

	api := cloudflaretest.NewServer(testToken, testZone)
	defer api.Close()
	cfg := testConfig(api)
	cfg.Provider = "route53"
	_, err = newTestRunner(cfg, nil).Run(context.Background(), Request{Trigger: TriggerCLI})
	if !errors.As(err, &cerr) {
		t.Fatalf("unknown provider: expected ConfigError, got %v", err)
	}
}

func TestRunner_HistoryFailureIgnored(t *testing.T) {
	api := cloudflaretest.NewServer(testToken, testZone)
	defer api.Close()

	cfg := testConfig(api)
	cfg.CustomIPs = config.List{"1.1.1.1"}
	rec := &memoryRecorder{err: errors.New("disk full")}

	if _, err := newTestRunner(cfg, rec).Run(context.Background(), Request{Trigger: TriggerCLI}); err != nil {
		t.Fatalf("history failure leaked into the run: %v", err)
	}
}

func TestRunner_UsesRequestConfig(t *testing.T) {
	api := cloudflaretest.NewServer(testToken, testZone)
	defer api.Close()

	cfg := testConfig(api)
	cfg.CustomIPs = config.List{"4.4.4.4"}
	r := &Runner{
		Load: func() (*config.Config, error) { return nil, errors.New("loader must not be called") },
		Log:  logr.Discard(),
	}
	if _, err := r.Run(context.Background(), Request{Trigger: TriggerHTTP, Config: cfg}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := contents(api); got != "A 4.4.4.4" {
		t.Errorf("records = %q", got)
	}
}
