package controller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/yuriy-kovalchuk/yk-ddns/internal/collector"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/config"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/dns"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/history"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/metrics"
)

// Triggers name what started a run.
const (
	TriggerHTTP      = "http"
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
	TriggerCLI       = "cli"
)

// Recorder persists run summaries.
type Recorder interface {
	Record(ctx context.Context, e history.Entry) error
}

// Request describes one run.
type Request struct {
	Trigger string
	// Override replaces the configured sources when non-empty.
	Override []string
	// Config is used instead of calling the loader when set.
	Config *config.Config
}

// Report is the outcome of one run.
type Report struct {
	ID         string        `json:"id"`
	Trigger    string        `json:"trigger"`
	Domain     string        `json:"domain"`
	Source     string        `json:"source,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
	Addresses  []string      `json:"addresses"`
	Results    []Result      `json:"results"`
	Summary    Summary       `json:"summary"`
	Error      string        `json:"error,omitempty"`
}

func (rep *Report) outcome() string {
	switch {
	case rep.Error != "":
		return metrics.OutcomeFailure
	case rep.Summary.FailureCount > 0:
		return metrics.OutcomePartial
	default:
		return metrics.OutcomeSuccess
	}
}

// Entry converts the report into its stored form.
func (rep *Report) Entry() history.Entry {
	return history.Entry{
		ID:           rep.ID,
		Trigger:      rep.Trigger,
		Domain:       rep.Domain,
		Source:       rep.Source,
		StartedAt:    rep.StartedAt,
		Duration:     rep.Duration,
		DurationMS:   rep.DurationMS,
		SuccessCount: rep.Summary.SuccessCount,
		FailureCount: rep.Summary.FailureCount,
		Succeeded:    rep.Summary.Succeeded,
		Failed:       rep.Summary.Failed,
		Error:        rep.Error,
	}
}

// Text renders a plain-text summary of the report.
func (rep *Report) Text() string {
	var b strings.Builder
	if rep.Error != "" {
		fmt.Fprintf(&b, "update of %s failed: %s\n", rep.Domain, rep.Error)
		return b.String()
	}
	fmt.Fprintf(&b, "updated %s: %d succeeded, %d failed\n", rep.Domain, rep.Summary.SuccessCount, rep.Summary.FailureCount)
	for _, r := range rep.Results {
		if r.Success {
			fmt.Fprintf(&b, "  ok    %s (%s)\n", r.Address, r.Type)
		} else {
			fmt.Fprintf(&b, "  fail  %s (%s): %s\n", r.Address, r.Type, r.Error)
		}
	}
	return b.String()
}

// Runner performs complete update runs: load configuration, collect the
// desired addresses, reconcile the records, then record the outcome.
// Configuration is loaded fresh for every run. A Runner must not be copied
// after first use.
type Runner struct {
	Load       config.Loader
	Log        logr.Logger
	HTTPClient *http.Client
	// History is optional.
	History Recorder
	// CollectorOptions are appended after the defaults derived from config.
	CollectorOptions []collector.Option

	locks KeyedMutex
}

// Run executes one run. The returned report is never nil; its Error field
// mirrors the returned error. Per-address create failures do not make Run
// return an error.
func (r *Runner) Run(ctx context.Context, req Request) (*Report, error) {
	rep := &Report{
		ID:        uuid.NewString(),
		Trigger:   req.Trigger,
		StartedAt: time.Now().UTC(),
		Addresses: []string{},
		Results:   []Result{},
		Summary:   Aggregate(nil),
	}
	log := r.Log.WithValues("run", rep.ID, "trigger", req.Trigger)

	err := r.run(ctx, log, req, rep)
	rep.Duration = time.Since(rep.StartedAt)
	rep.DurationMS = rep.Duration.Milliseconds()
	if err != nil {
		rep.Error = err.Error()
		log.Error(err, "run failed", "domain", rep.Domain)
	} else {
		log.Info("run finished", "domain", rep.Domain,
			"succeeded", rep.Summary.SuccessCount, "failed", rep.Summary.FailureCount, "duration", rep.Duration)
	}

	metrics.ObserveRun(req.Trigger, rep.outcome(), rep.Duration)
	if r.History != nil {
		if herr := r.History.Record(context.WithoutCancel(ctx), rep.Entry()); herr != nil {
			log.Error(herr, "failed to record run history")
		}
	}
	return rep, err
}

func (r *Runner) run(ctx context.Context, log logr.Logger, req Request, rep *Report) error {
	cfg := req.Config
	if cfg == nil {
		if r.Load == nil {
			return &config.ConfigError{Problems: []string{"no configuration loader"}}
		}
		loaded, err := r.Load()
		if err != nil {
			return err
		}
		cfg = loaded
	}
	rep.Domain = cfg.Domain

	provider, err := dns.NewProvider(cfg.Provider, log.WithName(cfg.Provider), cfg.ProviderSettings())
	if err != nil {
		var cerr *config.ConfigError
		if errors.As(err, &cerr) {
			return err
		}
		return &config.ConfigError{Problems: []string{err.Error()}}
	}

	opts := []collector.Option{}
	if cfg.ResolverURL != "" {
		opts = append(opts, collector.WithResolver(collector.NewDoHResolver(log.WithName("doh"), r.HTTPClient, cfg.ResolverURL)))
	}
	opts = append(opts, r.CollectorOptions...)
	c := collector.New(log.WithName("collector"), r.HTTPClient, opts...)

	desired, source, err := c.Collect(ctx, collector.Sources{
		Override: req.Override,
		Static:   cfg.CustomIPs,
		FeedURL:  cfg.IPAPI,
	})
	rep.Source = string(source)
	if err != nil {
		return err
	}
	rep.Addresses = desired.Strings()
	metrics.SetDesiredAddresses(desired.Len())

	rec := &Reconciler{DNS: provider, Log: log.WithName("reconciler"), Locks: &r.locks}
	results, err := rec.Reconcile(ctx, Target{
		Zone:    cfg.ZoneID,
		Name:    cfg.Domain,
		TTL:     cfg.TTL,
		Proxied: cfg.Proxied,
	}, desired)
	if err != nil {
		return err
	}
	rep.Results = results
	rep.Summary = Aggregate(results)
	return nil
}
