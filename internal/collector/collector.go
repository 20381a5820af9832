// Package collector gathers the desired address set for a run from a
// per-request override, the static configured list, or a remote text feed.
package collector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/yuriy-kovalchuk/yk-ddns/internal/config"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/dns"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/retry"
)

// Source names where an address set came from.
type Source string

const (
	SourceRequest Source = "request"
	SourceStatic  Source = "static"
	SourceFeed    Source = "feed"
)

const maxFeedSize = 64 << 10

// Sources are the candidate inputs of one collection. The first non-empty
// one wins: Override, then Static, then the feed at FeedURL.
type Sources struct {
	Override []string
	Static   []string
	FeedURL  string
}

// Resolver turns a hostname found in a source into addresses.
type Resolver interface {
	Resolve(ctx context.Context, name string) ([]dns.Address, error)
}

// Collector builds validated, de-duplicated address sets.
type Collector struct {
	client   *http.Client
	resolver Resolver
	backoff  wait.Backoff
	log      logr.Logger
}

// Option configures a Collector.
type Option func(*Collector)

// WithBackoff overrides the retry policy of feed requests.
func WithBackoff(b wait.Backoff) Option {
	return func(c *Collector) { c.backoff = b }
}

// WithResolver enables hostname entries. Without a resolver they are dropped.
func WithResolver(r Resolver) Option {
	return func(c *Collector) { c.resolver = r }
}

// New creates a Collector that fetches feeds with client.
func New(log logr.Logger, client *http.Client, opts ...Option) *Collector {
	if client == nil {
		client = http.DefaultClient
	}
	c := &Collector{client: client, backoff: retry.DefaultBackoff, log: log}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect returns the desired address set and the source it came from. It
// fails with NoAddressesError when nothing valid remains, and with
// FeedFetchError when the feed had to be consulted and could not be read.
func (c *Collector) Collect(ctx context.Context, src Sources) (*dns.AddressSet, Source, error) {
	var (
		tokens []string
		source Source
	)
	switch {
	case len(src.Override) > 0:
		tokens, source = src.Override, SourceRequest
	case len(src.Static) > 0:
		tokens, source = src.Static, SourceStatic
	default:
		body, err := c.fetchFeed(ctx, src.FeedURL)
		if err != nil {
			return nil, SourceFeed, err
		}
		tokens, source = config.SplitList(body), SourceFeed
	}

	set := c.validate(ctx, tokens)
	if set.Len() == 0 {
		return nil, source, &NoAddressesError{Source: source}
	}
	c.log.Info("collected addresses", "source", source, "count", set.Len(), "addresses", set.Strings())
	return set, source, nil
}

var hostnamePattern = regexp.MustCompile(`^(?i)([a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]([a-z0-9-]{0,61}[a-z0-9])?\.?$`)

// IsHostname reports whether s looks like a DNS name rather than an address.
func IsHostname(s string) bool {
	return len(s) <= 253 && hostnamePattern.MatchString(s)
}

// validate keeps literal addresses, resolves hostnames and silently drops
// everything else.
func (c *Collector) validate(ctx context.Context, tokens []string) *dns.AddressSet {
	set := dns.NewAddressSet()
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if addr, err := dns.ParseAddress(tok); err == nil {
			set.Add(addr)
			continue
		}
		if c.resolver == nil || !IsHostname(tok) {
			c.log.V(1).Info("dropping invalid address", "token", tok)
			continue
		}
		addrs, err := c.resolver.Resolve(ctx, tok)
		if err != nil {
			c.log.Error(&ResolutionError{Name: tok, Err: err}, "skipping unresolvable entry", "name", tok)
			continue
		}
		for _, a := range addrs {
			set.Add(a)
		}
		c.log.V(1).Info("resolved entry", "name", tok, "addresses", len(addrs))
	}
	return set
}

// fetchFeed reads the feed body, retrying transport failures.
func (c *Collector) fetchFeed(ctx context.Context, url string) (string, error) {
	if url == "" {
		return "", &FeedFetchError{URL: url, Err: fmt.Errorf("no feed URL configured")}
	}
	body, attempts, err := retry.Do(c.backoff, retry.OnTransport(ctx), func() (string, error) {
		return c.fetchOnce(ctx, url)
	})
	if err != nil {
		if retry.IsTransport(err) {
			c.log.Error(err, "feed unreachable", "url", url, "attempts", attempts)
			return "", &FeedFetchError{URL: url, Err: err}
		}
		return "", err
	}
	return body, nil
}

func (c *Collector) fetchOnce(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &FeedFetchError{URL: url, Err: err}
	}
	req.Header.Set("Accept", "text/plain")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", retry.Transport(fmt.Errorf("collector: GET %s: %w", url, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &FeedFetchError{URL: url, Status: resp.StatusCode}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize))
	if err != nil {
		return "", retry.Transport(fmt.Errorf("collector: read feed %s: %w", url, err))
	}
	return string(data), nil
}
