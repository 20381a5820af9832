package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/yuriy-kovalchuk/yk-ddns/internal/dns"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/retry"
)

// typeA is the numeric RR type of A records in DNS JSON answers.
const typeA = 1

// DoHResolver resolves names through a DNS-over-HTTPS JSON endpoint such as
// https://cloudflare-dns.com/dns-query.
type DoHResolver struct {
	endpoint string
	client   *http.Client
	backoff  wait.Backoff
	log      logr.Logger
}

// NewDoHResolver creates a resolver for endpoint.
func NewDoHResolver(log logr.Logger, client *http.Client, endpoint string) *DoHResolver {
	if client == nil {
		client = http.DefaultClient
	}
	return &DoHResolver{endpoint: endpoint, client: client, backoff: retry.DefaultBackoff, log: log}
}

type dohResponse struct {
	Status int `json:"Status"`
	Answer []struct {
		Name string `json:"name"`
		Type int    `json:"type"`
		TTL  int    `json:"TTL"`
		Data string `json:"data"`
	} `json:"Answer"`
}

// Resolve returns the A records of name.
func (r *DoHResolver) Resolve(ctx context.Context, name string) ([]dns.Address, error) {
	answer, _, err := retry.Do(r.backoff, retry.OnTransport(ctx), func() (*dohResponse, error) {
		return r.query(ctx, name)
	})
	if err != nil {
		return nil, err
	}
	if answer.Status != 0 {
		return nil, fmt.Errorf("resolver answered rcode %d", answer.Status)
	}

	var out []dns.Address
	for _, a := range answer.Answer {
		if a.Type != typeA {
			continue
		}
		addr, err := dns.ParseAddress(a.Data)
		if err != nil {
			r.log.V(1).Info("ignoring malformed answer", "name", name, "data", a.Data)
			continue
		}
		out = append(out, addr)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no A records")
	}
	return out, nil
}

func (r *DoHResolver) query(ctx context.Context, name string) (*dohResponse, error) {
	q := url.Values{}
	q.Set("name", name)
	q.Set("type", "A")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/dns-json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, retry.Transport(fmt.Errorf("GET %s: %w", r.endpoint, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("resolver returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize))
	if err != nil {
		return nil, retry.Transport(fmt.Errorf("read resolver response: %w", err))
	}

	var out dohResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode resolver response: %w", err)
	}
	return &out, nil
}
