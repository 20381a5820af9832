package cloudflare

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/yuriy-kovalchuk/yk-ddns/internal/dns"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/retry"
)

const (
	DefaultBaseURL = "https://api.cloudflare.com/client/v4"

	perPage         = 100
	maxResponseSize = 1 << 20
)

func init() {
	dns.Register("cloudflare", func(log logr.Logger, settings map[string]string) (dns.Provider, error) {
		return New(log, settings)
	})
}

// Provider implements dns.Provider for the Cloudflare v4 DNS records API.
type Provider struct {
	baseURL string
	token   string
	email   string
	backoff wait.Backoff
	client  *http.Client
	log     logr.Logger
}

// New creates a Cloudflare record store client from the given settings map.
// Required settings: api_token.
// Optional settings: base_url, email (legacy auth), timeout (default 30s),
// retry_attempts (default 3), retry_delay (default 200ms), skip_tls_verify.
func New(log logr.Logger, settings map[string]string) (*Provider, error) {
	token := settings["api_token"]
	if token == "" {
		return nil, fmt.Errorf("cloudflare: missing required setting 'api_token'")
	}

	baseURL := settings["base_url"]
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := 30 * time.Second
	if v := settings["timeout"]; v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("cloudflare: invalid timeout %q: %w", v, err)
		}
		timeout = parsed
	}

	backoff := retry.DefaultBackoff
	if v := settings["retry_attempts"]; v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			return nil, fmt.Errorf("cloudflare: invalid retry_attempts %q", v)
		}
		backoff.Steps = parsed
	}
	if v := settings["retry_delay"]; v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("cloudflare: invalid retry_delay %q: %w", v, err)
		}
		backoff.Duration = parsed
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if v := settings["skip_tls_verify"]; v == "true" {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		email:   settings["email"],
		backoff: backoff,
		client:  &http.Client{Transport: transport, Timeout: timeout},
		log:     log,
	}, nil
}

// envelope is the wrapper Cloudflare puts around every response.
type envelope struct {
	Success    bool            `json:"success"`
	Errors     []apiMessage    `json:"errors"`
	Result     json.RawMessage `json:"result"`
	ResultInfo *resultInfo     `json:"result_info,omitempty"`
}

type apiMessage struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type resultInfo struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalPages int `json:"total_pages"`
	Count      int `json:"count"`
	TotalCount int `json:"total_count"`
}

// dnsRecord is the wire shape of a DNS record.
type dnsRecord struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	TTL     int    `json:"ttl"`
	Proxied bool   `json:"proxied"`
}

func (r dnsRecord) toRecord() dns.Record {
	return dns.Record{ID: r.ID, Type: r.Type, Name: r.Name, Content: r.Content, TTL: r.TTL, Proxied: r.Proxied}
}

// do executes one API call under the retry policy. Transport failures are
// retried and surface as StoreUnavailableError once the budget is spent;
// rejections from the API surface immediately as StoreAPIError.
func (p *Provider) do(ctx context.Context, op, method, path string, query url.Values, body interface{}) (*envelope, error) {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("cloudflare: marshal request body: %w", err)
		}
		payload = data
	}

	env, attempts, err := retry.Do(p.backoff, retry.OnTransport(ctx), func() (*envelope, error) {
		return p.roundTrip(ctx, op, method, path, query, payload)
	})
	if err != nil {
		if retry.IsTransport(err) {
			return nil, &dns.StoreUnavailableError{Op: op, Attempts: attempts, Err: err}
		}
		return nil, err
	}
	return env, nil
}

// roundTrip performs a single HTTP exchange.
func (p *Provider) roundTrip(ctx context.Context, op, method, path string, query url.Values, payload []byte) (*envelope, error) {
	u := p.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("cloudflare: build request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+p.token)
	if p.email != "" {
		req.Header.Set("X-Auth-Email", p.email)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	p.log.V(1).Info("calling record store", "method", method, "path", path)
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, retry.Transport(fmt.Errorf("cloudflare: %s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, retry.Transport(fmt.Errorf("cloudflare: read %s %s response: %w", method, path, err))
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &dns.StoreAPIError{
			Op:       op,
			Status:   resp.StatusCode,
			Messages: []string{fmt.Sprintf("undecodable response: %s", truncate(string(data), 200))},
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 || !env.Success {
		messages := make([]string, 0, len(env.Errors))
		for _, m := range env.Errors {
			messages = append(messages, fmt.Sprintf("%s (code %d)", m.Message, m.Code))
		}
		if len(messages) == 0 {
			messages = append(messages, http.StatusText(resp.StatusCode))
		}
		return nil, &dns.StoreAPIError{Op: op, Status: resp.StatusCode, Messages: messages}
	}
	return &env, nil
}

func recordsPath(zone string) string {
	return "zones/" + url.PathEscape(zone) + "/dns_records"
}

// ListRecords returns every record of the given types named name. With no
// types it lists A and AAAA records.
func (p *Provider) ListRecords(ctx context.Context, zone, name string, types ...string) ([]dns.Record, error) {
	if len(types) == 0 {
		types = dns.AddressTypes
	}

	var out []dns.Record
	for _, recordType := range types {
		for page := 1; ; page++ {
			query := url.Values{}
			query.Set("type", recordType)
			query.Set("name", name)
			query.Set("page", strconv.Itoa(page))
			query.Set("per_page", strconv.Itoa(perPage))

			env, err := p.do(ctx, "cloudflare: list records", http.MethodGet, recordsPath(zone), query, nil)
			if err != nil {
				return nil, err
			}

			var records []dnsRecord
			if len(env.Result) > 0 {
				if err := json.Unmarshal(env.Result, &records); err != nil {
					return nil, fmt.Errorf("cloudflare: decode list response: %w", err)
				}
			}
			for _, r := range records {
				if r.Type != recordType || !dns.SameName(r.Name, name) {
					continue
				}
				out = append(out, r.toRecord())
			}

			if env.ResultInfo == nil || page >= env.ResultInfo.TotalPages {
				break
			}
		}
	}

	p.log.V(1).Info("listed records", "zone", zone, "name", name, "count", len(out))
	return out, nil
}

// CreateRecord creates a DNS record and returns it with the ID Cloudflare assigned.
func (p *Provider) CreateRecord(ctx context.Context, zone string, record dns.Record) (dns.Record, error) {
	p.log.Info("creating record", "name", record.Name, "type", record.Type, "content", record.Content)

	body := dnsRecord{
		Type:    record.Type,
		Name:    record.Name,
		Content: record.Content,
		TTL:     record.TTL,
		Proxied: record.Proxied,
	}
	env, err := p.do(ctx, "cloudflare: create record", http.MethodPost, recordsPath(zone), nil, body)
	if err != nil {
		return dns.Record{}, err
	}

	var created dnsRecord
	if err := json.Unmarshal(env.Result, &created); err != nil {
		return dns.Record{}, fmt.Errorf("cloudflare: decode create response: %w", err)
	}

	p.log.Info("record created", "id", created.ID, "content", created.Content)
	return created.toRecord(), nil
}

// DeleteRecord removes the DNS record with the given ID.
func (p *Provider) DeleteRecord(ctx context.Context, zone, id string) error {
	p.log.Info("deleting record", "id", id)

	if _, err := p.do(ctx, "cloudflare: delete record", http.MethodDelete, recordsPath(zone)+"/"+url.PathEscape(id), nil, nil); err != nil {
		return err
	}
	p.log.Info("record deleted", "id", id)
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
