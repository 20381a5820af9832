// Package opnsense stores dynamic addresses as OPNsense Unbound host overrides.
// OPNsense has no notion of zones; the zone argument is ignored.
package opnsense

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/yuriy-kovalchuk/yk-ddns/internal/dns"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/retry"
)

func init() {
	dns.Register("opnsense", func(log logr.Logger, settings map[string]string) (dns.Provider, error) {
		return New(log, settings)
	})
}

// Provider implements dns.Provider for OPNsense Unbound DNS.
type Provider struct {
	baseURL   string
	apiKey    string
	apiSecret string
	backoff   wait.Backoff
	client    *http.Client
	log       logr.Logger
}

// New creates an OPNsense DNS provider from the given settings map.
// Required settings: base_url, api_key, api_secret.
// Optional settings: skip_tls_verify (default false).
func New(log logr.Logger, settings map[string]string) (*Provider, error) {
	baseURL := settings["base_url"]
	if baseURL == "" {
		return nil, fmt.Errorf("opnsense: missing required setting 'base_url'")
	}
	apiKey := settings["api_key"]
	if apiKey == "" {
		return nil, fmt.Errorf("opnsense: missing required setting 'api_key'")
	}
	apiSecret := settings["api_secret"]
	if apiSecret == "" {
		return nil, fmt.Errorf("opnsense: missing required setting 'api_secret'")
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if v := settings["skip_tls_verify"]; v == "true" {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Provider{
		baseURL:   baseURL,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		backoff:   retry.DefaultBackoff,
		client:    &http.Client{Transport: transport},
		log:       log,
	}, nil
}

// call executes an API call under the retry policy and decodes the JSON reply into out.
func (p *Provider) call(ctx context.Context, op, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("opnsense: marshal request body: %w", err)
		}
		payload = data
	}

	data, attempts, err := retry.Do(p.backoff, retry.OnTransport(ctx), func() ([]byte, error) {
		return p.doRequest(ctx, op, method, path, payload)
	})
	if err != nil {
		if retry.IsTransport(err) {
			return &dns.StoreUnavailableError{Op: op, Attempts: attempts, Err: err}
		}
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// doRequest builds and executes one HTTP request against the OPNsense API.
func (p *Provider) doRequest(ctx context.Context, op, method, path string, payload []byte) ([]byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	url := strings.TrimRight(p.baseURL, "/") + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("opnsense: build request: %w", err)
	}

	req.SetBasicAuth(p.apiKey, p.apiSecret)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, retry.Transport(fmt.Errorf("opnsense: %s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retry.Transport(fmt.Errorf("opnsense: read %s response: %w", path, err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &dns.StoreAPIError{Op: op, Status: resp.StatusCode, Messages: []string{strings.TrimSpace(string(data))}}
	}
	return data, nil
}

// reconfigure tells OPNsense to apply DNS changes.
func (p *Provider) reconfigure(ctx context.Context) error {
	var result struct {
		Status string `json:"status"`
	}
	if err := p.call(ctx, "opnsense: reconfigure", http.MethodPost, "unbound/service/reconfigure", struct{}{}, &result); err != nil {
		return err
	}
	p.log.V(1).Info("reconfigure completed", "status", result.Status)
	return nil
}

// searchResponse is the shape returned by searchHostOverride.
type searchResponse struct {
	Rows []hostRow `json:"rows"`
}

// hostRow represents a single host override row from the search response.
type hostRow struct {
	UUID     string `json:"uuid"`
	Enabled  string `json:"enabled"`
	Hostname string `json:"hostname"`
	Domain   string `json:"domain"`
	RR       string `json:"rr"`
	Server   string `json:"server"`
}

// ListRecords returns the host overrides for fqdn whose record type is one of types.
func (p *Provider) ListRecords(ctx context.Context, _ string, fqdn string, types ...string) ([]dns.Record, error) {
	if len(types) == 0 {
		types = dns.AddressTypes
	}

	var sr searchResponse
	if err := p.call(ctx, "opnsense: list records", http.MethodGet, "unbound/settings/searchHostOverride", nil, &sr); err != nil {
		return nil, err
	}

	host, domain := dns.SplitHostname(fqdn)
	var out []dns.Record
	for _, row := range sr.Rows {
		if !strings.EqualFold(row.Hostname, host) || !strings.EqualFold(row.Domain, domain) {
			continue
		}
		for _, t := range types {
			if strings.EqualFold(row.RR, t) {
				out = append(out, dns.Record{
					ID:      row.UUID,
					Type:    strings.ToUpper(row.RR),
					Name:    fqdn,
					Content: row.Server,
				})
				break
			}
		}
	}
	return out, nil
}

// buildHostBody creates the JSON body for addHostOverride.
func buildHostBody(record dns.Record) map[string]interface{} {
	host, domain := dns.SplitHostname(record.Name)
	return map[string]interface{}{
		"host": map[string]string{
			"enabled":     "1",
			"hostname":    host,
			"domain":      domain,
			"rr":          record.Type,
			"server":      record.Content,
			"description": "managed by yk-ddns",
			"mxprio":      "",
			"mx":          "",
		},
	}
}

// CreateRecord adds a new DNS host override and applies the change.
func (p *Provider) CreateRecord(ctx context.Context, _ string, record dns.Record) (dns.Record, error) {
	p.log.Info("creating record", "name", record.Name, "type", record.Type, "content", record.Content)

	var result struct {
		Result string `json:"result"`
		UUID   string `json:"uuid"`
	}
	if err := p.call(ctx, "opnsense: create record", http.MethodPost, "unbound/settings/addHostOverride", buildHostBody(record), &result); err != nil {
		return dns.Record{}, err
	}
	if result.Result != "saved" {
		return dns.Record{}, &dns.StoreAPIError{Op: "opnsense: create record", Status: http.StatusOK, Messages: []string{"unexpected result: " + result.Result}}
	}

	p.log.Info("record created", "uuid", result.UUID)
	record.ID = result.UUID
	return record, p.reconfigure(ctx)
}

// DeleteRecord removes the host override with the given UUID and applies the change.
func (p *Provider) DeleteRecord(ctx context.Context, _ string, id string) error {
	p.log.Info("deleting record", "uuid", id)

	var result struct {
		Result string `json:"result"`
	}
	if err := p.call(ctx, "opnsense: delete record", http.MethodPost, fmt.Sprintf("unbound/settings/delHostOverride/%s", id), struct{}{}, &result); err != nil {
		return err
	}
	if result.Result != "deleted" {
		return &dns.StoreAPIError{Op: "opnsense: delete record", Status: http.StatusOK, Messages: []string{"unexpected result: " + result.Result}}
	}

	p.log.Info("record deleted", "uuid", id)
	return p.reconfigure(ctx)
}
