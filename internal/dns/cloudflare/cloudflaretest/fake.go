// Package cloudflaretest provides an in-memory Cloudflare DNS records API for tests.
package cloudflaretest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Always makes a drop rule apply to every request of that method.
const Always = -1

// Record is a record held by the fake.
type Record struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	TTL     int    `json:"ttl"`
	Proxied bool   `json:"proxied"`
}

// Server is a minimal in-memory Cloudflare v4 DNS records API.
type Server struct {
	Token string
	Zone  string

	mu         sync.Mutex
	store      map[string]Record
	nextID     int
	calls      []string
	emails     []string
	failCreate map[string]string
	drop       map[string]int
	srv        *httptest.Server
}

// NewServer starts a fake API that accepts token for zone.
func NewServer(token, zone string) *Server {
	f := &Server{
		Token:      token,
		Zone:       zone,
		store:      map[string]Record{},
		failCreate: map[string]string{},
		drop:       map[string]int{},
	}
	f.srv = httptest.NewServer(f)
	return f
}

// URL is the API base URL to configure clients with.
func (f *Server) URL() string { return f.srv.URL + "/client/v4" }

func (f *Server) Close() { f.srv.Close() }

// Seed inserts an existing record and returns its ID.
func (f *Server) Seed(recordType, name, content string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.insert(Record{Type: recordType, Name: name, Content: content, TTL: 1})
}

// FailCreate makes creating a record with the given content fail with message.
func (f *Server) FailCreate(content, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failCreate[content] = message
}

// Drop closes the connection without answering the next n requests with the
// given method. Use Always to drop every request.
func (f *Server) Drop(method string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drop[method] = n
}

// Records returns the stored records sorted by content.
func (f *Server) Records() []Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Record, 0, len(f.store))
	for _, r := range f.store {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Content < out[j].Content })
	return out
}

// Calls returns "METHOD path" for every request received, in order.
func (f *Server) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CountCalls returns how many requests used method.
func (f *Server) CountCalls(method string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, method+" ") {
			n++
		}
	}
	return n
}

// Emails returns the X-Auth-Email header of every request that carried one.
func (f *Server) Emails() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.emails...)
}

func (f *Server) insert(r Record) string {
	f.nextID++
	r.ID = fmt.Sprintf("rec-%d", f.nextID)
	f.store[r.ID] = r
	return r.ID
}

func (f *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.calls = append(f.calls, r.Method+" "+r.URL.Path)
	if email := r.Header.Get("X-Auth-Email"); email != "" {
		f.emails = append(f.emails, email)
	}
	drop := false
	if n := f.drop[r.Method]; n != 0 {
		drop = true
		if n > 0 {
			f.drop[r.Method] = n - 1
		}
	}
	f.mu.Unlock()

	if drop {
		hijackAndClose(w)
		return
	}

	if r.Header.Get("Authorization") != "Bearer "+f.Token {
		writeError(w, http.StatusForbidden, 10000, "Authentication error")
		return
	}

	prefix := "/client/v4/zones/" + f.Zone + "/dns_records"
	switch {
	case r.URL.Path == prefix && r.Method == http.MethodGet:
		f.handleList(w, r)
	case r.URL.Path == prefix && r.Method == http.MethodPost:
		f.handleCreate(w, r)
	case strings.HasPrefix(r.URL.Path, prefix+"/") && r.Method == http.MethodDelete:
		f.handleDelete(w, strings.TrimPrefix(r.URL.Path, prefix+"/"))
	case strings.HasPrefix(r.URL.Path, "/client/v4/zones/"):
		writeError(w, http.StatusNotFound, 7003, "Could not route to zone")
	default:
		http.NotFound(w, r)
	}
}

func (f *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	if perPage <= 0 {
		perPage = 100
	}
	page, _ := strconv.Atoi(q.Get("page"))
	if page <= 0 {
		page = 1
	}

	f.mu.Lock()
	matched := []Record{}
	for _, rec := range f.store {
		if t := q.Get("type"); t != "" && rec.Type != t {
			continue
		}
		if n := q.Get("name"); n != "" && rec.Name != n {
			continue
		}
		matched = append(matched, rec)
	}
	f.mu.Unlock()
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	totalPages := (len(matched) + perPage - 1) / perPage
	start := (page - 1) * perPage
	if start > len(matched) {
		start = len(matched)
	}
	end := start + perPage
	if end > len(matched) {
		end = len(matched)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"errors":  []interface{}{},
		"result":  matched[start:end],
		"result_info": map[string]int{
			"page":        page,
			"per_page":    perPage,
			"total_pages": totalPages,
			"count":       end - start,
			"total_count": len(matched),
		},
	})
}

func (f *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var rec Record
	if err := readJSON(r, &rec); err != nil {
		writeError(w, http.StatusBadRequest, 9207, "Request body is invalid")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := f.failCreate[rec.Content]; ok {
		writeError(w, http.StatusBadRequest, 9005, msg)
		return
	}
	for _, existing := range f.store {
		if existing.Type == rec.Type && existing.Name == rec.Name && existing.Content == rec.Content {
			writeError(w, http.StatusBadRequest, 81058, "An identical record already exists.")
			return
		}
	}
	id := f.insert(rec)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"errors":  []interface{}{},
		"result":  f.store[id],
	})
}

func (f *Server) handleDelete(w http.ResponseWriter, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.store[id]; !ok {
		writeError(w, http.StatusNotFound, 81044, "Record does not exist.")
		return
	}
	delete(f.store, id)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"errors":  []interface{}{},
		"result":  map[string]string{"id": id},
	})
}

func hijackAndClose(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		panic("cloudflaretest: response writer does not support hijacking")
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		panic(err)
	}
	conn.Close()
}

func writeError(w http.ResponseWriter, status, code int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"errors":  []map[string]interface{}{{"code": code, "message": message}},
		"result":  nil,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, v interface{}) error {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
