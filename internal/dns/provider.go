package dns

import "context"

// Record types managed by the updater.
const (
	TypeA    = "A"
	TypeAAAA = "AAAA"
)

// AddressTypes lists the record types that carry addresses.
var AddressTypes = []string{TypeA, TypeAAAA}

// Record is an entry in the remote record store. ID is assigned by the store;
// a Record without an ID describes a record that has not been created yet.
type Record struct {
	ID      string
	Type    string // "A" or "AAAA"
	Name    string // FQDN, e.g. "home.example.com"
	Content string // IP address
	TTL     int    // 1 = provider automatic
	Proxied bool
}

// Provider is the interface that record stores must implement.
type Provider interface {
	// ListRecords returns the records of the given types whose name matches name.
	ListRecords(ctx context.Context, zone, name string, types ...string) ([]Record, error)
	// CreateRecord creates record and returns it with the store-assigned ID.
	CreateRecord(ctx context.Context, zone string, record Record) (Record, error)
	// DeleteRecord removes the record with the given ID.
	DeleteRecord(ctx context.Context, zone, id string) error
}
