// Package controller converges the address records of a name to a desired
// address set and drives complete update runs.
package controller

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/yuriy-kovalchuk/yk-ddns/internal/dns"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/metrics"
)

// Target identifies the records a reconciliation manages.
type Target struct {
	Zone    string
	Name    string
	TTL     int
	Proxied bool
}

func (t Target) key() string {
	return t.Zone + "/" + dns.CanonicalName(t.Name)
}

// Reconciler replaces every A and AAAA record of a target with one record
// per desired address.
// Reconcilers sharing Locks serialise runs against the same zone and name.
type Reconciler struct {
	DNS   dns.Provider
	Log   logr.Logger
	Locks *KeyedMutex
}

// Reconcile lists the existing records, deletes all of them and then creates
// the desired ones. A list or delete failure aborts the run before any
// record is created. Create failures are reported per address in the
// returned results.
func (r *Reconciler) Reconcile(ctx context.Context, target Target, desired *dns.AddressSet) ([]Result, error) {
	if r.Locks != nil {
		unlock := r.Locks.Lock(target.key())
		defer unlock()
	}
	log := r.Log.WithValues("zone", target.Zone, "name", target.Name)

	existing, err := r.DNS.ListRecords(ctx, target.Zone, target.Name, dns.AddressTypes...)
	if err != nil {
		return nil, fmt.Errorf("listing records for %s: %w", target.Name, err)
	}
	log.Info("reconciling records", "existing", len(existing), "desired", desired.Len())

	if err := r.deleteAll(ctx, log, target.Zone, existing); err != nil {
		return nil, err
	}
	return r.createAll(ctx, log, target, desired.Addresses()), nil
}

// deleteAll removes records in parallel and waits for every delete to settle.
func (r *Reconciler) deleteAll(ctx context.Context, log logr.Logger, zone string, records []dns.Record) error {
	var g errgroup.Group
	for _, rec := range records {
		g.Go(func() error {
			err := r.DNS.DeleteRecord(ctx, zone, rec.ID)
			metrics.ObserveRecordOp("delete", err)
			if err != nil {
				log.Error(err, "failed to delete record", "id", rec.ID, "type", rec.Type, "content", rec.Content)
				return fmt.Errorf("deleting %s record %s (%s): %w", rec.Type, rec.ID, rec.Content, err)
			}
			log.V(1).Info("deleted record", "id", rec.ID, "type", rec.Type, "content", rec.Content)
			return nil
		})
	}
	return g.Wait()
}

// createAll creates one record per address in parallel. Each goroutine owns
// its slot in the result slice.
func (r *Reconciler) createAll(ctx context.Context, log logr.Logger, target Target, addrs []dns.Address) []Result {
	results := make([]Result, len(addrs))
	var wg sync.WaitGroup
	for i, addr := range addrs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := Result{Address: addr.String(), Type: addr.RecordType()}
			created, err := r.DNS.CreateRecord(ctx, target.Zone, dns.Record{
				Type:    addr.RecordType(),
				Name:    target.Name,
				Content: addr.String(),
				TTL:     target.TTL,
				Proxied: target.Proxied,
			})
			metrics.ObserveRecordOp("create", err)
			if err != nil {
				log.Error(err, "failed to create record", "type", res.Type, "content", res.Address)
				res.Error = err.Error()
			} else {
				log.V(1).Info("created record", "id", created.ID, "type", res.Type, "content", res.Address)
				res.Success = true
				res.RecordID = created.ID
			}
			results[i] = res
		}()
	}
	wg.Wait()
	return results
}
