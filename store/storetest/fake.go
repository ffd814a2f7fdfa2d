// Package storetest provides an in-memory fake implementing store.Store,
// used by the registration, watch, and query packages to exercise the
// property tests of spec §8 without a live etcd.
package storetest

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/aca-labs/hound-dog/store"
)

// Fake is a minimal in-memory model of the abstract store contract (spec
// §6). It is safe for concurrent use.
type Fake struct {
	mu        sync.Mutex
	kvs       map[string]store.KV
	leaseTTL  map[int64]int64 // presence = lease alive
	nextLease int64
	watchers  map[int]*watcher
	nextWatch int
}

type watcher struct {
	prefix string
	ch     chan store.RawEvent
}

// New returns an empty Fake store.
func New() *Fake {
	return &Fake{
		kvs:      make(map[string]store.KV),
		leaseTTL: make(map[int64]int64),
		watchers: make(map[int]*watcher),
	}
}

func (f *Fake) Grant(_ context.Context, ttl int64) (store.Lease, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextLease++
	id := f.nextLease
	f.leaseTTL[id] = ttl
	return store.Lease{ID: id, TTL: ttl}, nil
}

func (f *Fake) KeepAlive(_ context.Context, id int64) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ttl, ok := f.leaseTTL[id]
	if !ok {
		return 0, false, nil
	}
	return ttl, true, nil
}

func (f *Fake) Revoke(_ context.Context, id int64) (bool, error) {
	f.mu.Lock()
	if _, ok := f.leaseTTL[id]; !ok {
		f.mu.Unlock()
		return true, nil
	}
	delete(f.leaseTTL, id)
	removed := f.deleteByLeaseLocked(id)
	f.mu.Unlock()
	for _, kv := range removed {
		f.notify(store.RawEvent{Type: store.EventDelete, Key: kv.Key})
	}
	return true, nil
}

// ExpireLease simulates the store unilaterally expiring a lease (TTL
// elapsed with no successful keep-alive), the trigger for spec scenario S4.
func (f *Fake) ExpireLease(id int64) {
	f.mu.Lock()
	if _, ok := f.leaseTTL[id]; !ok {
		f.mu.Unlock()
		return
	}
	delete(f.leaseTTL, id)
	removed := f.deleteByLeaseLocked(id)
	f.mu.Unlock()
	for _, kv := range removed {
		f.notify(store.RawEvent{Type: store.EventDelete, Key: kv.Key})
	}
}

func (f *Fake) deleteByLeaseLocked(id int64) []store.KV {
	var removed []store.KV
	for k, kv := range f.kvs {
		if kv.Lease == id {
			removed = append(removed, kv)
			delete(f.kvs, k)
		}
	}
	return removed
}

func (f *Fake) Put(_ context.Context, key, value string, lease int64) (bool, error) {
	f.mu.Lock()
	if lease != 0 {
		if _, ok := f.leaseTTL[lease]; !ok {
			f.mu.Unlock()
			return false, nil
		}
	}
	f.kvs[key] = store.KV{Key: key, Value: value, Lease: lease}
	f.mu.Unlock()
	f.notify(store.RawEvent{Type: store.EventPut, Key: key, Value: value})
	return true, nil
}

func (f *Fake) Range(_ context.Context, key string) ([]store.KV, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if kv, ok := f.kvs[key]; ok {
		return []store.KV{kv}, nil
	}
	return nil, nil
}

func (f *Fake) RangePrefix(_ context.Context, prefix string) ([]store.KV, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.KV
	for k, kv := range f.kvs {
		if strings.HasPrefix(k, prefix) {
			out = append(out, kv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (f *Fake) DeletePrefix(_ context.Context, prefix string) (int64, error) {
	f.mu.Lock()
	var removed []store.KV
	for k, kv := range f.kvs {
		if strings.HasPrefix(k, prefix) {
			removed = append(removed, kv)
			delete(f.kvs, k)
		}
	}
	f.mu.Unlock()
	for _, kv := range removed {
		f.notify(store.RawEvent{Type: store.EventDelete, Key: kv.Key})
	}
	return int64(len(removed)), nil
}

func (f *Fake) WatchPrefix(ctx context.Context, prefix string) (<-chan store.RawEvent, <-chan error, func(), error) {
	f.mu.Lock()
	id := f.nextWatch
	f.nextWatch++
	w := &watcher{prefix: prefix, ch: make(chan store.RawEvent, 16)}
	f.watchers[id] = w
	f.mu.Unlock()

	errc := make(chan error, 1)
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.watchers, id)
			f.mu.Unlock()
			close(w.ch)
			errc <- nil
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return w.ch, errc, cancel, nil
}

func (f *Fake) notify(ev store.RawEvent) {
	f.mu.Lock()
	var matched []*watcher
	for _, w := range f.watchers {
		if strings.HasPrefix(ev.Key, w.prefix) {
			matched = append(matched, w)
		}
	}
	f.mu.Unlock()
	for _, w := range matched {
		sendSafe(w.ch, ev)
	}
}

// sendSafe delivers to a watcher channel that may be concurrently closed by
// Stop/cancel racing with a notify; the fake is test scaffolding, not the
// production adapter, so it tolerates the race by dropping the event
// instead of taking a lock around every send.
func sendSafe(ch chan store.RawEvent, ev store.RawEvent) {
	defer func() { _ = recover() }()
	select {
	case ch <- ev:
	default:
	}
}

// LeaseOf returns the lease id currently bound to key, and whether key
// exists at all.
func (f *Fake) LeaseOf(key string) (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kv, ok := f.kvs[key]
	if !ok {
		return 0, false
	}
	return kv.Lease, true
}

var _ store.Store = (*Fake)(nil)
