package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"
	"golang.org/x/time/rate"

	hounddog "github.com/aca-labs/hound-dog"
	"github.com/aca-labs/hound-dog/backoff"
	"github.com/aca-labs/hound-dog/logging"
)

// EtcdStore is the Store Client Adapter (spec §4.2): a thin, mutex-guarded
// facade over a clientv3.Client that hides transport errors behind a retry
// policy and lazily reconnects on failure.
//
// One EtcdStore instance serializes every call it makes — Grant, KeepAlive,
// Revoke, Put race over the same mutex so a Registration Engine never
// interleaves them on a shared transport (spec §4.1 "Concurrency"). Query
// API callers are expected to use a separate EtcdStore instance so reads
// don't contend with a busy renewal loop (spec §9).
type EtcdStore struct {
	endpoints []string
	clientCfg clientv3.Config
	log       logging.Logger
	limiter   *rate.Limiter
	retry     backoff.Policy
	tag       string

	callMu sync.Mutex // held for the duration of each round trip made by call

	mu     sync.Mutex
	client *clientv3.Client
}

// Option configures an EtcdStore at construction time.
type Option func(*EtcdStore)

// WithLogger overrides the default no-op logger.
func WithLogger(l logging.Logger) Option {
	return func(s *EtcdStore) { s.log = l }
}

// WithRetryPolicy overrides the default backoff policy used for calls made
// under store.WithRetry.
func WithRetryPolicy(p backoff.Policy) Option {
	return func(s *EtcdStore) { s.retry = p }
}

// WithRateLimit bounds the rate of outbound calls this adapter issues
// against the store, the same token-bucket idiom the teacher's middleware
// applies to inbound RPCs (golang.org/x/time/rate), applied here to protect
// the discovery store from a runaway renewal loop or reconnect storm.
func WithRateLimit(eventsPerSecond float64, burst int) Option {
	return func(s *EtcdStore) { s.limiter = rate.NewLimiter(rate.Limit(eventsPerSecond), burst) }
}

// NewFromConfig builds an adapter from the library-wide Config's Endpoints
// and EffectiveDialTimeout, the usual entry point for embedding
// applications that don't need to hand-tune the clientv3.Config.
func NewFromConfig(cfg hounddog.Config, opts ...Option) *EtcdStore {
	return NewEtcdStore(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.EffectiveDialTimeout(),
	}, opts...)
}

// NewEtcdStore builds an adapter over the given etcd endpoints. The
// underlying client is constructed lazily on first use.
func NewEtcdStore(cfg clientv3.Config, opts ...Option) *EtcdStore {
	s := &EtcdStore{
		endpoints: cfg.Endpoints,
		clientCfg: cfg,
		log:       logging.NoOp{},
		retry:     backoff.Default,
		tag:       uuid.NewString(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// getClient returns the current client, lazily constructing one if none is
// held (first call, or after a prior call discarded a broken one).
func (s *EtcdStore) getClient() (*clientv3.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}
	c, err := clientv3.New(s.clientCfg)
	if err != nil {
		return nil, fmt.Errorf("hound-dog/store: connect %v: %w", s.endpoints, err)
	}
	s.log.Infow("etcd client connected", "tag", s.tag, "endpoints", s.endpoints)
	s.client = c
	return c, nil
}

// discard closes and forgets the current client so the next call
// reconstructs it, per §4.2 "Reconnection".
func (s *EtcdStore) discard(cause error) {
	s.mu.Lock()
	c := s.client
	s.client = nil
	s.mu.Unlock()
	if c != nil {
		s.log.Warnw("discarding etcd client after error", "tag", s.tag, "err", cause)
		_ = c.Close()
	}
}

// call serializes one round trip through the adapter: acquire the client,
// run fn, and discard the client on any error so the next call reconnects.
// When ctx carries WithRetry, the whole client-fetch-plus-fn sequence is
// retried with backoff until it succeeds or ctx is cancelled.
func (s *EtcdStore) call(ctx context.Context, fn func(*clientv3.Client) error) error {
	attempt := func() error {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		s.callMu.Lock()
		defer s.callMu.Unlock()
		c, err := s.getClient()
		if err != nil {
			return err
		}
		if err := fn(c); err != nil {
			s.discard(err)
			return err
		}
		return nil
	}
	if WantsRetry(ctx) {
		return backoff.Retry(ctx, s.retry, attempt)
	}
	return attempt()
}

func (s *EtcdStore) Grant(ctx context.Context, ttlSeconds int64) (Lease, error) {
	var out Lease
	err := s.call(ctx, func(c *clientv3.Client) error {
		resp, err := c.Grant(ctx, ttlSeconds)
		if err != nil {
			return err
		}
		out = Lease{ID: int64(resp.ID), TTL: resp.TTL}
		return nil
	})
	return out, err
}

func (s *EtcdStore) KeepAlive(ctx context.Context, id int64) (int64, bool, error) {
	var ttl int64
	var ok bool
	err := s.call(ctx, func(c *clientv3.Client) error {
		resp, err := c.KeepAliveOnce(ctx, clientv3.LeaseID(id))
		if err != nil {
			if errors.Is(err, rpctypes.ErrLeaseNotFound) {
				ok = false
				return nil
			}
			return err
		}
		if resp == nil {
			ok = false
			return nil
		}
		ttl = resp.TTL
		ok = true
		return nil
	})
	return ttl, ok, err
}

func (s *EtcdStore) Revoke(ctx context.Context, id int64) (bool, error) {
	var success bool
	err := s.call(ctx, func(c *clientv3.Client) error {
		_, err := c.Revoke(ctx, clientv3.LeaseID(id))
		if err != nil {
			return err
		}
		success = true
		return nil
	})
	return success, err
}

func (s *EtcdStore) Put(ctx context.Context, key, value string, lease int64) (bool, error) {
	var success bool
	err := s.call(ctx, func(c *clientv3.Client) error {
		var opts []clientv3.OpOption
		if lease != 0 {
			opts = append(opts, clientv3.WithLease(clientv3.LeaseID(lease)))
		}
		_, err := c.Put(ctx, key, value, opts...)
		if err != nil {
			return err
		}
		success = true
		return nil
	})
	return success, err
}

func (s *EtcdStore) Range(ctx context.Context, key string) ([]KV, error) {
	var out []KV
	err := s.call(ctx, func(c *clientv3.Client) error {
		resp, err := c.Get(ctx, key)
		if err != nil {
			return err
		}
		out = kvsFrom(resp)
		return nil
	})
	return out, err
}

func (s *EtcdStore) RangePrefix(ctx context.Context, prefix string) ([]KV, error) {
	var out []KV
	err := s.call(ctx, func(c *clientv3.Client) error {
		resp, err := c.Get(ctx, prefix, clientv3.WithPrefix())
		if err != nil {
			return err
		}
		out = kvsFrom(resp)
		return nil
	})
	return out, err
}

func (s *EtcdStore) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	var deleted int64
	err := s.call(ctx, func(c *clientv3.Client) error {
		resp, err := c.Delete(ctx, prefix, clientv3.WithPrefix())
		if err != nil {
			return err
		}
		deleted = resp.Deleted
		return nil
	})
	return deleted, err
}

func (s *EtcdStore) WatchPrefix(ctx context.Context, prefix string) (<-chan RawEvent, <-chan error, func(), error) {
	c, err := s.getClient()
	if err != nil {
		return nil, nil, nil, err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	events := make(chan RawEvent)
	errc := make(chan error, 1)

	watchChan := c.Watch(watchCtx, prefix, clientv3.WithPrefix())

	go func() {
		defer close(events)
		for resp := range watchChan {
			if err := resp.Err(); err != nil {
				errc <- err
				return
			}
			for _, ev := range resp.Events {
				re := RawEvent{Key: string(ev.Kv.Key)}
				if ev.Type == clientv3.EventTypeDelete {
					re.Type = EventDelete
				} else {
					re.Type = EventPut
					re.Value = string(ev.Kv.Value)
				}
				select {
				case events <- re:
				case <-watchCtx.Done():
					return
				}
			}
		}
		errc <- nil
	}()

	return events, errc, cancel, nil
}

// Close releases the underlying client, if any.
func (s *EtcdStore) Close() error {
	s.mu.Lock()
	c := s.client
	s.client = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Close()
}

func kvsFrom(resp *clientv3.GetResponse) []KV {
	out := make([]KV, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		out = append(out, KV{Key: string(kv.Key), Value: string(kv.Value), Lease: kv.Lease})
	}
	return out
}
