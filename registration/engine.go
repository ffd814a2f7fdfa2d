// Package registration implements the Registration Engine (spec §4.1): the
// node-registration state machine that acquires a lease, durably binds a
// key to it, keeps it alive against a lossy network, detects lease expiry,
// and re-establishes registration atomically with client observers.
package registration

import (
	"context"
	"fmt"
	"sync"
	"time"

	hounddog "github.com/aca-labs/hound-dog"
	"github.com/aca-labs/hound-dog/logging"
	"github.com/aca-labs/hound-dog/store"
	"github.com/aca-labs/hound-dog/watch"
)

// Engine owns a single (service, name, uri) Service Binding and its lease
// lifecycle. One Engine registers exactly one node; run several Engines to
// register several nodes from the same process.
type Engine struct {
	cfg     hounddog.Config
	service string
	name    string
	uri     string
	nodeKey string
	store   store.Store
	log     logging.Logger

	opMu sync.Mutex // serializes Register/Unregister so two concurrent callers can't both win the "not yet registered" race

	mu         sync.Mutex
	registered bool
	leaseID    int64
	signal     chan int64
	signalOpen bool
	stopKeep   context.CancelFunc
	keepDone   chan struct{}

	watchMu     sync.Mutex
	watchHandle *watch.Handle
}

// New constructs a fresh Service Binding. It performs no store I/O; the
// binding transitions to Registered only once Register succeeds.
func New(cfg hounddog.Config, st store.Store, service, name, uri string, log logging.Logger) (*Engine, error) {
	if err := hounddog.ValidateName(service); err != nil {
		return nil, err
	}
	if err := hounddog.ValidateName(name); err != nil {
		return nil, err
	}
	parsed, err := hounddog.ParseNodeURI(uri)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.NoOp{}
	}
	return &Engine{
		cfg:        cfg,
		service:    service,
		name:       name,
		uri:        parsed.String(),
		nodeKey:    cfg.NodeKey(service, name),
		store:      st,
		log:        log,
		signal:     make(chan int64, 1), // one-slot buffer retains the latest id (spec §9)
		signalOpen: true,
	}, nil
}

// Registered reports whether the binding currently believes it holds a live
// lease.
func (e *Engine) Registered() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registered
}

// Signal returns the channel that carries successive lease ids as
// re-registrations occur, in adoption order (spec I5). It is closed on
// Unregister.
func (e *Engine) Signal() <-chan int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.signal
}

// Register acquires (or adopts) a lease for this binding and starts the
// keep-alive loop. A ttlSeconds of 0 means the Config's DefaultTTL. Calling
// Register while already registered is a no-op (spec P5).
func (e *Engine) Register(ctx context.Context, ttlSeconds int64) error {
	if ttlSeconds == 0 {
		ttlSeconds = e.cfg.DefaultTTL
	}
	if ttlSeconds < 1 {
		return fmt.Errorf("hound-dog/registration: ttl must be >= 1, got %d", ttlSeconds)
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	if e.registered {
		e.mu.Unlock()
		return nil
	}
	if !e.signalOpen {
		e.signal = make(chan int64, 1)
		e.signalOpen = true
	}
	e.mu.Unlock()

	leaseID, ttl, err := e.acquire(ctx, ttlSeconds)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.leaseID = leaseID
	e.registered = true
	e.emitLocked(leaseID)
	keepCtx, cancel := context.WithCancel(context.Background())
	e.stopKeep = cancel
	e.keepDone = make(chan struct{})
	e.mu.Unlock()

	go e.keepAlive(keepCtx, ttl)
	return nil
}

// acquire implements the Adopt/Fresh branch split of spec §4.1 step 3-5.
func (e *Engine) acquire(ctx context.Context, ttlSeconds int64) (leaseID int64, ttl int64, err error) {
	existing, err := e.store.Range(ctx, e.nodeKey)
	if err != nil {
		return 0, 0, fmt.Errorf("hound-dog/registration: read %s: %w", e.nodeKey, err)
	}

	if len(existing) == 1 && existing[0].Value == e.uri && existing[0].Lease != 0 {
		e.log.Infow("adopting existing lease", "node_key", e.nodeKey, "lease", existing[0].Lease)
		return existing[0].Lease, ttlSeconds, nil
	}

	return e.newLease(ctx, ttlSeconds)
}

// newLease grants a fresh lease and puts nodeKey bound to it. On Put
// failure it makes a best-effort revoke of the fresh lease; if that revoke
// also fails, the lease is left to expire on its own after its TTL.
func (e *Engine) newLease(ctx context.Context, ttlSeconds int64) (leaseID int64, ttl int64, err error) {
	lease, err := e.store.Grant(store.WithRetry(ctx), ttlSeconds)
	if err != nil {
		return 0, 0, fmt.Errorf("hound-dog/registration: grant: %w", err)
	}

	ok, err := e.store.Put(ctx, e.nodeKey, e.uri, lease.ID)
	if err != nil || !ok {
		e.log.Errorw("put failed after grant", "node_key", e.nodeKey, "lease", lease.ID, "err", err)
		if _, revokeErr := e.store.Revoke(ctx, lease.ID); revokeErr != nil {
			e.log.Warnw("best-effort revoke after failed put also failed", "lease", lease.ID, "err", revokeErr)
		}
		if err == nil {
			err = fmt.Errorf("hound-dog/registration: %w: put reported failure", hounddog.ErrRegistrationFailed)
		} else {
			err = fmt.Errorf("hound-dog/registration: %w: %v", hounddog.ErrRegistrationFailed, err)
		}
		return 0, 0, err
	}

	return lease.ID, lease.TTL, nil
}

// emitLocked posts id on the registration channel without blocking; if no
// consumer is ready and the buffer is already holding an unread id, the
// stale one is dropped in favor of the freshest (spec §9's permitted
// refinement of the "drop if unheard" rendezvous semantics). Must be called
// with e.mu held.
func (e *Engine) emitLocked(id int64) {
	if !e.signalOpen {
		// The channel was closed by a concurrent Unregister; swallow the
		// race per spec §9 rather than panicking on a closed-channel send.
		return
	}
	select {
	case e.signal <- id:
	default:
		// Buffer already holds an unread id: drop it in favor of the
		// freshest one, preserving I5's adoption order for whichever id a
		// consumer eventually reads.
		select {
		case <-e.signal:
		default:
		}
		select {
		case e.signal <- id:
		default:
		}
	}
}

// keepAlive is the renewal loop of spec §4.1.1. It runs until Unregister
// clears the lease id, exiting only that way.
func (e *Engine) keepAlive(ctx context.Context, ttl int64) {
	defer close(e.keepDone)

	retryInterval := time.Duration(ttl) * time.Second / 3
	if retryInterval <= 0 {
		retryInterval = time.Second
	}
	ttlDur := time.Duration(ttl) * time.Second

	timer := time.NewTimer(retryInterval)
	defer timer.Stop()

	for {
		start := time.Now()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		e.mu.Lock()
		leaseID := e.leaseID
		stillRegistered := e.registered
		e.mu.Unlock()
		if !stillRegistered {
			return
		}

		elapsed := time.Since(start)
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.log.Errorw("panic in keep-alive tick", "recover", r)
				}
			}()

			if elapsed > ttlDur {
				e.log.Warnw("keep-alive tick fired late, presuming lease expired", "elapsed", elapsed, "ttl", ttlDur, "lease", leaseID)
				newID, newTTL, err := e.newLease(ctx, ttl)
				if err != nil {
					e.log.Errorw("re-grant after presumed expiry failed", "err", err)
					return
				}
				ttl = newTTL
				ttlDur = time.Duration(ttl) * time.Second
				e.adopt(newID)
				return
			}

			newTTL, ok, err := e.store.KeepAlive(store.WithRetry(ctx), leaseID)
			if err != nil {
				e.log.Errorw("keep-alive call failed, will retry next tick", "lease", leaseID, "err", err)
				return
			}
			if !ok {
				e.log.Warnw("lease lost, re-registering", "lease", leaseID)
				newID, newTTL2, err := e.newLease(ctx, ttl)
				if err != nil {
					e.log.Errorw("re-grant after lease loss failed", "err", err)
					return
				}
				ttl = newTTL2
				ttlDur = time.Duration(ttl) * time.Second
				e.adopt(newID)
				return
			}

			e.mu.Lock()
			stillCurrent := e.registered && e.leaseID == leaseID
			e.mu.Unlock()
			if stillCurrent {
				ttl = newTTL
				ttlDur = time.Duration(ttl) * time.Second
			}
		}()

		retryInterval = ttlDur / 3
		if retryInterval <= 0 {
			retryInterval = time.Second
		}
		timer.Reset(retryInterval)
	}
}

// adopt records a newly (re-)granted lease id and emits it, preserving the
// order lease ids are adopted (spec I5, P3).
func (e *Engine) adopt(id int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.registered {
		return
	}
	e.leaseID = id
	e.emitLocked(id)
}

// Unregister revokes the held lease, stops the keep-alive loop, and closes
// the registration channel. Calling it when nothing is registered is a
// no-op (spec P5). On Revoke failure the error is raised and local state is
// left as Registered, so a retry is meaningful (spec §7 open question,
// resolved: "still registered").
func (e *Engine) Unregister(ctx context.Context) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	if !e.registered {
		e.mu.Unlock()
		return nil
	}
	leaseID := e.leaseID
	stop := e.stopKeep
	done := e.keepDone
	e.mu.Unlock()

	ok, err := e.retryingRevoke(ctx, leaseID)
	if err != nil {
		e.log.Errorw("unregister failed", "node_key", e.nodeKey, "lease", leaseID, "err", err)
		return fmt.Errorf("hound-dog/registration: %w: %v", hounddog.ErrUnregisterFailed, err)
	}
	if !ok {
		err := fmt.Errorf("hound-dog/registration: %w: revoke reported failure", hounddog.ErrUnregisterFailed)
		e.log.Errorw("unregister failed", "node_key", e.nodeKey, "lease", leaseID)
		return err
	}

	if stop != nil {
		stop()
	}
	if done != nil {
		<-done
	}

	e.mu.Lock()
	e.registered = false
	e.leaseID = 0
	close(e.signal)
	e.signalOpen = false
	e.mu.Unlock()

	e.Unmonitor()
	return nil
}

func (e *Engine) retryingRevoke(ctx context.Context, leaseID int64) (bool, error) {
	return e.store.Revoke(store.WithRetry(ctx), leaseID)
}

// Monitor begins watching this binding's own service prefix, delivering
// parsed events to cb until Unmonitor is called. Calling Monitor again
// replaces the previous watch; the old one is stopped first (spec §4.4).
func (e *Engine) Monitor(ctx context.Context, cb func(watch.Event)) error {
	e.watchMu.Lock()
	defer e.watchMu.Unlock()

	if e.watchHandle != nil {
		e.watchHandle.Stop()
		e.watchHandle = nil
	}

	h, err := watch.Watch(ctx, e.store, e.cfg, e.service, cb, e.log)
	if err != nil {
		return fmt.Errorf("hound-dog/registration: monitor %s: %w", e.service, err)
	}
	e.watchHandle = h
	return nil
}

// Unmonitor stops the current watch, if any, and forgets it.
func (e *Engine) Unmonitor() {
	e.watchMu.Lock()
	defer e.watchMu.Unlock()
	if e.watchHandle != nil {
		e.watchHandle.Stop()
		e.watchHandle = nil
	}
}
