// Package watch implements the Watch & Event Parser (spec §4.4): it
// subscribes to a service prefix, translates raw store events into typed
// Event records, and delivers them to a caller-supplied handler.
package watch

import (
	"context"
	"strings"

	hounddog "github.com/aca-labs/hound-dog"
	"github.com/aca-labs/hound-dog/logging"
	"github.com/aca-labs/hound-dog/store"
)

// EventType mirrors store.EventType at the parsed-event level.
type EventType = store.EventType

const (
	Put    = store.EventPut
	Delete = store.EventDelete
)

// Event is a parsed store watch notification (spec §3 "Event"). Value is
// nil on Delete. Namespace and Service are extracted by splitting Key on
// "/"; the parser assumes the namespace is exactly one path segment (spec
// §9 open question).
type Event struct {
	Key       string
	Value     *string
	Type      EventType
	Namespace string
	Service   string
}

func parse(raw store.RawEvent) Event {
	ev := Event{Key: raw.Key, Type: raw.Type}
	if raw.Type == store.EventPut {
		v := raw.Value
		ev.Value = &v
	}
	tokens := strings.Split(raw.Key, "/")
	if len(tokens) > 0 {
		ev.Namespace = tokens[0]
	}
	if len(tokens) > 1 {
		ev.Service = tokens[1]
	}
	return ev
}

// Handle represents one active watch subscription.
type Handle struct {
	cancel func()
	done   chan struct{}
	errc   chan error
}

// Stop cancels the subscription and waits for its delivery goroutine to
// exit.
func (h *Handle) Stop() {
	h.cancel()
	<-h.done
}

// Err returns a channel that receives the watch's terminal error (nil on a
// clean Stop) exactly once, letting a caller detect a disconnect and decide
// to call Watch/Monitor again. Spec §4.4/§7: watches are not auto-restarted
// by this layer.
func (h *Handle) Err() <-chan error {
	return h.errc
}

// Watch issues WatchPrefix("<namespace>/<service>") against st and delivers
// each translated Event to handler synchronously, in the store's emission
// order. A handler panic is caught and logged; it does not tear down the
// watch (spec §4.4).
func Watch(ctx context.Context, st store.Store, cfg hounddog.Config, service string, handler func(Event), log logging.Logger) (*Handle, error) {
	if log == nil {
		log = logging.NoOp{}
	}
	prefix := cfg.ServicePrefix(service)
	// Trim the trailing "/" the query API uses for range scans, since a
	// watch prefix of "<ns>/<service>" also matches "<ns>/<service>x", which
	// mirrors the wider prefix spec §4.4 specifies for Watch (as distinct
	// from §4.3's Nodes, which needs the delimiter to avoid over-matching).
	prefix = strings.TrimSuffix(prefix, "/")

	events, storeErrc, cancel, err := st.WatchPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}

	h := &Handle{cancel: cancel, done: make(chan struct{}), errc: make(chan error, 1)}

	go func() {
		defer close(h.done)
		for raw := range events {
			ev := parse(raw)
			deliver(handler, ev, log)
		}
		select {
		case werr := <-storeErrc:
			h.errc <- werr
		default:
			h.errc <- nil
		}
	}()

	return h, nil
}

func deliver(handler func(Event), ev Event, log logging.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorw("watch handler panicked", "recover", r, "key", ev.Key)
		}
	}()
	handler(ev)
}
