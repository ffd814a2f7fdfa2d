package watch

import (
	"context"
	"testing"
	"time"

	hounddog "github.com/aca-labs/hound-dog"
	"github.com/aca-labs/hound-dog/store"
	"github.com/aca-labs/hound-dog/store/storetest"
)

// S6: a PUT on the watched prefix delivers a parsed Event with the value
// present; a subsequent DELETE on the same key delivers type DELETE with
// value absent.
func TestWatchDeliversPutThenDelete(t *testing.T) {
	fake := storetest.New()
	cfg := hounddog.Config{Namespace: "svc"}

	events := make(chan Event, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h, err := Watch(ctx, fake, cfg, "api", func(ev Event) { events <- ev }, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Stop()

	if _, err := fake.Put(context.Background(), "svc/api/n3", "http://c:80", 0); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-events:
		if ev.Key != "svc/api/n3" || ev.Type != Put || ev.Value == nil || *ev.Value != "http://c:80" {
			t.Fatalf("unexpected put event: %+v", ev)
		}
		if ev.Namespace != "svc" || ev.Service != "api" {
			t.Fatalf("unexpected namespace/service: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for put event")
	}

	if _, err := fake.DeletePrefix(context.Background(), "svc/api/n3"); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-events:
		if ev.Key != "svc/api/n3" || ev.Type != Delete || ev.Value != nil {
			t.Fatalf("unexpected delete event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delete event")
	}
}

// Handler panics must not tear down the watch (spec §4.4).
func TestWatchSurvivesHandlerPanic(t *testing.T) {
	fake := storetest.New()
	cfg := hounddog.Config{Namespace: "svc"}

	var calls int
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{}, 2)
	h, err := Watch(ctx, fake, cfg, "api", func(ev Event) {
		calls++
		done <- struct{}{}
		if ev.Key == "svc/api/boom" {
			panic("handler exploded")
		}
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Stop()

	if _, err := fake.Put(context.Background(), "svc/api/boom", "http://x:1", 0); err != nil {
		t.Fatal(err)
	}
	<-done

	if _, err := fake.Put(context.Background(), "svc/api/ok", "http://y:2", 0); err != nil {
		t.Fatal(err)
	}
	<-done

	if calls != 2 {
		t.Fatalf("expect both events delivered despite panic, got %d calls", calls)
	}
}

func TestParseAssumesSingleSegmentNamespace(t *testing.T) {
	ev := parse(store.RawEvent{Type: store.EventPut, Key: "svc/api/n1", Value: "http://a:80"})
	if ev.Namespace != "svc" || ev.Service != "api" {
		t.Fatalf("unexpected parse: %+v", ev)
	}
}
