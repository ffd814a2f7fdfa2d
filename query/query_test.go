package query

import (
	"context"
	"testing"

	hounddog "github.com/aca-labs/hound-dog"
	"github.com/aca-labs/hound-dog/store/storetest"
)

// S5: two nodes registered under one service; Services returns that one
// service and Nodes returns both, with their respective URIs.
func TestNodesAndServices(t *testing.T) {
	fake := storetest.New()
	cfg := hounddog.Config{Namespace: "svc"}
	c := New(cfg, fake)
	ctx := context.Background()

	if _, err := fake.Put(ctx, "svc/api/n1", "http://a:80", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := fake.Put(ctx, "svc/api/n2", "http://b:80", 0); err != nil {
		t.Fatal(err)
	}

	services, err := c.Services(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(services) != 1 || services[0] != "api" {
		t.Fatalf("expect [api], got %v", services)
	}

	nodes, err := c.Nodes(ctx, "api")
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 2 {
		t.Fatalf("expect 2 nodes, got %d", len(nodes))
	}
	byName := map[string]string{}
	for _, n := range nodes {
		byName[n.Name] = n.URI.String()
	}
	if byName["n1"] != "http://a:80" || byName["n2"] != "http://b:80" {
		t.Fatalf("unexpected nodes: %v", byName)
	}
}

// P4: Nodes drops empty-valued KVs and only returns well-formed URIs.
func TestNodesDropsEmptyAndMalformed(t *testing.T) {
	fake := storetest.New()
	cfg := hounddog.Config{Namespace: "svc"}
	c := New(cfg, fake)
	ctx := context.Background()

	if _, err := fake.Put(ctx, "svc/api/empty", "", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := fake.Put(ctx, "svc/api/bad", "not-a-uri", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := fake.Put(ctx, "svc/api/ok", "http://a:80", 0); err != nil {
		t.Fatal(err)
	}

	nodes, err := c.Nodes(ctx, "api")
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 1 || nodes[0].Name != "ok" {
		t.Fatalf("expect only the well-formed node, got %v", nodes)
	}
}

func TestServicesDedupsPreservingFirstSeenOrder(t *testing.T) {
	fake := storetest.New()
	cfg := hounddog.Config{Namespace: "svc"}
	c := New(cfg, fake)
	ctx := context.Background()

	for _, kv := range []struct{ k, v string }{
		{"svc/beta/n1", "http://a:80"},
		{"svc/alpha/n1", "http://b:80"},
		{"svc/beta/n2", "http://c:80"},
	} {
		if _, err := fake.Put(ctx, kv.k, kv.v, 0); err != nil {
			t.Fatal(err)
		}
	}

	services, err := c.Services(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// The fake orders RangePrefix results lexicographically by key, like
	// etcd; "svc/alpha/..." sorts before "svc/beta/...", so first-seen
	// order here is alpha then beta.
	if len(services) != 2 || services[0] != "alpha" || services[1] != "beta" {
		t.Fatalf("expect first-seen order [alpha beta], got %v", services)
	}
}

func TestClearNamespace(t *testing.T) {
	fake := storetest.New()
	cfg := hounddog.Config{Namespace: "svc"}
	c := New(cfg, fake)
	ctx := context.Background()

	if _, err := fake.Put(ctx, "svc/api/n1", "http://a:80", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := fake.Put(ctx, "svc/api/n2", "http://b:80", 0); err != nil {
		t.Fatal(err)
	}

	deleted, err := c.ClearNamespace(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 2 {
		t.Fatalf("expect 2 deleted, got %d", deleted)
	}

	nodes, err := c.Nodes(ctx, "api")
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 0 {
		t.Fatalf("expect empty namespace after clear, got %v", nodes)
	}
}
