package store

import (
	"context"
	"testing"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// TestEtcdStoreRegisterAndDiscover exercises EtcdStore against a live etcd,
// the same way the teacher's registry/etcd_registry_test.go dials
// localhost:2379 directly. Skipped in short mode since it needs a real
// cluster.
func TestEtcdStoreRegisterAndDiscover(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping etcd integration test in short mode")
	}

	s := NewEtcdStore(clientv3.Config{
		Endpoints:   []string{"localhost:2379"},
		DialTimeout: 2 * time.Second,
	})
	defer s.Close()

	ctx := context.Background()

	lease, err := s.Grant(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}

	ok, err := s.Put(ctx, "hound-dog-test/api/n1", "http://127.0.0.1:8001", lease.ID)
	if err != nil || !ok {
		t.Fatalf("put failed: ok=%v err=%v", ok, err)
	}

	kvs, err := s.RangePrefix(ctx, "hound-dog-test/api/")
	if err != nil {
		t.Fatal(err)
	}
	if len(kvs) != 1 || kvs[0].Value != "http://127.0.0.1:8001" {
		t.Fatalf("unexpected range result: %+v", kvs)
	}

	ttl, kaOK, err := s.KeepAlive(ctx, lease.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !kaOK || ttl <= 0 {
		t.Fatalf("expect a positive renewed ttl, got ttl=%d ok=%v", ttl, kaOK)
	}

	revoked, err := s.Revoke(ctx, lease.ID)
	if err != nil || !revoked {
		t.Fatalf("revoke failed: ok=%v err=%v", revoked, err)
	}

	deleted, err := s.DeletePrefix(ctx, "hound-dog-test/")
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 0 {
		t.Fatalf("expect nothing left to delete after lease revoke removed the key, got %d", deleted)
	}
}
