// Package query implements the Namespace Query API (spec §4.3): stateless
// helpers, keyed on the library-wide namespace, that list nodes, enumerate
// services, or clear the namespace.
package query

import (
	"context"
	"strings"

	hounddog "github.com/aca-labs/hound-dog"
	"github.com/aca-labs/hound-dog/store"
)

// Client reads the namespace through st. It holds no registration state and
// is safe to share across goroutines; spec §9 recommends giving it its own
// Store instance so reads don't contend with a busy renewal loop.
type Client struct {
	cfg   hounddog.Config
	store store.Store
}

// New builds a Query Client bound to cfg's namespace.
func New(cfg hounddog.Config, st store.Store) *Client {
	return &Client{cfg: cfg, store: st}
}

// Nodes lists every node registered under service. Order mirrors the
// store's range order (lexicographic by key for etcd); sort the result if
// another order is required. KVs with an empty value are dropped (spec
// §4.3).
func (c *Client) Nodes(ctx context.Context, service string) ([]hounddog.Node, error) {
	prefix := c.cfg.ServicePrefix(service)
	kvs, err := c.store.RangePrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}

	nodes := make([]hounddog.Node, 0, len(kvs))
	for _, kv := range kvs {
		if kv.Value == "" {
			continue
		}
		uri, err := hounddog.ParseNodeURI(kv.Value)
		if err != nil {
			continue
		}
		nodes = append(nodes, hounddog.Node{Name: nameFromKey(kv.Key), URI: uri})
	}
	return nodes, nil
}

// Services enumerates the distinct services registered anywhere under the
// namespace, in first-seen order.
func (c *Client) Services(ctx context.Context) ([]string, error) {
	prefix := c.cfg.NamespacePrefix()
	kvs, err := c.store.RangePrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	services := make([]string, 0)
	for _, kv := range kvs {
		tokens := strings.Split(kv.Key, "/")
		if len(tokens) < 2 {
			continue
		}
		svc := tokens[1]
		if _, ok := seen[svc]; ok {
			continue
		}
		seen[svc] = struct{}{}
		services = append(services, svc)
	}
	return services, nil
}

// ClearNamespace deletes every key under the namespace and returns how many
// keys were removed.
func (c *Client) ClearNamespace(ctx context.Context) (int64, error) {
	return c.store.DeletePrefix(ctx, c.cfg.NamespacePrefix())
}

// nameFromKey returns the last "/"-delimited segment of key.
func nameFromKey(key string) string {
	idx := strings.LastIndex(key, "/")
	if idx < 0 {
		return key
	}
	return key[idx+1:]
}
