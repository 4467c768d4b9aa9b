package ipc

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/continuum-os/continuum/internal/constants"
	"github.com/continuum-os/continuum/internal/interfaces"
	"github.com/continuum-os/continuum/internal/kerr"
)

// Registry maps conduit names to live Conduits (spec.md §4.D "create",
// "open", "close").
type Registry struct {
	mu        sync.RWMutex
	conduits  map[string]*Conduit
	obs       interfaces.Observer
	nowSource func() time.Time
}

// NewRegistry builds an empty conduit registry. Its nowSource field is
// left nil, so message timestamps come from time.Now; code in this
// package can set the field for deterministic timestamps.
func NewRegistry(obs interfaces.Observer) *Registry {
	return &Registry{conduits: make(map[string]*Conduit), obs: obs}
}

func (r *Registry) now() time.Time {
	if r.nowSource != nil {
		return r.nowSource()
	}
	return time.Now()
}

// Create registers a new conduit (spec.md "create(name, capacity) ->
// Conduit with capacity >= max_message_size. Fails with Exists if a
// conduit with the name already lives.").
func (r *Registry) Create(name string, capacity int) (*Conduit, error) {
	if capacity < constants.MessageHeaderSize {
		return nil, kerr.NewConduit("ipc.create", name, kerr.InvalidArgument, "capacity below header size")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conduits[name]; ok {
		return nil, kerr.NewConduit("ipc.create", name, kerr.Exists, "conduit already exists")
	}
	c := newConduit(name, capacity, r.obs)
	r.conduits[name] = c
	return c, nil
}

// Open increments a conduit's refcount (spec.md "open(name) -> Conduit.
// Increments refcount. Fails with NotFound or Closed.").
func (r *Registry) Open(name string) (*Conduit, error) {
	r.mu.RLock()
	c, ok := r.conduits[name]
	r.mu.RUnlock()
	if !ok {
		return nil, kerr.NewConduit("ipc.open", name, kerr.NotFound, "no such conduit")
	}
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state == Closed {
		return nil, kerr.NewConduit("ipc.open", name, kerr.NotFound, "conduit is closed")
	}
	c.retain()
	return c, nil
}

// Close decrements refcount; when it reaches zero the conduit is
// destroyed and removed from the registry (spec.md "close(c)").
func (r *Registry) Close(c *Conduit) {
	if !c.release() {
		return
	}
	c.beginClosing()
	c.finalize()
	r.mu.Lock()
	delete(r.conduits, c.Name)
	r.mu.Unlock()
}

// BroadcastResult reports per-destination success counts (spec.md
// "broadcast... the operation reports per-destination success counts").
type BroadcastResult struct {
	Matched    int
	Delivered  int
	Failed     int
}

// Broadcast sends payload to every live conduit whose name matches the
// shell-style wildcard pattern, using NonBlocking send semantics (spec.md
// "broadcast(pattern, bytes, flags)").
func (r *Registry) Broadcast(ctx context.Context, sender uint64, pattern string, payload []byte) BroadcastResult {
	r.mu.RLock()
	targets := make([]*Conduit, 0, len(r.conduits))
	for name, c := range r.conduits {
		if ok, _ := filepath.Match(pattern, name); ok {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	res := BroadcastResult{Matched: len(targets)}
	for _, c := range targets {
		if err := c.Send(ctx, sender, payload, NonBlocking, r.now()); err != nil {
			res.Failed++
		} else {
			res.Delivered++
		}
	}
	return res
}

// Lookup returns the live conduit with the given name without affecting
// refcount. Select does not use it: its cases carry *Conduit values.
func (r *Registry) Lookup(name string) (*Conduit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conduits[name]
	return c, ok
}
