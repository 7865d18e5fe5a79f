package queue

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dealtimer/escrow-engine/core"
)

// Registry holds one Store per named queue, resolved once at boot and
// shared by the scheduling engine, processors, and the worker runtime.
type Registry struct {
	mu     sync.RWMutex
	stores map[string]Store
}

func NewRegistry() *Registry {
	return &Registry{stores: make(map[string]Store)}
}

func (r *Registry) Register(name string, store Store) error {
	if store == nil {
		return fmt.Errorf("queue: store is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("queue: queue name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.stores[name]; exists {
		return fmt.Errorf("queue: queue already registered: %s", name)
	}
	r.stores[name] = store
	return nil
}

func (r *Registry) Get(name string) (Store, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	store, ok := r.stores[name]
	return store, ok
}

// Enqueue resolves the named queue and enqueues msg on it. Callers that
// only know a queue by name (the scheduling engine, processors) use this
// instead of holding a Store reference directly.
func (r *Registry) Enqueue(ctx context.Context, queueName string, msg *core.JobExecutionMessage, delay time.Duration) error {
	store, ok := r.Get(queueName)
	if !ok {
		return fmt.Errorf("queue: unknown queue %q", queueName)
	}
	return store.Enqueue(ctx, msg, delay)
}

// CancelByID resolves the named queue and cancels jobID on it. Idempotent;
// an unknown queue is treated as "nothing to cancel."
func (r *Registry) CancelByID(ctx context.Context, queueName string, jobID string) error {
	store, ok := r.Get(queueName)
	if !ok {
		return nil
	}
	return store.CancelByID(ctx, queueName, jobID)
}

// Names returns the registered queue names in deterministic order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.stores))
	for name := range r.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CloseAll closes every registered store concurrently, collecting errors,
// matching the substrate contract that connection handles must be closed
// on exit without leaking on any single failure path.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.RLock()
	stores := make([]Store, 0, len(r.stores))
	for _, store := range r.stores {
		stores = append(stores, store)
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	errs := make([]error, len(stores))
	for i, store := range stores {
		wg.Add(1)
		go func(i int, store Store) {
			defer wg.Done()
			errs[i] = store.Close(ctx)
		}(i, store)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
