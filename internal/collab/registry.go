package collab

import (
	"context"
	"errors"
	"sync"
	"time"

	"collab-sync/internal/logger"
	"collab-sync/internal/metrics"

	"golang.org/x/sync/singleflight"
)

// RegistryOptions configures instance loading and idle eviction.
type RegistryOptions struct {
	Instance InstanceOptions
	// IdleTimeout is how long an instance without users stays loaded.
	IdleTimeout time.Duration
	// SweepInterval is how often idle instances are looked for.
	SweepInterval time.Duration
	// Retain, when set, keeps a document loaded while it returns true, even if
	// the instance is idle and has no users.
	Retain func(documentID string) bool
}

// Registry maps document ids to live instances. At most one instance exists
// per document: concurrent first accesses share a single load.
type Registry struct {
	loader Loader
	opts   RegistryOptions

	mu        sync.Mutex
	instances map[string]*Instance
	loads     singleflight.Group

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewRegistry creates an empty registry that loads documents with loader.
func NewRegistry(loader Loader, opts RegistryOptions) *Registry {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 10 * time.Minute
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	return &Registry{
		loader:    loader,
		opts:      opts,
		instances: make(map[string]*Instance),
		done:      make(chan struct{}),
	}
}

// Start launches the idle eviction sweep.
func (r *Registry) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(r.opts.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-r.done:
				return
			case now := <-ticker.C:
				r.Sweep(now)
			}
		}
	}()
}

// Shutdown stops the sweep. Loaded instances are left as they are.
func (r *Registry) Shutdown() {
	r.stopOnce.Do(func() {
		close(r.done)
	})
	r.wg.Wait()
}

// GetInstance returns the live instance for documentID, loading it if needed.
func (r *Registry) GetInstance(ctx context.Context, documentID string) (*Instance, error) {
	if inst, ok := r.Lookup(documentID); ok {
		return inst, nil
	}

	v, err, shared := r.loads.Do(documentID, func() (interface{}, error) {
		if inst, ok := r.Lookup(documentID); ok {
			return inst, nil
		}

		// The load is shared by every waiting caller; one of them going away
		// must not cancel it for the others.
		inst, err := NewInstance(context.WithoutCancel(ctx), documentID, r.loader, r.opts.Instance)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.instances[documentID] = inst
		count := len(r.instances)
		r.mu.Unlock()

		metrics.LiveInstances.Set(float64(count))
		logger.L().Info("document instance loaded",
			"document_id", documentID,
			"version", inst.Version(),
			"live_instances", count,
		)
		return inst, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		logger.L().Debug("joined in-flight document load", "document_id", documentID)
	}
	return v.(*Instance), nil
}

// Join returns the instance for documentID with peer attached as a user.
// An instance evicted between lookup and attach is reloaded.
func (r *Registry) Join(ctx context.Context, documentID string, peer Peer) (*Instance, error) {
	for {
		inst, err := r.GetInstance(ctx, documentID)
		if err != nil {
			return nil, err
		}

		err = inst.AddUser(peer.ClientID(), peer)
		if err == nil {
			return inst, nil
		}
		if !errors.Is(err, ErrInstanceClosed) {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

// Lookup returns the instance if it is currently loaded.
func (r *Registry) Lookup(documentID string) (*Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instances[documentID]
	return inst, ok
}

// Len is the number of loaded instances.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}

// Sweep evicts instances with no users that have been idle past the timeout
// and returns their ids. Instances with users, or retained by opts.Retain, are
// never evicted.
func (r *Registry) Sweep(now time.Time) []string {
	r.mu.Lock()
	var evicted []string
	for id, inst := range r.instances {
		if r.opts.Retain != nil && r.opts.Retain(id) {
			logger.L().Debug("keeping retained document instance",
				"document_id", id,
				"last_active", inst.LastActive(),
			)
			continue
		}
		if inst.tryClose(now, r.opts.IdleTimeout) {
			delete(r.instances, id)
			evicted = append(evicted, id)
		}
	}
	count := len(r.instances)
	r.mu.Unlock()

	if len(evicted) > 0 {
		metrics.LiveInstances.Set(float64(count))
		logger.L().Info("evicted idle document instances",
			"count", len(evicted),
			"live_instances", count,
		)
	}
	return evicted
}
