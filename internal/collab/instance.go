package collab

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"collab-sync/internal/docmodel"
)

/*
LEARNING: ONE AUTHORITY PER DOCUMENT

An Instance is the single source of truth for a document while it is loaded.
Every edit goes through AddEvents, which holds the instance mutex for the whole
version-check → apply → commit sequence:

  client A: steps@v5 ─┐
                      ├─► mutex ─► A accepted (v5→v7), B sees v7 ≠ v5 → rejected
  client B: steps@v5 ─┘

The rejected client pulls the missing steps, rebases locally and resubmits.
Different documents have different mutexes and never wait on each other.
*/

// DefaultMaxSteps is the number of recent steps kept for catch-up.
const DefaultMaxSteps = 500

// ErrInstanceClosed is returned by an instance that was evicted.
var ErrInstanceClosed = errors.New("document instance closed")

// Loader produces the initial document and version for an instance.
type Loader func(ctx context.Context, documentID string) (docmodel.Node, int, error)

// Accepted describes a committed batch. ClientIDs has one entry per step.
type Accepted struct {
	DocumentID   string
	StartVersion int
	Steps        []docmodel.Step
	ClientIDs    []string
}

// Events is the answer to GetEvents. Version is the instance version at the
// time of the call.
type Events struct {
	Steps     []docmodel.Step
	ClientIDs []string
	Version   int
}

// InstanceOptions configures a new Instance.
type InstanceOptions struct {
	// MaxSteps caps the retained step log. Defaults to DefaultMaxSteps.
	MaxSteps int
	// OnAccept runs under the instance lock after each accepted batch, so
	// invocations are ordered exactly like the versions. It must not block.
	OnAccept func(Accepted)
	Now      func() time.Time
}

// Instance is the live, authoritative state of one document.
type Instance struct {
	documentID string

	mu            sync.Mutex
	doc           docmodel.Node
	version       int
	steps         []docmodel.Step
	stepClientIDs []string
	users         map[string]Peer
	lastActive    time.Time
	closed        bool

	maxSteps int
	onAccept func(Accepted)
	now      func() time.Time
}

// NewInstance loads a document and wraps it in an Instance.
func NewInstance(ctx context.Context, documentID string, loader Loader, opts InstanceOptions) (*Instance, error) {
	doc, version, err := loader(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", documentID, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("failed to load document %s: loader returned no document", documentID)
	}

	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Instance{
		documentID: documentID,
		doc:        doc,
		version:    version,
		users:      make(map[string]Peer),
		lastActive: opts.Now(),
		maxSteps:   opts.MaxSteps,
		onAccept:   opts.OnAccept,
		now:        opts.Now,
	}, nil
}

// DocumentID is the id of the document the instance holds.
func (i *Instance) DocumentID() string {
	return i.documentID
}

// AddEvents applies a batch submitted against expectedVersion.
//
// It returns (false, nil) when expectedVersion is stale, and (false, err) when
// a step cannot be applied. In both cases nothing changes. On success every
// step is committed and the version advances by len(steps).
func (i *Instance) AddEvents(expectedVersion int, steps []docmodel.Step, clientID string) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return false, ErrInstanceClosed
	}
	if expectedVersion != i.version {
		return false, nil
	}
	if len(steps) == 0 {
		return true, nil
	}

	doc := i.doc
	for n, step := range steps {
		next, err := step.Apply(doc)
		if err != nil {
			return false, fmt.Errorf("step %d of %d: %w", n+1, len(steps), err)
		}
		doc = next
	}

	startVersion := i.version
	clientIDs := make([]string, len(steps))
	for n := range clientIDs {
		clientIDs[n] = clientID
	}

	i.doc = doc
	i.steps = append(i.steps, steps...)
	i.stepClientIDs = append(i.stepClientIDs, clientIDs...)
	i.version += len(steps)
	i.lastActive = i.now()

	if over := len(i.steps) - i.maxSteps; over > 0 {
		i.steps = append([]docmodel.Step(nil), i.steps[over:]...)
		i.stepClientIDs = append([]string(nil), i.stepClientIDs[over:]...)
	}

	if i.onAccept != nil {
		i.onAccept(Accepted{
			DocumentID:   i.documentID,
			StartVersion: startVersion,
			Steps:        append([]docmodel.Step(nil), steps...),
			ClientIDs:    clientIDs,
		})
	}

	return true, nil
}

// GetEvents returns every step after version. The second result is false when
// that version is no longer (or not yet) covered by the retained log.
func (i *Instance) GetEvents(version int) (*Events, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	base := i.version - len(i.steps)
	if version < base || version > i.version {
		return nil, false
	}

	start := version - base
	return &Events{
		Steps:     append([]docmodel.Step(nil), i.steps[start:]...),
		ClientIDs: append([]string(nil), i.stepClientIDs[start:]...),
		Version:   i.version,
	}, true
}

// AddUser attaches a live connection.
func (i *Instance) AddUser(clientID string, peer Peer) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return ErrInstanceClosed
	}
	i.users[clientID] = peer
	i.lastActive = i.now()
	return nil
}

// RemoveUser detaches a connection and returns the number of users left.
func (i *Instance) RemoveUser(clientID string) int {
	i.mu.Lock()
	defer i.mu.Unlock()

	delete(i.users, clientID)
	i.lastActive = i.now()
	return len(i.users)
}

// Snapshot returns the current document and version.
func (i *Instance) Snapshot() (docmodel.Node, int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.doc, i.version
}

// Version is the number of steps applied to the document so far.
func (i *Instance) Version() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.version
}

// OldestVersion is the oldest version GetEvents can still answer.
func (i *Instance) OldestVersion() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.version - len(i.steps)
}

// UserCount is the number of attached connections.
func (i *Instance) UserCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.users)
}

// User returns the connection attached under clientID.
func (i *Instance) User(clientID string) (Peer, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	p, ok := i.users[clientID]
	return p, ok
}

// LastActive is the time of the last edit or user change.
func (i *Instance) LastActive() time.Time {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lastActive
}

// Closed reports whether the instance has been evicted.
func (i *Instance) Closed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.closed
}

// tryClose marks the instance closed if it has no users and has been idle for
// at least idle. Once closed it refuses users and edits.
func (i *Instance) tryClose(now time.Time, idle time.Duration) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return true
	}
	if len(i.users) > 0 || now.Sub(i.lastActive) < idle {
		return false
	}
	i.closed = true
	return true
}
