package collab

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"collab-sync/internal/docmodel"
	"collab-sync/internal/docmodel/richtext"
	"collab-sync/internal/repository"
)

var testSchema = richtext.NewSchema()

func insert(pos int, text string) docmodel.Step {
	return &richtext.ReplaceStep{From: pos, To: pos, Slice: []richtext.TextRun{richtext.Text(text)}}
}

func insertJSON(pos int, text string) json.RawMessage {
	raw, err := insert(pos, text).ToJSON()
	if err != nil {
		panic(err)
	}
	return raw
}

func textOf(node docmodel.Node) string {
	return node.(*richtext.Doc).String()
}

func emptyLoader(ctx context.Context, documentID string) (docmodel.Node, int, error) {
	return testSchema.EmptyDoc(), 0, nil
}

// fakePeer records every message it is sent.
type fakePeer struct {
	id      string
	failErr error

	mu       sync.Mutex
	messages [][]byte

	alive      atomic.Bool
	pings      atomic.Int32
	terminated atomic.Bool
}

func newFakePeer(id string) *fakePeer {
	p := &fakePeer{id: id}
	p.alive.Store(true)
	return p
}

func (p *fakePeer) ClientID() string { return p.id }

func (p *fakePeer) Send(message []byte) error {
	if p.failErr != nil {
		return p.failErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, message)
	return nil
}

func (p *fakePeer) IsAlive() bool { return p.alive.Load() }
func (p *fakePeer) MarkNotAlive() { p.alive.Store(false) }
func (p *fakePeer) Terminate() { p.terminated.Store(true) }
func (p *fakePeer) Ping() error { p.pings.Add(1); return nil }
func (p *fakePeer) pong() { p.alive.Store(true) }

func (p *fakePeer) received() []map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]map[string]interface{}, 0, len(p.messages))
	for _, m := range p.messages {
		var v map[string]interface{}
		if err := json.Unmarshal(m, &v); err == nil {
			out = append(out, v)
		}
	}
	return out
}

// countingStore wraps the memory store and records saves.
type countingStore struct {
	*repository.MemorySnapshotStore

	mu      sync.Mutex
	saves   []repository.Snapshot
	saveErr error
	loadErr error
	loads   atomic.Int32
}

func newCountingStore() *countingStore {
	return &countingStore{MemorySnapshotStore: repository.NewMemorySnapshotStore()}
}

func (s *countingStore) Load(ctx context.Context, documentID string) (*repository.Snapshot, error) {
	s.loads.Add(1)
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.MemorySnapshotStore.Load(ctx, documentID)
}

func (s *countingStore) Save(ctx context.Context, documentID string, snap repository.Snapshot) error {
	s.mu.Lock()
	s.saves = append(s.saves, snap)
	s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	return s.MemorySnapshotStore.Save(ctx, documentID, snap)
}

func (s *countingStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves)
}

func (s *countingStore) lastSave() repository.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves[len(s.saves)-1]
}

var errBoom = errors.New("boom")
