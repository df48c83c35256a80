package collab

import (
	"context"
	"sync"
	"testing"
	"time"

	"collab-sync/internal/docmodel"
	"collab-sync/internal/docmodel/richtext"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestInstance(t *testing.T, opts InstanceOptions) *Instance {
	t.Helper()
	inst, err := NewInstance(context.Background(), "doc-1", emptyLoader, opts)
	require.NoError(t, err)
	return inst
}

func TestAddEventsAdvancesVersion(t *testing.T) {
	inst := newTestInstance(t, InstanceOptions{})

	ok, err := inst.AddEvents(0, []docmodel.Step{insert(0, "hello"), insert(5, " world")}, "a")
	require.NoError(t, err)
	require.True(t, ok)

	doc, version := inst.Snapshot()
	assert.Equal(t, 2, version)
	assert.Equal(t, "hello world", textOf(doc))
}

func TestAddEventsStaleVersion(t *testing.T) {
	inst := newTestInstance(t, InstanceOptions{})
	_, err := inst.AddEvents(0, []docmodel.Step{insert(0, "x")}, "a")
	require.NoError(t, err)

	ok, err := inst.AddEvents(0, []docmodel.Step{insert(0, "y")}, "b")
	require.NoError(t, err)
	assert.False(t, ok)

	doc, version := inst.Snapshot()
	assert.Equal(t, 1, version)
	assert.Equal(t, "x", textOf(doc))
}

func TestAddEventsAllOrNothing(t *testing.T) {
	var accepted []Accepted
	inst := newTestInstance(t, InstanceOptions{OnAccept: func(a Accepted) { accepted = append(accepted, a) }})

	_, err := inst.AddEvents(0, []docmodel.Step{insert(0, "abc")}, "a")
	require.NoError(t, err)

	bad := &richtext.ReplaceStep{From: 10, To: 12}
	ok, err := inst.AddEvents(1, []docmodel.Step{insert(3, "d"), bad}, "a")
	require.Error(t, err)
	assert.ErrorIs(t, err, richtext.ErrOutOfRange)
	assert.False(t, ok)

	doc, version := inst.Snapshot()
	assert.Equal(t, 1, version)
	assert.Equal(t, "abc", textOf(doc))
	assert.Len(t, accepted, 1, "failed batch must not fan out")

	events, ok := inst.GetEvents(0)
	require.True(t, ok)
	assert.Len(t, events.Steps, 1)
}

func TestAddEventsEmptyBatch(t *testing.T) {
	calls := 0
	inst := newTestInstance(t, InstanceOptions{OnAccept: func(Accepted) { calls++ }})

	ok, err := inst.AddEvents(0, nil, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, inst.Version())
	assert.Zero(t, calls)

	ok, err = inst.AddEvents(3, nil, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetEventsReplayReproducesDocument(t *testing.T) {
	inst := newTestInstance(t, InstanceOptions{})
	base, _ := inst.Snapshot()

	for i, text := range []string{"a", "b", "c", "d"} {
		ok, err := inst.AddEvents(i, []docmodel.Step{insert(i, text)}, "client")
		require.NoError(t, err)
		require.True(t, ok)
	}

	events, ok := inst.GetEvents(0)
	require.True(t, ok)
	assert.Equal(t, 4, events.Version)
	assert.Equal(t, []string{"client", "client", "client", "client"}, events.ClientIDs)

	doc := base
	for _, step := range events.Steps {
		var err error
		doc, err = step.Apply(doc)
		require.NoError(t, err)
	}
	current, _ := inst.Snapshot()
	assert.Equal(t, textOf(current), textOf(doc))

	events, ok = inst.GetEvents(4)
	require.True(t, ok)
	assert.Empty(t, events.Steps)

	_, ok = inst.GetEvents(5)
	assert.False(t, ok, "future versions are not available")
}

func TestStepLogRetention(t *testing.T) {
	inst := newTestInstance(t, InstanceOptions{MaxSteps: 3})

	for i := 0; i < 5; i++ {
		ok, err := inst.AddEvents(i, []docmodel.Step{insert(i, "x")}, "a")
		require.NoError(t, err)
		require.True(t, ok)
	}

	assert.Equal(t, 5, inst.Version())
	assert.Equal(t, 2, inst.OldestVersion())

	_, ok := inst.GetEvents(1)
	assert.False(t, ok)

	events, ok := inst.GetEvents(2)
	require.True(t, ok)
	assert.Len(t, events.Steps, 3)
}

func TestOnAcceptOrderMatchesVersions(t *testing.T) {
	var mu sync.Mutex
	var starts []int
	inst := newTestInstance(t, InstanceOptions{OnAccept: func(a Accepted) {
		mu.Lock()
		starts = append(starts, a.StartVersion)
		mu.Unlock()
	}})

	var wg sync.WaitGroup
	for c := 0; c < 8; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < 20; n++ {
				for {
					v := inst.Version()
					ok, err := inst.AddEvents(v, []docmodel.Step{insert(0, "z")}, "c")
					if err == nil && ok {
						break
					}
				}
			}
		}()
	}
	wg.Wait()

	require.Len(t, starts, 160)
	for i, s := range starts {
		assert.Equal(t, i, s)
	}
}

func TestRacingSubmissionsExactlyOneWins(t *testing.T) {
	inst := newTestInstance(t, InstanceOptions{})

	results := make(chan bool, 2)
	var wg sync.WaitGroup
	for _, text := range []string{"left", "right"} {
		wg.Add(1)
		go func(text string) {
			defer wg.Done()
			ok, err := inst.AddEvents(0, []docmodel.Step{insert(0, text)}, text)
			assert.NoError(t, err)
			results <- ok
		}(text)
	}
	wg.Wait()
	close(results)

	wins := 0
	for ok := range results {
		if ok {
			wins++
		}
	}
	assert.Equal(t, 1, wins)

	doc, version := inst.Snapshot()
	assert.Equal(t, 1, version)
	assert.Contains(t, []string{"left", "right"}, textOf(doc))

	ok, err := inst.AddEvents(1, []docmodel.Step{insert(0, "again ")}, "loser")
	require.NoError(t, err)
	assert.True(t, ok, "resubmission at the new version succeeds")
}

func TestClosedInstanceRefusesWork(t *testing.T) {
	now := time.Now()
	inst := newTestInstance(t, InstanceOptions{Now: func() time.Time { return now }})

	require.NoError(t, inst.AddUser("a", newFakePeer("a")))
	assert.False(t, inst.tryClose(now.Add(time.Hour), time.Minute), "instances with users stay open")

	inst.RemoveUser("a")
	assert.True(t, inst.tryClose(now.Add(time.Hour), time.Minute))
	assert.True(t, inst.Closed())

	_, err := inst.AddEvents(0, []docmodel.Step{insert(0, "x")}, "a")
	assert.ErrorIs(t, err, ErrInstanceClosed)
	assert.ErrorIs(t, inst.AddUser("b", newFakePeer("b")), ErrInstanceClosed)
}

func TestNewInstanceLoaderError(t *testing.T) {
	_, err := NewInstance(context.Background(), "doc", func(context.Context, string) (docmodel.Node, int, error) {
		return nil, 0, errBoom
	}, InstanceOptions{})
	assert.ErrorIs(t, err, errBoom)
}
