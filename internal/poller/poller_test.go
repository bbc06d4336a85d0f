package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospector/internal/model"
)

func TestObserve_GrowsAndResets(t *testing.T) {
	t.Parallel()

	p := New()
	assert.Equal(t, time.Second, p.Observe("pending"))
	assert.Equal(t, 1500*time.Millisecond, p.Observe("pending"))
	assert.Equal(t, 2250*time.Millisecond, p.Observe("pending"))
	for range 10 {
		p.Observe("pending")
	}
	assert.Equal(t, 10*time.Second, p.Interval())

	assert.Equal(t, time.Second, p.Observe("researching"))
}

func TestObserve_StatePerPoller(t *testing.T) {
	t.Parallel()

	a, b := New(), New()
	a.Observe("x")
	a.Observe("x")
	assert.Equal(t, time.Second, b.Observe("x"))
	assert.Equal(t, 1500*time.Millisecond, a.Interval())
}

func fast(opts ...Option) *Poller {
	return New(append([]Option{WithIntervals(time.Millisecond, 5*time.Millisecond)}, opts...)...)
}

func TestPoll_StopsOnTerminal(t *testing.T) {
	t.Parallel()

	statuses := []model.RequestStatus{
		model.RequestStatusPending,
		model.RequestStatusResearching,
		model.RequestStatusResearching,
		model.RequestStatusCompleted,
	}
	var (
		calls  int
		events []string
	)
	p := fast(WithProgress(func(e Event) { events = append(events, e.Message) }))
	snap, err := p.Poll(context.Background(), func(context.Context) (Snapshot, error) {
		s := statuses[min(calls, len(statuses)-1)]
		calls++
		return RequestSnapshot(&model.ResearchRequest{Status: s}), nil
	})
	require.NoError(t, err)
	assert.True(t, snap.Terminal)
	assert.Equal(t, "completed", snap.Status)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []string{"request pending", "request researching", "request completed"}, events)
}

func TestPoll_DedupesJobEvents(t *testing.T) {
	t.Parallel()

	rounds := [][]model.ResearchJob{
		{{ID: "j1", ProspectKey: "a_texas", Status: model.JobStatusQueued}, {ID: "j2", ProspectKey: "b_texas", Status: model.JobStatusQueued}},
		{{ID: "j1", ProspectKey: "a_texas", Status: model.JobStatusDone}, {ID: "j2", ProspectKey: "b_texas", Status: model.JobStatusQueued}},
		{{ID: "j1", ProspectKey: "a_texas", Status: model.JobStatusDone}, {ID: "j2", ProspectKey: "b_texas", Status: model.JobStatusFailed}},
	}
	var (
		calls  int
		events []string
	)
	p := fast(WithProgress(func(e Event) { events = append(events, e.ID) }))
	snap, err := p.Poll(context.Background(), func(context.Context) (Snapshot, error) {
		r := rounds[calls]
		calls++
		return JobsSnapshot(r), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "1/2 done, 1 failed", snap.Status)
	assert.Equal(t, []string{"j1:queued", "j2:queued", "j1:done", "j2:failed"}, events)
}

func TestPoll_Deadline(t *testing.T) {
	t.Parallel()

	p := fast(WithTimeout(30 * time.Millisecond))
	snap, err := p.Poll(context.Background(), func(context.Context) (Snapshot, error) {
		return Snapshot{Status: "researching"}, nil
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, "researching", snap.Status)
}

func TestPoll_Cancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := fast().Poll(ctx, func(context.Context) (Snapshot, error) {
		return Snapshot{}, nil
	})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestPoll_ConsecutiveErrors(t *testing.T) {
	t.Parallel()

	var calls int
	_, err := fast(WithMaxErrors(3)).Poll(context.Background(), func(context.Context) (Snapshot, error) {
		calls++
		return Snapshot{}, errors.New("connection refused")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 consecutive fetch failures")
	assert.Equal(t, 3, calls)
}

func TestJobsSnapshot_Empty(t *testing.T) {
	t.Parallel()

	snap := JobsSnapshot(nil)
	assert.True(t, snap.Terminal)
	assert.Equal(t, "0/0 done, 0 failed", snap.Status)
}
