// Package poller implements the adaptive status polling loop clients use to
// follow discovery jobs and deep-research requests.
package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/model"
)

const (
	DefaultMinInterval = time.Second
	DefaultMaxInterval = 10 * time.Second
	DefaultFactor      = 1.5
	// DefaultMaxErrors is the number of consecutive fetch failures tolerated.
	DefaultMaxErrors = 5
)

// Event is one progress notification. Events with the same ID are surfaced
// once per Poller.
type Event struct {
	ID      string
	Message string
}

// Snapshot is one observation of the polled resource.
type Snapshot struct {
	Status   string
	Terminal bool
	Events   []Event
}

// FetchFunc reads the current state of the polled resource.
type FetchFunc func(ctx context.Context) (Snapshot, error)

// Option configures a Poller.
type Option func(*Poller)

// WithIntervals sets the starting and maximum poll interval.
func WithIntervals(minInterval, maxInterval time.Duration) Option {
	return func(p *Poller) {
		if minInterval > 0 {
			p.min = minInterval
		}
		if maxInterval >= p.min {
			p.max = maxInterval
		}
	}
}

// WithFactor sets the growth factor applied while the status is unchanged.
func WithFactor(f float64) Option {
	return func(p *Poller) {
		if f >= 1 {
			p.factor = f
		}
	}
}

// WithTimeout bounds the whole polling loop. Zero means no deadline.
func WithTimeout(d time.Duration) Option {
	return func(p *Poller) {
		p.timeout = d
	}
}

// WithProgress registers a callback for new progress events.
func WithProgress(fn func(Event)) Option {
	return func(p *Poller) {
		p.onEvent = fn
	}
}

// WithMaxErrors sets how many consecutive fetch failures end the loop.
func WithMaxErrors(n int) Option {
	return func(p *Poller) {
		if n > 0 {
			p.maxErrors = n
		}
	}
}

// Poller holds the state of one polling loop. It is not safe for
// concurrent use.
type Poller struct {
	min       time.Duration
	max       time.Duration
	factor    float64
	timeout   time.Duration
	maxErrors int
	onEvent   func(Event)

	last     string
	started  bool
	interval time.Duration
	seen     map[string]struct{}
}

// New creates a Poller.
func New(opts ...Option) *Poller {
	p := &Poller{
		min:       DefaultMinInterval,
		max:       DefaultMaxInterval,
		factor:    DefaultFactor,
		maxErrors: DefaultMaxErrors,
		seen:      make(map[string]struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	p.interval = p.min
	return p
}

// Interval returns the delay before the next fetch.
func (p *Poller) Interval() time.Duration { return p.interval }

// Observe records status and returns the next interval: the minimum after a
// change, otherwise the previous interval grown by the factor up to the max.
func (p *Poller) Observe(status string) time.Duration {
	if !p.started || status != p.last {
		p.started = true
		p.last = status
		p.interval = p.min
		return p.interval
	}
	next := time.Duration(float64(p.interval) * p.factor)
	if next > p.max {
		next = p.max
	}
	p.interval = next
	return p.interval
}

// Poll fetches until the snapshot is terminal, ctx ends or the deadline
// passes. The last snapshot observed is returned alongside any error.
func (p *Poller) Poll(ctx context.Context, fetch FetchFunc) (Snapshot, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	var (
		last     Snapshot
		failures int
	)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return last, eris.Wrap(ctx.Err(), "poller: stopped")
		case <-timer.C:
		}

		snap, err := fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return last, eris.Wrap(ctx.Err(), "poller: stopped")
			}
			failures++
			zap.L().Warn("poller: fetch failed", zap.Int("failures", failures), zap.Error(err))
			if failures >= p.maxErrors {
				return last, eris.Wrapf(err, "poller: %d consecutive fetch failures", failures)
			}
			timer.Reset(p.Observe(p.last))
			continue
		}
		failures = 0
		last = snap
		p.emit(snap.Events)
		if snap.Terminal {
			return snap, nil
		}
		timer.Reset(p.Observe(snap.Status))
	}
}

func (p *Poller) emit(events []Event) {
	for _, e := range events {
		if _, ok := p.seen[e.ID]; ok {
			continue
		}
		p.seen[e.ID] = struct{}{}
		if p.onEvent != nil {
			p.onEvent(e)
		}
	}
}

// RequestSnapshot describes a research request. A failed request carries
// its error in the event message.
func RequestSnapshot(req *model.ResearchRequest) Snapshot {
	msg := fmt.Sprintf("request %s", req.Status)
	if req.Status == model.RequestStatusFailed && req.Error != "" {
		msg += ": " + req.Error
	}
	return Snapshot{
		Status:   string(req.Status),
		Terminal: req.Status.Terminal(),
		Events:   []Event{{ID: "request:" + string(req.Status), Message: msg}},
	}
}

// JobsSnapshot describes the research jobs of a session. It is terminal
// when every job is done or failed.
func JobsSnapshot(jobs []model.ResearchJob) Snapshot {
	var done, failed int
	events := make([]Event, 0, len(jobs))
	for _, j := range jobs {
		switch j.Status {
		case model.JobStatusDone:
			done++
		case model.JobStatusFailed:
			failed++
		}
		events = append(events, Event{
			ID:      j.ID + ":" + string(j.Status),
			Message: fmt.Sprintf("%s %s", j.ProspectKey, j.Status),
		})
	}
	return Snapshot{
		Status:   fmt.Sprintf("%d/%d done, %d failed", done, len(jobs), failed),
		Terminal: done+failed == len(jobs),
		Events:   events,
	}
}
