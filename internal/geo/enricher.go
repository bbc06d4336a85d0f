package geo

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/prospector/internal/resilience"
	"github.com/sells-group/prospector/pkg/geocode"
)

// DefaultBatchSize caps the number of geocoder calls in flight at once.
const DefaultBatchSize = 3

// Jitter magnitudes in degrees for centroid fallback.
const (
	cityJitter   = 0.15
	stateLatJit  = 0.5
	stateLngJit  = 0.75
	geocodeUSSfx = "USA"
)

// Source records how a point was resolved.
type Source string

const (
	SourceGeocoder Source = "geocoder"
	SourceCentroid Source = "centroid"
)

// Target is one prospect to resolve. Key is the prospect key results are
// indexed by.
type Target struct {
	Key   string
	Name  string
	City  string
	State string
}

// Point is a resolved coordinate.
type Point struct {
	Lat    float64
	Lng    float64
	Source Source
}

// Option configures an Enricher.
type Option func(*Enricher)

// WithBatchSize overrides the number of concurrent lookups per batch.
func WithBatchSize(n int) Option {
	return func(e *Enricher) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithTimeout sets the per-call geocoder timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Enricher) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithBreaker puts a circuit breaker in front of the geocoder.
func WithBreaker(b *resilience.Breaker) Option {
	return func(e *Enricher) {
		e.breaker = b
	}
}

// WithJitter replaces the uniform [-1, 1] source used for centroid jitter.
func WithJitter(fn func() float64) Option {
	return func(e *Enricher) {
		e.unit = fn
	}
}

// Enricher resolves targets to coordinates in bounded batches.
type Enricher struct {
	geocoder  geocode.Client
	breaker   *resilience.Breaker
	batchSize int
	timeout   time.Duration
	unit      func() float64
}

// NewEnricher creates an Enricher. A nil geocoder means every target is
// resolved from the state centroid table.
func NewEnricher(gc geocode.Client, opts ...Option) *Enricher {
	e := &Enricher{
		geocoder:  gc,
		breaker:   resilience.NewBreaker(5, 30*time.Second),
		batchSize: DefaultBatchSize,
		timeout:   10 * time.Second,
		unit:      func() float64 { return rand.Float64()*2 - 1 },
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Enrich resolves every target. It never fails: targets the geocoder cannot
// resolve get a jittered state centroid. Batches run one after another;
// lookups within a batch run concurrently.
func (e *Enricher) Enrich(ctx context.Context, targets []Target) map[string]Point {
	out := make(map[string]Point, len(targets))
	if e.geocoder == nil {
		for _, t := range targets {
			out[t.Key] = e.fallback(t)
		}
		return out
	}

	var mu sync.Mutex
	for start := 0; start < len(targets); start += e.batchSize {
		end := min(start+e.batchSize, len(targets))

		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(e.batchSize)
		for _, t := range targets[start:end] {
			g.Go(func() error {
				p := e.resolve(gCtx, t)
				mu.Lock()
				out[t.Key] = p
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}

	var fallbacks int
	for _, p := range out {
		if p.Source == SourceCentroid {
			fallbacks++
		}
	}
	zap.L().Debug("geo: enrich complete",
		zap.Int("targets", len(targets)),
		zap.Int("centroid_fallbacks", fallbacks),
		zap.String("breaker", e.breaker.State().String()),
	)
	return out
}

func (e *Enricher) resolve(ctx context.Context, t Target) Point {
	for _, q := range Queries(t) {
		if ctx.Err() != nil {
			break
		}
		res, err := e.lookup(ctx, q)
		if errors.Is(err, resilience.ErrOpen) {
			break
		}
		if err != nil {
			zap.L().Debug("geo: geocode failed", zap.String("query", q), zap.Error(err))
			continue
		}
		if res != nil && res.Matched {
			return Point{Lat: res.Latitude, Lng: res.Longitude, Source: SourceGeocoder}
		}
	}
	return e.fallback(t)
}

func (e *Enricher) lookup(ctx context.Context, q string) (*geocode.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return resilience.Do(e.breaker, func() (*geocode.Result, error) {
		return e.geocoder.Geocode(ctx, q)
	})
}

// fallback places t near its state centroid. The jitter window is tighter
// when a city is known.
func (e *Enricher) fallback(t Target) Point {
	c, _ := Centroid(t.State)
	latJ, lngJ := stateLatJit, stateLngJit
	if strings.TrimSpace(t.City) != "" {
		latJ, lngJ = cityJitter, cityJitter
	}
	return Point{
		Lat:    c.Lat + e.unit()*latJ,
		Lng:    c.Lng + e.unit()*lngJ,
		Source: SourceCentroid,
	}
}

// Queries returns the lookup cascade for t: name with city, then city alone
// when a city is known, otherwise name with state.
func Queries(t Target) []string {
	name := strings.TrimSpace(t.Name)
	city := strings.TrimSpace(t.City)
	state := strings.TrimSpace(t.State)

	if city == "" {
		return []string{joinQuery(name, state)}
	}
	return []string{joinQuery(name, city, state), joinQuery(city, state)}
}

func joinQuery(parts ...string) string {
	kept := make([]string, 0, len(parts)+1)
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(append(kept, geocodeUSSfx), ", ")
}
