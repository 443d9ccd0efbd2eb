// Package history keeps the rolling chart buffer behind the dashboard:
// one timestamped series set per device type, advanced on every poll
// tick whether or not the poll succeeded.
package history

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Value is a single series sample. Missing samples are NaN in memory
// and null on the wire, matching what chart consumers expect for gaps.
type Value float64

// IsGap reports whether the sample is a missing-data marker.
func (v Value) IsGap() bool {
	return math.IsNaN(float64(v))
}

func (v Value) MarshalJSON() ([]byte, error) {
	f := float64(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(f)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = Value(math.NaN())
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*v = Value(f)
	return nil
}

// Entry is the buffer for one device type. Every series has exactly
// len(Timestamps) samples.
type Entry struct {
	Timestamps []string           `json:"timestamps"`
	Series     map[string][]Value `json:"series"`
}

// Snapshot is a deep copy of the whole store, keyed by device type.
type Snapshot map[string]Entry

// Persister stores the serialized buffer between process restarts.
type Persister interface {
	Save(ctx context.Context, data []byte) error
	Load(ctx context.Context) ([]byte, error)
}

// Options configures a Store. Zero values get defaults in New.
type Options struct {
	// MaxPoints caps each series; older samples are dropped FIFO.
	MaxPoints int
	// Interval is the timestamp bucket width.
	Interval time.Duration
	// MetaFields are reading fields excluded from numeric series.
	MetaFields []string
	// Persister, when set, receives the serialized store after every
	// mutation.
	Persister Persister
}

// Store is the rolling history buffer. The poller is its only writer;
// readers get copies and watch the version counter for changes.
type Store struct {
	log        zerolog.Logger
	maxPoints  int
	interval   time.Duration
	metaFields map[string]struct{}
	persister  Persister

	mu      sync.Mutex
	entries map[string]*Entry
	version uint64
	subs    map[int]chan uint64
	nextSub int
}

func New(log zerolog.Logger, opts Options) *Store {
	mp := opts.MaxPoints
	if mp <= 0 {
		mp = 10
	}
	iv := opts.Interval
	if iv <= 0 {
		iv = 5 * time.Minute
	}
	meta := opts.MetaFields
	if len(meta) == 0 {
		meta = []string{"Timestamp", "DeviceID", "DeviceType"}
	}
	metaSet := make(map[string]struct{}, len(meta))
	for _, f := range meta {
		metaSet[f] = struct{}{}
	}

	return &Store{
		log:        log,
		maxPoints:  mp,
		interval:   iv,
		metaFields: metaSet,
		persister:  opts.Persister,
		entries:    make(map[string]*Entry),
		subs:       make(map[int]chan uint64),
	}
}

// BucketTimestamp floors a time to the store's interval and formats it
// the way chart axes consume it. Bucketing keeps retries within one
// interval from creating duplicate points.
func (s *Store) BucketTimestamp(now time.Time) string {
	bucket := now.UnixMilli() / s.interval.Milliseconds() * s.interval.Milliseconds()
	return time.UnixMilli(bucket).UTC().Format("2006-01-02 15:04:05")
}

// AppendTick records one successful poll result: a reading per device
// type. Fields seen for the first time are back-filled with gaps;
// fields missing from this reading carry their previous value forward.
func (s *Store) AppendTick(ctx context.Context, now time.Time, readings map[string]map[string]any) {
	s.mu.Lock()
	ts := s.BucketTimestamp(now)
	for deviceType, reading := range readings {
		s.appendLocked(deviceType, ts, reading)
	}
	s.mu.Unlock()

	s.commit(ctx)
}

// AppendFailureTick advances every known device type by one point,
// carrying all series forward, so charts keep moving through outages.
func (s *Store) AppendFailureTick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	ts := s.BucketTimestamp(now)
	for deviceType := range s.entries {
		s.appendLocked(deviceType, ts, nil)
	}
	s.mu.Unlock()

	s.commit(ctx)
}

func (s *Store) appendLocked(deviceType, ts string, reading map[string]any) {
	e, ok := s.entries[deviceType]
	if !ok {
		e = &Entry{Series: make(map[string][]Value)}
		s.entries[deviceType] = e
	}

	e.Timestamps = append(e.Timestamps, ts)
	n := len(e.Timestamps)

	for field := range e.Series {
		if v, ok := s.numericField(reading, field); ok {
			e.Series[field] = append(e.Series[field], v)
		} else {
			e.Series[field] = append(e.Series[field], lastOrGap(e.Series[field]))
		}
	}

	// New fields get a gap-filled prefix so all series stay aligned.
	for _, field := range sortedFields(reading) {
		if _, seen := e.Series[field]; seen {
			continue
		}
		v, ok := s.numericField(reading, field)
		if !ok {
			continue
		}
		series := make([]Value, n-1, n)
		for i := range series {
			series[i] = Value(math.NaN())
		}
		e.Series[field] = append(series, v)
	}

	if n > s.maxPoints {
		drop := n - s.maxPoints
		e.Timestamps = e.Timestamps[drop:]
		for field := range e.Series {
			e.Series[field] = e.Series[field][drop:]
		}
	}
}

func (s *Store) numericField(reading map[string]any, field string) (Value, bool) {
	if reading == nil {
		return 0, false
	}
	if _, meta := s.metaFields[field]; meta {
		return 0, false
	}
	raw, ok := reading[field]
	if !ok {
		return 0, false
	}
	f, ok := toFloat(raw)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return Value(f), true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func lastOrGap(series []Value) Value {
	if len(series) == 0 {
		return Value(math.NaN())
	}
	return series[len(series)-1]
}

func sortedFields(reading map[string]any) []string {
	if len(reading) == 0 {
		return nil
	}
	fields := make([]string, 0, len(reading))
	for f := range reading {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// commit persists the store and notifies watchers. Persistence failures
// are logged, never propagated; a dead session slot must not stop the
// poll loop.
func (s *Store) commit(ctx context.Context) {
	s.mu.Lock()
	s.version++
	v := s.version
	data, err := json.Marshal(s.snapshotLocked())
	for _, ch := range s.subs {
		select {
		case ch <- v:
		default:
		}
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Warn().Err(err).Msg("history serialize failed")
		return
	}
	if s.persister == nil {
		return
	}
	if err := s.persister.Save(ctx, data); err != nil {
		s.log.Warn().Err(err).Msg("history persist failed")
	}
}

// Hydrate restores the buffer from the persister. An empty slot is not
// an error.
func (s *Store) Hydrate(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	data, err := s.persister.Load(ctx)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*Entry, len(snap))
	for deviceType, e := range snap {
		copied := e
		s.entries[deviceType] = &copied
	}
	return nil
}

// Snapshot returns a deep copy of every entry.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Entry returns a deep copy of one device type's buffer.
func (s *Store) Entry(deviceType string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[deviceType]
	if !ok {
		return Entry{}, false
	}
	return copyEntry(*e), true
}

// DeviceTypes returns the known device types in sorted order.
func (s *Store) DeviceTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for dt := range s.entries {
		out = append(out, dt)
	}
	sort.Strings(out)
	return out
}

// Version returns the mutation counter.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Subscribe registers a watcher for version bumps. The channel never
// blocks the writer; slow readers coalesce updates. The returned func
// cancels the subscription.
func (s *Store) Subscribe() (<-chan uint64, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan uint64, 1)
	s.subs[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Store) snapshotLocked() Snapshot {
	snap := make(Snapshot, len(s.entries))
	for deviceType, e := range s.entries {
		snap[deviceType] = copyEntry(*e)
	}
	return snap
}

func copyEntry(e Entry) Entry {
	out := Entry{
		Timestamps: append([]string(nil), e.Timestamps...),
		Series:     make(map[string][]Value, len(e.Series)),
	}
	for field, series := range e.Series {
		out.Series[field] = append([]Value(nil), series...)
	}
	return out
}
