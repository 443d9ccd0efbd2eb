package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"gridsight/map-core/internal/metrics"
)

// Poller fetches the latest datapoints for one device selection on a
// fixed interval. The first tick fires immediately on Run. A poller is
// single-use: Stop it and build a new one when the selection changes.
type Poller struct {
	log      zerolog.Logger
	client   *Client
	ids      []string
	interval time.Duration
	onResult func(map[string]Reading)
	onError  func(error)
	metrics  *metrics.Metrics

	stopOnce sync.Once
	stopCh   chan struct{}
	stopped  atomic.Bool
}

type PollerOptions struct {
	// DeviceIDs is the selection. A single id polls plain device-type
	// keys; several ids poll in parallel under namespaced keys.
	DeviceIDs []string
	Interval  time.Duration
	OnResult  func(map[string]Reading)
	OnError   func(error)
	Metrics   *metrics.Metrics
}

func NewPoller(log zerolog.Logger, client *Client, opts PollerOptions) *Poller {
	iv := opts.Interval
	if iv <= 0 {
		iv = 5 * time.Minute
	}
	return &Poller{
		log:      log,
		client:   client,
		ids:      append([]string(nil), opts.DeviceIDs...),
		interval: iv,
		onResult: opts.OnResult,
		onError:  opts.OnError,
		metrics:  opts.Metrics,
		stopCh:   make(chan struct{}),
	}
}

// Run ticks immediately, then on every interval until the context ends
// or Stop is called.
func (p *Poller) Run(ctx context.Context) {
	if p == nil || p.client == nil || len(p.ids) == 0 {
		return
	}

	p.tick(ctx)

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-timer.C:
		}
		p.tick(ctx)
		timer.Reset(p.interval)
	}
}

// Stop ends the loop. It is idempotent and also flags in-flight ticks
// so a late completion cannot mutate state after a selection change.
func (p *Poller) Stop() {
	if p == nil {
		return
	}
	p.stopped.Store(true)
	p.stopOnce.Do(func() { close(p.stopCh) })
}

func (p *Poller) tick(ctx context.Context) {
	start := time.Now()
	p.metrics.IncPollTick()

	readings, err := p.fetch(ctx)

	p.metrics.ObservePollTickDuration(time.Since(start))

	// A tick that finished after Stop belongs to a stale selection.
	if p.stopped.Load() || ctx.Err() != nil {
		return
	}

	if err != nil {
		p.metrics.IncPollFailure()
		p.log.Warn().Err(err).Strs("device_ids", p.ids).Msg("poll tick failed")
		if p.onError != nil {
			p.onError(err)
		}
		return
	}
	if p.onResult != nil {
		p.onResult(readings)
	}
}

func (p *Poller) fetch(ctx context.Context) (map[string]Reading, error) {
	if len(p.ids) == 1 {
		return p.client.LatestReading(ctx, p.ids[0])
	}
	return p.client.LatestReadings(ctx, p.ids)
}

// Supervisor keeps at most one poller alive. Changing the target stops
// the old poller before starting the new one.
type Supervisor struct {
	log     zerolog.Logger
	client  *Client
	opts    PollerOptions
	baseCtx context.Context

	mu      sync.Mutex
	current *Poller
	cancel  context.CancelFunc
}

// NewSupervisor builds a supervisor whose pollers inherit opts (the
// DeviceIDs field is replaced per target) and run under ctx.
func NewSupervisor(ctx context.Context, log zerolog.Logger, client *Client, opts PollerOptions) *Supervisor {
	return &Supervisor{
		log:     log,
		client:  client,
		opts:    opts,
		baseCtx: ctx,
	}
}

// SetTarget switches polling to a new device selection. An empty
// selection just stops the current poller.
func (s *Supervisor) SetTarget(deviceIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	if len(deviceIDs) == 0 {
		return
	}

	opts := s.opts
	opts.DeviceIDs = deviceIDs
	p := NewPoller(s.log, s.client, opts)

	ctx, cancel := context.WithCancel(s.baseCtx)
	s.current = p
	s.cancel = cancel
	go p.Run(ctx)
}

// Stop ends any active poller.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Supervisor) stopLocked() {
	if s.current != nil {
		s.current.Stop()
		s.current = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}
