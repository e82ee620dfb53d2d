package status

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goodtune/lockbox/internal/clock"
	"github.com/goodtune/lockbox/internal/device"
	"github.com/goodtune/lockbox/internal/metrics"
	"github.com/rs/zerolog"
)

// Advisory is the single message published when the live feed is lost.
const Advisory = "Live connection lost, falling back to polling"

// Config holds status channel timing
type Config struct {
	PollInterval     time.Duration
	ReconnectBackoff time.Duration
}

// Snapshot is what Current returns. Stale is true until the first status
// has been received; Status is the zero value in that case.
type Snapshot struct {
	Status device.Status
	Stale  bool
	Live   bool
}

type sourceKind string

const (
	sourceLive sourceKind = "live"
	sourcePoll sourceKind = "poll"
)

type listener struct {
	id int
	fn func(device.Status)
}

// Channel keeps the latest device status current. It prefers the live feed
// and polls while the feed is down. Exactly one of the two may update status
// at a time: every feed connection and every poll loop carries a generation,
// and work from a superseded generation is discarded.
type Channel struct {
	src    Source
	cfg    Config
	clock  clock.Clock
	logger zerolog.Logger

	// dispatchMu serialises delivery so listeners observe arrival order.
	// It is always taken before mu.
	dispatchMu sync.Mutex

	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	started    bool
	closed     bool
	current    device.Status
	has        bool
	lastStamp  time.Time
	live       bool
	feedGen    uint64
	feedCancel context.CancelFunc
	polling    bool
	pollGen    uint64
	poller     *clock.Ticker
	reconnect  clock.Timer
	advised    bool
	nextID     int
	listeners  []listener
	advisories []func(string)
}

// NewChannel creates a status channel. Nothing happens until Connect.
func NewChannel(src Source, cfg Config, clk clock.Clock, logger zerolog.Logger) *Channel {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = 5 * time.Second
	}
	return &Channel{
		src:    src,
		cfg:    cfg,
		clock:  clk,
		logger: logger.With().Str("component", "status").Logger(),
	}
}

// Connect starts the live feed in the background. Status starts flowing to
// listeners once the feed (or, failing that, the poll loop) delivers.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.New("status channel closed")
	}
	if c.started {
		return errors.New("status channel already connected")
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.dialLocked()
	return nil
}

// Current returns the latest applied status.
func (c *Channel) Current() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{Status: c.current, Stale: !c.has, Live: c.live}
}

// OnUpdate registers fn to receive every applied status in arrival order.
// fn must not block for long; it may call Current.
func (c *Channel) OnUpdate(fn func(device.Status)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	c.listeners = append(c.listeners, listener{id: id, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, l := range c.listeners {
			if l.id == id {
				c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

// OnAdvisory registers fn to receive the transient advisory, published once
// per outage rather than once per reconnect attempt.
func (c *Channel) OnAdvisory(fn func(string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advisories = append(c.advisories, fn)
}

// Close stops polling, the reconnect timer and the feed. No delivery starts
// after Close returns.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.stopPollingLocked()
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	if c.feedCancel != nil {
		c.feedCancel()
		c.feedCancel = nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.live = false
	metrics.FeedConnected.Set(0)
	c.logger.Debug().Msg("Status channel closed")
	return nil
}

// dialLocked starts a feed connection attempt under a new generation.
func (c *Channel) dialLocked() {
	c.feedGen++
	gen := c.feedGen
	ctx, cancel := context.WithCancel(c.ctx)
	c.feedCancel = cancel
	go c.runFeed(ctx, gen)
}

func (c *Channel) runFeed(ctx context.Context, gen uint64) {
	feed, err := c.src.Dial(ctx)
	if err != nil {
		c.lost(gen, err)
		return
	}
	defer feed.Close()

	c.mu.Lock()
	if c.closed || gen != c.feedGen {
		c.mu.Unlock()
		return
	}
	// The poll loop is torn down before the first frame is read.
	c.stopPollingLocked()
	c.live = true
	c.advised = false
	c.mu.Unlock()

	metrics.FeedConnected.Set(1)
	c.logger.Info().Msg("Live feed connected")

	for {
		data, err := feed.Read(ctx)
		if err != nil {
			c.lost(gen, err)
			return
		}
		c.apply(sourceLive, gen, data, time.Time{})
	}
}

// lost handles the end of feed generation gen: it schedules a reconnect and,
// if not already polling, polls immediately and then on every interval.
func (c *Channel) lost(gen uint64, cause error) {
	c.mu.Lock()
	if c.closed || gen != c.feedGen {
		c.mu.Unlock()
		return
	}
	wasLive := c.live
	c.live = false
	c.feedGen++
	if c.feedCancel != nil {
		c.feedCancel()
		c.feedCancel = nil
	}

	backoff := c.cfg.ReconnectBackoff
	c.reconnect = c.clock.AfterFunc(backoff, c.reconnectFunc(c.feedGen))

	startPoll := !c.polling
	var pollGen uint64
	if startPoll {
		pollGen = c.startPollingLocked()
	}

	var notify []func(string)
	if !c.advised {
		c.advised = true
		notify = append(notify, c.advisories...)
	}
	c.mu.Unlock()

	metrics.FeedConnected.Set(0)
	if wasLive {
		c.logger.Warn().Err(cause).Dur("retry_in", backoff).Msg("Live feed lost, polling")
	} else {
		c.logger.Debug().Err(cause).Dur("retry_in", backoff).Msg("Live feed unavailable")
	}

	if len(notify) > 0 {
		c.dispatchMu.Lock()
		for _, fn := range notify {
			fn(Advisory)
		}
		c.dispatchMu.Unlock()
	}

	if startPoll {
		c.poll(pollGen)
	}
}

func (c *Channel) reconnectFunc(gen uint64) func() {
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed || gen != c.feedGen || c.live {
			return
		}
		c.reconnect = nil
		metrics.FeedReconnectsTotal.Inc()
		c.logger.Debug().Msg("Reconnecting live feed")
		c.dialLocked()
	}
}

// startPollingLocked begins a new poll generation and returns it. The first
// poll is run by the caller once locks are released.
func (c *Channel) startPollingLocked() uint64 {
	c.pollGen++
	gen := c.pollGen
	c.polling = true
	c.poller = clock.NewTicker(c.clock, c.cfg.PollInterval, func() { c.poll(gen) })
	return gen
}

func (c *Channel) stopPollingLocked() {
	if !c.polling {
		return
	}
	c.polling = false
	c.pollGen++
	if c.poller != nil {
		c.poller.Stop()
		c.poller = nil
	}
}

func (c *Channel) poll(gen uint64) {
	c.mu.Lock()
	if c.closed || !c.polling || gen != c.pollGen {
		c.mu.Unlock()
		return
	}
	stamp := c.nextStampLocked()
	ctx := c.ctx
	c.mu.Unlock()

	data, err := c.src.Poll(ctx)
	if err != nil {
		c.logger.Debug().Err(err).Msg("Status poll failed")
		return
	}
	c.apply(sourcePoll, gen, data, stamp)
}

// nextStampLocked returns a strictly increasing local stamp, used for
// statuses that carry no device timestamp.
func (c *Channel) nextStampLocked() time.Time {
	now := c.clock.Now()
	if !now.After(c.lastStamp) {
		now = c.lastStamp.Add(time.Nanosecond)
	}
	c.lastStamp = now
	return now
}

// apply validates and installs one payload. stamp is the request-issue time
// for polls; live frames are stamped on receipt.
func (c *Channel) apply(kind sourceKind, gen uint64, data []byte, stamp time.Time) {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()

	c.mu.Lock()
	if !c.activeLocked(kind, gen) {
		c.mu.Unlock()
		return
	}
	if stamp.IsZero() {
		stamp = c.nextStampLocked()
	}

	s, err := device.ParseStatus(data, stamp)
	if err != nil {
		c.mu.Unlock()
		metrics.StatusDroppedTotal.WithLabelValues("malformed").Inc()
		c.logger.Warn().Err(err).Str("source", string(kind)).Msg("Dropped malformed status")
		return
	}

	if c.has && !s.Timestamp.After(c.current.Timestamp) {
		c.mu.Unlock()
		metrics.StatusDroppedTotal.WithLabelValues("out_of_order").Inc()
		c.logger.Debug().
			Time("timestamp", s.Timestamp).
			Time("current", c.current.Timestamp).
			Msg("Dropped out-of-order status")
		return
	}

	c.current = s
	c.has = true
	listeners := make([]listener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	metrics.StatusUpdatesTotal.WithLabelValues(string(kind)).Inc()
	for _, l := range listeners {
		l.fn(s)
	}
}

func (c *Channel) activeLocked(kind sourceKind, gen uint64) bool {
	if c.closed {
		return false
	}
	switch kind {
	case sourceLive:
		return c.live && gen == c.feedGen
	case sourcePoll:
		return c.polling && gen == c.pollGen
	}
	return false
}
