// Package session holds the client side of a logging session: the active
// flag, the pose event buffer and the periodic flush to the server.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/madhavcvedpathak/YogaPoseMonitor2/internal/metrics"
	"github.com/madhavcvedpathak/YogaPoseMonitor2/internal/models"
	"github.com/mixer/clock"
	"github.com/rs/zerolog/log"
)

// API is the subset of the server client the controller drives.
type API interface {
	StartSession(ctx context.Context, userName string) models.APIResponse
	EndSession(ctx context.Context) models.APIResponse
	LogPose(ctx context.Context, events []models.PoseEvent) models.APIResponse
	SetSessionID(id string)
	ReportURL() string
}

type Options struct {
	Clock         clock.Clock
	FlushInterval time.Duration
	FlushOnEnd    bool
}

type Controller struct {
	api  API
	opts Options
	task *Task

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	active    bool
	buffer    []models.PoseEvent
	sessionID string
	reportURL string
	onChange  func(active bool)
}

func NewController(api API, opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = clock.C
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		api:    api,
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
	}
	c.task = NewTask(opts.Clock, opts.FlushInterval, func(ctx context.Context) {
		c.Flush(ctx)
	})
	return c
}

// OnChange registers a callback invoked after every state transition.
func (c *Controller) OnChange(fn func(active bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

func (c *Controller) notify(active bool) {
	c.mu.Lock()
	fn := c.onChange
	c.mu.Unlock()

	if fn != nil {
		fn(active)
	}
}

// Start enters the active state, clears the buffer and schedules flushing.
// A rejected start on the server does not roll the client back.
func (c *Controller) Start(ctx context.Context, userName string) models.APIResponse {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return models.APIResponse{Status: models.StatusInfo, Message: "Session already active"}
	}
	c.active = true
	c.buffer = nil
	c.sessionID = uuid.NewString()
	c.reportURL = ""
	id := c.sessionID
	c.mu.Unlock()

	c.notify(true)

	logger := log.With().Str("session_id", id).Logger()
	logger.Info().Str("user", userName).Msg("session started")

	c.api.SetSessionID(id)
	resp := c.api.StartSession(ctx, userName)
	if !resp.OK() {
		logger.Warn().Str("status", resp.Status).Str("message", resp.Message).Msg("server did not confirm session start")
	}

	// End may have run while the server call was in flight.
	c.mu.Lock()
	if c.active {
		c.task.Start(c.ctx)
	}
	c.mu.Unlock()
	return resp
}

// End leaves the active state. Scheduled flushes stop; one already running
// still delivers its batch.
func (c *Controller) End(ctx context.Context) models.APIResponse {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return models.APIResponse{Status: models.StatusInfo, Message: "No active session"}
	}
	c.active = false
	id := c.sessionID
	c.mu.Unlock()

	c.task.Stop()
	c.notify(false)

	logger := log.With().Str("session_id", id).Logger()

	if c.opts.FlushOnEnd {
		if n := c.Flush(ctx); n > 0 {
			logger.Debug().Int("batch_size", n).Msg("flushed remaining events")
		}
	}

	resp := c.api.EndSession(ctx)
	if resp.OK() && resp.ReportPath != "" {
		c.mu.Lock()
		c.reportURL = c.api.ReportURL()
		c.mu.Unlock()
	}

	logger.Info().Str("status", resp.Status).Int("points", resp.PointsAwarded).Msg("session ended")
	return resp
}

// Record buffers ev if a session is active and reports whether it did.
func (c *Controller) Record(ev models.PoseEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return false
	}
	c.buffer = append(c.buffer, ev)
	metrics.EventsRecorded.Inc()
	return true
}

// Drain swaps the buffer out and returns what it held.
func (c *Controller) Drain() []models.PoseEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	batch := c.buffer
	c.buffer = nil
	return batch
}

// Flush sends the buffered events as one batch and returns its size. An
// empty buffer sends nothing. A failed batch is dropped.
func (c *Controller) Flush(ctx context.Context) int {
	batch := c.Drain()
	if len(batch) == 0 {
		return 0
	}

	resp := c.api.LogPose(ctx, batch)
	metrics.BatchesSent.WithLabelValues(resp.Status).Inc()
	if !resp.OK() {
		log.Warn().
			Str("session_id", c.SessionID()).
			Int("batch_size", len(batch)).
			Str("message", resp.Message).
			Msg("pose batch not accepted")
	}
	return len(batch)
}

func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Controller) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// ReportURL is set once the server reports a generated report for the last
// session.
func (c *Controller) ReportURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reportURL
}

// SetFlushInterval changes the flush period. A running session picks it up
// after its current wait.
func (c *Controller) SetFlushInterval(d time.Duration) {
	c.task.SetInterval(d)
}

// Close stops flushing without contacting the server.
func (c *Controller) Close() {
	<-c.task.Stop()
	c.cancel()
}
