// Package camera toggles the capture stream and the detection loop on it.
package camera

import (
	"sync"

	"github.com/madhavcvedpathak/YogaPoseMonitor2/internal/config"
	"github.com/madhavcvedpathak/YogaPoseMonitor2/processing/capture"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Loop is the detection loop fed by the camera.
type Loop interface {
	Start(in capture.VideoStreamer) bool
	Stop()
	Done() <-chan struct{}
}

type StreamerFactory func(cfg *config.Config) (capture.VideoStreamer, error)

// Callbacks are invoked outside the controller lock and may call back into it.
type Callbacks struct {
	OnResize       func(width, height int)
	OnActiveChange func(active bool)
	OnClear        func()
}

type Controller struct {
	cfg         *config.Config
	loop        Loop
	newStreamer StreamerFactory
	cb          Callbacks

	mu       sync.Mutex
	streamer capture.VideoStreamer
}

func NewController(cfg *config.Config, loop Loop, cb Callbacks) *Controller {
	return &Controller{
		cfg:         cfg,
		loop:        loop,
		newStreamer: capture.NewStreamer,
		cb:          cb,
	}
}

// WithStreamerFactory replaces how streams are opened.
func (c *Controller) WithStreamerFactory(f StreamerFactory) *Controller {
	c.newStreamer = f
	return c
}

func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamer != nil
}

// Enable toggles the camera and reports whether it is now active. Calling it
// while active stops the stream instead of opening a second one.
func (c *Controller) Enable() (bool, error) {
	c.mu.Lock()
	if c.streamer != nil {
		s := c.streamer
		c.streamer = nil
		c.mu.Unlock()

		c.teardown(s)
		return false, nil
	}

	s, err := c.newStreamer(c.cfg)
	if err != nil {
		c.mu.Unlock()
		return false, errors.Wrap(err, "open camera")
	}
	if err := s.Start(); err != nil {
		s.Stop()
		c.mu.Unlock()
		return false, errors.Wrap(err, "start camera")
	}

	c.streamer = s
	c.loop.Start(s)
	done := c.loop.Done()
	c.mu.Unlock()

	go c.watch(s, done)

	w, h := s.Size()
	log.Info().Int("width", w).Int("height", h).Msg("camera enabled")
	if c.cb.OnResize != nil {
		c.cb.OnResize(w, h)
	}
	if c.cb.OnActiveChange != nil {
		c.cb.OnActiveChange(true)
	}
	return true, nil
}

// Disable stops the camera if it is running.
func (c *Controller) Disable() {
	c.mu.Lock()
	s := c.streamer
	c.streamer = nil
	c.mu.Unlock()

	if s != nil {
		c.teardown(s)
	}
}

func (c *Controller) teardown(s capture.VideoStreamer) {
	c.loop.Stop()
	s.Stop()

	log.Info().Msg("camera disabled")
	if c.cb.OnClear != nil {
		c.cb.OnClear()
	}
	if c.cb.OnActiveChange != nil {
		c.cb.OnActiveChange(false)
	}
}

// watch turns the camera off when the stream ends on its own.
func (c *Controller) watch(s capture.VideoStreamer, done <-chan struct{}) {
	<-done

	c.mu.Lock()
	current := c.streamer == s
	if current {
		c.streamer = nil
	}
	c.mu.Unlock()

	if current {
		log.Warn().Msg("video stream ended")
		c.teardown(s)
	}
}
