package camera

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/madhavcvedpathak/YogaPoseMonitor2/internal/config"
	"github.com/madhavcvedpathak/YogaPoseMonitor2/internal/models"
	"github.com/madhavcvedpathak/YogaPoseMonitor2/processing/analysis"
	"github.com/madhavcvedpathak/YogaPoseMonitor2/processing/capture"
	processing "github.com/madhavcvedpathak/YogaPoseMonitor2/processing/detector"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStreamer struct {
	startErr error
	frames   chan capture.Frame
	errs     chan error
	stopOnce sync.Once
	stopped  atomic.Bool
}

func newFakeStreamer() *fakeStreamer {
	return &fakeStreamer{frames: make(chan capture.Frame), errs: make(chan error)}
}

func (s *fakeStreamer) Start() error                   { return s.startErr }
func (s *fakeStreamer) FrameChan() <-chan capture.Frame { return s.frames }
func (s *fakeStreamer) ErrorChan() <-chan error         { return s.errs }
func (s *fakeStreamer) Size() (int, int)               { return 640, 480 }

func (s *fakeStreamer) Stop() {
	s.stopOnce.Do(func() { s.stopped.Store(true) })
}

type countingDetector struct {
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (d *countingDetector) Detect(context.Context, image.Image, int64) (models.PoseResult, error) {
	n := d.inFlight.Add(1)
	defer d.inFlight.Add(-1)
	for {
		m := d.maxSeen.Load()
		if n <= m || d.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)
	return models.PoseResult{}, nil
}

type noopRecorder struct{}

func (noopRecorder) Active() bool                { return false }
func (noopRecorder) Record(models.PoseEvent) bool { return false }

type events struct {
	mu      sync.Mutex
	resizes [][2]int
	active  []bool
	clears  int
}

func (e *events) callbacks() Callbacks {
	return Callbacks{
		OnResize: func(w, h int) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.resizes = append(e.resizes, [2]int{w, h})
		},
		OnActiveChange: func(active bool) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.active = append(e.active, active)
		},
		OnClear: func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.clears++
		},
	}
}

func newTestController(t *testing.T, ev *events, streams ...*fakeStreamer) (*Controller, *processing.Processor) {
	t.Helper()
	c, proc, _ := newTestControllerWithDetector(t, ev, streams...)
	return c, proc
}

func newTestControllerWithDetector(t *testing.T, ev *events, streams ...*fakeStreamer) (*Controller, *processing.Processor, *countingDetector) {
	t.Helper()
	det := &countingDetector{}
	proc := processing.NewProcessor(det, analysis.NewStatic("", 0.9), noopRecorder{}, 10)

	var next atomic.Int32
	c := NewController(config.NewDefaultConfig(), proc, ev.callbacks()).
		WithStreamerFactory(func(*config.Config) (capture.VideoStreamer, error) {
			i := int(next.Add(1)) - 1
			require.Less(t, i, len(streams), "unexpected extra stream")
			return streams[i], nil
		})
	t.Cleanup(c.Disable)
	return c, proc, det
}

func TestEnableToggles(t *testing.T) {
	ev := &events{}
	s := newFakeStreamer()
	c, proc := newTestController(t, ev, s)

	active, err := c.Enable()
	require.NoError(t, err)
	assert.True(t, active)
	assert.True(t, c.Active())
	assert.True(t, proc.Running())
	assert.Equal(t, [][2]int{{640, 480}}, ev.resizes)

	active, err = c.Enable()
	require.NoError(t, err)
	assert.False(t, active)
	assert.False(t, c.Active())
	assert.False(t, proc.Running())
	assert.True(t, s.stopped.Load())
	assert.Equal(t, 1, ev.clears)
	assert.Equal(t, []bool{true, false}, ev.active)
}

func TestToggleOffOnKeepsSingleLoop(t *testing.T) {
	ev := &events{}
	first, second := newFakeStreamer(), newFakeStreamer()
	c, proc, det := newTestControllerWithDetector(t, ev, first, second)

	_, err := c.Enable()
	require.NoError(t, err)
	_, err = c.Enable()
	require.NoError(t, err)
	_, err = c.Enable()
	require.NoError(t, err)

	assert.True(t, proc.Running())
	assert.False(t, proc.Start(newFakeStreamer()))

	for i := 1; i <= 5; i++ {
		second.frames <- capture.Frame{Image: image.NewRGBA(image.Rect(0, 0, 8, 8)), Timestamp: time.Duration(i)}
	}

	// the first stream has no reader any more
	select {
	case first.frames <- capture.Frame{Image: image.NewRGBA(image.Rect(0, 0, 8, 8)), Timestamp: time.Hour}:
		t.Fatal("stopped stream still consumed")
	case <-time.After(20 * time.Millisecond):
	}
	assert.EqualValues(t, 1, det.maxSeen.Load())
}

func TestEnableStartFailureStaysInactive(t *testing.T) {
	ev := &events{}
	s := newFakeStreamer()
	s.startErr = errors.New("permission denied")
	c, proc := newTestController(t, ev, s)

	active, err := c.Enable()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
	assert.False(t, active)
	assert.False(t, c.Active())
	assert.False(t, proc.Running())
	assert.Empty(t, ev.active)
}

func TestEnableFactoryFailure(t *testing.T) {
	proc := processing.NewProcessor(&countingDetector{}, analysis.NewStatic("", 0.9), noopRecorder{}, 10)
	c := NewController(config.NewDefaultConfig(), proc, Callbacks{}).
		WithStreamerFactory(func(*config.Config) (capture.VideoStreamer, error) {
			return nil, capture.ErrUnknownSource
		})

	active, err := c.Enable()
	assert.False(t, active)
	assert.True(t, errors.Is(err, capture.ErrUnknownSource))
}

func TestStreamEndDisablesCamera(t *testing.T) {
	ev := &events{}
	s := newFakeStreamer()
	c, _ := newTestController(t, ev, s)

	_, err := c.Enable()
	require.NoError(t, err)

	close(s.frames)
	require.Eventually(t, func() bool { return !c.Active() }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		ev.mu.Lock()
		defer ev.mu.Unlock()
		return len(ev.active) == 2 && !ev.active[1]
	}, time.Second, 5*time.Millisecond)
	assert.True(t, s.stopped.Load())
}

func TestDisableWhenInactive(t *testing.T) {
	ev := &events{}
	c, _ := newTestController(t, ev)

	c.Disable()
	assert.Zero(t, ev.clears)
	assert.Empty(t, ev.active)
}
