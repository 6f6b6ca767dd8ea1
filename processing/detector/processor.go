package processing

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/madhavcvedpathak/YogaPoseMonitor2/internal/metrics"
	"github.com/madhavcvedpathak/YogaPoseMonitor2/internal/models"
	"github.com/madhavcvedpathak/YogaPoseMonitor2/processing/analysis"
	stream "github.com/madhavcvedpathak/YogaPoseMonitor2/processing/capture"
	"github.com/madhavcvedpathak/YogaPoseMonitor2/processing/render"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const NoPersonLabel = "No person detected"

// Recorder receives pose events. It decides itself whether to keep them.
type Recorder interface {
	Active() bool
	Record(ev models.PoseEvent) bool
}

// Output is one rendered frame ready for display.
type Output struct {
	Image          *image.RGBA
	PersonDetected bool
	Label          string
	Confidence     float64
}

// Outcome is what a single detection result means for display and logging.
type Outcome struct {
	PersonDetected bool
	Label          string
	Confidence     float64
	// Event is nil unless a person was found while a session is active.
	Event *models.PoseEvent
}

// Evaluate derives the outcome of a detection result. The first detected
// person is analyzed.
func Evaluate(result models.PoseResult, active bool, analyzer analysis.Analyzer, now time.Time) Outcome {
	for _, landmarks := range result.Landmarks {
		if len(landmarks) == 0 {
			continue
		}

		label, confidence := analyzer.Analyze(landmarks)
		out := Outcome{
			PersonDetected: true,
			Label:          label,
			Confidence:     confidence,
		}
		if active {
			out.Event = &models.PoseEvent{
				Timestamp:  float64(now.UnixNano()) / float64(time.Second),
				Pose:       label,
				Confidence: confidence,
			}
		}
		return out
	}

	return Outcome{Label: NoPersonLabel}
}

type Processor struct {
	OutImageStream chan Output
	ErrChan        chan error

	det      Detector
	analyzer analysis.Analyzer
	recorder Recorder
	style    render.Style
	timeout  time.Duration
	now      func() time.Time
	epoch    time.Time

	mu         sync.RWMutex
	stopChan   chan struct{}
	done       chan struct{}
	latency    time.Duration
	fps        uint
	lastSentMs int64
}

func NewProcessor(det Detector, analyzer analysis.Analyzer, recorder Recorder, fps uint) *Processor {
	if fps == 0 {
		fps = 1
	}
	return &Processor{
		OutImageStream: make(chan Output, fps),
		ErrChan:        make(chan error, 1),
		det:            det,
		analyzer:       analyzer,
		recorder:       recorder,
		style:          render.DefaultStyle,
		timeout:        defaultDetectTimeout,
		now:            time.Now,
		epoch:          time.Now(),
		lastSentMs:     -1,
	}
}

// Start runs the detection loop over in. It returns false and does nothing
// when a loop is already running.
func (p *Processor) Start(in stream.VideoStreamer) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopChan != nil {
		return false
	}

	p.stopChan = make(chan struct{})
	p.done = make(chan struct{})
	go p.loop(in, p.stopChan, p.done)
	return true
}

// Stop ends the loop and waits for it to exit. A detection call already in
// flight finishes first.
func (p *Processor) Stop() {
	p.mu.Lock()
	stop, done := p.stopChan, p.done
	p.stopChan = nil
	p.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Done is closed when the current loop exits, on Stop or end of stream.
func (p *Processor) Done() <-chan struct{} {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return p.done
}

func (p *Processor) Running() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stopChan != nil
}

func (p *Processor) Stats() (fps uint, latency time.Duration) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.fps, p.latency
}

func (p *Processor) loop(in stream.VideoStreamer, stopChan <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer func() {
		p.mu.Lock()
		if p.done == done {
			p.stopChan = nil
		}
		p.mu.Unlock()
	}()

	errLog := log.Sample(&zerolog.BurstSampler{Burst: 3, Period: 10 * time.Second})

	var frameCount uint
	lastFpsUpdate := time.Now()
	lastTs := time.Duration(-1)
	errs := in.ErrorChan()

	for {
		select {
		case frame, ok := <-in.FrameChan():
			if !ok {
				return
			}
			if frame.Image == nil {
				continue
			}
			if frame.Timestamp <= lastTs {
				metrics.FramesSkipped.Inc()
				continue
			}
			lastTs = frame.Timestamp

			if err := p.process(frame); err != nil {
				metrics.DetectErrors.Inc()
				errLog.Warn().Err(err).Msg("pose detection failed")
				continue
			}

			frameCount++
			if time.Since(lastFpsUpdate) >= time.Second {
				p.mu.Lock()
				p.fps = frameCount
				p.mu.Unlock()
				frameCount = 0
				lastFpsUpdate = time.Now()
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Error().Err(err).Msg("video stream error")
			select {
			case p.ErrChan <- err:
			default:
			}
			return

		case <-stopChan:
			return
		}
	}
}

func (p *Processor) nextTimestamp() int64 {
	ts := time.Since(p.epoch).Milliseconds()
	if ts <= p.lastSentMs {
		ts = p.lastSentMs + 1
	}
	p.lastSentMs = ts
	return ts
}

func (p *Processor) process(frame stream.Frame) error {
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	result, err := p.det.Detect(ctx, frame.Image, p.nextTimestamp())
	metrics.DetectLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}
	metrics.FramesProcessed.Inc()

	outcome := Evaluate(result, p.recorder.Active(), p.analyzer, p.now())

	for _, landmarks := range result.Landmarks {
		render.Skeleton(frame.Image, landmarks, p.style)
	}

	if outcome.Event != nil {
		p.recorder.Record(*outcome.Event)
	}

	p.mu.Lock()
	p.latency = time.Since(start)
	p.mu.Unlock()

	select {
	case p.OutImageStream <- Output{
		Image:          frame.Image,
		PersonDetected: outcome.PersonDetected,
		Label:          outcome.Label,
		Confidence:     outcome.Confidence,
	}:
	default:
	}
	return nil
}
