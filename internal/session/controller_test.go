package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/madhavcvedpathak/YogaPoseMonitor2/internal/models"
	"github.com/mixer/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu sync.Mutex

	startResp models.APIResponse
	endResp   models.APIResponse
	logResp   models.APIResponse

	// when set, LogPose blocks until it is closed
	logGate chan struct{}
	logging chan struct{}
	// runs inside StartSession, before it answers
	duringStart func()

	starts    []string
	ends      int
	batches   [][]models.PoseEvent
	sessionID string
}

func newFakeAPI() *fakeAPI {
	ok := models.APIResponse{Status: models.StatusSuccess, Message: "ok"}
	return &fakeAPI{startResp: ok, endResp: ok, logResp: ok}
}

func (f *fakeAPI) StartSession(_ context.Context, userName string) models.APIResponse {
	f.mu.Lock()
	hook := f.duringStart
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, userName)
	return f.startResp
}

func (f *fakeAPI) EndSession(context.Context) models.APIResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ends++
	return f.endResp
}

func (f *fakeAPI) LogPose(_ context.Context, events []models.PoseEvent) models.APIResponse {
	f.mu.Lock()
	gate, logging := f.logGate, f.logging
	f.mu.Unlock()

	if logging != nil {
		logging <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, append([]models.PoseEvent(nil), events...))
	return f.logResp
}

func (f *fakeAPI) SetSessionID(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionID = id
}

func (f *fakeAPI) ReportURL() string { return "http://server/download_report" }

func (f *fakeAPI) sentBatches() [][]models.PoseEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]models.PoseEvent(nil), f.batches...)
}

func event(ts float64) models.PoseEvent {
	return models.PoseEvent{Timestamp: ts, Pose: "Unknown", Confidence: 0.9}
}

func newTestController(t *testing.T, api API, opts Options) *Controller {
	t.Helper()
	if opts.Clock == nil {
		opts.Clock = clock.NewMockClock()
	}
	c := NewController(api, opts)
	t.Cleanup(c.Close)
	return c
}

func TestRecordWhileInactiveIsIgnored(t *testing.T) {
	c := newTestController(t, newFakeAPI(), Options{})

	for i := 0; i < 5; i++ {
		assert.False(t, c.Record(event(float64(i))))
	}
	assert.Zero(t, c.Buffered())
}

func TestStartClearsBuffer(t *testing.T) {
	api := newFakeAPI()
	c := newTestController(t, api, Options{})

	c.Start(context.Background(), "asha")
	c.Record(event(1))
	c.Record(event(2))
	require.Equal(t, 2, c.Buffered())

	c.End(context.Background())
	c.Start(context.Background(), "asha")
	assert.Zero(t, c.Buffered())
}

func TestFlushSendsInInsertionOrder(t *testing.T) {
	api := newFakeAPI()
	c := newTestController(t, api, Options{})
	c.Start(context.Background(), "asha")

	want := []models.PoseEvent{event(1), event(2), event(3)}
	for _, ev := range want {
		require.True(t, c.Record(ev))
	}

	n := c.Flush(context.Background())
	assert.Equal(t, 3, n)
	assert.Equal(t, [][]models.PoseEvent{want}, api.sentBatches())
	assert.Zero(t, c.Buffered())
}

func TestFlushSkipsEmptyBatch(t *testing.T) {
	api := newFakeAPI()
	c := newTestController(t, api, Options{})
	c.Start(context.Background(), "asha")

	assert.Zero(t, c.Flush(context.Background()))
	assert.Empty(t, api.sentBatches())
}

func TestFlushKeepsLaterEvents(t *testing.T) {
	api := newFakeAPI()
	c := newTestController(t, api, Options{})
	c.Start(context.Background(), "asha")

	c.Record(event(1))
	c.Flush(context.Background())
	c.Record(event(2))
	c.Record(event(3))

	assert.Equal(t, []models.PoseEvent{event(2), event(3)}, c.Drain())
}

func TestFailedBatchIsDropped(t *testing.T) {
	api := newFakeAPI()
	api.logResp = models.APIResponse{Status: models.StatusError, Message: "boom"}
	c := newTestController(t, api, Options{})
	c.Start(context.Background(), "asha")

	c.Record(event(1))
	assert.Equal(t, 1, c.Flush(context.Background()))
	assert.Zero(t, c.Buffered())

	c.Record(event(2))
	c.Flush(context.Background())
	batches := api.sentBatches()
	require.Len(t, batches, 2)
	assert.Equal(t, []models.PoseEvent{event(2)}, batches[1])
}

func TestStartServerErrorStaysActive(t *testing.T) {
	api := newFakeAPI()
	api.startResp = models.APIResponse{Status: models.StatusError, Message: "x"}
	c := newTestController(t, api, Options{})

	resp := c.Start(context.Background(), "asha")
	assert.Equal(t, "x", resp.Message)
	assert.True(t, c.Active())
	assert.True(t, c.task.Running())
}

func TestStartTwiceIsNoop(t *testing.T) {
	api := newFakeAPI()
	c := newTestController(t, api, Options{})

	c.Start(context.Background(), "asha")
	c.Record(event(1))
	resp := c.Start(context.Background(), "asha")

	assert.Equal(t, models.StatusInfo, resp.Status)
	assert.Equal(t, 1, c.Buffered())
	assert.Len(t, api.starts, 1)
}

func TestStateChangeCallback(t *testing.T) {
	c := newTestController(t, newFakeAPI(), Options{})

	var seen []bool
	c.OnChange(func(active bool) { seen = append(seen, active) })

	c.Start(context.Background(), "asha")
	c.End(context.Background())
	c.End(context.Background())

	assert.Equal(t, []bool{true, false}, seen)
}

func TestEndExposesReport(t *testing.T) {
	api := newFakeAPI()
	api.endResp = models.APIResponse{Status: models.StatusSuccess, Message: "done", ReportPath: "reports/a.pdf"}
	c := newTestController(t, api, Options{})

	c.Start(context.Background(), "asha")
	assert.Empty(t, c.ReportURL())

	c.End(context.Background())
	assert.Equal(t, "http://server/download_report", c.ReportURL())
	assert.False(t, c.Active())
	assert.False(t, c.task.Running())

	c.Start(context.Background(), "asha")
	assert.Empty(t, c.ReportURL())
}

func TestEndWithoutReport(t *testing.T) {
	api := newFakeAPI()
	api.endResp = models.APIResponse{Status: models.StatusError, Message: "No active session or user logged in."}
	c := newTestController(t, api, Options{})

	c.Start(context.Background(), "asha")
	c.End(context.Background())
	assert.Empty(t, c.ReportURL())
}

func TestEndFlushesRemainder(t *testing.T) {
	api := newFakeAPI()
	c := newTestController(t, api, Options{FlushOnEnd: true})

	c.Start(context.Background(), "asha")
	c.Record(event(1))
	c.End(context.Background())

	assert.Equal(t, [][]models.PoseEvent{{event(1)}}, api.sentBatches())
}

func TestEndWithoutFlushOnEnd(t *testing.T) {
	api := newFakeAPI()
	c := newTestController(t, api, Options{})

	c.Start(context.Background(), "asha")
	c.Record(event(1))
	c.End(context.Background())

	assert.Empty(t, api.sentBatches())
	assert.False(t, c.Record(event(2)))
}

func TestSessionIDPropagated(t *testing.T) {
	api := newFakeAPI()
	c := newTestController(t, api, Options{})

	c.Start(context.Background(), "asha")
	first := c.SessionID()
	assert.NotEmpty(t, first)
	assert.Equal(t, first, api.sessionID)

	c.End(context.Background())
	c.Start(context.Background(), "asha")
	assert.NotEqual(t, first, c.SessionID())
}

func TestPeriodicFlushWithMockClock(t *testing.T) {
	api := newFakeAPI()
	mc := clock.NewMockClock()
	c := newTestController(t, api, Options{Clock: mc, FlushInterval: 5 * time.Second})

	c.Start(context.Background(), "asha")
	c.Record(event(1))
	c.Record(event(2))

	require.Eventually(t, func() bool {
		mc.AddTime(5 * time.Second)
		return len(api.sentBatches()) == 1
	}, time.Second, 5*time.Millisecond)

	c.Record(event(3))
	require.Eventually(t, func() bool {
		mc.AddTime(5 * time.Second)
		return len(api.sentBatches()) == 2
	}, time.Second, 5*time.Millisecond)

	batches := api.sentBatches()
	assert.Equal(t, []models.PoseEvent{event(1), event(2)}, batches[0])
	assert.Equal(t, []models.PoseEvent{event(3)}, batches[1])
}

func TestEndDoesNotDropInFlightFlush(t *testing.T) {
	api := newFakeAPI()
	api.logGate = make(chan struct{})
	api.logging = make(chan struct{}, 1)
	mc := clock.NewMockClock()
	c := newTestController(t, api, Options{Clock: mc, FlushInterval: time.Second})

	c.Start(context.Background(), "asha")
	c.Record(event(1))

	require.Eventually(t, func() bool {
		mc.AddTime(time.Second)
		select {
		case <-api.logging:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	ended := make(chan struct{})
	go func() {
		c.End(context.Background())
		close(ended)
	}()

	require.Eventually(t, func() bool { return !c.Active() }, time.Second, time.Millisecond)
	close(api.logGate)
	<-ended

	require.Eventually(t, func() bool { return len(api.sentBatches()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []models.PoseEvent{event(1)}, api.sentBatches()[0])

	for i := 0; i < 5; i++ {
		mc.AddTime(time.Second)
	}
	c.Record(event(2))
	assert.Len(t, api.sentBatches(), 1)
}

func TestEndDuringStartLeavesFlushingOff(t *testing.T) {
	api := newFakeAPI()
	c := newTestController(t, api, Options{})
	api.duringStart = func() {
		c.End(context.Background())
	}

	c.Start(context.Background(), "asha")

	assert.False(t, c.Active())
	assert.False(t, c.task.Running())
}
