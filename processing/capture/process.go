package capture

import (
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

const stderrTailSize = 4096

// stderrTail keeps the last bytes a process wrote. It is safe to read while
// the process is still writing.
type stderrTail struct {
	mu  sync.Mutex
	buf []byte
}

func (t *stderrTail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if len(t.buf) > stderrTailSize {
		t.buf = append(t.buf[:0], t.buf[len(t.buf)-stderrTailSize:]...)
	}
	return len(p), nil
}

func (t *stderrTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

func (t *stderrTail) LastLine() string {
	return lastLine(t.String())
}

// ffmpegProc owns one ffmpeg child. Only the frame reader waits on it; Stop
// kills it and blocks until the reader has reaped it.
type ffmpegProc struct {
	cmd    *exec.Cmd
	stderr stderrTail

	started  bool
	waitOnce sync.Once
	exited   chan struct{}
}

func newFFmpegProc(args []string) *ffmpegProc {
	p := &ffmpegProc{
		cmd:    exec.Command("ffmpeg", args...),
		exited: make(chan struct{}),
	}
	p.cmd.Stderr = &p.stderr
	return p
}

func (p *ffmpegProc) start() (io.ReadCloser, error) {
	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "ffmpeg stdout")
	}
	if err := p.cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "ffmpeg start (%s)", p.stderr.LastLine())
	}
	p.started = true
	return stdout, nil
}

// wait kills and reaps the process. Once it returns stderr is complete.
func (p *ffmpegProc) wait() {
	p.waitOnce.Do(func() {
		p.cmd.Process.Kill()
		p.cmd.Wait()
		close(p.exited)
	})
}

func (p *ffmpegProc) stop() {
	if p == nil || !p.started {
		return
	}
	p.cmd.Process.Kill()
	<-p.exited
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
