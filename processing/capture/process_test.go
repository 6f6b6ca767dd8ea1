package capture

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFFmpeg puts an ffmpeg script on PATH that floods stderr and then fails.
func fakeFFmpeg(t *testing.T, script string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in needs a POSIX shell")
	}
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ffmpeg"), []byte("#!/bin/sh\n"+script), 0o755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

const noisyFailure = `i=0
while [ $i -lt 2000 ]; do echo "frame $i dropped" >&2; i=$((i+1)); done
echo "could not open /dev/video9" >&2
exit 1
`

func TestStderrTailIsBounded(t *testing.T) {
	var tail stderrTail
	for i := 0; i < 1000; i++ {
		tail.Write([]byte("0123456789\n"))
	}
	tail.Write([]byte("last words\n"))

	assert.LessOrEqual(t, len(tail.String()), stderrTailSize)
	assert.Equal(t, "last words", tail.LastLine())
}

func TestWebcamReportsLastStderrLine(t *testing.T) {
	fakeFFmpeg(t, noisyFailure)

	ws := NewFFmpegWebcam("/dev/video9", 10, 8, 8, false)
	require.NoError(t, ws.Start())

	select {
	case err := <-ws.ErrorChan():
		require.Error(t, err)
		assert.Contains(t, err.Error(), "could not open /dev/video9")
	case <-time.After(5 * time.Second):
		t.Fatal("no error from failed ffmpeg")
	}

	_, ok := <-ws.FrameChan()
	assert.False(t, ok)
	ws.Stop()
}

func TestWebcamStopWhileReaderExits(t *testing.T) {
	fakeFFmpeg(t, noisyFailure)

	for i := 0; i < 5; i++ {
		ws := NewFFmpegWebcam("/dev/video9", 10, 8, 8, false)
		require.NoError(t, ws.Start())

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			ws.Stop()
		}()
		go func() {
			defer wg.Done()
			for range ws.FrameChan() {
			}
		}()
		wg.Wait()
	}
}

func TestWebcamStopWithoutStart(t *testing.T) {
	ws := NewFFmpegWebcam("/dev/video0", 10, 8, 8, false)
	assert.NotPanics(t, ws.Stop)
}
