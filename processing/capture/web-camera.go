package capture

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"os/exec"
	"regexp"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type FFmpegWebcamStreamer struct {
	stopOnce sync.Once

	deviceName string
	width      int
	height     int
	targetFPS  uint
	mirror     bool

	proc      *ffmpegProc
	frameChan chan Frame
	errChan   chan error

	stopChan chan struct{}
}

func NewFFmpegWebcam(deviceName string, targetFps uint, scaledWidht int, scaledHeight int, mirror bool) *FFmpegWebcamStreamer {
	if targetFps == 0 {
		targetFps = standartFps
	}
	return &FFmpegWebcamStreamer{
		deviceName: deviceName,
		width:      scaledWidht,
		height:     scaledHeight,
		targetFPS:  targetFps,
		mirror:     mirror,

		frameChan: make(chan Frame),
		errChan:   make(chan error, 1),
		stopChan:  make(chan struct{}),
	}
}

func (ws *FFmpegWebcamStreamer) args() []string {
	input := []string{"-f", "v4l2", "-i", ws.deviceName}
	switch runtime.GOOS {
	case "windows":
		input = []string{"-f", "dshow", "-i", fmt.Sprintf("video=%s", ws.deviceName)}
	case "darwin":
		input = []string{"-f", "avfoundation", "-framerate", fmt.Sprint(ws.targetFPS), "-i", ws.deviceName}
	}

	return append(input,
		"-vf", fmt.Sprintf("fps=%d,scale=%d:%d", ws.targetFPS, ws.width, ws.height),
		"-f", "image2pipe",
		"-pix_fmt", "rgba",
		"-vcodec", "rawvideo",
		"-",
	)
}

func (ws *FFmpegWebcamStreamer) Start() error {
	proc := newFFmpegProc(ws.args())
	stdout, err := proc.start()
	if err != nil {
		return err
	}
	ws.proc = proc

	log.Info().Str("device", ws.deviceName).Int("width", ws.width).Int("height", ws.height).Msg("camera stream started")
	go ws.readLoop(stdout)

	return nil
}

func (ws *FFmpegWebcamStreamer) readLoop(stdout io.ReadCloser) {
	defer close(ws.frameChan)
	defer close(ws.errChan)
	defer stdout.Close()
	defer ws.proc.wait()

	frameSize := ws.width * ws.height * int(bytePerFrame)
	buffer := make([]byte, frameSize)
	started := time.Now()

	for {
		select {
		case <-ws.stopChan:
			return

		default:
			_, err := io.ReadFull(stdout, buffer)
			if err != nil {
				select {
				case <-ws.stopChan:
					return
				default:
					ws.proc.wait()
					ws.errChan <- errors.Wrapf(err, "camera read (%s)", ws.proc.stderr.LastLine())
					return
				}
			}

			pixelData := make([]byte, len(buffer))
			copy(pixelData, buffer)

			img := &image.RGBA{
				Pix:    pixelData,
				Stride: ws.width * int(bytePerFrame),
				Rect:   image.Rect(0, 0, ws.width, ws.height),
			}
			if ws.mirror {
				Mirror(img)
			}

			select {
			case ws.frameChan <- Frame{Image: img, Timestamp: time.Since(started)}:
			default:
			}
		}
	}
}

func (ws *FFmpegWebcamStreamer) Stop() {
	ws.stopOnce.Do(func() {
		close(ws.stopChan)
		ws.proc.stop()
	})
}

func (ws *FFmpegWebcamStreamer) FrameChan() <-chan Frame { return ws.frameChan }
func (ws *FFmpegWebcamStreamer) ErrorChan() <-chan error { return ws.errChan }
func (ws *FFmpegWebcamStreamer) Size() (int, int)        { return ws.width, ws.height }

var dshowDevice = regexp.MustCompile(`"([^"]+)"\s+\(video\)`)

func ListCameras() ([]string, error) {
	var cameras []string

	switch runtime.GOOS {
	case "windows":
		cmd := exec.Command("ffmpeg", "-list_devices", "true", "-f", "dshow", "-i", "dummy")
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		cmd.Run()

		cameras = parseDshowDevices(stderr.String())
	case "darwin":
		cameras = []string{"0", "1"}
	default:
		cameras = []string{"/dev/video0", "/dev/video1"}
	}

	return cameras, nil
}

func parseDshowDevices(output string) []string {
	var cameras []string
	seen := make(map[string]bool)
	for _, m := range dshowDevice.FindAllStringSubmatch(output, -1) {
		name := m[1]
		if name != "dummy" && !seen[name] {
			cameras = append(cameras, name)
			seen[name] = true
		}
	}
	return cameras
}
