package capture

import (
	"encoding/json"
	"fmt"
	"image"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// LocalFileStreamer replays a video file at the target rate. Frame
// timestamps follow the file position, not wall time.
type LocalFileStreamer struct {
	stopOnce sync.Once

	path      string
	targetFPS uint

	s_width  int
	s_height int

	r_width  uint16
	r_height uint16

	proc      *ffmpegProc
	frameChan chan Frame
	errChan   chan error
	stopChan  chan struct{}
}

func NewLocalStreamer(path string, targetFPS uint, scaledWidht int, scaledHeight int) (*LocalFileStreamer, error) {
	w, h, err := probeVideoDimensions(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to probe video")
	}
	if targetFPS == 0 {
		targetFPS = standartFps
	}

	return &LocalFileStreamer{
		path:      path,
		targetFPS: targetFPS,
		r_width:   w,
		r_height:  h,
		s_width:   scaledWidht,
		s_height:  scaledHeight,
		frameChan: make(chan Frame, 10),
		errChan:   make(chan error, 1),
		stopChan:  make(chan struct{}),
	}, nil
}

func (ls *LocalFileStreamer) Start() error {
	args := []string{
		"-i", ls.path,
		"-vf", fmt.Sprintf("fps=%d,scale=%d:%d:flags=neighbor", ls.targetFPS, ls.s_width, ls.s_height),
		"-f", "image2pipe",
		"-pix_fmt", "rgba",
		"-vcodec", "rawvideo",
		"-",
	}

	proc := newFFmpegProc(args)
	stdout, err := proc.start()
	if err != nil {
		return err
	}
	ls.proc = proc

	go ls.readFrames(stdout)

	return nil
}

const (
	bytePerFrame uint16 = 4
	standartFps  uint   = 30
)

func (ls *LocalFileStreamer) readFrames(stdout io.ReadCloser) {
	defer close(ls.frameChan)
	defer close(ls.errChan)
	defer stdout.Close()
	defer ls.proc.wait()

	width := int(ls.s_width)
	height := int(ls.s_height)
	bpf := int(bytePerFrame)
	buffer := make([]byte, width*height*bpf)

	frameDuration := time.Second / time.Duration(ls.targetFPS)
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	var index int64
	for {
		select {
		case <-ls.stopChan:
			return

		case <-ticker.C:
			_, err := io.ReadFull(stdout, buffer)
			if err == io.EOF {
				return
			}
			if err != nil {
				select {
				case <-ls.stopChan:
					return
				default:
					ls.proc.wait()
					ls.errChan <- errors.Wrapf(err, "read error (%s)", ls.proc.stderr.LastLine())
					return
				}
			}

			pixelData := make([]byte, len(buffer))
			copy(pixelData, buffer)

			frame := Frame{
				Image: &image.RGBA{
					Pix:    pixelData,
					Stride: width * bpf,
					Rect:   image.Rect(0, 0, width, height),
				},
				Timestamp: time.Duration(index) * frameDuration,
			}
			index++

			select {
			case ls.frameChan <- frame:
			case <-ls.stopChan:
				return
			}
		}
	}
}

func (ls *LocalFileStreamer) Stop() {
	ls.stopOnce.Do(func() {
		close(ls.stopChan)
		ls.proc.stop()
	})
}

func (ls *LocalFileStreamer) FrameChan() <-chan Frame {
	return ls.frameChan
}

func (ls *LocalFileStreamer) ErrorChan() <-chan error {
	return ls.errChan
}

func (ls *LocalFileStreamer) Size() (int, int) {
	return ls.s_width, ls.s_height
}

// SourceSize is the resolution of the file before scaling.
func (ls *LocalFileStreamer) SourceSize() (int, int) {
	return int(ls.r_width), int(ls.r_height)
}

type probeData struct {
	Streams []struct {
		Width  uint16 `json:"width"`
		Height uint16 `json:"height"`
	} `json:"streams"`
}

func probeVideoDimensions(path string) (uint16, uint16, error) {
	cmd := exec.Command("ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "json",
		path,
	)

	output, err := cmd.Output()
	if err != nil {
		return 0, 0, err
	}

	return parseProbe(output)
}

func parseProbe(output []byte) (uint16, uint16, error) {
	var data probeData
	if err := json.Unmarshal(output, &data); err != nil {
		return 0, 0, errors.Wrap(err, "decode ffprobe output")
	}

	if len(data.Streams) == 0 {
		return 0, 0, errors.New("no video streams found")
	}

	return data.Streams[0].Width, data.Streams[0].Height, nil
}
