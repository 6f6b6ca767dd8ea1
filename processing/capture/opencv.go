//go:build opencv

package capture

import (
	"image"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"
)

// OpenCVStreamer reads frames straight from a camera through OpenCV, without
// an ffmpeg subprocess.
type OpenCVStreamer struct {
	stopOnce sync.Once

	device int
	width  int
	height int
	mirror bool

	webcam    *gocv.VideoCapture
	frameChan chan Frame
	errChan   chan error
	stopChan  chan struct{}
}

func NewOpenCVStreamer(device, width, height int, mirror bool) (VideoStreamer, error) {
	return &OpenCVStreamer{
		device:    device,
		width:     width,
		height:    height,
		mirror:    mirror,
		frameChan: make(chan Frame),
		errChan:   make(chan error, 1),
		stopChan:  make(chan struct{}),
	}, nil
}

func (cs *OpenCVStreamer) Start() error {
	webcam, err := gocv.OpenVideoCapture(cs.device)
	if err != nil {
		return errors.Wrapf(err, "open camera %d", cs.device)
	}

	webcam.Set(gocv.VideoCaptureFrameWidth, float64(cs.width))
	webcam.Set(gocv.VideoCaptureFrameHeight, float64(cs.height))

	// the driver may not honour the requested size
	cs.width = int(webcam.Get(gocv.VideoCaptureFrameWidth))
	cs.height = int(webcam.Get(gocv.VideoCaptureFrameHeight))
	cs.webcam = webcam

	log.Info().Int("device", cs.device).Int("width", cs.width).Int("height", cs.height).Msg("opencv camera opened")
	go cs.readLoop()
	return nil
}

func (cs *OpenCVStreamer) readLoop() {
	defer close(cs.frameChan)
	defer close(cs.errChan)
	defer cs.webcam.Close()

	mat := gocv.NewMat()
	defer mat.Close()
	rgba := gocv.NewMat()
	defer rgba.Close()

	started := time.Now()
	misses := 0

	for {
		select {
		case <-cs.stopChan:
			return
		default:
		}

		if ok := cs.webcam.Read(&mat); !ok || mat.Empty() {
			misses++
			if misses > 100 {
				cs.errChan <- errors.New("camera stopped delivering frames")
				return
			}
			continue
		}
		misses = 0

		if cs.mirror {
			gocv.Flip(mat, &mat, 1)
		}
		gocv.CvtColor(mat, &rgba, gocv.ColorBGRToRGBA)

		img, err := rgba.ToImage()
		if err != nil {
			log.Debug().Err(err).Msg("converting frame")
			continue
		}
		out, ok := img.(*image.RGBA)
		if !ok {
			continue
		}

		select {
		case cs.frameChan <- Frame{Image: out, Timestamp: time.Since(started)}:
		case <-cs.stopChan:
			return
		default:
		}
	}
}

func (cs *OpenCVStreamer) Stop() {
	cs.stopOnce.Do(func() {
		close(cs.stopChan)
	})
}

func (cs *OpenCVStreamer) FrameChan() <-chan Frame { return cs.frameChan }
func (cs *OpenCVStreamer) ErrorChan() <-chan error { return cs.errChan }
func (cs *OpenCVStreamer) Size() (int, int)        { return cs.width, cs.height }
