package capture

import (
	"github.com/madhavcvedpathak/YogaPoseMonitor2/internal/config"
	"github.com/pkg/errors"
)

var ErrUnknownSource = errors.New("unknown video source")

func NewStreamer(t *config.Config) (VideoStreamer, error) {
	switch src := t.GetSource(); src {
	case config.SourceWebcam:
		cam := t.GetWebcam()
		return NewFFmpegWebcam(cam.DeviceID, t.GetFPS(), t.GetWidth(), t.GetHeight(), cam.Mirror), nil
	case config.SourceLocal:
		return NewLocalStreamer(t.GetLocalPath(), t.GetFPS(), t.GetWidth(), t.GetHeight())
	case config.SourceOpenCV:
		return NewOpenCVStreamer(t.GetOpenCVDevice(), t.GetWidth(), t.GetHeight(), t.GetWebcam().Mirror)
	default:
		return nil, errors.Wrapf(ErrUnknownSource, "%q", src)
	}
}
