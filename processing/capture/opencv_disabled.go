//go:build !opencv

package capture

import "github.com/pkg/errors"

var ErrOpenCVDisabled = errors.New("built without OpenCV support (rebuild with -tags opencv)")

func NewOpenCVStreamer(device, width, height int, mirror bool) (VideoStreamer, error) {
	return nil, ErrOpenCVDisabled
}
