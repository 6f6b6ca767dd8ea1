//go:build !opencv

package capture

import (
	"testing"

	"github.com/madhavcvedpathak/YogaPoseMonitor2/internal/config"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestOpenCVSourceWithoutTag(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.SetSource(config.SourceOpenCV)

	_, err := NewStreamer(cfg)
	assert.True(t, errors.Is(err, ErrOpenCVDisabled))
}
