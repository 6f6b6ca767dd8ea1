package ui

import (
	"testing"

	processing "github.com/madhavcvedpathak/YogaPoseMonitor2/processing/detector"
	"github.com/stretchr/testify/assert"
)

func TestFormatPose(t *testing.T) {
	assert.Equal(t, processing.NoPersonLabel, formatPose(processing.Output{Label: "ignored"}))
	assert.Equal(t, "Pose: Tadasana (85%)", formatPose(processing.Output{PersonDetected: true, Label: "Tadasana", Confidence: 0.85}))
}
