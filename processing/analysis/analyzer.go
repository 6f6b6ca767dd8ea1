// Package analysis turns a detected landmark set into a pose label.
package analysis

import (
	"github.com/madhavcvedpathak/YogaPoseMonitor2/internal/models"
)

// Analyzer classifies the landmarks of one person.
type Analyzer interface {
	Analyze(landmarks []models.Landmark) (label string, confidence float64)
}

// Static reports the same label for every frame. It stands in until a real
// classifier is plugged in.
type Static struct {
	Label      string
	Confidence float64
}

func NewStatic(label string, confidence float64) Static {
	if label == "" {
		label = "Unknown"
	}
	return Static{Label: label, Confidence: clamp01(confidence)}
}

func (s Static) Analyze([]models.Landmark) (string, float64) {
	return s.Label, s.Confidence
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Func adapts a plain function to Analyzer.
type Func func(landmarks []models.Landmark) (string, float64)

func (f Func) Analyze(landmarks []models.Landmark) (string, float64) {
	return f(landmarks)
}
