package models

// Landmark is a single body keypoint in normalized image coordinates.
type Landmark struct {
	X          float32 `json:"x"`
	Y          float32 `json:"y"`
	Z          float32 `json:"z"`
	Visibility float32 `json:"visibility"`
}

// PoseResult holds the landmark sets returned for one frame, one set per person.
type PoseResult struct {
	TimestampMs int64        `json:"timestamp_ms"`
	Landmarks   [][]Landmark `json:"landmarks"`
}

func (r PoseResult) HasPerson() bool {
	for _, lm := range r.Landmarks {
		if len(lm) > 0 {
			return true
		}
	}
	return false
}

// PoseEvent is one analyzed frame recorded during a session.
type PoseEvent struct {
	Timestamp  float64 `json:"timestamp"`
	Pose       string  `json:"pose"`
	Confidence float64 `json:"confidence"`
}
