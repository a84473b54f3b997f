// Package pose turns camera frames into landmark samples. The estimators
// here are thin adapters around an external model: a local YOLOv8-pose
// network run through OpenCV, or a remote pose service over HTTP.
package pose

import (
	"errors"

	"github.com/teslashibe/go-posture/pkg/landmark"
)

// ErrModelNotFound is returned when the model file is missing.
var ErrModelNotFound = errors.New("pose: model file not found")

// COCO keypoint indices used for posture.
const (
	KeypointNose          = 0
	KeypointLeftShoulder  = 5
	KeypointRightShoulder = 6
)

// Estimator finds the landmarks of the most prominent person in a frame.
type Estimator interface {
	// Estimate returns nil when no person is found.
	Estimate(jpeg []byte) (*landmark.Sample, error)

	// Close releases resources
	Close() error
}
