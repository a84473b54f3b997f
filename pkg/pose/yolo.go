package pose

import (
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-posture/internal/log"
	"github.com/teslashibe/go-posture/pkg/landmark"
)

// MatEstimator is implemented by estimators that can work on a decoded
// frame directly, skipping the JPEG round trip.
type MatEstimator interface {
	EstimateMat(img gocv.Mat) (*landmark.Sample, error)
}

// YOLOConfig holds YOLOv8-pose configuration
type YOLOConfig struct {
	ModelPath        string
	ConfidenceThresh float32 // Minimum person score
	KeypointThresh   float32 // Minimum confidence for nose and shoulders
	InputWidth       int
	InputHeight      int
}

// DefaultYOLOConfig returns production defaults for YOLOv8n-pose
func DefaultYOLOConfig() YOLOConfig {
	return YOLOConfig{
		ModelPath:        "models/yolov8n-pose.onnx",
		ConfidenceThresh: 0.5,
		KeypointThresh:   0.3,
		InputWidth:       640,
		InputHeight:      640,
	}
}

// YOLOPose runs a YOLOv8-pose ONNX model with OpenCV's DNN module.
type YOLOPose struct {
	net       gocv.Net
	config    YOLOConfig
	mu        sync.Mutex // Protects inference
	inputSize image.Point
}

// NewYOLOPose loads the pose model.
func NewYOLOPose(cfg YOLOConfig) (*YOLOPose, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, cfg.ModelPath)
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load pose model from %s", cfg.ModelPath)
	}

	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &YOLOPose{
		net:       net,
		config:    cfg,
		inputSize: image.Pt(cfg.InputWidth, cfg.InputHeight),
	}, nil
}

// Estimate decodes the JPEG and runs EstimateMat.
func (y *YOLOPose) Estimate(jpeg []byte) (*landmark.Sample, error) {
	img, err := gocv.IMDecode(jpeg, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	defer img.Close()

	return y.EstimateMat(img)
}

// EstimateMat finds the highest-scoring person in a BGR image.
func (y *YOLOPose) EstimateMat(img gocv.Mat) (*landmark.Sample, error) {
	if img.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	y.mu.Lock()
	defer y.mu.Unlock()

	// Plain resize (no letterbox), so normalized output coordinates map
	// straight back onto the original frame.
	blob := gocv.BlobFromImage(img, 1.0/255.0, y.inputSize, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	y.net.SetInput(blob, "")
	output := y.net.Forward("")
	defer output.Close()

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}

	sample, score := parsePoseOutput(data, output.Size(), y.config)
	if sample != nil {
		log.Debug("pose detected", "score", score)
	}
	return sample, nil
}

// parsePoseOutput scans a [1, 56, N] YOLOv8-pose tensor for the best person.
// Channels: 0-3 box (cx, cy, w, h), 4 person score, then 17 keypoints of
// (x, y, confidence) in input pixels.
func parsePoseOutput(data []float32, dims []int, cfg YOLOConfig) (*landmark.Sample, float32) {
	if len(dims) != 3 || dims[1] < 5+3*17 {
		return nil, 0
	}
	channels, anchors := dims[1], dims[2]
	if len(data) < channels*anchors {
		return nil, 0
	}

	at := func(c, i int) float32 { return data[c*anchors+i] }

	best, bestScore := -1, cfg.ConfidenceThresh
	for i := 0; i < anchors; i++ {
		if s := at(4, i); s >= bestScore {
			best, bestScore = i, s
		}
	}
	if best < 0 {
		return nil, 0
	}

	keypoint := func(k int) (landmark.Point, bool) {
		base := 5 + 3*k
		p := landmark.Point{
			X: float64(at(base, best)) / float64(cfg.InputWidth),
			Y: float64(at(base+1, best)) / float64(cfg.InputHeight),
		}
		return p, at(base+2, best) >= cfg.KeypointThresh
	}

	nose, okN := keypoint(KeypointNose)
	left, okL := keypoint(KeypointLeftShoulder)
	right, okR := keypoint(KeypointRightShoulder)
	if !okN || !okL || !okR {
		return nil, bestScore
	}

	return &landmark.Sample{Nose: nose, LeftShoulder: left, RightShoulder: right}, bestScore
}

// Close releases the network
func (y *YOLOPose) Close() error {
	y.mu.Lock()
	defer y.mu.Unlock()
	return y.net.Close()
}
