package camera

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-posture/internal/log"
	"github.com/teslashibe/go-posture/pkg/landmark"
	"github.com/teslashibe/go-posture/pkg/pose"
)

// Camera is a landmark.Source backed by a local webcam.
type Camera struct {
	config    Config
	capture   *gocv.VideoCapture
	frame     gocv.Mat
	estimator pose.Estimator

	mu     sync.Mutex
	closed bool
}

// Open opens the capture device. The estimator is owned by the caller.
func Open(cfg Config, estimator pose.Estimator) (*Camera, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("camera config: %v", errs)
	}

	capture, err := gocv.OpenVideoCapture(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("open camera %d: %w", cfg.Device, err)
	}
	capture.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	capture.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	capture.Set(gocv.VideoCaptureFPS, float64(cfg.Framerate))

	log.Info("camera opened", "device", cfg.Device, "width", cfg.Width, "height", cfg.Height)

	return &Camera{
		config:    cfg,
		capture:   capture,
		frame:     gocv.NewMat(),
		estimator: estimator,
	}, nil
}

// Next grabs a frame and estimates the pose in it. A failed read is
// reported as landmark.ErrNoFrame. A failed estimate still returns the frame,
// with no person.
func (c *Camera) Next(ctx context.Context) (landmark.Observation, error) {
	if err := ctx.Err(); err != nil {
		return landmark.Observation{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return landmark.Observation{}, landmark.ErrClosed
	}

	if ok := c.capture.Read(&c.frame); !ok || c.frame.Empty() {
		return landmark.Observation{}, landmark.ErrNoFrame
	}
	if c.config.Mirror {
		gocv.Flip(c.frame, &c.frame, 1)
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, c.frame, []int{gocv.IMWriteJpegQuality, c.config.Quality})
	if err != nil {
		return landmark.Observation{}, fmt.Errorf("%w: encode: %v", landmark.ErrNoFrame, err)
	}
	jpeg := bytes.Clone(buf.GetBytes())
	buf.Close()

	obs := landmark.Observation{Frame: jpeg, At: time.Now()}

	var sample *landmark.Sample
	if me, ok := c.estimator.(pose.MatEstimator); ok {
		sample, err = me.EstimateMat(c.frame)
	} else {
		sample, err = c.estimator.Estimate(jpeg)
	}
	if err != nil {
		log.Debug("pose estimation failed", "error", err)
		return obs, nil
	}

	obs.Sample = sample
	return obs, nil
}

// Config returns the capture settings.
func (c *Camera) Config() Config {
	return c.config
}

// Close releases the device. Later calls to Next return landmark.ErrClosed.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.frame.Close()
	return c.capture.Close()
}
