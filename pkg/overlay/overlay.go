// Package overlay draws the posture verdict and landmarks onto camera frames.
package overlay

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-posture/pkg/landmark"
	"github.com/teslashibe/go-posture/pkg/posture"
)

// Label colours
var (
	Yellow = color.RGBA{R: 255, G: 255, A: 255}
	Green  = color.RGBA{G: 255, A: 255}
	Red    = color.RGBA{R: 255, A: 255}
	Grey   = color.RGBA{R: 200, G: 200, B: 200, A: 255}
)

const (
	landmarkRadius = 5
	lineThickness  = 2
	fontScale      = 0.8
)

// Label returns the text and colour shown for a tick.
func Label(res posture.Result) (string, color.RGBA) {
	switch res.Reason {
	case posture.ReasonWaiting:
		return posture.MsgWaiting, Grey
	case posture.ReasonCalibrating, posture.ReasonCalibrated:
		return res.Message, Yellow
	case posture.ReasonAbsent:
		return posture.MsgNoPerson, Grey
	case posture.ReasonCorrect:
		return "OK", Green
	}
	if res.Slouching {
		return "ERROR: " + res.Message, Red
	}
	return res.Message, Grey
}

// ShowLandmarks reports whether landmarks should be drawn for a tick.
func ShowLandmarks(res posture.Result) bool {
	switch res.Reason {
	case posture.ReasonWaiting, posture.ReasonAbsent:
		return false
	}
	return true
}

// Annotator renders overlays onto JPEG frames.
type Annotator struct {
	quality int
}

// New creates an annotator that re-encodes at the given JPEG quality.
func New(quality int) *Annotator {
	if quality < 1 || quality > 100 {
		quality = 80
	}
	return &Annotator{quality: quality}
}

// Annotate decodes frame, draws the label and (when present) the landmarks,
// and returns the re-encoded JPEG.
func (a *Annotator) Annotate(frame []byte, sample *landmark.Sample, res posture.Result) ([]byte, error) {
	img, err := gocv.IMDecode(frame, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	defer img.Close()
	if img.Empty() {
		return nil, fmt.Errorf("decode frame: empty image")
	}

	text, c := Label(res)

	if sample != nil && ShowLandmarks(res) {
		drawSample(&img, *sample, c)
	}
	gocv.PutText(&img, text, image.Pt(10, 30), gocv.FontHersheySimplex, fontScale, c, lineThickness)

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, img, []int{gocv.IMWriteJpegQuality, a.quality})
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	return bytes.Clone(buf.GetBytes()), nil
}

func drawSample(img *gocv.Mat, s landmark.Sample, c color.RGBA) {
	w, h := img.Cols(), img.Rows()
	px := func(p landmark.Point) image.Point {
		return image.Pt(int(p.X*float64(w)), int(p.Y*float64(h)))
	}

	nose, left, right := px(s.Nose), px(s.LeftShoulder), px(s.RightShoulder)
	mid := image.Pt((left.X+right.X)/2, (left.Y+right.Y)/2)

	gocv.Line(img, left, right, c, lineThickness)
	gocv.Line(img, mid, nose, c, lineThickness)
	for _, p := range []image.Point{nose, left, right} {
		gocv.Circle(img, p, landmarkRadius, c, -1)
	}
}
