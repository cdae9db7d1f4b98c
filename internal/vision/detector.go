package vision

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/banshee-data/waterlevel/internal/calibration"
)

// HSV is an OpenCV hue/saturation/value triple (hue 0-180, others 0-255).
type HSV [3]float64

// DetectorConfig fixes the marker colour range and the column window the
// marker is searched in.
type DetectorConfig struct {
	ColumnStart int
	ColumnEnd   int
	HueLower    HSV
	HueUpper    HSV

	// DrawCalibration overlays one labelled line per calibration point.
	DrawCalibration bool
}

// DefaultDetectorConfig returns the window and yellow hue range of the
// reference installation.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		ColumnStart: 1020,
		ColumnEnd:   1180,
		HueLower:    HSV{25, 100, 100},
		HueUpper:    HSV{90, 255, 255},
	}
}

func (c DetectorConfig) Validate() error {
	if c.ColumnStart < 0 || c.ColumnEnd <= c.ColumnStart {
		return fmt.Errorf("vision: invalid column window [%d, %d)", c.ColumnStart, c.ColumnEnd)
	}
	for i := range c.HueLower {
		if c.HueLower[i] > c.HueUpper[i] {
			return errors.New("vision: hue lower bound exceeds upper bound")
		}
	}
	return nil
}

// CheckWidth reports whether the column window fits a frame of the given
// width. Detect clips an oversized window, so a misfit is a configuration
// mistake, not a failure: a window past the frame edge never sees a marker.
func (c DetectorConfig) CheckWidth(width int) error {
	if width > 0 && c.ColumnEnd > width {
		return fmt.Errorf("vision: column window [%d, %d) extends past the %dpx frame", c.ColumnStart, c.ColumnEnd, width)
	}
	return nil
}

// Result describes what Detect found in one frame. HasLevel implies Found.
type Result struct {
	Found    bool
	Row      int
	HasLevel bool
	Level    float64
}

const notDetectedText = "Water Level: Not Detected!"

var (
	guideColor   = color.RGBA{B: 255, A: 255} // drawn as BGR (255,0,0)
	levelColor   = color.RGBA{G: 255, A: 255}
	belowColor   = color.RGBA{R: 255, A: 255}
	textColor    = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	warningColor = color.RGBA{B: 255, A: 255}
)

// Detector locates the lowest marker-coloured region inside the column
// window and converts its top row to a level. A Detector holds no mutable
// state and may be shared.
type Detector struct {
	cfg   DetectorConfig
	curve *calibration.Curve
	lower gocv.Scalar
	upper gocv.Scalar
}

func NewDetector(cfg DetectorConfig, curve *calibration.Curve) (*Detector, error) {
	if curve == nil {
		return nil, errors.New("vision: nil calibration curve")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Detector{
		cfg:   cfg,
		curve: curve,
		lower: gocv.NewScalar(cfg.HueLower[0], cfg.HueLower[1], cfg.HueLower[2], 0),
		upper: gocv.NewScalar(cfg.HueUpper[0], cfg.HueUpper[1], cfg.HueUpper[2], 0),
	}, nil
}

// Detect analyses frame and returns an annotated copy together with the
// result. frame is left untouched and still belongs to the caller; the
// returned frame belongs to the caller as well.
func (d *Detector) Detect(frame *Frame) (*Frame, Result) {
	var res Result
	if row, ok := d.locate(frame.Mat); ok {
		res.Found = true
		res.Row = row
		res.Level, res.HasLevel = d.curve.Interpolate(row)
	}

	out := frame.Mat.Clone()
	d.annotate(&out, res)
	return NewFrame(out, frame.Seq, frame.Captured), res
}

// locate returns the top row of the marker region whose bounding box sits
// lowest in the frame.
func (d *Detector) locate(src gocv.Mat) (int, bool) {
	if src.Empty() {
		return 0, false
	}

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(src, &hsv, gocv.ColorBGRToHSV)

	mask := gocv.NewMat()
	defer mask.Close()
	gocv.InRangeWithScalar(hsv, d.lower, d.upper, &mask)

	start, end := d.window(mask.Cols())
	zeroColumns(&mask, 0, start)
	zeroColumns(&mask, end, mask.Cols())

	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	row, found := 0, false
	for i := 0; i < contours.Size(); i++ {
		rect := gocv.BoundingRect(contours.At(i))
		if !found || rect.Min.Y > row {
			row, found = rect.Min.Y, true
		}
	}
	return row, found
}

// window clamps the configured column window to a frame of the given width.
func (d *Detector) window(width int) (start, end int) {
	start = min(max(d.cfg.ColumnStart, 0), width)
	end = min(max(d.cfg.ColumnEnd, start), width)
	return start, end
}

func zeroColumns(mask *gocv.Mat, from, to int) {
	if to <= from || mask.Rows() == 0 {
		return
	}
	region := mask.Region(image.Rect(from, 0, to, mask.Rows()))
	defer region.Close()
	region.SetTo(gocv.NewScalar(0, 0, 0, 0))
}

func (d *Detector) annotate(img *gocv.Mat, res Result) {
	width, height := img.Cols(), img.Rows()

	start, end := d.window(width)
	gocv.Line(img, image.Pt(start, 0), image.Pt(start, height), guideColor, 2)
	gocv.Line(img, image.Pt(end, 0), image.Pt(end, height), guideColor, 2)

	if d.cfg.DrawCalibration {
		d.drawCalibration(img, res)
	}

	if !res.Found {
		gocv.PutText(img, notDetectedText, image.Pt(50, 50), gocv.FontHersheySimplex, 1, warningColor, 2)
		return
	}

	gocv.Line(img, image.Pt(0, res.Row), image.Pt(width, res.Row), levelColor, 2)
	if res.HasLevel {
		gocv.PutText(img, FormatLevel(res.Level), image.Pt(10, res.Row-10), gocv.FontHersheySimplex, 1, textColor, 2)
	}
}

// drawCalibration marks every calibration row: green at or above the marker,
// red below it.
func (d *Detector) drawCalibration(img *gocv.Mat, res Result) {
	width := img.Cols()
	for _, p := range d.curve.Points() {
		c := levelColor
		if res.Found && p.Row > res.Row {
			c = belowColor
		}
		gocv.Line(img, image.Pt(0, p.Row), image.Pt(width, p.Row), c, 2)
		gocv.PutText(img, FormatLevel(p.Level), image.Pt(10, p.Row-5), gocv.FontHersheySimplex, 0.6, textColor, 2)
	}
}

// FormatLevel renders a level the way it is printed on the stream.
func FormatLevel(level float64) string {
	return fmt.Sprintf("%.2fm", level)
}
