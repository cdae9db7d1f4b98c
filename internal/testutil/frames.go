package testutil

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// Marker is pure yellow, hue 30 in OpenCV's HSV space.
var Marker = color.RGBA{R: 255, G: 255, A: 255}

// Distractor is pure blue, well outside the marker hue range.
var Distractor = color.RGBA{B: 255, A: 255}

// BlankMat returns a black BGR image. The caller closes it.
func BlankMat(width, height int) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), height, width, gocv.MatTypeCV8UC3)
}

// MarkerMat returns a black BGR image with each rect filled in the marker
// colour. The caller closes it.
func MarkerMat(width, height int, rects ...image.Rectangle) gocv.Mat {
	return PaintedMat(width, height, Marker, rects...)
}

// PaintedMat returns a black BGR image with each rect filled in c.
func PaintedMat(width, height int, c color.RGBA, rects ...image.Rectangle) gocv.Mat {
	m := BlankMat(width, height)
	for _, r := range rects {
		gocv.Rectangle(&m, r, c, -1)
	}
	return m
}
