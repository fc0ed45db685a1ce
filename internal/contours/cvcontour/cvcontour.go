// Package cvcontour adapts OpenCV contours to the contours filter.
package cvcontour

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/banshee-data/fieldpose/internal/contours"
)

// Contour wraps a gocv point vector. It is only valid while the
// PointsVector it came from is open.
type Contour struct {
	pts gocv.PointVector
}

func (c Contour) Area() float64 {
	return gocv.ContourArea(c.pts)
}

func (c Contour) MinAreaRect() (float64, float64) {
	r := gocv.MinAreaRect(c.pts)
	return float64(r.Width), float64(r.Height)
}

func (c Contour) BoundingBox() (float64, float64) {
	r := gocv.BoundingRect(c.pts)
	return float64(r.Dx()), float64(r.Dy())
}

// Find extracts the external contours of a binary mask and returns the
// bounding rectangles of those that pass p.
func Find(mask gocv.Mat, p contours.Params) []image.Rectangle {
	found := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer found.Close()

	cs := make([]Contour, 0, found.Size())
	for i := 0; i < found.Size(); i++ {
		cs = append(cs, Contour{pts: found.At(i)})
	}

	kept := contours.Filter(cs, p, float64(mask.Rows()*mask.Cols()))
	out := make([]image.Rectangle, len(kept))
	for i, c := range kept {
		out[i] = gocv.BoundingRect(c.pts)
	}
	return out
}

// FindInFile loads an image as grayscale, applies a binary threshold and runs
// Find on the result.
func FindInFile(path string, threshold float32, p contours.Params) ([]image.Rectangle, error) {
	img := gocv.IMRead(path, gocv.IMReadGrayScale)
	if img.Empty() {
		return nil, fmt.Errorf("failed to read image %q", path)
	}
	defer img.Close()

	mask := gocv.NewMat()
	defer mask.Close()
	gocv.Threshold(img, &mask, threshold, 255, gocv.ThresholdBinary)

	return Find(mask, p), nil
}
