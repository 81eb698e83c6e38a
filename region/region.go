package region

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"math"
)

// ErrInvalidRegion is returned when fractional coordinates are out of order
// or outside [0,1].
var ErrInvalidRegion = errors.New("invalid region")

// Region locates one question on a page as fractions of the page's pixel
// dimensions. The origin is the upper-left corner of the image.
type Region struct {
	Top    float64 `json:"top"`
	Bottom float64 `json:"bottom"`
	Left   float64 `json:"left"`
	Right  float64 `json:"right"`
}

// New validates and returns a Region. top<bottom and left<right must hold.
func New(top, bottom, left, right float64) (Region, error) {
	r := Region{Top: top, Bottom: bottom, Left: left, Right: right}
	if err := r.Validate(); err != nil {
		return Region{}, err
	}
	return r, nil
}

// MustNew is New for static tables; it panics on invalid input.
func MustNew(top, bottom, left, right float64) Region {
	r, err := New(top, bottom, left, right)
	if err != nil {
		panic(err)
	}
	return r
}

// Rows is a full-width region spanning [top, bottom).
func Rows(top, bottom float64) Region { return MustNew(top, bottom, 0, 1) }

// Full covers the whole page.
var Full = Region{Top: 0, Bottom: 1, Left: 0, Right: 1}

// Validate reports whether the region satisfies its ordering and range
// invariants. A zero Region is invalid.
func (r Region) Validate() error {
	for _, v := range [...]float64{r.Top, r.Bottom, r.Left, r.Right} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%w: %v outside [0,1]", ErrInvalidRegion, r)
		}
	}
	if r.Top >= r.Bottom {
		return fmt.Errorf("%w: top %.3f >= bottom %.3f", ErrInvalidRegion, r.Top, r.Bottom)
	}
	if r.Left >= r.Right {
		return fmt.Errorf("%w: left %.3f >= right %.3f", ErrInvalidRegion, r.Left, r.Right)
	}
	return nil
}

func (r Region) String() string {
	return fmt.Sprintf("[t=%.3f b=%.3f l=%.3f r=%.3f]", r.Top, r.Bottom, r.Left, r.Right)
}

// Pixels maps the region onto bounds. Each edge is rounded to the nearest
// pixel and the result is clamped to bounds, so a region that rounds one
// pixel past the edge never produces an out-of-range rectangle.
func (r Region) Pixels(bounds image.Rectangle) image.Rectangle {
	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	rect := image.Rect(
		bounds.Min.X+int(math.Round(r.Left*w)),
		bounds.Min.Y+int(math.Round(r.Top*h)),
		bounds.Min.X+int(math.Round(r.Right*w)),
		bounds.Min.Y+int(math.Round(r.Bottom*h)),
	)
	return rect.Intersect(bounds)
}

// Crop returns a copy of the part of img covered by r. The returned image
// has its origin at (0,0) and shares no pixels with img.
func Crop(img image.Image, r Region) image.Image {
	rect := r.Pixels(img.Bounds())
	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), img, rect.Min, draw.Src)
	return dst
}

// Header returns the top fraction of the page region, where the printed
// question index sits.
func Header(fraction float64) Region {
	if fraction <= 0 || fraction > 1 {
		fraction = 1
	}
	return Region{Top: 0, Bottom: fraction, Left: 0, Right: 1}
}
