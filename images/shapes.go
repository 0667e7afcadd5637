// Package images - Geometry shared by decoding, suppression and coordinate mapping.
package images

import "github.com/chewxy/math32"

// Box is an axis-aligned box in center format, as emitted by YOLO style heads.
//
// The rectangle covered by a Box is [CX-W/2, CX+W/2] x [CY-H/2, CY+H/2].
type Box struct {
	CX, CY, W, H float32
}

// Corners returns the top-left and bottom-right corners of the box.
func (b Box) Corners() (x1, y1, x2, y2 float32) {
	return b.CX - b.W/2, b.CY - b.H/2, b.CX + b.W/2, b.CY + b.H/2
}

// Area returns the area spanned by the corners of the box. Boxes with a
// negative width or height yield a negative area.
func (b Box) Area() float32 {
	x1, y1, x2, y2 := b.Corners()
	return (x2 - x1) * (y2 - y1)
}

// Finite reports whether every field of the box is a finite number.
func (b Box) Finite() bool {
	for _, v := range [4]float32{b.CX, b.CY, b.W, b.H} {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Rect is a pixel rectangle in image space.
type Rect struct {
	X      int `json:"x" yaml:"x"`
	Y      int `json:"y" yaml:"y"`
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// X2 returns the exclusive right edge of the rectangle.
func (r Rect) X2() int {
	return r.X + r.Width
}

// Y2 returns the exclusive bottom edge of the rectangle.
func (r Rect) Y2() int {
	return r.Y + r.Height
}

// Area returns the area of the rectangle in pixels.
func (r Rect) Area() int {
	return r.Width * r.Height
}

// CalculateIoU (Intersection over Union) measures how much two boxes overlap.
//
// It is formally defined by the formula:
//
//	IoU = Area of Intersection / Area of Union
//
//	- A value of 1.0 means the boxes are identical.
//	- A value of 0.0 means the boxes don't overlap at all.
//
// **1. Calculate the Intersection Area**
//
//	The top-left corner of the intersection is the *maximum* of the top-left
//	corners of the two boxes, the bottom-right corner is the *minimum* of the
//	bottom-right corners. A negative width or height is clamped to zero, so
//	disjoint boxes have an empty intersection.
//
// **2. Calculate the Union Area**
//
//	Area(Union) = Area(A) + Area(B) - Area(Intersection)
//
// **3. Divide and Return**
//
//	When the union is zero or negative (degenerate boxes) the IoU is defined
//	as 0, so degenerate boxes never match anything.
//
// Arguments:
//   - a: The first box.
//   - b: The other box to compare against.
//
// Returns:
//   - float32: The IoU score, 0 for disjoint or degenerate boxes.
//
// Example Usage:
// ```go
//
//	a := Box{CX: 5, CY: 5, W: 10, H: 10}
//	b := Box{CX: 10, CY: 10, W: 10, H: 10}
//
//	iou := CalculateIoU(a, b) // 25 / (100 + 100 - 25) = 0.142857
//
// ```
func CalculateIoU(a, b Box) float32 {
	ax1, ay1, ax2, ay2 := a.Corners()
	bx1, by1, bx2, by2 := b.Corners()

	interW := math32.Max(0, math32.Min(ax2, bx2)-math32.Max(ax1, bx1))
	interH := math32.Max(0, math32.Min(ay2, by2)-math32.Max(ay1, by1))
	inter := interW * interH

	union := a.Area() + b.Area() - inter
	if !(union > 0) {
		return 0
	}
	return inter / union
}
