package geom

import "math"

// BoundingBox is an axis-aligned box. A zero value is not a valid empty
// box; use NewBoundingBox for that.
type BoundingBox struct {
	Min Vector3
	Max Vector3
}

// NewBoundingBox returns an empty box that extends to the first point
// added to it.
func NewBoundingBox() *BoundingBox {
	inf := Element(math.Inf(1))
	return &BoundingBox{
		Min: Vector3{X: inf, Y: inf, Z: inf},
		Max: Vector3{X: -inf, Y: -inf, Z: -inf},
	}
}

func (b *BoundingBox) Extend(p *Vector3) *BoundingBox {
	b.Min.X = Element(math.Min(float64(b.Min.X), float64(p.X)))
	b.Min.Y = Element(math.Min(float64(b.Min.Y), float64(p.Y)))
	b.Min.Z = Element(math.Min(float64(b.Min.Z), float64(p.Z)))
	b.Max.X = Element(math.Max(float64(b.Max.X), float64(p.X)))
	b.Max.Y = Element(math.Max(float64(b.Max.Y), float64(p.Y)))
	b.Max.Z = Element(math.Max(float64(b.Max.Z), float64(p.Z)))
	return b
}

func (b *BoundingBox) ExtendBox(b2 *BoundingBox) *BoundingBox {
	b.Extend(&b2.Min)
	b.Extend(&b2.Max)
	return b
}

func (b *BoundingBox) Contains(b2 *BoundingBox) bool {
	return b.Min.X <= b2.Min.X && b.Min.Y <= b2.Min.Y && b.Min.Z <= b2.Min.Z &&
		b.Max.X >= b2.Max.X && b.Max.Y >= b2.Max.Y && b.Max.Z >= b2.Max.Z
}

func (b *BoundingBox) Center() *Vector3 {
	return b.Min.Add(&b.Max).Scale(0.5)
}

func (b *BoundingBox) Size() *Vector3 {
	return b.Max.Sub(&b.Min)
}

// LongestAxis returns 0, 1 or 2 for X, Y or Z. Ties favor the later axis.
func (b *BoundingBox) LongestAxis() int {
	s := b.Size()
	axis := 0
	max := s.X
	if s.Y >= max {
		axis = 1
		max = s.Y
	}
	if s.Z >= max {
		axis = 2
	}
	return axis
}
