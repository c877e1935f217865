package mdl

import (
	"math"
	"testing"
)

func TestQuaternionCompression(t *testing.T) {
	cases := [][4]float32{
		{0, 0, 0, 1},
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0.5, 0.5, 0.5, 0.5},
		{-0.5, 0.5, -0.5, 0.5},
		{0.707107, 0, 0, 0.707107},
		{0, -0.707107, 0.707107, 0},
	}
	for _, q := range cases {
		packed := CompressQuaternion(q[0], q[1], q[2], q[3])
		x, y, z, w := DecompressQuaternion(packed)

		if w < 0 {
			t.Errorf("q=%v: decompressed w = %g, want >= 0", q, w)
		}

		// The codec flips to the w >= 0 hemisphere, which represents the
		// same rotation.
		ex, ey, ez, ew := q[0], q[1], q[2], q[3]
		if ew < 0 {
			ex, ey, ez, ew = -ex, -ey, -ez, -ew
		}
		const tol = 2e-3
		for i, d := range []float32{x - ex, y - ey, z - ez, w - ew} {
			if math.Abs(float64(d)) > tol {
				t.Errorf("q=%v: component %d off by %g", q, i, d)
			}
		}
	}
}

func TestQuaternionCompressionIdempotent(t *testing.T) {
	// Re-encoding a decompressed quaternion must reproduce the packed
	// word exactly, or file round trips would drift.
	for _, packed := range []uint32{
		CompressQuaternion(0, 0, 0, 1),
		CompressQuaternion(0.3, -0.4, 0.5, 0.7071),
		CompressQuaternion(-0.1, 0.2, -0.3, -0.9),
	} {
		x, y, z, w := DecompressQuaternion(packed)
		if again := CompressQuaternion(x, y, z, w); again != packed {
			t.Errorf("repack = %#x, want %#x", again, packed)
		}
	}
}

func TestControllerLookup(t *testing.T) {
	if d := lookupController(categoryHeader, ControllerPosition); d == nil || d.Name != "position" {
		t.Errorf("position lookup failed: %+v", d)
	}
	if d := lookupController(categoryLight, 76); d == nil || d.Name != "color" {
		t.Errorf("light color lookup failed: %+v", d)
	}
	// Type 100 is self-illumination color on meshes but vertical
	// displacement on lights.
	if d := lookupController(categoryMesh, 100); d == nil || d.Name != "selfillumcolor" || d.Columns != 3 {
		t.Errorf("mesh 100 lookup = %+v", d)
	}
	if d := lookupController(categoryLight, 100); d == nil || d.Name != "verticaldisplacement" || d.Columns != 1 {
		t.Errorf("light 100 lookup = %+v", d)
	}
	if d := lookupController(categoryHeader, 88); d != nil {
		t.Errorf("light radius resolved on a header node: %+v", d)
	}
	if d := lookupControllerByName(categoryEmitter, "birthrate"); d == nil || d.Type != 88 {
		t.Errorf("birthrate lookup = %+v", d)
	}
}
