package mdl

import (
	"github.com/odysseytools/mdlconv/geom"
)

// ComputeTangents derives per-vertex tangents and bitangents from face
// positions and UV coordinates. Per-face frames are solved from the UV
// edge deltas, accumulated into the face's vertices, then averaged and
// renormalized. Degenerate results fall back to +X/+Y instead of NaN.
// Faces indexing past the UV array are skipped, not an error.
func ComputeTangents(faces []Face, vertices []geom.Vector3, uv []geom.Vector2) (tangents, bitangents []geom.Vector3) {
	tangents = make([]geom.Vector3, len(vertices))
	bitangents = make([]geom.Vector3, len(vertices))
	counts := make([]int, len(vertices))

	for _, f := range faces {
		i0, i1, i2 := int(f.Indices[0]), int(f.Indices[1]), int(f.Indices[2])
		if i0 >= len(uv) || i1 >= len(uv) || i2 >= len(uv) {
			continue
		}
		e1 := vertices[i1].Sub(&vertices[i0])
		e2 := vertices[i2].Sub(&vertices[i0])
		du1 := uv[i1].X - uv[i0].X
		dv1 := uv[i1].Y - uv[i0].Y
		du2 := uv[i2].X - uv[i0].X
		dv2 := uv[i2].Y - uv[i0].Y

		det := du1*dv2 - du2*dv1
		var tangent, bitangent *geom.Vector3
		if det != 0 {
			r := 1 / det
			tangent = e1.Scale(dv2 * r).Sub(e2.Scale(dv1 * r))
			bitangent = e2.Scale(du1 * r).Sub(e1.Scale(du2 * r))
		} else {
			tangent = &geom.Vector3{}
			bitangent = &geom.Vector3{}
		}

		for _, vi := range []int{i0, i1, i2} {
			tangents[vi] = *tangents[vi].Add(tangent)
			bitangents[vi] = *bitangents[vi].Add(bitangent)
			counts[vi]++
		}
	}

	for i := range tangents {
		if counts[i] > 0 {
			s := 1 / geom.Element(counts[i])
			tangents[i] = *tangents[i].Scale(s)
			bitangents[i] = *bitangents[i].Scale(s)
		}
		if tangents[i].LenSqr() > 0 {
			tangents[i] = *tangents[i].Normalize()
		} else {
			tangents[i] = geom.Vector3{X: 1}
		}
		if bitangents[i].LenSqr() > 0 {
			bitangents[i] = *bitangents[i].Normalize()
		} else {
			bitangents[i] = geom.Vector3{Y: 1}
		}
	}
	return tangents, bitangents
}

// FaceNormal computes the geometric normal via the cross product of two
// edges. Degenerate faces yield a zero vector.
func FaceNormal(f *Face, vertices []geom.Vector3) *geom.Vector3 {
	v0 := &vertices[f.Indices[0]]
	e1 := vertices[f.Indices[1]].Sub(v0)
	e2 := vertices[f.Indices[2]].Sub(v0)
	n := e1.Cross(e2)
	if n.LenSqr() > 0 {
		n = n.Normalize()
	}
	return n
}

// FaceArea returns the area of a triangle.
func FaceArea(f *Face, vertices []geom.Vector3) float32 {
	v0 := &vertices[f.Indices[0]]
	e1 := vertices[f.Indices[1]].Sub(v0)
	e2 := vertices[f.Indices[2]].Sub(v0)
	return e1.Cross(e2).Len() / 2
}
