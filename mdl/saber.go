package mdl

// The saber blade buffer is always 176 vertices: four strips of 44, each
// a 2x22 grid. Face indices never come from the file; the engine assumed
// this table and so do we.

const (
	saberStrips     = 4
	saberStripCols  = 2
	saberStripRows  = 22
	saberStripVerts = saberStripCols * saberStripRows
)

// SaberFaces returns the fixed face-index table of a saber blade. The
// material id of every face is 0 and plane data is left zero; saber
// meshes are never used for collision.
func SaberFaces() []Face {
	faces := make([]Face, 0, saberStrips*(saberStripRows-1)*2)
	for s := 0; s < saberStrips; s++ {
		base := uint16(s * saberStripVerts)
		for r := uint16(0); r < saberStripRows-1; r++ {
			v00 := base + r
			v01 := base + r + 1
			v10 := base + saberStripRows + r
			v11 := base + saberStripRows + r + 1
			faces = append(faces,
				Face{Indices: [3]uint16{v00, v10, v11}},
				Face{Indices: [3]uint16{v00, v11, v01}},
			)
		}
	}
	return faces
}
