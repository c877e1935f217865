package mdl

import "math"

// Controller is a typed, time-keyed property curve on a node.
type Controller struct {
	Type uint32
	// Bezier rows carry three values per column: the key value plus
	// in/out tangent deltas relative to it.
	Bezier bool
	Keys   []ControllerKey
}

// ControllerKey is one keyframe row.
type ControllerKey struct {
	Time   float32
	Values []float32
}

// Controller type ids shared by every node kind.
const (
	ControllerPosition    uint32 = 8
	ControllerOrientation uint32 = 20
	ControllerScale       uint32 = 36
)

type controllerCategory uint8

const (
	categoryHeader controllerCategory = 1 << iota
	categoryLight
	categoryEmitter
	categoryMesh

	categoryAll = categoryHeader | categoryLight | categoryEmitter | categoryMesh
)

func (n *Node) controllerCategory() controllerCategory {
	switch {
	case n.Light != nil:
		return categoryLight
	case n.Emitter != nil:
		return categoryEmitter
	case n.Mesh != nil:
		return categoryMesh
	}
	return categoryHeader
}

// controllerDef is one row of the declarative controller table. The table
// drives the binary codec and the textual form alike: the textual form
// names a keyed track "<name>key" and a single static value "<name>".
type controllerDef struct {
	Type     uint32
	Name     string
	Columns  int
	Category controllerCategory
}

var controllerDefs = []controllerDef{
	{8, "position", 3, categoryAll},
	{20, "orientation", 4, categoryAll},
	{36, "scale", 1, categoryAll},

	{100, "selfillumcolor", 3, categoryMesh},
	{132, "alpha", 1, categoryMesh},

	{76, "color", 3, categoryLight},
	{88, "radius", 1, categoryLight},
	{96, "shadowradius", 1, categoryLight},
	{100, "verticaldisplacement", 1, categoryLight},
	{140, "multiplier", 1, categoryLight},

	{80, "alphaEnd", 1, categoryEmitter},
	{84, "alphaStart", 1, categoryEmitter},
	{88, "birthrate", 1, categoryEmitter},
	{92, "bounce_co", 1, categoryEmitter},
	{96, "combinetime", 1, categoryEmitter},
	{100, "drag", 1, categoryEmitter},
	{104, "fps", 1, categoryEmitter},
	{108, "frameEnd", 1, categoryEmitter},
	{112, "frameStart", 1, categoryEmitter},
	{116, "grav", 1, categoryEmitter},
	{120, "lifeExp", 1, categoryEmitter},
	{124, "mass", 1, categoryEmitter},
	{128, "p2p_bezier2", 1, categoryEmitter},
	{132, "p2p_bezier3", 1, categoryEmitter},
	{136, "particleRot", 1, categoryEmitter},
	{140, "randvel", 1, categoryEmitter},
	{144, "sizeStart", 1, categoryEmitter},
	{148, "sizeEnd", 1, categoryEmitter},
	{152, "sizeStart_y", 1, categoryEmitter},
	{156, "sizeEnd_y", 1, categoryEmitter},
	{160, "spread", 1, categoryEmitter},
	{164, "threshold", 1, categoryEmitter},
	{168, "velocity", 1, categoryEmitter},
	{172, "xsize", 1, categoryEmitter},
	{176, "ysize", 1, categoryEmitter},
	{180, "blurlength", 1, categoryEmitter},
	{184, "lightningDelay", 1, categoryEmitter},
	{188, "lightningRadius", 1, categoryEmitter},
	{192, "lightningScale", 1, categoryEmitter},
	{196, "lightningSubDiv", 1, categoryEmitter},
	{200, "lightningZigZag", 1, categoryEmitter},
	{216, "alphaMid", 1, categoryEmitter},
	{220, "percentStart", 1, categoryEmitter},
	{224, "percentMid", 1, categoryEmitter},
	{228, "percentEnd", 1, categoryEmitter},
	{232, "sizeMid", 1, categoryEmitter},
	{236, "sizeMid_y", 1, categoryEmitter},
	{240, "randomBirthRate", 1, categoryEmitter},
	{252, "targetsize", 1, categoryEmitter},
	{256, "numcontrolpts", 1, categoryEmitter},
	{260, "controlptradius", 1, categoryEmitter},
	{264, "controlptdelay", 1, categoryEmitter},
	{268, "tangentspread", 1, categoryEmitter},
	{272, "tangentlength", 1, categoryEmitter},
	{284, "colorMid", 3, categoryEmitter},
	{380, "colorEnd", 3, categoryEmitter},
	{392, "colorStart", 3, categoryEmitter},
	{502, "detonate", 1, categoryEmitter},
}

func lookupController(category controllerCategory, typ uint32) *controllerDef {
	for i := range controllerDefs {
		d := &controllerDefs[i]
		if d.Type == typ && d.Category&category != 0 {
			return d
		}
	}
	return nil
}

func lookupControllerByName(category controllerCategory, name string) *controllerDef {
	for i := range controllerDefs {
		d := &controllerDefs[i]
		if d.Name == name && d.Category&category != 0 {
			return d
		}
	}
	return nil
}

// CompressQuaternion packs a unit quaternion into signed 11/11/10-bit
// fixed point (x, y, z). W is not stored: the encoder flips the
// quaternion to the hemisphere with w >= 0 first, and the decoder derives
// w back from the unit length identity.
func CompressQuaternion(x, y, z, w float32) uint32 {
	if w < 0 {
		x, y, z = -x, -y, -z
	}
	return packComponent(x, 1023) | packComponent(y, 1023)<<11 | packComponent(z, 511)<<22
}

// DecompressQuaternion unpacks a quaternion compressed by
// CompressQuaternion. W is clamped to zero if rounding pushed x,y,z
// slightly past unit length.
func DecompressQuaternion(packed uint32) (x, y, z, w float32) {
	x = float32(packed&0x7ff)/1023 - 1
	y = float32(packed>>11&0x7ff)/1023 - 1
	z = float32(packed>>22)/511 - 1
	dot := float64(x*x + y*y + z*z)
	if dot < 1 {
		w = float32(math.Sqrt(1 - dot))
	}
	return
}

func packComponent(v float32, scale float32) uint32 {
	n := int32((v+1)*scale + 0.5)
	if n < 0 {
		n = 0
	} else if n > int32(scale)*2 {
		n = int32(scale) * 2
	}
	return uint32(n)
}
