package mdl

import (
	"math"
	"strings"
	"testing"

	"github.com/odysseytools/mdlconv/geom"
)

const asciiFixture = `
# exported placeable
newmodel plc_crate
setsupermodel plc_crate NULL
classification Placeable
setanimationscale 1.0
ignorefog 0
beginmodelgeom plc_crate
node dummy plc_crate
  parent NULL
endnode
node trimesh box
  parent plc_crate
  position 0.0 0.0 1.0
  orientation 0.0 0.0 1.0 1.570796
  ambient 0.2 0.2 0.2
  diffuse 0.8 0.7 0.6
  bitmap plc_crate01
  transparencyhint 0
  shadow 1
  verts 3
    0.0 0.0 0.0
    1.0 0.0 0.0
    0.0 1.0 0.0
  faces 1
    0 1 2  1  0 1 2  7
  tverts 3
    0.0 0.0 0.0
    1.0 0.0 0.0
    0.0 1.0 0.0
endnode
node skin arm
  parent plc_crate
  bitmap plc_crate01
  verts 2
    0.0 0.0 0.0
    0.0 0.0 1.0
  faces 1
    0 1 1  1  0 1 1  0
  tverts 2
    0.0 0.0 0.0
    1.0 1.0 0.0
  weights 2
    box 1.0
    box 0.5 plc_crate 0.5
endnode
node light lamp
  parent plc_crate
  color 1.0 0.5 0.25
  radius 14.0
  lightpriority 4
  ambientonly 0
  shadow 1
endnode
endmodelgeom plc_crate
newanim open plc_crate
  length 2.0
  transtime 0.25
  animroot plc_crate
  event 0.5 opened
  node dummy box
    parent plc_crate
    positionkey 2
      0.0 0.0 0.0 1.0
      2.0 0.0 0.0 2.0
    orientationkey
      0.0 0.0 0.0 1.0 0.0
      2.0 0.0 0.0 1.0 3.141593
    endlist
  endnode
doneanim open plc_crate
donemodel plc_crate
`

func TestDecodeASCII(t *testing.T) {
	m, err := DecodeASCII(strings.NewReader(asciiFixture))
	if err != nil {
		t.Fatalf("DecodeASCII() error: %v", err)
	}

	if m.Name != "plc_crate" || m.Classification != ClassificationPlaceable {
		t.Errorf("model header = %q/%v", m.Name, m.Classification)
	}
	if !m.AffectedByFog {
		t.Errorf("ignorefog 0 should leave the model affected by fog")
	}
	if m.Root == nil || m.Root.Name != "plc_crate" || len(m.Root.Children) != 3 {
		t.Fatalf("tree shape wrong: %+v", m.Root)
	}

	box := m.NodeByName("box")
	if box == nil || box.Mesh == nil {
		t.Fatal("trimesh node lost")
	}
	if box.Position != (geom.Vector3{Z: 1}) {
		t.Errorf("position = %+v", box.Position)
	}
	// 90 degrees about +Z.
	q := box.Orientation
	if math.Abs(float64(q.Z)-math.Sqrt2/2) > 1e-4 || math.Abs(float64(q.W)-math.Sqrt2/2) > 1e-4 {
		t.Errorf("orientation = %+v, want z rotation", q)
	}
	if len(box.Mesh.Vertices) != 3 || len(box.Mesh.Faces) != 1 {
		t.Fatalf("mesh = %d verts, %d faces", len(box.Mesh.Vertices), len(box.Mesh.Faces))
	}
	if box.Mesh.Faces[0].Material != 7 {
		t.Errorf("face material = %d, want 7", box.Mesh.Faces[0].Material)
	}
	if len(box.Mesh.UV1) != 3 || box.Mesh.UV1[1] != (geom.Vector2{X: 1}) {
		t.Errorf("tverts not applied: %+v", box.Mesh.UV1)
	}
	if box.Mesh.Texture1 != "plc_crate01" || !box.Mesh.Shadow {
		t.Errorf("mesh properties lost")
	}

	arm := m.NodeByName("arm")
	if arm == nil || arm.Mesh == nil || arm.Mesh.Skin == nil {
		t.Fatal("skin node lost")
	}
	skin := arm.Mesh.Skin
	if len(skin.VertexWeights) != 2 {
		t.Fatalf("weights = %d rows", len(skin.VertexWeights))
	}
	if skin.VertexWeights[1] != [4]float32{0.5, 0.5, 0, 0} {
		t.Errorf("weights row = %v", skin.VertexWeights[1])
	}
	// Slot 0 is "box", slot 1 is "plc_crate"; the bonemap carries their
	// node numbers.
	if len(skin.Bonemap) != 2 ||
		skin.Bonemap[0] != float32(box.Number) ||
		skin.Bonemap[1] != float32(m.Root.Number) {
		t.Errorf("bonemap = %v", skin.Bonemap)
	}
	if len(skin.BoneSerial) != 2 {
		t.Errorf("derived bone tables missing: %v", skin.BoneSerial)
	}

	lamp := m.NodeByName("lamp")
	if lamp == nil || lamp.Light == nil {
		t.Fatal("light node lost")
	}
	if lamp.Light.Priority != 4 || !lamp.Light.Shadow {
		t.Errorf("light properties lost: %+v", lamp.Light)
	}
	// color and radius are table controllers, not struct fields.
	if len(lamp.Controllers) != 2 || lamp.Controllers[0].Type != 76 || lamp.Controllers[1].Type != 88 {
		t.Fatalf("light controllers = %+v", lamp.Controllers)
	}
	if lamp.Controllers[1].Keys[0].Values[0] != 14 {
		t.Errorf("radius = %v", lamp.Controllers[1].Keys[0].Values)
	}

	if len(m.Animations) != 1 {
		t.Fatalf("animations = %d", len(m.Animations))
	}
	anim := m.Animations[0]
	if anim.Name != "open" || anim.Length != 2 || anim.TransitionTime != 0.25 {
		t.Errorf("animation header = %+v", anim)
	}
	if len(anim.Events) != 1 || anim.Events[0].Name != "opened" {
		t.Errorf("events = %+v", anim.Events)
	}
	if anim.Root == nil || anim.Root.Name != "box" || anim.Root.Number != box.Number {
		t.Fatalf("animation root = %+v", anim.Root)
	}
	if len(anim.Root.Controllers) != 2 {
		t.Fatalf("animation controllers = %d", len(anim.Root.Controllers))
	}
	pos := anim.Root.Controllers[0]
	if pos.Type != ControllerPosition || len(pos.Keys) != 2 || pos.Keys[1].Time != 2 || pos.Keys[1].Values[2] != 2 {
		t.Errorf("position track = %+v", pos)
	}
	orient := anim.Root.Controllers[1]
	if orient.Type != ControllerOrientation || len(orient.Keys) != 2 {
		t.Fatalf("orientation track = %+v", orient)
	}
	// Half turn about +Z at t=2.
	last := orient.Keys[1].Values
	if math.Abs(float64(last[2])-1) > 1e-4 || math.Abs(float64(last[3])) > 1e-4 {
		t.Errorf("orientation key = %v, want (0,0,1,0)", last)
	}
}

func TestDecodeASCIIToBinary(t *testing.T) {
	m, err := DecodeASCII(strings.NewReader(asciiFixture))
	if err != nil {
		t.Fatalf("DecodeASCII() error: %v", err)
	}
	mdlData, mdxData, err := Encode(m, VariantK1PC, nil)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	decoded, err := Decode(mdlData, mdxData)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if decoded.Name != "plc_crate" || len(decoded.Root.Children) != 3 {
		t.Errorf("binary round trip lost the tree")
	}
	if decoded.NodeByName("arm").Mesh.Skin == nil {
		t.Errorf("binary round trip lost the skin")
	}
}

func TestDecodeASCIIErrors(t *testing.T) {
	cases := []string{
		"node trimesh a\nparent NULL\nverts 2\n0 0 0\n", // truncated list
		"node trimesh a\nparent b\nendnode\n",           // unknown parent
		"newmodel x\n",                                  // no root
		"node dummy a\nparent NULL\norientationbezierkey 1\n0 0 0 1 0 0 0 0 1 0 0 0 1 0\nendnode\n", // bezier axis-angle rows
	}
	for _, src := range cases {
		if _, err := DecodeASCII(strings.NewReader(src)); err == nil {
			t.Errorf("DecodeASCII(%q) succeeded, want error", src)
		}
	}
}
