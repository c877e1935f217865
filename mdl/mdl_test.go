package mdl

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/odysseytools/mdlconv/geom"
)

func quadMesh() *Mesh {
	return &Mesh{
		Vertices: []geom.Vector3{
			{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 1, Y: 1, Z: 0}, {X: 0, Y: 1, Z: 0},
		},
		Normals: []geom.Vector3{
			{Z: 1}, {Z: 1}, {Z: 1}, {Z: 1},
		},
		UV1: []geom.Vector2{
			{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1},
		},
		UV2: []geom.Vector2{
			{X: 0, Y: 1}, {X: 1, Y: 1}, {X: 1, Y: 0}, {X: 0, Y: 0},
		},
		Tangents: []geom.Vector3{
			{X: 1}, {X: 1}, {X: 1}, {X: 1},
		},
		Bitangents: []geom.Vector3{
			{Y: 1}, {Y: 1}, {Y: 1}, {Y: 1},
		},
		Faces: []Face{
			{Indices: [3]uint16{0, 1, 2}, Material: 1},
			{Indices: [3]uint16{0, 2, 3}, Material: 1},
		},
		Diffuse:          geom.Vector3{X: 0.8, Y: 0.8, Z: 0.8},
		Ambient:          geom.Vector3{X: 0.2, Y: 0.2, Z: 0.2},
		TransparencyHint: 1,
		Texture1:         "plc_panel",
		Texture2:         "plc_panel_lm",
		Render:           true,
		Shadow:           true,
		HasLightmap:      true,
		DirtEnabled:      true,
		DirtTexture:      5,
		DirtCoordSpace:   2,
		AnimateUV:        true,
		UVDirection:      geom.Vector2{X: 0.5, Y: -0.5},
		UVJitter:         0.1,
		UVJitterSpeed:    2,
	}
}

func saberVertices() ([]geom.Vector3, []geom.Vector2, []geom.Vector3) {
	verts := make([]geom.Vector3, SaberVertexCount)
	uv := make([]geom.Vector2, SaberVertexCount)
	normals := make([]geom.Vector3, SaberVertexCount)
	for i := range verts {
		verts[i] = geom.Vector3{X: float32(i % 2), Y: float32(i / 2), Z: 0}
		uv[i] = geom.Vector2{X: float32(i%2) / 2, Y: float32(i/2) / 22}
		normals[i] = geom.Vector3{Z: 1}
	}
	return verts, uv, normals
}

// testModel exercises every payload kind under one root.
func testModel() *Model {
	trimesh := &Node{
		Number:      1,
		Name:        "panel",
		Position:    geom.Vector3{X: 1, Y: 2, Z: 3},
		Orientation: geom.Quaternion{W: 1},
		Mesh:        quadMesh(),
	}

	skinMesh := quadMesh()
	skinMesh.Skin = &Skin{
		VertexWeights: [][4]float32{
			{1, 0, 0, 0}, {0.5, 0.5, 0, 0}, {1, 0, 0, 0}, {0.25, 0.75, 0, 0},
		},
		VertexBones: [][4]float32{
			{0, 0, 0, 0}, {0, 1, 0, 0}, {1, 0, 0, 0}, {0, 1, 0, 0},
		},
		Bonemap:          []float32{1, 2}, // slot -> node number
		BoneQuaternions:  []geom.Quaternion{{W: 1}, {X: 1}},
		BoneTranslations: []geom.Vector3{{X: 1}, {Y: 2}},
	}
	skinNode := &Node{Number: 2, Name: "body", Orientation: geom.Quaternion{W: 1}, Mesh: skinMesh}

	danglyMesh := quadMesh()
	danglyMesh.Dangly = &Dangly{
		Constraints:  []float32{0, 64, 128, 255},
		Displacement: 1.5,
		Tightness:    2.5,
		Period:       0.5,
	}
	danglyNode := &Node{Number: 3, Name: "cloth", Orientation: geom.Quaternion{W: 1}, Mesh: danglyMesh}

	aabbMesh := quadMesh()
	aabbMesh.AABB = &AABBNode{} // rebuilt on write
	aabbNode := &Node{Number: 4, Name: "walkmesh", Orientation: geom.Quaternion{W: 1}, Mesh: aabbMesh}

	sv, suv, sn := saberVertices()
	saberNode := &Node{
		Number:      5,
		Name:        "blade",
		Orientation: geom.Quaternion{W: 1},
		Mesh: &Mesh{
			Vertices: sv,
			UV1:      suv,
			Normals:  sn,
			Texture1: "w_lsabreblue01",
			Render:   true,
			Saber:    &Saber{},
		},
	}

	lightNode := &Node{
		Number:      6,
		Name:        "lamp",
		Position:    geom.Vector3{Z: 2},
		Orientation: geom.Quaternion{W: 1},
		Light: &Light{
			FlareRadius:      3,
			FlareSizes:       []float32{1, 2},
			FlarePositions:   []float32{0.25, 0.75},
			FlareColorShifts: []geom.Vector3{{X: 0.1}, {Y: 0.2}},
			FlareTextures:    []string{"flare1", "flare2"},
			Priority:         4,
			AmbientOnly:      true,
			DynamicType:      1,
			AffectDynamic:    true,
			Shadow:           true,
			Flare:            true,
		},
		Controllers: []*Controller{
			{Type: 76, Keys: []ControllerKey{{Time: 0, Values: []float32{1, 0.5, 0.25}}}},
			{Type: 88, Keys: []ControllerKey{{Time: 0, Values: []float32{7}}}},
		},
	}

	emitterNode := &Node{
		Number:      7,
		Name:        "sparks",
		Orientation: geom.Quaternion{W: 1},
		Emitter: &Emitter{
			DeadSpace:       0.5,
			BlastRadius:     2,
			BranchCount:     3,
			GridX:           4,
			GridY:           4,
			SpawnType:       1,
			Update:          "Fountain",
			Render:          "Billboard_to_Local_Z",
			Blend:           "Lighten",
			Texture:         "fx_spark",
			TwoSidedTexture: true,
			RenderOrder:     2,
			Flags:           EmitterFlagBounce | EmitterFlagRandom,
		},
	}

	refNode := &Node{
		Number:      8,
		Name:        "hook",
		Orientation: geom.Quaternion{W: 1},
		Reference:   &Reference{RefModel: "fx_hilt", Reattachable: true},
	}

	root := &Node{
		Number:      0,
		Name:        "plc_console",
		Orientation: geom.Quaternion{W: 1},
		Children: []*Node{
			trimesh, skinNode, danglyNode, aabbNode, saberNode,
			lightNode, emitterNode, refNode,
		},
	}

	anim := &Animation{
		Name:           "spark",
		AnimRoot:       "plc_console",
		Length:         1.5,
		TransitionTime: 0.25,
		Events: []Event{
			{Time: 0.5, Name: "hit"},
			{Time: 1.0, Name: "snd_footstep"},
		},
		Root: &Node{
			Number: 0,
			Name:   "plc_console",
			Controllers: []*Controller{
				{Type: ControllerOrientation, Keys: []ControllerKey{
					{Time: 0, Values: []float32{0, 0, 0, 1}},
					{Time: 1.5, Values: []float32{0, 0, 1, 0}},
				}},
			},
			Children: []*Node{{
				Number: 1,
				Name:   "panel",
				Controllers: []*Controller{
					{Type: ControllerPosition, Keys: []ControllerKey{
						{Time: 0, Values: []float32{0, 0, 0}},
						{Time: 0.75, Values: []float32{0, 0, 1}},
						{Time: 1.5, Values: []float32{0, 0, 0}},
					}},
					{Type: ControllerScale, Bezier: true, Keys: []ControllerKey{
						{Time: 0, Values: []float32{1, 0, 0}},
						{Time: 1.5, Values: []float32{2, -0.5, 0.5}},
					}},
				},
			}},
		},
	}

	return &Model{
		Name:           "plc_console",
		Classification: ClassificationPlaceable,
		AffectedByFog:  true,
		SupermodelName: "NULL",
		AnimationScale: 1,
		Root:           root,
		Animations:     []*Animation{anim},
	}
}

func encodeDecode(t *testing.T, m *Model, v *Variant, opts *EncodeOptions) (*Model, []byte, []byte) {
	t.Helper()
	mdlData, mdxData, err := Encode(m, v, opts)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	decoded, err := Decode(mdlData, mdxData)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	return decoded, mdlData, mdxData
}

func TestRoundTrip(t *testing.T) {
	m := testModel()
	decoded, _, _ := encodeDecode(t, m, VariantK2PC, nil)

	if decoded.Name != m.Name || decoded.Classification != m.Classification {
		t.Errorf("model header mismatch: %q/%v", decoded.Name, decoded.Classification)
	}
	if !decoded.AffectedByFog || decoded.SupermodelName != "NULL" || decoded.AnimationScale != 1 {
		t.Errorf("model header fields lost")
	}
	if len(decoded.Root.Children) != len(m.Root.Children) {
		t.Fatalf("child count = %d, want %d", len(decoded.Root.Children), len(m.Root.Children))
	}
	for i, want := range m.Root.Children {
		got := decoded.Root.Children[i]
		if got.Name != want.Name || got.Number != want.Number {
			t.Errorf("child %d = %q/%d, want %q/%d", i, got.Name, got.Number, want.Name, want.Number)
		}
		if got.Position != want.Position || got.Orientation != want.Orientation {
			t.Errorf("node %q transform mismatch", want.Name)
		}
	}

	// Plain trimesh. The model was mutated in place by Encode's prepare
	// step, so derived fields compare exactly.
	got := decoded.NodeByName("panel").Mesh
	want := m.NodeByName("panel").Mesh
	if !reflect.DeepEqual(got.Vertices, want.Vertices) ||
		!reflect.DeepEqual(got.Normals, want.Normals) ||
		!reflect.DeepEqual(got.UV1, want.UV1) ||
		!reflect.DeepEqual(got.UV2, want.UV2) ||
		!reflect.DeepEqual(got.Tangents, want.Tangents) ||
		!reflect.DeepEqual(got.Bitangents, want.Bitangents) {
		t.Errorf("trimesh vertex data mismatch")
	}
	if !reflect.DeepEqual(got.Faces, want.Faces) {
		t.Errorf("trimesh faces = %+v, want %+v", got.Faces, want.Faces)
	}
	if got.Texture1 != "plc_panel" || got.Texture2 != "plc_panel_lm" {
		t.Errorf("textures = %q, %q", got.Texture1, got.Texture2)
	}
	if !got.Render || !got.Shadow || !got.HasLightmap || !got.AnimateUV {
		t.Errorf("mesh flags lost")
	}
	if !got.DirtEnabled || got.DirtTexture != 5 || got.DirtCoordSpace != 2 {
		t.Errorf("second edition dirt fields lost")
	}
	if got.UVDirection != want.UVDirection || got.UVJitter != want.UVJitter {
		t.Errorf("uv animation fields lost")
	}
	if got.BoundingBox != want.BoundingBox || got.Average != want.Average || got.Radius != want.Radius {
		t.Errorf("derived mesh fields mismatch")
	}

	// Skin.
	gs := decoded.NodeByName("body").Mesh.Skin
	ws := m.NodeByName("body").Mesh.Skin
	if gs == nil {
		t.Fatal("skin payload lost")
	}
	if !reflect.DeepEqual(gs.VertexWeights, ws.VertexWeights) ||
		!reflect.DeepEqual(gs.VertexBones, ws.VertexBones) {
		t.Errorf("skin vertex data mismatch")
	}
	if !reflect.DeepEqual(gs.Bonemap, ws.Bonemap) {
		t.Errorf("bonemap = %v, want %v", gs.Bonemap, ws.Bonemap)
	}
	if !reflect.DeepEqual(gs.BoneQuaternions, ws.BoneQuaternions) ||
		!reflect.DeepEqual(gs.BoneTranslations, ws.BoneTranslations) {
		t.Errorf("bind pose mismatch")
	}

	// Dangly.
	gd := decoded.NodeByName("cloth").Mesh.Dangly
	wd := m.NodeByName("cloth").Mesh.Dangly
	if gd == nil || !reflect.DeepEqual(gd, wd) {
		t.Errorf("dangly payload = %+v, want %+v", gd, wd)
	}

	// AABB tree, rebuilt on write.
	ga := decoded.NodeByName("walkmesh").Mesh.AABB
	wa := m.NodeByName("walkmesh").Mesh.AABB
	if ga == nil || !reflect.DeepEqual(ga, wa) {
		t.Errorf("aabb tree mismatch")
	}

	// Saber.
	sb := decoded.NodeByName("blade").Mesh
	if sb.Saber == nil {
		t.Fatal("saber payload lost")
	}
	if len(sb.Vertices) != SaberVertexCount || len(sb.UV1) != SaberVertexCount || len(sb.Normals) != SaberVertexCount {
		t.Errorf("saber vertex arrays = %d/%d/%d", len(sb.Vertices), len(sb.UV1), len(sb.Normals))
	}
	if !reflect.DeepEqual(sb.Vertices, m.NodeByName("blade").Mesh.Vertices) {
		t.Errorf("saber vertices mismatch")
	}
	if !reflect.DeepEqual(sb.Faces, SaberFaces()) {
		t.Errorf("saber faces are not the fixed blade topology")
	}

	// Light.
	gl := decoded.NodeByName("lamp").Light
	wl := m.NodeByName("lamp").Light
	if gl == nil || !reflect.DeepEqual(gl, wl) {
		t.Errorf("light payload = %+v, want %+v", gl, wl)
	}
	if !reflect.DeepEqual(decoded.NodeByName("lamp").Controllers, m.NodeByName("lamp").Controllers) {
		t.Errorf("light controllers mismatch")
	}

	// Emitter and reference.
	if ge := decoded.NodeByName("sparks").Emitter; ge == nil || !reflect.DeepEqual(ge, m.NodeByName("sparks").Emitter) {
		t.Errorf("emitter payload mismatch")
	}
	if gr := decoded.NodeByName("hook").Reference; gr == nil || !reflect.DeepEqual(gr, m.NodeByName("hook").Reference) {
		t.Errorf("reference payload mismatch")
	}

	// Animation.
	if len(decoded.Animations) != 1 {
		t.Fatalf("animations = %d, want 1", len(decoded.Animations))
	}
	ga2 := decoded.Animations[0]
	wa2 := m.Animations[0]
	if ga2.Name != wa2.Name || ga2.Length != wa2.Length || ga2.TransitionTime != wa2.TransitionTime || ga2.AnimRoot != wa2.AnimRoot {
		t.Errorf("animation header mismatch")
	}
	if !reflect.DeepEqual(ga2.Events, wa2.Events) {
		t.Errorf("events = %+v, want %+v", ga2.Events, wa2.Events)
	}
	if !reflect.DeepEqual(ga2.Root.Controllers, wa2.Root.Controllers) {
		t.Errorf("animation root controllers mismatch")
	}
	if len(ga2.Root.Children) != 1 || ga2.Root.Children[0].Name != "panel" {
		t.Fatalf("animation tree shape lost")
	}
	if !reflect.DeepEqual(ga2.Root.Children[0].Controllers, wa2.Root.Children[0].Controllers) {
		t.Errorf("animation keyed controllers mismatch")
	}
}

func TestRoundTripIdempotent(t *testing.T) {
	for _, opts := range []*EncodeOptions{nil, {CompressQuaternions: true}} {
		m := testModel()
		mdl1, mdx1, err := Encode(m, VariantK1PC, opts)
		if err != nil {
			t.Fatalf("Encode() error: %v", err)
		}
		decoded, err := Decode(mdl1, mdx1)
		if err != nil {
			t.Fatalf("Decode() error: %v", err)
		}
		mdl2, mdx2, err := Encode(decoded, VariantK1PC, opts)
		if err != nil {
			t.Fatalf("re-Encode() error: %v", err)
		}
		if !bytes.Equal(mdl1, mdl2) {
			t.Errorf("opts %+v: structure stream differs after a decode/encode cycle", opts)
		}
		if !bytes.Equal(mdx1, mdx2) {
			t.Errorf("opts %+v: vertex stream differs after a decode/encode cycle", opts)
		}
	}
}

func TestCompressedOrientations(t *testing.T) {
	m := testModel()
	decoded, _, _ := encodeDecode(t, m, VariantK1PC, &EncodeOptions{CompressQuaternions: true})

	want := m.Animations[0].Root.Controllers[0]
	got := decoded.Animations[0].Root.Controllers[0]
	if len(got.Keys) != len(want.Keys) {
		t.Fatalf("keys = %d, want %d", len(got.Keys), len(want.Keys))
	}
	for i := range got.Keys {
		for j := range got.Keys[i].Values {
			if d := float64(got.Keys[i].Values[j] - want.Keys[i].Values[j]); math.Abs(d) > 2e-3 {
				t.Errorf("key %d value %d off by %g", i, j, d)
			}
		}
		if got.Keys[i].Values[3] < 0 {
			t.Errorf("key %d: decompressed w is negative", i)
		}
	}
}

func TestVariantRoundTrip(t *testing.T) {
	for _, v := range []*Variant{VariantK1PC, VariantK2PC, VariantK1Xbox, VariantK2Xbox} {
		t.Run(v.Name, func(t *testing.T) {
			m := testModel()
			decoded, mdlData, _ := encodeDecode(t, m, v, nil)

			dv, err := DetectVariant(mdlData)
			if err != nil {
				t.Fatalf("DetectVariant() error: %v", err)
			}
			if dv != v {
				t.Errorf("DetectVariant() = %s, want %s", dv.Name, v.Name)
			}

			gs := decoded.NodeByName("body").Mesh.Skin
			ws := m.NodeByName("body").Mesh.Skin
			if !reflect.DeepEqual(gs.VertexWeights, ws.VertexWeights) ||
				!reflect.DeepEqual(gs.VertexBones, ws.VertexBones) {
				t.Errorf("skin vertex data mismatch")
			}
			if v.SecondEdition != decoded.NodeByName("panel").Mesh.DirtEnabled {
				t.Errorf("dirt layer present = %v, want %v", decoded.NodeByName("panel").Mesh.DirtEnabled, v.SecondEdition)
			}
		})
	}
}

func TestUnknownVariant(t *testing.T) {
	_, mdlData, mdxData := func() (*Model, []byte, []byte) {
		m := testModel()
		a, b, err := Encode(m, VariantK1PC, nil)
		if err != nil {
			t.Fatal(err)
		}
		return m, a, b
	}()
	mdlData[12] = 0xde // first function pointer
	_, err := Decode(mdlData, mdxData)
	var uv *UnknownVariantError
	if !errors.As(err, &uv) {
		t.Fatalf("Decode() error = %v, want UnknownVariantError", err)
	}
}

func TestCorruptFileHeader(t *testing.T) {
	m := testModel()
	mdlData, mdxData, err := Encode(m, VariantK1PC, nil)
	if err != nil {
		t.Fatal(err)
	}

	var ch *CorruptHeaderError
	if _, err := Decode(mdlData[:8], nil); !errors.As(err, &ch) {
		t.Errorf("truncated header: error = %v, want CorruptHeaderError", err)
	}

	bad := append([]byte(nil), mdlData...)
	bad[0] = 1
	if _, err := Decode(bad, mdxData); !errors.As(err, &ch) {
		t.Errorf("nonzero sentinel: error = %v, want CorruptHeaderError", err)
	}

	if _, err := Decode(mdlData[:len(mdlData)-4], mdxData); !errors.As(err, &ch) {
		t.Errorf("size mismatch: error = %v, want CorruptHeaderError", err)
	}
}

func TestArrayCountMismatch(t *testing.T) {
	m := testModel()
	mdlData, mdxData, err := Encode(m, VariantK1PC, nil)
	if err != nil {
		t.Fatal(err)
	}
	// The animation array descriptor lives at byte 100 (structure base
	// 12 + model header offset 88); its second count is at byte 108.
	bad := append([]byte(nil), mdlData...)
	bad[108]++
	_, err = Decode(bad, mdxData)
	var am *ArrayCountMismatchError
	if !errors.As(err, &am) {
		t.Fatalf("Decode() error = %v, want ArrayCountMismatchError", err)
	}
	if am.Offset != 104 {
		t.Errorf("mismatch offset = %d, want 104", am.Offset)
	}
}

func TestMissingCompanionStream(t *testing.T) {
	m := testModel()
	mdlData, _, err := Encode(m, VariantK1PC, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = Decode(mdlData, nil)
	var ms *MissingCompanionStreamError
	if !errors.As(err, &ms) {
		t.Fatalf("Decode() error = %v, want MissingCompanionStreamError", err)
	}
}

func TestCyclicGraphRejected(t *testing.T) {
	root := &Node{Name: "root"}
	root.Children = []*Node{root}
	_, _, err := Encode(&Model{Name: "loop", Root: root}, VariantK1PC, nil)
	var cg *CyclicGraphError
	if !errors.As(err, &cg) {
		t.Fatalf("Encode() error = %v, want CyclicGraphError", err)
	}
}

func TestInvalidControllerType(t *testing.T) {
	m := testModel()
	m.Root.Controllers = []*Controller{
		{Type: 999, Keys: []ControllerKey{{Values: []float32{1}}}},
	}
	_, _, err := Encode(m, VariantK1PC, nil)
	var ic *InvalidControllerTypeError
	if !errors.As(err, &ic) {
		t.Fatalf("Encode() error = %v, want InvalidControllerTypeError", err)
	}
}

func TestInvertedCounters(t *testing.T) {
	m := testModel()
	decoded, _, _ := encodeDecode(t, m, VariantK1PC, nil)
	k := 0
	for _, n := range decoded.Nodes() {
		if n.Mesh == nil {
			continue
		}
		want := uint32(1)<<(uint(k)&31) - 1
		if n.Mesh.InvertedCounter != want {
			t.Errorf("mesh %d (%q) counter = %d, want %d", k, n.Name, n.Mesh.InvertedCounter, want)
		}
		k++
	}
	if k == 0 {
		t.Fatal("no meshes decoded")
	}
}

func TestNodeLookups(t *testing.T) {
	m := testModel()
	if n := m.NodeByNumber(4); n == nil || n.Name != "walkmesh" {
		t.Errorf("NodeByNumber(4) = %v", n)
	}
	if n := m.NodeByName("missing"); n != nil {
		t.Errorf("NodeByName(missing) = %v, want nil", n)
	}
	if got := len(m.Nodes()); got != 9 {
		t.Errorf("Nodes() = %d nodes, want 9", got)
	}
}

func TestAnimationPropertyKeys(t *testing.T) {
	m := testModel()
	anim := m.Animations[0]

	// Shadow nodes carry no payload themselves; property keys must still
	// validate against the model node they mirror.
	panel := anim.Root.Children[0]
	panel.Controllers = append(panel.Controllers, &Controller{
		Type: 132, // alpha, a mesh property
		Keys: []ControllerKey{
			{Time: 0, Values: []float32{1}},
			{Time: 1.5, Values: []float32{0}},
		},
	})
	anim.Root.Children = append(anim.Root.Children, &Node{
		Number: 6,
		Name:   "lamp",
		Controllers: []*Controller{
			{Type: 76, Keys: []ControllerKey{ // light color
				{Time: 0, Values: []float32{1, 1, 1}},
				{Time: 1.5, Values: []float32{0, 0, 0}},
			}},
		},
	})

	decoded, _, _ := encodeDecode(t, m, VariantK2PC, nil)
	ga := decoded.Animations[0]
	if len(ga.Root.Children) != 2 {
		t.Fatalf("animation children = %d, want 2", len(ga.Root.Children))
	}
	var alpha *Controller
	for _, c := range ga.Root.Children[0].Controllers {
		if c.Type == 132 {
			alpha = c
		}
	}
	if alpha == nil || len(alpha.Keys) != 2 || alpha.Keys[1].Values[0] != 0 {
		t.Fatalf("alpha track lost: %+v", alpha)
	}
	lamp := ga.Root.Children[1]
	if lamp.Name != "lamp" || len(lamp.Controllers) != 1 || lamp.Controllers[0].Type != 76 {
		t.Fatalf("light color track lost: %+v", lamp.Controllers)
	}
	if len(lamp.Controllers[0].Keys) != 2 {
		t.Errorf("color keys = %d, want 2", len(lamp.Controllers[0].Keys))
	}
}

func TestChildOffsetCycleRejected(t *testing.T) {
	m := testModel()
	mdlData, mdxData, err := Encode(m, VariantK1PC, nil)
	if err != nil {
		t.Fatal(err)
	}
	// Point the root's first child offset back at the root header.
	rootOff := binary.LittleEndian.Uint32(mdlData[52:]) // geometry header offRootNode
	childrenOff := binary.LittleEndian.Uint32(mdlData[12+rootOff+44:])
	bad := append([]byte(nil), mdlData...)
	binary.LittleEndian.PutUint32(bad[12+childrenOff:], rootOff)

	_, err = Decode(bad, mdxData)
	var ch *CorruptHeaderError
	if !errors.As(err, &ch) {
		t.Fatalf("Decode() error = %v, want CorruptHeaderError", err)
	}
	if ch.Offset != int64(rootOff) {
		t.Errorf("cycle offset = %d, want %d", ch.Offset, rootOff)
	}
}

func TestNameTableOrdering(t *testing.T) {
	m := testModel()
	_, mdlData, mdxData := encodeDecode(t, m, VariantK2PC, nil)

	p := &parser{
		mdl: &source{data: mdlData, base: fileHeaderSize},
		mdx: &source{data: mdxData},
	}
	decoded, err := p.parse()
	if err != nil {
		t.Fatal(err)
	}

	nodes := decoded.Nodes()
	if len(p.nameOrder) != len(nodes) {
		t.Fatalf("name visitation count = %d, want %d", len(p.nameOrder), len(nodes))
	}
	for i, idx := range p.nameOrder {
		if p.names[idx] != nodes[i].Name {
			t.Errorf("visitation %d = %q, want %q", i, p.names[idx], nodes[i].Name)
		}
	}

	// The name strings sit in the stream in the same depth-first order,
	// so the offset table must be strictly increasing.
	c := p.mdl.at(184)
	names := c.array()
	if c.err != nil {
		t.Fatal(c.err)
	}
	oc := p.mdl.at(names.Offset)
	var prev uint32
	for i := uint32(0); i < names.Count; i++ {
		off := oc.uint32()
		if i > 0 && off <= prev {
			t.Errorf("name %d at offset %d, not after %d", i, off, prev)
		}
		prev = off
	}
	if oc.err != nil {
		t.Fatal(oc.err)
	}
}
