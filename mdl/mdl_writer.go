package mdl

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/odysseytools/mdlconv/geom"
)

// EncodeOptions tune the encoder. The zero value writes uncompressed
// orientation tracks and keeps the tangent data the model carries.
type EncodeOptions struct {
	// CompressQuaternions packs single-value orientation rows into the
	// 11/11/10-bit fixed point form.
	CompressQuaternions bool
	// RecomputeTangents rebuilds the tangent frames from geometry and
	// first-channel texture coordinates, replacing whatever the model
	// carries.
	RecomputeTangents bool
}

// Encode writes a model as a structure stream plus companion vertex
// stream for the given platform variant. Derived fields on the model
// (bounding volumes, face planes, AABB trees, inverted counters) are
// recomputed in place before layout.
//
// The encoder runs the same emit code twice: the first pass only records
// where each entity lands, the second substitutes the recorded offsets.
func Encode(model *Model, variant *Variant, opts *EncodeOptions) (mdlData, mdxData []byte, err error) {
	if variant == nil {
		variant = VariantK1PC
	}
	e := &encoder{model: model, variant: variant}
	if opts != nil {
		e.opts = *opts
	}
	if err := e.prepare(); err != nil {
		return nil, nil, err
	}

	e.planning = true
	e.run()
	e.mdlTotal = e.out.pos()
	e.mdxTotal = e.mdx.pos()

	e.planning = false
	e.run()
	if e.err != nil {
		return nil, nil, e.err
	}
	if e.out.pos() != e.mdlTotal || e.mdx.pos() != e.mdxTotal {
		return nil, nil, fmt.Errorf("mdl: encoder passes disagree on layout (%d != %d)", e.out.pos(), e.mdlTotal)
	}

	var header binWriter
	header.u32(0)
	header.u32(e.mdlTotal)
	header.u32(e.mdxTotal)
	return append(header.buf.Bytes(), e.out.buf.Bytes()...), e.mdx.buf.Bytes(), nil
}

// EncodeFile writes path and its companion stream next to it, with the
// extension replaced by .mdx.
func EncodeFile(model *Model, variant *Variant, opts *EncodeOptions, path string) error {
	mdlData, mdxData, err := Encode(model, variant, opts)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, mdlData, 0644); err != nil {
		return err
	}
	mdxPath := strings.TrimSuffix(path, ".mdl") + ".mdx"
	return os.WriteFile(mdxPath, mdxData, 0644)
}

type offsetKey struct {
	owner interface{}
	kind  string
}

type encoder struct {
	model   *Model
	variant *Variant
	opts    EncodeOptions

	planning bool
	offsets  map[offsetKey]uint32
	out      binWriter
	mdx      binWriter
	mdlTotal uint32
	mdxTotal uint32

	nodes          []*Node
	nameIndex      map[*Node]uint16
	numberIndex    map[uint16]uint16
	serialByNumber map[uint16]int
	diskBonemaps   map[*Skin][]float32

	err error
}

func (e *encoder) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

// mark records where an entity starts during the planning pass.
func (e *encoder) mark(owner interface{}, kind string) {
	if e.planning {
		e.offsets[offsetKey{owner, kind}] = e.out.pos()
	}
}

func (e *encoder) markMDX(owner interface{}) {
	if e.planning {
		e.offsets[offsetKey{owner, "mdx"}] = e.mdx.pos()
	}
}

// offsetOf returns the planned offset, or zero during planning.
func (e *encoder) offsetOf(owner interface{}, kind string) uint32 {
	if e.planning || owner == nil {
		return 0
	}
	return e.offsets[offsetKey{owner, kind}]
}

func (e *encoder) prepare() error {
	if e.model.Root == nil {
		return fmt.Errorf("mdl: model has no root node")
	}
	if err := checkAcyclic(e.model.Root); err != nil {
		return err
	}
	for _, a := range e.model.Animations {
		if a.Root == nil {
			return fmt.Errorf("mdl: animation %q has no root node", a.Name)
		}
		if err := checkAcyclic(a.Root); err != nil {
			return err
		}
	}

	e.offsets = make(map[offsetKey]uint32)
	e.nodes = e.model.Nodes()
	e.nameIndex = make(map[*Node]uint16, len(e.nodes))
	e.numberIndex = make(map[uint16]uint16, len(e.nodes))
	e.serialByNumber = make(map[uint16]int, len(e.nodes))
	e.diskBonemaps = make(map[*Skin][]float32)
	for i, n := range e.nodes {
		e.nameIndex[n] = uint16(i)
		if _, ok := e.numberIndex[n.Number]; !ok {
			e.numberIndex[n.Number] = uint16(i)
			e.serialByNumber[n.Number] = i
		}
	}

	ordinal := 0
	modelBox := geom.NewBoundingBox()
	var modelRadius float32
	for _, n := range e.nodes {
		if n.Mesh == nil {
			continue
		}
		if err := e.prepareMesh(n, ordinal); err != nil {
			return err
		}
		ordinal++
		if len(n.Mesh.Vertices) > 0 {
			modelBox.ExtendBox(&n.Mesh.BoundingBox)
			for i := range n.Mesh.Vertices {
				if d := n.Mesh.Vertices[i].Len(); d > modelRadius {
					modelRadius = d
				}
			}
		}
	}
	if modelBox.Min.X <= modelBox.Max.X {
		e.model.BoundingBox = *modelBox
	} else {
		e.model.BoundingBox = geom.BoundingBox{}
	}
	e.model.Radius = modelRadius
	return nil
}

func (e *encoder) prepareMesh(n *Node, ordinal int) error {
	mesh := n.Mesh
	if mesh.Saber != nil {
		if len(mesh.Vertices) != SaberVertexCount {
			return fmt.Errorf("mdl: saber node %q has %d vertices, want %d", n.Name, len(mesh.Vertices), SaberVertexCount)
		}
		mesh.Faces = SaberFaces()
	}

	mesh.InvertedCounter = uint32(1)<<(uint(ordinal)&31) - 1

	box := geom.NewBoundingBox()
	var sum geom.Vector3
	for i := range mesh.Vertices {
		box.Extend(&mesh.Vertices[i])
		sum = *sum.Add(&mesh.Vertices[i])
	}
	if len(mesh.Vertices) > 0 {
		mesh.BoundingBox = *box
		mesh.Average = *sum.Scale(1 / float32(len(mesh.Vertices)))
	} else {
		mesh.BoundingBox = geom.BoundingBox{}
		mesh.Average = geom.Vector3{}
	}
	mesh.Radius = 0
	for i := range mesh.Vertices {
		if d := mesh.Vertices[i].Sub(&mesh.Average).Len(); d > mesh.Radius {
			mesh.Radius = d
		}
	}

	mesh.TotalArea = 0
	for i := range mesh.Faces {
		f := &mesh.Faces[i]
		mesh.TotalArea += FaceArea(f, mesh.Vertices)
		if normal := FaceNormal(f, mesh.Vertices); normal != nil {
			f.Normal = *normal
			f.Distance = normal.Dot(&mesh.Vertices[f.Indices[0]])
		}
	}

	if mesh.AABB != nil {
		mesh.AABB = BuildAABBTree(mesh.Faces, mesh.Vertices)
	}
	if e.opts.RecomputeTangents && len(mesh.UV1) == len(mesh.Vertices) && len(mesh.UV1) > 0 {
		mesh.Tangents, mesh.Bitangents = ComputeTangents(mesh.Faces, mesh.Vertices, mesh.UV1)
	}

	if mesh.Skin != nil {
		e.diskBonemaps[mesh.Skin] = e.diskBonemap(mesh.Skin)
	}
	return nil
}

// diskBonemap inverts the in-memory slot->node table into the stored
// serial->slot table, covering only slots some vertex actually weights.
func (e *encoder) diskBonemap(skin *Skin) []float32 {
	disk := make([]float32, len(e.nodes))
	for i := range disk {
		disk[i] = BonemapUnused
	}
	used := make([]bool, len(skin.Bonemap))
	for v := range skin.VertexBones {
		for j := 0; j < 4; j++ {
			if skin.VertexWeights[v][j] <= 0 {
				continue
			}
			if s := int(skin.VertexBones[v][j]); s >= 0 && s < len(used) {
				used[s] = true
			}
		}
	}
	for slot, numf := range skin.Bonemap {
		if slot >= len(used) || !used[slot] || numf < 0 {
			continue
		}
		serial, ok := e.serialByNumber[uint16(numf)]
		if !ok {
			serial = slot
		}
		if serial < len(disk) {
			disk[serial] = float32(slot)
		}
	}
	return disk
}

func checkAcyclic(root *Node) error {
	seen := make(map[*Node]bool)
	var walk func(*Node) error
	walk = func(n *Node) error {
		if seen[n] {
			return &CyclicGraphError{Node: n.Name}
		}
		seen[n] = true
		for _, c := range n.Children {
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(root)
}

// run emits the whole structure and vertex streams once.
func (e *encoder) run() {
	e.out.buf.Reset()
	e.mdx.buf.Reset()

	m := e.model
	w := &e.out

	// Geometry header.
	w.u32(e.variant.ModelFnPtr1)
	w.u32(e.variant.ModelFnPtr2)
	w.fixedString(m.Name, 32)
	w.u32(e.offsetOf(m.Root, "header"))
	w.u32(uint32(len(e.nodes)))
	w.zero(24)
	w.u32(0)
	w.u8(2) // model geometry
	w.zero(3)

	// Model header.
	w.u8(uint8(m.Classification))
	w.u8(m.Subclassification)
	w.u8(0)
	w.bool8(m.AffectedByFog)
	w.u32(0)
	w.arrayDef(e.offsetOf(m, "animOffsets"), uint32(len(m.Animations)))
	w.u32(0)
	w.vec3(m.BoundingBox.Min)
	w.vec3(m.BoundingBox.Max)
	w.f32(m.Radius)
	w.f32(m.AnimationScale)
	w.fixedString(m.SupermodelName, 32)
	w.u32(e.offsetOf(m.Root, "header"))
	w.u32(0)
	w.u32(e.mdxTotal)
	w.u32(0)
	w.arrayDef(e.offsetOf(m, "nameOffsets"), uint32(len(e.nodes)))

	// Name table: offsets first, strings in tree order.
	e.mark(m, "nameOffsets")
	for _, n := range e.nodes {
		w.u32(e.offsetOf(n, "name"))
	}
	for _, n := range e.nodes {
		e.mark(n, "name")
		w.cstring(n.Name)
	}
	w.align4()

	e.mark(m, "animOffsets")
	for _, a := range m.Animations {
		w.u32(e.offsetOf(a, "header"))
	}
	for _, a := range m.Animations {
		e.emitAnimation(a)
	}

	e.emitNode(m.Root, nil, nil)
}

func (e *encoder) emitAnimation(a *Animation) {
	w := &e.out
	e.mark(a, "header")
	w.u32(e.variant.AnimFnPtr1)
	w.u32(e.variant.AnimFnPtr2)
	w.fixedString(a.Name, 32)
	w.u32(e.offsetOf(a.Root, "header"))
	w.u32(uint32(len(a.Root.Nodes())))
	w.zero(24)
	w.u32(0)
	w.u8(5) // animation geometry
	w.zero(3)

	w.f32(a.Length)
	w.f32(a.TransitionTime)
	w.fixedString(a.AnimRoot, 32)
	w.arrayDef(e.offsetOf(a, "events"), uint32(len(a.Events)))
	w.u32(0)

	e.mark(a, "events")
	for _, ev := range a.Events {
		w.f32(ev.Time)
		w.fixedString(ev.Name, 32)
	}

	e.emitNode(a.Root, nil, a)
}

// emitNode writes one node header, its payload blocks, its variable data
// and then its children. owner is nil inside the model tree, the
// animation otherwise.
func (e *encoder) emitNode(n *Node, parent *Node, owner *Animation) {
	w := &e.out
	e.mark(n, "header")

	flags := n.TypeFlags()
	keys, data := e.buildControllers(n, owner != nil)

	nameIdx := e.nameIndex[n]
	if owner != nil {
		nameIdx = e.numberIndex[n.Number]
	}

	w.u16(flags)
	w.u16(n.Number)
	w.u16(nameIdx)
	w.u16(0)
	if owner != nil {
		w.u32(e.offsetOf(owner, "header"))
	} else {
		w.u32(0)
	}
	w.u32(e.offsetOf(parent, "header"))
	w.vec3(n.Position)
	w.quatWXYZ(n.Orientation)
	w.arrayDef(e.offsetOf(n, "children"), uint32(len(n.Children)))
	w.arrayDef(e.offsetOf(n, "ctrlkeys"), uint32(len(keys)))
	w.arrayDef(e.offsetOf(n, "ctrldata"), uint32(len(data)))

	if flags&NodeFlagLight != 0 {
		e.emitLightHeader(n)
	}
	if flags&NodeFlagEmitter != 0 {
		e.emitEmitterHeader(n.Emitter)
	}
	if flags&NodeFlagReference != 0 {
		w.fixedString(n.Reference.RefModel, 32)
		w.bool32(n.Reference.Reattachable)
	}
	var layout mdxLayout
	if flags&NodeFlagMesh != 0 {
		layout = e.mdxLayoutFor(n.Mesh)
		e.emitMeshHeader(n, layout)
	}

	// Variable-length blocks, in header reference order.
	if flags&NodeFlagLight != 0 {
		e.emitLightData(n)
	}
	if flags&NodeFlagMesh != 0 {
		e.emitMeshData(n, layout)
	}

	e.mark(n, "ctrlkeys")
	for _, k := range keys {
		w.u32(k.typ)
		w.u16(0xffff)
		w.u16(k.rows)
		w.u16(k.timeIndex)
		w.u16(k.dataIndex)
		w.u8(k.columns)
		w.zero(3)
	}
	e.mark(n, "ctrldata")
	for _, v := range data {
		w.f32(v)
	}

	e.mark(n, "children")
	for _, c := range n.Children {
		w.u32(e.offsetOf(c, "header"))
	}
	for _, c := range n.Children {
		e.emitNode(c, n, owner)
	}
}

func (e *encoder) emitLightHeader(n *Node) {
	w := &e.out
	l := n.Light
	w.f32(l.FlareRadius)
	w.arrayDef(0, 0) // unknown
	w.arrayDef(e.offsetOf(n, "flaresizes"), uint32(len(l.FlareSizes)))
	w.arrayDef(e.offsetOf(n, "flarepositions"), uint32(len(l.FlarePositions)))
	w.arrayDef(e.offsetOf(n, "flarecolorshifts"), uint32(len(l.FlareColorShifts)))
	w.arrayDef(e.offsetOf(n, "flaretextures"), uint32(len(l.FlareTextures)))
	w.u32(l.Priority)
	w.bool32(l.AmbientOnly)
	w.u32(l.DynamicType)
	w.bool32(l.AffectDynamic)
	w.bool32(l.Shadow)
	w.bool32(l.Flare)
	w.bool32(l.FadingLight)
}

func (e *encoder) emitLightData(n *Node) {
	w := &e.out
	l := n.Light
	e.mark(n, "flaresizes")
	for _, v := range l.FlareSizes {
		w.f32(v)
	}
	e.mark(n, "flarepositions")
	for _, v := range l.FlarePositions {
		w.f32(v)
	}
	e.mark(n, "flarecolorshifts")
	for _, v := range l.FlareColorShifts {
		w.vec3(v)
	}
	e.mark(n, "flaretextures")
	for i := range l.FlareTextures {
		w.u32(e.offsetOf(n, fmt.Sprintf("flaretex%d", i)))
	}
	for i, s := range l.FlareTextures {
		e.mark(n, fmt.Sprintf("flaretex%d", i))
		w.cstring(s)
	}
	w.align4()
}

func (e *encoder) emitEmitterHeader(em *Emitter) {
	w := &e.out
	w.f32(em.DeadSpace)
	w.f32(em.BlastRadius)
	w.f32(em.BlastLength)
	w.u32(em.BranchCount)
	w.f32(em.ControlPointSmoothing)
	w.u32(em.GridX)
	w.u32(em.GridY)
	w.u32(em.SpawnType)
	w.fixedString(em.Update, 32)
	w.fixedString(em.Render, 32)
	w.fixedString(em.Blend, 32)
	w.fixedString(em.Texture, 32)
	w.fixedString(em.ChunkName, 16)
	w.bool32(em.TwoSidedTexture)
	w.bool32(em.Loop)
	w.u16(em.RenderOrder)
	w.bool8(em.FrameBlending)
	w.u8(0)
	w.fixedString(em.DepthTexture, 32)
	w.u32(em.Flags)
}

// mdxLayout fixes the vertex stream stride and per-attribute offsets for
// one mesh.
type mdxLayout struct {
	flags      uint32
	stride     uint32
	offPos     int32
	offNormal  int32
	offUV1     int32
	offUV2     int32
	offTangent int32
	offWeights uint32
	offIndices uint32
}

func (e *encoder) mdxLayoutFor(mesh *Mesh) mdxLayout {
	l := mdxLayout{offPos: -1, offNormal: -1, offUV1: -1, offUV2: -1, offTangent: -1}
	if mesh.Saber != nil {
		// Saber vertex data lives in the structure stream.
		return l
	}
	next := func(size uint32) int32 {
		off := int32(l.stride)
		l.stride += size
		return off
	}
	if len(mesh.Vertices) > 0 {
		l.flags |= mdxFlagPosition
		l.offPos = next(12)
	}
	if len(mesh.Normals) > 0 {
		l.flags |= mdxFlagNormal
		l.offNormal = next(12)
	}
	if len(mesh.UV1) > 0 {
		l.flags |= mdxFlagUV1
		l.offUV1 = next(8)
	}
	if len(mesh.UV2) > 0 {
		l.flags |= mdxFlagUV2
		l.offUV2 = next(8)
	}
	if len(mesh.Tangents) > 0 && len(mesh.Bitangents) == len(mesh.Tangents) {
		l.flags |= mdxFlagTangent
		l.offTangent = next(24)
	}
	if mesh.Skin != nil {
		l.offWeights = uint32(next(16))
		if e.variant.Xbox {
			l.offIndices = uint32(next(8))
		} else {
			l.offIndices = uint32(next(16))
		}
	}
	return l
}

func (e *encoder) emitMeshHeader(n *Node, layout mdxLayout) {
	w := &e.out
	mesh := n.Mesh

	textureCount := uint16(0)
	if mesh.Texture1 != "" {
		textureCount++
	}
	if mesh.Texture2 != "" {
		textureCount++
	}
	indexArrayCount := uint32(0)
	if len(mesh.Faces) > 0 {
		indexArrayCount = 1
	}

	w.u32(e.variant.MeshFnPtr1)
	w.u32(e.variant.MeshFnPtr2)
	w.arrayDef(e.offsetOf(n, "faces"), uint32(len(mesh.Faces)))
	w.vec3(mesh.BoundingBox.Min)
	w.vec3(mesh.BoundingBox.Max)
	w.f32(mesh.Radius)
	w.vec3(mesh.Average)
	w.vec3(mesh.Diffuse)
	w.vec3(mesh.Ambient)
	w.u32(mesh.TransparencyHint)
	w.fixedString(mesh.Texture1, 32)
	w.fixedString(mesh.Texture2, 32)
	w.zero(12)
	w.zero(12)
	w.arrayDef(e.offsetOf(n, "indexcounts"), indexArrayCount)
	w.arrayDef(e.offsetOf(n, "indexoffsets"), indexArrayCount)
	w.arrayDef(e.offsetOf(n, "invcounter"), 1)
	w.u32(0xffffffff)
	w.u32(0xffffffff)
	w.u32(0xffffffff)
	w.raw([]byte{3, 0, 0, 0, 0, 0, 0, 0})
	w.bool32(mesh.AnimateUV)
	w.vec2(mesh.UVDirection)
	w.f32(mesh.UVJitter)
	w.f32(mesh.UVJitterSpeed)
	w.u32(layout.stride)
	w.u32(layout.flags)
	w.i32(layout.offPos)
	w.i32(layout.offNormal)
	w.i32(-1) // color
	w.i32(layout.offUV1)
	w.i32(layout.offUV2)
	w.i32(-1) // uv3
	w.i32(-1) // uv4
	w.i32(layout.offTangent)
	w.i32(-1)
	w.i32(-1)
	w.i32(-1)
	w.u16(uint16(len(mesh.Vertices)))
	w.u16(textureCount)
	w.bool8(mesh.HasLightmap)
	w.bool8(mesh.RotateTexture)
	w.bool8(mesh.BackgroundGeometry)
	w.bool8(mesh.Shadow)
	w.bool8(mesh.Beaming)
	w.bool8(mesh.Render)
	if e.variant.SecondEdition {
		w.bool8(mesh.DirtEnabled)
		w.u8(0)
		w.u16(mesh.DirtTexture)
		w.u16(mesh.DirtCoordSpace)
		w.bool8(mesh.HideInHologram)
		w.u8(0)
	}
	w.f32(mesh.TotalArea)
	w.u32(0)
	w.u32(e.offsetOf(n, "mdx"))
	w.u32(e.offsetOf(n, "mdlverts"))

	if mesh.Skin != nil {
		e.emitSkinHeader(n, mesh.Skin, layout)
	}
	if mesh.Dangly != nil {
		d := mesh.Dangly
		w.arrayDef(e.offsetOf(n, "constraints"), uint32(len(d.Constraints)))
		w.f32(d.Displacement)
		w.f32(d.Tightness)
		w.f32(d.Period)
		w.u32(e.offsetOf(n, "mdlverts"))
	}
	if mesh.AABB != nil {
		w.u32(e.offsetOf(mesh.AABB, "aabb"))
	}
	if mesh.Saber != nil {
		w.u32(e.offsetOf(n, "sabverts"))
		w.u32(e.offsetOf(n, "sabuv"))
		w.u32(e.offsetOf(n, "sabnormals"))
		w.u32(mesh.InvertedCounter)
		w.u32(mesh.InvertedCounter)
	}
}

func (e *encoder) emitSkinHeader(n *Node, skin *Skin, layout mdxLayout) {
	w := &e.out
	w.arrayDef(0, 0) // runtime weights
	w.u32(layout.offWeights)
	w.u32(layout.offIndices)
	w.u32(e.offsetOf(n, "bonemap"))
	w.u32(uint32(len(e.nodes)))
	w.arrayDef(e.offsetOf(n, "qbones"), uint32(len(skin.BoneQuaternions)))
	w.arrayDef(e.offsetOf(n, "tbones"), uint32(len(skin.BoneTranslations)))
	w.arrayDef(0, 0) // garbage
	for i := 0; i < 16; i++ {
		w.u16(0xffff)
	}
	w.u32(0)
}

func (e *encoder) emitMeshData(n *Node, layout mdxLayout) {
	w := &e.out
	mesh := n.Mesh

	e.mark(n, "faces")
	for i := range mesh.Faces {
		f := &mesh.Faces[i]
		w.vec3(f.Normal)
		w.f32(f.Distance)
		w.u32(f.Material)
		w.u16(0xffff)
		w.u16(0xffff)
		w.u16(0xffff)
		w.u16(f.Indices[0])
		w.u16(f.Indices[1])
		w.u16(f.Indices[2])
	}
	if len(mesh.Faces) > 0 {
		e.mark(n, "indexcounts")
		w.u32(uint32(len(mesh.Faces) * 3))
		e.mark(n, "indexoffsets")
		w.u32(e.offsetOf(n, "indexdata"))
	}
	e.mark(n, "invcounter")
	w.u32(mesh.InvertedCounter)
	if len(mesh.Faces) > 0 {
		e.mark(n, "indexdata")
		for i := range mesh.Faces {
			w.u16(mesh.Faces[i].Indices[0])
			w.u16(mesh.Faces[i].Indices[1])
			w.u16(mesh.Faces[i].Indices[2])
		}
		w.align4()
	}

	if mesh.Saber == nil && len(mesh.Vertices) > 0 {
		e.mark(n, "mdlverts")
		for i := range mesh.Vertices {
			w.vec3(mesh.Vertices[i])
		}
	}

	if mesh.Skin != nil {
		skin := mesh.Skin
		e.mark(n, "bonemap")
		for _, v := range e.diskBonemaps[skin] {
			w.f32(v)
		}
		e.mark(n, "qbones")
		for _, q := range skin.BoneQuaternions {
			w.quatWXYZ(q)
		}
		e.mark(n, "tbones")
		for _, t := range skin.BoneTranslations {
			w.vec3(t)
		}
	}

	if mesh.Dangly != nil {
		e.mark(n, "constraints")
		for _, c := range mesh.Dangly.Constraints {
			w.f32(c)
		}
	}

	if mesh.AABB != nil {
		e.emitAABB(mesh.AABB)
	}

	if mesh.Saber != nil {
		e.mark(n, "sabverts")
		for i := range mesh.Vertices {
			w.vec3(mesh.Vertices[i])
		}
		e.mark(n, "sabuv")
		for i := range mesh.UV1 {
			w.vec2(mesh.UV1[i])
		}
		e.mark(n, "sabnormals")
		for i := range mesh.Normals {
			w.vec3(mesh.Normals[i])
		}
	} else {
		e.emitMDX(n, mesh, layout)
	}
}

// emitAABB writes the tree in discovery order: each branch before both
// of its subtrees, left first.
func (e *encoder) emitAABB(a *AABBNode) {
	w := &e.out
	e.mark(a, "aabb")
	w.vec3(a.Box.Min)
	w.vec3(a.Box.Max)
	if a.Left != nil {
		w.u32(e.offsetOf(a.Left, "aabb"))
		w.u32(e.offsetOf(a.Right, "aabb"))
	} else {
		w.u32(0)
		w.u32(0)
	}
	w.i32(a.FaceIndex)
	w.u32(a.Plane)
	if a.Left != nil {
		e.emitAABB(a.Left)
		e.emitAABB(a.Right)
	}
}

func (e *encoder) emitMDX(n *Node, mesh *Mesh, layout mdxLayout) {
	if layout.stride == 0 || len(mesh.Vertices) == 0 {
		return
	}
	e.markMDX(n)
	w := &e.mdx
	for i := range mesh.Vertices {
		if layout.flags&mdxFlagPosition != 0 {
			w.vec3(mesh.Vertices[i])
		}
		if layout.flags&mdxFlagNormal != 0 {
			w.vec3(mesh.Normals[i])
		}
		if layout.flags&mdxFlagUV1 != 0 {
			w.vec2(mesh.UV1[i])
		}
		if layout.flags&mdxFlagUV2 != 0 {
			w.vec2(mesh.UV2[i])
		}
		if layout.flags&mdxFlagTangent != 0 {
			w.vec3(mesh.Tangents[i])
			w.vec3(mesh.Bitangents[i])
		}
		if mesh.Skin != nil {
			for j := 0; j < 4; j++ {
				w.f32(mesh.Skin.VertexWeights[i][j])
			}
			for j := 0; j < 4; j++ {
				if e.variant.Xbox {
					w.u16(uint16(int16(mesh.Skin.VertexBones[i][j])))
				} else {
					w.f32(mesh.Skin.VertexBones[i][j])
				}
			}
		}
	}
}

// encodedKey is one controller key record ready for the key array.
type encodedKey struct {
	typ       uint32
	rows      uint16
	timeIndex uint16
	dataIndex uint16
	columns   uint8
}

// buildControllers lays out a node's controllers into key records plus a
// shared float data array. Model tree nodes always carry bind pose
// position and orientation tracks; missing ones are synthesized from the
// node transform.
func (e *encoder) buildControllers(n *Node, anim bool) ([]encodedKey, []float32) {
	controllers := n.Controllers
	if !anim {
		hasPos, hasOrient := false, false
		for _, c := range controllers {
			switch c.Type {
			case ControllerPosition:
				hasPos = true
			case ControllerOrientation:
				hasOrient = true
			}
		}
		var synth []*Controller
		if !hasPos {
			synth = append(synth, &Controller{
				Type: ControllerPosition,
				Keys: []ControllerKey{{Values: []float32{n.Position.X, n.Position.Y, n.Position.Z}}},
			})
		}
		if !hasOrient {
			synth = append(synth, &Controller{
				Type: ControllerOrientation,
				Keys: []ControllerKey{{Values: []float32{n.Orientation.X, n.Orientation.Y, n.Orientation.Z, n.Orientation.W}}},
			})
		}
		if len(synth) > 0 {
			controllers = append(synth, controllers...)
		}
	}

	category := n.controllerCategory()
	if anim {
		// Shadow nodes carry no payload; key validation follows the
		// model node they mirror.
		category = categoryAll
		if i, ok := e.numberIndex[n.Number]; ok {
			category = e.nodes[i].controllerCategory()
		}
	}
	var keys []encodedKey
	var data []float32
	for _, c := range controllers {
		def := lookupController(category, c.Type)
		if def == nil {
			e.fail(&InvalidControllerTypeError{Node: n.Name, Type: c.Type})
			continue
		}
		packed := e.opts.CompressQuaternions && c.Type == ControllerOrientation && !c.Bezier
		columns := uint8(def.Columns)
		valuesPerRow := def.Columns
		if c.Bezier {
			columns |= 0x10
			valuesPerRow *= 3
		}
		if packed {
			columns = 2
		}

		timeIndex := uint16(len(data))
		for _, k := range c.Keys {
			data = append(data, k.Time)
		}
		dataIndex := uint16(len(data))
		for _, k := range c.Keys {
			if len(k.Values) < valuesPerRow {
				e.fail(&InvalidControllerTypeError{Node: n.Name, Type: c.Type})
				break
			}
			if packed {
				q := CompressQuaternion(k.Values[0], k.Values[1], k.Values[2], k.Values[3])
				data = append(data, math.Float32frombits(q))
			} else {
				data = append(data, k.Values[:valuesPerRow]...)
			}
		}
		keys = append(keys, encodedKey{
			typ:       c.Type,
			rows:      uint16(len(c.Keys)),
			timeIndex: timeIndex,
			dataIndex: dataIndex,
			columns:   columns,
		})
	}
	return keys, data
}

// binWriter accumulates little-endian output.
type binWriter struct {
	buf bytes.Buffer
}

func (w *binWriter) pos() uint32 { return uint32(w.buf.Len()) }

func (w *binWriter) raw(b []byte) { w.buf.Write(b) }

func (w *binWriter) u8(v uint8) { w.buf.WriteByte(v) }

func (w *binWriter) u16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

func (w *binWriter) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *binWriter) i32(v int32) { w.u32(uint32(v)) }

func (w *binWriter) f32(v float32) { w.u32(math.Float32bits(v)) }

func (w *binWriter) bool8(v bool) {
	if v {
		w.u8(1)
	} else {
		w.u8(0)
	}
}

func (w *binWriter) bool32(v bool) {
	if v {
		w.u32(1)
	} else {
		w.u32(0)
	}
}

func (w *binWriter) vec2(v geom.Vector2) {
	w.f32(v.X)
	w.f32(v.Y)
}

func (w *binWriter) vec3(v geom.Vector3) {
	w.f32(v.X)
	w.f32(v.Y)
	w.f32(v.Z)
}

// quatWXYZ writes a quaternion in file order (W first).
func (w *binWriter) quatWXYZ(q geom.Quaternion) {
	w.f32(q.W)
	w.f32(q.X)
	w.f32(q.Y)
	w.f32(q.Z)
}

func (w *binWriter) arrayDef(off, count uint32) {
	w.u32(off)
	w.u32(count)
	w.u32(count)
}

func (w *binWriter) fixedString(s string, n int) {
	b := encodeLegacyString(s)
	if len(b) > n {
		b = b[:n]
	}
	w.buf.Write(b)
	w.zero(n - len(b))
}

func (w *binWriter) cstring(s string) {
	w.buf.Write(encodeLegacyString(s))
	w.u8(0)
}

func (w *binWriter) zero(n int) {
	for i := 0; i < n; i++ {
		w.buf.WriteByte(0)
	}
}

func (w *binWriter) align4() {
	w.zero(int(-w.buf.Len() & 3))
}
