package mdl

import (
	"math"
	"os"
	"strings"

	"github.com/odysseytools/mdlconv/geom"
)

// fileHeaderSize is the fixed prefix of the structure stream; every
// stored offset is relative to the end of it.
const fileHeaderSize = 12

// Decode reads a model from its structure stream and optional companion
// vertex stream. It returns the full Model or a fatal error; there is no
// partial result.
func Decode(mdlData, mdxData []byte) (*Model, error) {
	p := &parser{
		mdl: &source{data: mdlData, base: fileHeaderSize},
		mdx: &source{data: mdxData},
	}
	return p.parse()
}

// DecodeFile reads path plus its companion vertex stream, which is the
// same path with the extension replaced by .mdx (if present).
func DecodeFile(path string) (*Model, error) {
	mdlData, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	mdxPath := strings.TrimSuffix(path, ".mdl") + ".mdx"
	mdxData, err := os.ReadFile(mdxPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return Decode(mdlData, mdxData)
}

// DetectVariant fingerprints the platform/edition of a structure stream
// without decoding it.
func DetectVariant(mdlData []byte) (*Variant, error) {
	s := &source{data: mdlData, base: fileHeaderSize}
	c := s.at(0)
	fnPtr1 := c.uint32()
	fnPtr2 := c.uint32()
	if c.err != nil {
		return nil, c.err
	}
	return detectVariant(fnPtr1, fnPtr2)
}

type parser struct {
	mdl     *source
	mdx     *source
	variant *Variant
	model   *Model

	names     []string
	nameOrder []uint16 // peek-pass visitation order of name indices

	// skin conversion is deferred until the whole tree is decoded
	rawSkins []rawSkin
}

type rawSkin struct {
	skin    *Skin
	bonemap []float32 // serial index -> slot, as stored
}

func (p *parser) parse() (*Model, error) {
	if err := p.checkFileHeader(); err != nil {
		return nil, err
	}

	c := p.mdl.at(0)
	fnPtr1 := c.uint32()
	fnPtr2 := c.uint32()
	if c.err != nil {
		return nil, c.err
	}
	variant, err := detectVariant(fnPtr1, fnPtr2)
	if err != nil {
		return nil, err
	}
	p.variant = variant

	model := &Model{}
	model.Name = c.fixedString(32)
	offRootNode := c.uint32()
	c.uint32()  // node count
	c.bytes(24) // runtime array state
	c.uint32()  // reference count
	geometryType := c.uint8()
	c.bytes(3) // padding
	if c.err != nil {
		return nil, c.err
	}
	if geometryType != 2 {
		return nil, &CorruptHeaderError{Offset: c.pos - 4, Reason: "geometry type is not a model"}
	}

	model.Classification = Classification(c.uint8())
	model.Subclassification = c.uint8()
	c.uint8() // unknown
	model.AffectedByFog = c.uint8() != 0
	c.uint32() // child model count
	animArray := c.array()
	c.uint32() // supermodel reference
	model.BoundingBox.Min = c.vector3()
	model.BoundingBox.Max = c.vector3()
	model.Radius = c.float32()
	model.AnimationScale = c.float32()
	model.SupermodelName = c.fixedString(32)
	c.uint32() // anim root offset
	c.uint32() // unknown
	c.uint32() // mdx size (repeated)
	c.uint32() // mdx offset
	nameArray := c.array()
	if c.err != nil {
		return nil, c.err
	}

	// The name table must be fully resolved before node decode; its
	// population order mirrors the tree visitation order, which a peek
	// pass over the headers establishes first.
	if err := p.peekNames(offRootNode, map[uint32]bool{}); err != nil {
		return nil, err
	}
	if err := p.readNames(nameArray); err != nil {
		return nil, err
	}

	root, err := p.readNode(offRootNode, false, map[uint32]bool{})
	if err != nil {
		return nil, err
	}
	model.Root = root
	p.model = model

	if err := p.readAnimations(model, animArray); err != nil {
		return nil, err
	}

	// Composite skeletons reference nodes by serial position across the
	// whole tree, so skins resolve only now.
	p.finishSkins(model)

	return model, nil
}

func (p *parser) checkFileHeader() error {
	c := &cursor{s: &source{data: p.mdl.data}}
	sentinel := c.uint32()
	mdlSize := c.uint32()
	mdxSize := c.uint32()
	if c.err != nil {
		return &CorruptHeaderError{Offset: 0, Reason: "structure stream shorter than file header"}
	}
	if sentinel != 0 {
		return &CorruptHeaderError{Offset: 0, Reason: "missing zero sentinel"}
	}
	if int64(mdlSize) != int64(len(p.mdl.data))-fileHeaderSize {
		return &CorruptHeaderError{Offset: 4, Reason: "structure stream length mismatch"}
	}
	if len(p.mdx.data) > 0 && int64(mdxSize) != int64(len(p.mdx.data)) {
		return &CorruptHeaderError{Offset: 8, Reason: "vertex stream length mismatch"}
	}
	return nil
}

// peekNames walks the node headers once without building nodes, only to
// record the order in which name indices are visited.
func (p *parser) peekNames(off uint32, seen map[uint32]bool) error {
	if seen[off] {
		return &CorruptHeaderError{Offset: int64(off), Reason: "node child offset cycles back into the tree"}
	}
	seen[off] = true
	c := p.mdl.at(off)
	c.skip(4) // flags, node number
	nameIndex := c.uint16()
	c.skip(2 + 8 + 28) // padding, root/parent offsets, transform
	children := c.array()
	if c.err != nil {
		return c.err
	}
	p.nameOrder = append(p.nameOrder, nameIndex)
	cc := p.mdl.at(children.Offset)
	for i := uint32(0); i < children.Count; i++ {
		childOff := cc.uint32()
		if cc.err != nil {
			return cc.err
		}
		if err := p.peekNames(childOff, seen); err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) readNames(names arrayDef) error {
	offsets := make([]uint32, names.Count)
	c := p.mdl.at(names.Offset)
	for i := range offsets {
		offsets[i] = c.uint32()
	}
	if c.err != nil {
		return c.err
	}
	p.names = make([]string, names.Count)
	for _, idx := range p.nameOrder {
		if int(idx) >= len(offsets) {
			return &OutOfBoundsError{Offset: int64(idx), Size: 1, Length: int64(len(offsets))}
		}
		sc := p.mdl.at(offsets[idx])
		p.names[idx] = sc.cstring()
		if sc.err != nil {
			return sc.err
		}
	}
	return nil
}

func (p *parser) readNode(off uint32, anim bool, seen map[uint32]bool) (*Node, error) {
	if seen[off] {
		return nil, &CorruptHeaderError{Offset: int64(off), Reason: "node child offset cycles back into the tree"}
	}
	seen[off] = true
	c := p.mdl.at(off)
	flags := c.uint16()
	node := &Node{}
	node.Number = c.uint16()
	nameIndex := c.uint16()
	c.uint16() // padding
	c.uint32() // owning geometry header offset
	c.uint32() // parent offset
	node.Position = c.vector3()
	node.Orientation = c.quaternionWXYZ()
	children := c.array()
	ctrlKeys := c.array()
	ctrlData := c.array()
	if c.err != nil {
		return nil, c.err
	}
	if flags&NodeFlagHeader == 0 || flags&^nodeFlagsKnown != 0 {
		return nil, &UnsupportedNodeTypeError{Offset: c.pos - 80, Flags: flags}
	}
	if int(nameIndex) < len(p.names) {
		node.Name = p.names[nameIndex]
	}

	// Type-gated fixed-size payload blocks follow the header directly.
	if flags&NodeFlagLight != 0 {
		if err := p.readLight(c, node); err != nil {
			return nil, err
		}
	}
	if flags&NodeFlagEmitter != 0 {
		if err := p.readEmitter(c, node); err != nil {
			return nil, err
		}
	}
	if flags&NodeFlagReference != 0 {
		node.Reference = &Reference{
			RefModel:     c.fixedString(32),
			Reattachable: c.uint32() != 0,
		}
	}
	if flags&NodeFlagMesh != 0 {
		if err := p.readMesh(c, node, flags); err != nil {
			return nil, err
		}
	}
	if c.err != nil {
		return nil, c.err
	}

	if err := p.readControllers(node, ctrlKeys, ctrlData, anim); err != nil {
		return nil, err
	}

	cc := p.mdl.at(children.Offset)
	for i := uint32(0); i < children.Count; i++ {
		childOff := cc.uint32()
		if cc.err != nil {
			return nil, cc.err
		}
		child, err := p.readNode(childOff, anim, seen)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, child)
	}
	return node, nil
}

func (p *parser) readLight(c *cursor, node *Node) error {
	light := &Light{}
	light.FlareRadius = c.float32()
	c.array() // unknown
	sizes := c.array()
	positions := c.array()
	colorShifts := c.array()
	textures := c.array()
	light.Priority = c.uint32()
	light.AmbientOnly = c.uint32() != 0
	light.DynamicType = c.uint32()
	light.AffectDynamic = c.uint32() != 0
	light.Shadow = c.uint32() != 0
	light.Flare = c.uint32() != 0
	light.FadingLight = c.uint32() != 0
	if c.err != nil {
		return c.err
	}

	sc := p.mdl.at(sizes.Offset)
	for i := uint32(0); i < sizes.Count; i++ {
		light.FlareSizes = append(light.FlareSizes, sc.float32())
	}
	pc := p.mdl.at(positions.Offset)
	for i := uint32(0); i < positions.Count; i++ {
		light.FlarePositions = append(light.FlarePositions, pc.float32())
	}
	cc := p.mdl.at(colorShifts.Offset)
	for i := uint32(0); i < colorShifts.Count; i++ {
		light.FlareColorShifts = append(light.FlareColorShifts, cc.vector3())
	}
	tc := p.mdl.at(textures.Offset)
	for i := uint32(0); i < textures.Count; i++ {
		strOff := tc.uint32()
		strc := p.mdl.at(strOff)
		light.FlareTextures = append(light.FlareTextures, strc.cstring())
		if strc.err != nil {
			return strc.err
		}
	}
	for _, rc := range []*cursor{sc, pc, cc, tc} {
		if rc.err != nil {
			return rc.err
		}
	}
	node.Light = light
	return nil
}

func (p *parser) readEmitter(c *cursor, node *Node) error {
	e := &Emitter{}
	e.DeadSpace = c.float32()
	e.BlastRadius = c.float32()
	e.BlastLength = c.float32()
	e.BranchCount = c.uint32()
	e.ControlPointSmoothing = c.float32()
	e.GridX = c.uint32()
	e.GridY = c.uint32()
	e.SpawnType = c.uint32()
	e.Update = c.fixedString(32)
	e.Render = c.fixedString(32)
	e.Blend = c.fixedString(32)
	e.Texture = c.fixedString(32)
	e.ChunkName = c.fixedString(16)
	e.TwoSidedTexture = c.uint32() != 0
	e.Loop = c.uint32() != 0
	e.RenderOrder = c.uint16()
	e.FrameBlending = c.uint8() != 0
	c.uint8() // padding
	e.DepthTexture = c.fixedString(32)
	e.Flags = c.uint32()
	if c.err != nil {
		return c.err
	}
	node.Emitter = e
	return nil
}

func (p *parser) readMesh(c *cursor, node *Node, flags uint16) error {
	mesh := &Mesh{}
	c.uint32() // mesh function pointer 1
	c.uint32() // mesh function pointer 2
	faces := c.array()
	mesh.BoundingBox.Min = c.vector3()
	mesh.BoundingBox.Max = c.vector3()
	mesh.Radius = c.float32()
	mesh.Average = c.vector3()
	mesh.Diffuse = c.vector3()
	mesh.Ambient = c.vector3()
	mesh.TransparencyHint = c.uint32()
	mesh.Texture1 = c.fixedString(32)
	mesh.Texture2 = c.fixedString(32)
	c.fixedString(12) // texture3, unused
	c.fixedString(12) // texture4, unused
	indexCounts := c.array()
	indexOffsets := c.array()
	invCounters := c.array()
	c.bytes(12) // three unknown -1 words
	c.bytes(8)  // saber bytes
	mesh.AnimateUV = c.uint32() != 0
	mesh.UVDirection = c.vector2()
	mesh.UVJitter = c.float32()
	mesh.UVJitterSpeed = c.float32()
	mdxVertexSize := c.uint32()
	mdxDataFlags := c.uint32()
	offMdxPos := c.int32()
	offMdxNormal := c.int32()
	c.int32() // color, unused
	offMdxUV1 := c.int32()
	offMdxUV2 := c.int32()
	c.int32() // uv3, unused
	c.int32() // uv4, unused
	offMdxTangent := c.int32()
	c.int32() // tangent frame 2..4, unused
	c.int32()
	c.int32()
	vertexCount := int(c.uint16())
	c.uint16() // texture count
	mesh.HasLightmap = c.uint8() != 0
	mesh.RotateTexture = c.uint8() != 0
	mesh.BackgroundGeometry = c.uint8() != 0
	mesh.Shadow = c.uint8() != 0
	mesh.Beaming = c.uint8() != 0
	mesh.Render = c.uint8() != 0
	if p.variant.SecondEdition {
		mesh.DirtEnabled = c.uint8() != 0
		c.uint8()
		mesh.DirtTexture = c.uint16()
		mesh.DirtCoordSpace = c.uint16()
		mesh.HideInHologram = c.uint8() != 0
		c.uint8()
	}
	mesh.TotalArea = c.float32()
	c.uint32() // unknown
	mdxOffset := c.uint32()
	offVertices := c.uint32()
	if c.err != nil {
		return c.err
	}

	// Redundant index arrays locate the same triangles the face records
	// carry; bounds-checked but not retained.
	if err := p.mdl.check(p.mdl.base+int64(indexCounts.Offset), int64(indexCounts.Count)*4); err != nil {
		return err
	}
	if err := p.mdl.check(p.mdl.base+int64(indexOffsets.Offset), int64(indexOffsets.Count)*4); err != nil {
		return err
	}
	ic := p.mdl.at(invCounters.Offset)
	for i := uint32(0); i < invCounters.Count; i++ {
		mesh.InvertedCounter = ic.uint32()
	}
	if ic.err != nil {
		return ic.err
	}

	fc := p.mdl.at(faces.Offset)
	for i := uint32(0); i < faces.Count; i++ {
		var f Face
		f.Normal = fc.vector3()
		f.Distance = fc.float32()
		f.Material = fc.uint32()
		fc.skip(6) // adjacency
		f.Indices[0] = fc.uint16()
		f.Indices[1] = fc.uint16()
		f.Indices[2] = fc.uint16()
		mesh.Faces = append(mesh.Faces, f)
	}
	if fc.err != nil {
		return fc.err
	}

	node.Mesh = mesh

	if flags&NodeFlagSkin != 0 {
		if err := p.readSkin(c, node, mesh, vertexCount, mdxOffset, mdxVertexSize); err != nil {
			return err
		}
	}
	if flags&NodeFlagDangly != 0 {
		if err := p.readDangly(c, mesh); err != nil {
			return err
		}
	}
	if flags&NodeFlagAABB != 0 {
		offRoot := c.uint32()
		if c.err != nil {
			return c.err
		}
		tree, err := p.readAABB(offRoot, 0)
		if err != nil {
			return err
		}
		mesh.AABB = tree
	}
	if flags&NodeFlagSaber != 0 {
		if err := p.readSaber(c, mesh); err != nil {
			return err
		}
		return c.err
	}

	if err := p.readVertexData(node, mesh, vertexCount, mdxOffset, mdxVertexSize, mdxDataFlags,
		offMdxPos, offMdxNormal, offMdxUV1, offMdxUV2, offMdxTangent, offVertices); err != nil {
		return err
	}
	return c.err
}

// MDX per-attribute presence bits.
const (
	mdxFlagPosition uint32 = 0x0001
	mdxFlagUV1      uint32 = 0x0002
	mdxFlagUV2      uint32 = 0x0004
	mdxFlagNormal   uint32 = 0x0020
	mdxFlagTangent  uint32 = 0x0080
)

func (p *parser) readVertexData(node *Node, mesh *Mesh, vertexCount int, mdxOffset, stride, flags uint32,
	offPos, offNormal, offUV1, offUV2, offTangent int32, offVertices uint32) error {
	if vertexCount == 0 {
		return nil
	}
	if flags != 0 && len(p.mdx.data) == 0 {
		return &MissingCompanionStreamError{Node: node.Name}
	}

	readVec3 := func(off int32, i int) (geom.Vector3, error) {
		c := p.mdx.at(mdxOffset + uint32(i)*stride + uint32(off))
		v := c.vector3()
		return v, c.err
	}

	for i := 0; i < vertexCount; i++ {
		if flags&mdxFlagPosition != 0 {
			v, err := readVec3(offPos, i)
			if err != nil {
				return err
			}
			mesh.Vertices = append(mesh.Vertices, v)
		}
		if flags&mdxFlagNormal != 0 {
			v, err := readVec3(offNormal, i)
			if err != nil {
				return err
			}
			mesh.Normals = append(mesh.Normals, v)
		}
		if flags&mdxFlagUV1 != 0 {
			c := p.mdx.at(mdxOffset + uint32(i)*stride + uint32(offUV1))
			mesh.UV1 = append(mesh.UV1, c.vector2())
			if c.err != nil {
				return c.err
			}
		}
		if flags&mdxFlagUV2 != 0 {
			c := p.mdx.at(mdxOffset + uint32(i)*stride + uint32(offUV2))
			mesh.UV2 = append(mesh.UV2, c.vector2())
			if c.err != nil {
				return c.err
			}
		}
		if flags&mdxFlagTangent != 0 {
			c := p.mdx.at(mdxOffset + uint32(i)*stride + uint32(offTangent))
			mesh.Tangents = append(mesh.Tangents, c.vector3())
			mesh.Bitangents = append(mesh.Bitangents, c.vector3())
			if c.err != nil {
				return c.err
			}
		}
	}

	// Positions may also live MDL-side only (no companion stream).
	if flags&mdxFlagPosition == 0 && offVertices != 0 {
		c := p.mdl.at(offVertices)
		for i := 0; i < vertexCount; i++ {
			mesh.Vertices = append(mesh.Vertices, c.vector3())
		}
		if c.err != nil {
			return c.err
		}
	}
	return nil
}

func (p *parser) readSkin(c *cursor, node *Node, mesh *Mesh, vertexCount int, mdxOffset, stride uint32) error {
	skin := &Skin{}
	c.array() // weights, unused
	offWeights := c.uint32()
	offIndices := c.uint32()
	offBonemap := c.uint32()
	bonemapCount := c.uint32()
	qbones := c.array()
	tbones := c.array()
	c.array()   // garbage
	c.bytes(32) // bone index placeholders
	c.uint32()  // padding
	if c.err != nil {
		return c.err
	}

	bm := p.mdl.at(offBonemap)
	raw := make([]float32, bonemapCount)
	for i := range raw {
		raw[i] = bm.float32()
	}
	if bm.err != nil {
		return bm.err
	}

	qc := p.mdl.at(qbones.Offset)
	for i := uint32(0); i < qbones.Count; i++ {
		skin.BoneQuaternions = append(skin.BoneQuaternions, qc.quaternionWXYZ())
	}
	tc := p.mdl.at(tbones.Offset)
	for i := uint32(0); i < tbones.Count; i++ {
		skin.BoneTranslations = append(skin.BoneTranslations, tc.vector3())
	}
	if qc.err != nil {
		return qc.err
	}
	if tc.err != nil {
		return tc.err
	}

	if vertexCount > 0 && len(p.mdx.data) == 0 {
		return &MissingCompanionStreamError{Node: node.Name}
	}
	for i := 0; i < vertexCount; i++ {
		wc := p.mdx.at(mdxOffset + uint32(i)*stride + offWeights)
		var w [4]float32
		for j := range w {
			w[j] = wc.float32()
		}
		if wc.err != nil {
			return wc.err
		}
		bc := p.mdx.at(mdxOffset + uint32(i)*stride + offIndices)
		var b [4]float32
		if p.variant.Xbox {
			for j := range b {
				b[j] = float32(int16(bc.uint16()))
			}
		} else {
			for j := range b {
				b[j] = bc.float32()
			}
		}
		if bc.err != nil {
			return bc.err
		}
		skin.VertexWeights = append(skin.VertexWeights, w)
		skin.VertexBones = append(skin.VertexBones, b)
	}

	mesh.Skin = skin
	p.rawSkins = append(p.rawSkins, rawSkin{skin: skin, bonemap: raw})
	return nil
}

func (p *parser) readDangly(c *cursor, mesh *Mesh) error {
	constraints := c.array()
	d := &Dangly{
		Displacement: c.float32(),
		Tightness:    c.float32(),
		Period:       c.float32(),
	}
	c.uint32() // vertex data offset
	if c.err != nil {
		return c.err
	}
	cc := p.mdl.at(constraints.Offset)
	for i := uint32(0); i < constraints.Count; i++ {
		d.Constraints = append(d.Constraints, cc.float32())
	}
	if cc.err != nil {
		return cc.err
	}
	mesh.Dangly = d
	return nil
}

const maxAABBDepth = 128

func (p *parser) readAABB(off uint32, depth int) (*AABBNode, error) {
	if depth > maxAABBDepth {
		return nil, &CorruptHeaderError{Offset: int64(off), Reason: "aabb tree too deep"}
	}
	c := p.mdl.at(off)
	n := &AABBNode{}
	n.Box.Min = c.vector3()
	n.Box.Max = c.vector3()
	offLeft := c.uint32()
	offRight := c.uint32()
	n.FaceIndex = c.int32()
	n.Plane = c.uint32()
	if c.err != nil {
		return nil, c.err
	}
	if offLeft == 0 && offRight == 0 {
		if n.FaceIndex < 0 {
			return nil, &CorruptHeaderError{Offset: int64(off), Reason: "aabb leaf without face index"}
		}
		return n, nil
	}
	if offLeft == 0 || offRight == 0 {
		return nil, &CorruptHeaderError{Offset: int64(off), Reason: "aabb branch with single child"}
	}
	var err error
	if n.Left, err = p.readAABB(offLeft, depth+1); err != nil {
		return nil, err
	}
	if n.Right, err = p.readAABB(offRight, depth+1); err != nil {
		return nil, err
	}
	return n, nil
}

func (p *parser) readSaber(c *cursor, mesh *Mesh) error {
	offVerts := c.uint32()
	offTexCoords := c.uint32()
	offNormals := c.uint32()
	c.uint32() // inverted counter 1
	c.uint32() // inverted counter 2
	if c.err != nil {
		return c.err
	}

	vc := p.mdl.at(offVerts)
	tc := p.mdl.at(offTexCoords)
	nc := p.mdl.at(offNormals)
	for i := 0; i < SaberVertexCount; i++ {
		mesh.Vertices = append(mesh.Vertices, vc.vector3())
		mesh.UV1 = append(mesh.UV1, tc.vector2())
		mesh.Normals = append(mesh.Normals, nc.vector3())
	}
	for _, rc := range []*cursor{vc, tc, nc} {
		if rc.err != nil {
			return rc.err
		}
	}
	// Stored face data is ignored for sabers: the blade topology is fixed.
	mesh.Faces = SaberFaces()
	mesh.Saber = &Saber{}
	return nil
}

func (p *parser) readControllers(node *Node, keys, data arrayDef, anim bool) error {
	values := make([]float32, data.Count)
	dc := p.mdl.at(data.Offset)
	for i := range values {
		values[i] = dc.float32()
	}
	if dc.err != nil {
		return dc.err
	}

	// Shadow nodes carry no payload, so the keyed property set comes from
	// the model node they mirror.
	category := node.controllerCategory()
	if anim {
		category = categoryAll
		if p.model != nil {
			if mn := p.model.NodeByNumber(node.Number); mn != nil {
				category = mn.controllerCategory()
			}
		}
	}
	kc := p.mdl.at(keys.Offset)
	for i := uint32(0); i < keys.Count; i++ {
		typ := kc.uint32()
		kc.uint16() // always 0xffff
		rows := int(kc.uint16())
		timeIndex := int(kc.uint16())
		dataIndex := int(kc.uint16())
		storedColumns := int(kc.uint8())
		kc.bytes(3)
		if kc.err != nil {
			return kc.err
		}

		def := lookupController(category, typ)
		if def == nil {
			return &InvalidControllerTypeError{Node: node.Name, Type: typ}
		}
		ctrl := &Controller{Type: typ, Bezier: storedColumns&0x10 != 0}
		packed := typ == ControllerOrientation && storedColumns == 2
		columns := storedColumns & 0x0f
		if ctrl.Bezier {
			columns *= 3
		}
		want := def.Columns
		if ctrl.Bezier {
			want *= 3
		}
		stride := columns
		if packed {
			stride = 1
		} else if columns != want {
			return &InvalidControllerTypeError{Node: node.Name, Type: typ}
		}

		for r := 0; r < rows; r++ {
			if timeIndex+r >= len(values) || dataIndex+r*stride+stride > len(values) {
				return &OutOfBoundsError{Offset: int64(dataIndex + r*stride), Size: int64(stride), Length: int64(len(values))}
			}
			key := ControllerKey{Time: values[timeIndex+r]}
			if packed {
				x, y, z, w := DecompressQuaternion(math.Float32bits(values[dataIndex+r]))
				key.Values = []float32{x, y, z, w}
			} else {
				key.Values = append([]float32(nil), values[dataIndex+r*stride:dataIndex+r*stride+stride]...)
			}
			ctrl.Keys = append(ctrl.Keys, key)
		}

		// The mandatory single-row bind pose controllers fold back into
		// the node transform instead of surviving as tracks.
		if !anim && len(ctrl.Keys) == 1 && ctrl.Keys[0].Time == 0 && !ctrl.Bezier {
			if typ == ControllerPosition {
				node.Position = geom.Vector3{X: ctrl.Keys[0].Values[0], Y: ctrl.Keys[0].Values[1], Z: ctrl.Keys[0].Values[2]}
				continue
			}
			if typ == ControllerOrientation {
				v := ctrl.Keys[0].Values
				node.Orientation = geom.Quaternion{X: v[0], Y: v[1], Z: v[2], W: v[3]}
				continue
			}
		}
		node.Controllers = append(node.Controllers, ctrl)
	}
	return nil
}

func (p *parser) readAnimations(model *Model, anims arrayDef) error {
	offsets := make([]uint32, anims.Count)
	c := p.mdl.at(anims.Offset)
	for i := range offsets {
		offsets[i] = c.uint32()
	}
	if c.err != nil {
		return c.err
	}
	for _, off := range offsets {
		anim, err := p.readAnimation(off)
		if err != nil {
			return err
		}
		model.Animations = append(model.Animations, anim)
	}
	return nil
}

func (p *parser) readAnimation(off uint32) (*Animation, error) {
	c := p.mdl.at(off)
	c.uint32() // anim function pointer 1
	c.uint32() // anim function pointer 2
	anim := &Animation{}
	anim.Name = c.fixedString(32)
	offRootNode := c.uint32()
	c.uint32()  // node count
	c.bytes(24) // runtime array state
	c.uint32()  // reference count
	geometryType := c.uint8()
	c.bytes(3)
	if c.err != nil {
		return nil, c.err
	}
	if geometryType != 5 {
		return nil, &CorruptHeaderError{Offset: c.pos - 4, Reason: "geometry type is not an animation"}
	}
	anim.Length = c.float32()
	anim.TransitionTime = c.float32()
	anim.AnimRoot = c.fixedString(32)
	events := c.array()
	c.uint32() // unknown
	if c.err != nil {
		return nil, c.err
	}

	ec := p.mdl.at(events.Offset)
	for i := uint32(0); i < events.Count; i++ {
		anim.Events = append(anim.Events, Event{
			Time: ec.float32(),
			Name: ec.fixedString(32),
		})
	}
	if ec.err != nil {
		return nil, ec.err
	}

	root, err := p.readNode(offRootNode, true, map[uint32]bool{})
	if err != nil {
		return nil, err
	}
	anim.Root = root
	return anim, nil
}

func (p *parser) finishSkins(model *Model) {
	if len(p.rawSkins) == 0 {
		return
	}
	nodes := model.Nodes()
	for _, rs := range p.rawSkins {
		slots := len(rs.skin.BoneQuaternions)
		bonemap := make([]float32, slots)
		for i := range bonemap {
			bonemap[i] = BonemapUnused
		}
		for serial, slotf := range rs.bonemap {
			slot := int(slotf)
			if slot < 0 || slot >= slots || serial >= len(nodes) {
				continue
			}
			bonemap[slot] = float32(nodes[serial].Number)
		}
		rs.skin.Bonemap = bonemap
		rs.skin.RemapBones(nodes)
	}
}
