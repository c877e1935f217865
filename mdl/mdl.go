package mdl

import (
	"github.com/odysseytools/mdlconv/geom"
)

// Classification of the whole model, as used by the engine to pick a
// rendering path.
type Classification uint8

const (
	ClassificationOther      Classification = 0x00
	ClassificationEffect     Classification = 0x01
	ClassificationTile       Classification = 0x02
	ClassificationCharacter  Classification = 0x04
	ClassificationDoor       Classification = 0x08
	ClassificationLightsaber Classification = 0x10
	ClassificationPlaceable  Classification = 0x20
	ClassificationFlyer      Classification = 0x40
)

// Model is a whole MDL document: one node tree plus its animations.
// A Model is built fully in memory; it is safe for concurrent reads but
// callers must serialize mutation themselves.
type Model struct {
	Name              string
	Classification    Classification
	Subclassification uint8
	AffectedByFog     bool
	SupermodelName    string
	AnimationScale    float32

	Root       *Node
	Animations []*Animation

	// Derived on read, recomputed from the meshes on write.
	BoundingBox geom.BoundingBox
	Radius      float32
}

// Node type bit flags as stored in the node header.
const (
	NodeFlagHeader    uint16 = 0x0001
	NodeFlagLight     uint16 = 0x0002
	NodeFlagEmitter   uint16 = 0x0004
	NodeFlagCamera    uint16 = 0x0008
	NodeFlagReference uint16 = 0x0010
	NodeFlagMesh      uint16 = 0x0020
	NodeFlagSkin      uint16 = 0x0040
	NodeFlagAnim      uint16 = 0x0080
	NodeFlagDangly    uint16 = 0x0100
	NodeFlagAABB      uint16 = 0x0200
	NodeFlagSaber     uint16 = 0x0800

	nodeFlagsKnown = NodeFlagHeader | NodeFlagLight | NodeFlagEmitter | NodeFlagCamera |
		NodeFlagReference | NodeFlagMesh | NodeFlagSkin | NodeFlagAnim |
		NodeFlagDangly | NodeFlagAABB | NodeFlagSaber
)

// Node is one element of the model tree. Each node is owned by exactly one
// parent. At most one of Light, Emitter, Reference or Mesh is set.
type Node struct {
	Number      uint16
	Name        string
	Position    geom.Vector3
	Orientation geom.Quaternion // x, y, z, w

	Children    []*Node
	Controllers []*Controller

	Light     *Light
	Emitter   *Emitter
	Reference *Reference
	Mesh      *Mesh
}

// TypeFlags returns the node header bit flags matching the payload.
func (n *Node) TypeFlags() uint16 {
	flags := NodeFlagHeader
	switch {
	case n.Light != nil:
		flags |= NodeFlagLight
	case n.Emitter != nil:
		flags |= NodeFlagEmitter
	case n.Reference != nil:
		flags |= NodeFlagReference
	case n.Mesh != nil:
		flags |= NodeFlagMesh
		switch {
		case n.Mesh.Skin != nil:
			flags |= NodeFlagSkin
		case n.Mesh.Dangly != nil:
			flags |= NodeFlagDangly
		case n.Mesh.AABB != nil:
			flags |= NodeFlagAABB
		case n.Mesh.Saber != nil:
			flags |= NodeFlagSaber
		}
	}
	return flags
}

// Nodes returns the tree rooted at n in depth-first order. This order
// defines the serial position used by skin bone references.
func (n *Node) Nodes() []*Node {
	var list []*Node
	var walk func(*Node)
	walk = func(node *Node) {
		list = append(list, node)
		for _, c := range node.Children {
			walk(c)
		}
	}
	walk(n)
	return list
}

// Nodes returns all nodes of the model tree in depth-first order.
func (m *Model) Nodes() []*Node {
	if m.Root == nil {
		return nil
	}
	return m.Root.Nodes()
}

// NodeByNumber finds a node by its numeric id, or nil.
func (m *Model) NodeByNumber(number uint16) *Node {
	for _, n := range m.Nodes() {
		if n.Number == number {
			return n
		}
	}
	return nil
}

// NodeByName finds a node by name, or nil.
func (m *Model) NodeByName(name string) *Node {
	for _, n := range m.Nodes() {
		if n.Name == name {
			return n
		}
	}
	return nil
}

// Face is one mesh triangle. The plane normal and distance are stored in
// the file; the per-mesh aggregates (bounding box, average, radius, total
// area) are derived from the face set on write.
type Face struct {
	Indices  [3]uint16
	Material uint32
	Normal   geom.Vector3
	Distance float32
}

// Mesh holds the vertex arrays and rendering state shared by every mesh
// kind. Optional attribute slices are either empty or len == len(Vertices);
// an empty slice means the attribute is absent, not zero.
type Mesh struct {
	Faces    []Face
	Vertices []geom.Vector3
	Normals  []geom.Vector3
	UV1      []geom.Vector2
	UV2      []geom.Vector2

	Tangents   []geom.Vector3
	Bitangents []geom.Vector3

	Diffuse          geom.Vector3
	Ambient          geom.Vector3
	TransparencyHint uint32
	Texture1         string
	Texture2         string

	Render             bool
	Shadow             bool
	Beaming            bool
	BackgroundGeometry bool
	RotateTexture      bool
	HasLightmap        bool

	// Second-edition-only dirt layer. Ignored by first-edition variants.
	DirtEnabled    bool
	DirtTexture    uint16
	DirtCoordSpace uint16
	HideInHologram bool

	AnimateUV     bool
	UVDirection   geom.Vector2
	UVJitter      float32
	UVJitterSpeed float32

	// At most one of these is set; all nil means a plain trimesh.
	Skin   *Skin
	Dangly *Dangly
	AABB   *AABBNode
	Saber  *Saber

	// Derived fields. Populated by the reader, recomputed by the writer.
	BoundingBox     geom.BoundingBox
	Average         geom.Vector3
	Radius          float32
	TotalArea       float32
	InvertedCounter uint32
}

// BonemapUnused marks an unused bonemap slot.
const BonemapUnused float32 = -1

// Skin extends Mesh with bone-weighted deformation data.
type Skin struct {
	// VertexWeights and VertexBones hold up to four weighted bone
	// references per vertex. Bone references are local bone slots,
	// float-encoded as stored; unused entries carry weight 0.
	VertexWeights [][4]float32
	VertexBones   [][4]float32

	// Bonemap maps a local bone slot to a global node number.
	// BonemapUnused marks slots no bone is assigned to.
	Bonemap []float32

	// Bind pose per local bone slot.
	BoneQuaternions  []geom.Quaternion
	BoneTranslations []geom.Vector3

	// Derived lookup tables, rebuilt by RemapBones; not stored.
	BoneSerial []uint16
	BoneNode   []uint16
}

// Dangly extends Mesh with per-vertex constraints for jiggle simulation.
type Dangly struct {
	Constraints  []float32 // one per vertex, 0..255
	Displacement float32
	Tightness    float32
	Period       float32
}

// Saber marks a lightsaber blade mesh. The blade always has exactly
// SaberVertexCount vertices in the base mesh arrays and a fixed face
// table (see SaberFaces); stored face data is ignored.
type Saber struct{}

// SaberVertexCount is the fixed size of a saber blade vertex buffer.
const SaberVertexCount = 176

// AABBNode is one node of the axis-aligned bounding box tree over a
// mesh's faces. A node is a leaf iff both children are nil; leaves have
// FaceIndex >= 0, branches have FaceIndex == -1.
type AABBNode struct {
	Box       geom.BoundingBox
	Left      *AABBNode
	Right     *AABBNode
	FaceIndex int32
	Plane     uint32
}

// Split plane hints stored per AABB tree node.
const (
	AABBPlaneX    uint32 = 1
	AABBPlaneY    uint32 = 2
	AABBPlaneZ    uint32 = 4
	AABBPlaneLeaf uint32 = 8
)

// Light is a light source payload, including lens flare elements.
type Light struct {
	FlareRadius      float32
	FlareSizes       []float32
	FlarePositions   []float32
	FlareColorShifts []geom.Vector3
	FlareTextures    []string

	Priority      uint32
	AmbientOnly   bool
	DynamicType   uint32
	AffectDynamic bool
	Shadow        bool
	Flare         bool
	FadingLight   bool
}

// Emitter is a particle emitter payload.
type Emitter struct {
	DeadSpace             float32
	BlastRadius           float32
	BlastLength           float32
	BranchCount           uint32
	ControlPointSmoothing float32
	GridX                 uint32
	GridY                 uint32
	SpawnType             uint32
	Update                string
	Render                string
	Blend                 string
	Texture               string
	ChunkName             string
	TwoSidedTexture       bool
	Loop                  bool
	RenderOrder           uint16
	FrameBlending         bool
	DepthTexture          string
	Flags                 uint32
}

// Emitter behavior flags.
const (
	EmitterFlagP2P           uint32 = 0x0001
	EmitterFlagP2PSel        uint32 = 0x0002
	EmitterFlagAffectedWind  uint32 = 0x0004
	EmitterFlagTinted        uint32 = 0x0008
	EmitterFlagBounce        uint32 = 0x0010
	EmitterFlagRandom        uint32 = 0x0020
	EmitterFlagInherit       uint32 = 0x0040
	EmitterFlagInheritVel    uint32 = 0x0080
	EmitterFlagInheritLocal  uint32 = 0x0100
	EmitterFlagSplat         uint32 = 0x0200
	EmitterFlagInheritPart   uint32 = 0x0400
	EmitterFlagDepthTexture  uint32 = 0x0800
	EmitterFlagEmitterFlag13 uint32 = 0x1000
)

// Reference attaches another model by resource name.
type Reference struct {
	RefModel     string
	Reattachable bool
}

// Animation is a named controller clip. Its node tree mirrors the model
// tree by node number and carries controllers only.
type Animation struct {
	Name           string
	AnimRoot       string
	Length         float32
	TransitionTime float32
	Events         []Event
	Root           *Node
}

// Event is a timed tag inside an animation.
type Event struct {
	Time float32
	Name string
}
