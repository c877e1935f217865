package mdl

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/odysseytools/mdlconv/geom"
)

// DecodeASCII reads the textual model form emitted by legacy art tools.
// Unknown keywords are skipped with a log line; malformed values are
// fatal. Orientations are given as axis-angle and converted to
// quaternions.
func DecodeASCII(r io.Reader) (*Model, error) {
	p := &asciiParser{
		sc:      bufio.NewScanner(r),
		model:   &Model{AnimationScale: 1},
		byName:  make(map[string]*Node),
		parents: make(map[*Node]string),
	}
	p.sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	if err := p.parse(); err != nil {
		return nil, err
	}
	return p.model, nil
}

// DecodeASCIIFile reads a textual model from path.
func DecodeASCIIFile(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeASCII(f)
}

var classificationNames = map[string]Classification{
	"other":      ClassificationOther,
	"effect":     ClassificationEffect,
	"effects":    ClassificationEffect,
	"tile":       ClassificationTile,
	"character":  ClassificationCharacter,
	"door":       ClassificationDoor,
	"lightsaber": ClassificationLightsaber,
	"placeable":  ClassificationPlaceable,
	"flyer":      ClassificationFlyer,
}

type asciiParser struct {
	sc     *bufio.Scanner
	lineno int

	model   *Model
	nodes   []*Node
	byName  map[string]*Node
	parents map[*Node]string

	// per-skin bone names, resolved to node numbers after the tree links
	skinBones map[*Skin][]string

	// parent name reported by the animation node most recently parsed
	animParent string
}

// next returns the fields of the next non-empty line, with comments
// stripped.
func (p *asciiParser) next() ([]string, bool) {
	for p.sc.Scan() {
		p.lineno++
		line := p.sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) > 0 {
			return fields, true
		}
	}
	return nil, false
}

func (p *asciiParser) errf(format string, args ...interface{}) error {
	return fmt.Errorf("mdl: ascii line %d: %s", p.lineno, fmt.Sprintf(format, args...))
}

func (p *asciiParser) float(s string) (float32, error) {
	v, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, p.errf("bad number %q", s)
	}
	return float32(v), nil
}

func (p *asciiParser) floats(fields []string) ([]float32, error) {
	out := make([]float32, len(fields))
	for i, s := range fields {
		v, err := p.float(s)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (p *asciiParser) int(s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, p.errf("bad count %q", s)
	}
	return v, nil
}

func axisAngleToQuaternion(v []float32) geom.Quaternion {
	q := geom.NewQuaternionFromAxisAngle(&geom.Vector3{X: v[0], Y: v[1], Z: v[2]}, v[3])
	return *q
}

func (p *asciiParser) parse() error {
	p.skinBones = make(map[*Skin][]string)
	for {
		fields, ok := p.next()
		if !ok {
			break
		}
		switch strings.ToLower(fields[0]) {
		case "newmodel":
			if len(fields) > 1 {
				p.model.Name = fields[1]
			}
		case "setsupermodel":
			if len(fields) > 2 {
				p.model.SupermodelName = fields[2]
			}
		case "classification":
			if len(fields) > 1 {
				p.model.Classification = classificationNames[strings.ToLower(fields[1])]
			}
		case "setanimationscale":
			if len(fields) > 1 {
				v, err := p.float(fields[1])
				if err != nil {
					return err
				}
				p.model.AnimationScale = v
			}
		case "ignorefog":
			if len(fields) > 1 {
				p.model.AffectedByFog = fields[1] == "0"
			}
		case "beginmodelgeom", "endmodelgeom":
			// structural markers only
		case "node":
			if len(fields) < 3 {
				return p.errf("node needs a type and a name")
			}
			if err := p.parseNode(fields[1], fields[2]); err != nil {
				return err
			}
		case "newanim":
			if len(fields) < 2 {
				return p.errf("newanim needs a name")
			}
			if err := p.parseAnimation(fields[1]); err != nil {
				return err
			}
		case "donemodel":
			return p.finish()
		default:
			log.Printf("mdl: ascii line %d: skipping %q", p.lineno, fields[0])
		}
	}
	return p.finish()
}

func (p *asciiParser) finish() error {
	var root *Node
	for _, n := range p.nodes {
		parent := p.parents[n]
		if parent == "" || strings.EqualFold(parent, "null") {
			if root != nil {
				return fmt.Errorf("mdl: ascii model has two roots (%q and %q)", root.Name, n.Name)
			}
			root = n
			continue
		}
		pn, ok := p.byName[strings.ToLower(parent)]
		if !ok {
			return fmt.Errorf("mdl: ascii node %q has unknown parent %q", n.Name, parent)
		}
		pn.Children = append(pn.Children, n)
	}
	if root == nil {
		return fmt.Errorf("mdl: ascii model has no root node")
	}
	p.model.Root = root

	// Bone names resolve only once the whole tree is known.
	for skin, bones := range p.skinBones {
		skin.Bonemap = make([]float32, len(bones))
		skin.BoneQuaternions = make([]geom.Quaternion, len(bones))
		skin.BoneTranslations = make([]geom.Vector3, len(bones))
		for i, name := range bones {
			skin.BoneQuaternions[i] = geom.Quaternion{W: 1}
			if n, ok := p.byName[strings.ToLower(name)]; ok {
				skin.Bonemap[i] = float32(n.Number)
			} else {
				skin.Bonemap[i] = BonemapUnused
				log.Printf("mdl: skin references unknown bone %q", name)
			}
		}
		skin.RemapBones(p.model.Nodes())
	}
	return nil
}

func newASCIINode(typ string) (*Node, error) {
	n := &Node{Orientation: geom.Quaternion{W: 1}}
	switch strings.ToLower(typ) {
	case "dummy":
		// no payload
	case "trimesh":
		n.Mesh = &Mesh{Render: true}
	case "danglymesh":
		n.Mesh = &Mesh{Render: true, Dangly: &Dangly{}}
	case "skin":
		n.Mesh = &Mesh{Render: true, Skin: &Skin{}}
	case "aabb":
		n.Mesh = &Mesh{AABB: &AABBNode{}}
	case "lightsaber":
		n.Mesh = &Mesh{Render: true, Saber: &Saber{}}
	case "light":
		n.Light = &Light{}
	case "emitter":
		n.Emitter = &Emitter{}
	case "reference":
		n.Reference = &Reference{}
	default:
		return nil, fmt.Errorf("mdl: unknown ascii node type %q", typ)
	}
	return n, nil
}

func (p *asciiParser) parseNode(typ, name string) error {
	n, err := newASCIINode(typ)
	if err != nil {
		return err
	}
	n.Name = name
	n.Number = uint16(len(p.nodes))
	p.nodes = append(p.nodes, n)
	p.byName[strings.ToLower(name)] = n

	var faceT [][3]int
	var tverts []geom.Vector2

	for {
		fields, ok := p.next()
		if !ok {
			return p.errf("node %q not closed", name)
		}
		key := strings.ToLower(fields[0])
		args := fields[1:]
		switch key {
		case "endnode":
			p.applyTVerts(n, faceT, tverts)
			return nil
		case "parent":
			if len(args) > 0 {
				p.parents[n] = args[0]
			}
		case "position":
			v, err := p.floats(args)
			if err != nil || len(v) < 3 {
				return p.errf("position needs 3 values")
			}
			n.Position = geom.Vector3{X: v[0], Y: v[1], Z: v[2]}
		case "orientation":
			v, err := p.floats(args)
			if err != nil || len(v) < 4 {
				return p.errf("orientation needs 4 values")
			}
			n.Orientation = axisAngleToQuaternion(v)
		default:
			handled, err := p.nodeProperty(n, key, args, &faceT, &tverts)
			if err != nil {
				return err
			}
			if handled {
				continue
			}
			if err := p.controllerLine(n, key, args, false); err != nil {
				return err
			}
		}
	}
}

// nodeProperty consumes one per-type property line (or block). It returns
// false when the keyword is not a structural property, so the caller can
// try the controller table.
func (p *asciiParser) nodeProperty(n *Node, key string, args []string, faceT *[][3]int, tverts *[]geom.Vector2) (bool, error) {
	mesh := n.Mesh
	switch key {
	case "bitmap", "texture":
		if mesh != nil && len(args) > 0 && !strings.EqualFold(args[0], "null") {
			mesh.Texture1 = args[0]
		}
		return true, nil
	case "lightmap", "bitmap2":
		if mesh != nil && len(args) > 0 {
			mesh.Texture2 = args[0]
			mesh.HasLightmap = true
		}
		return true, nil
	case "ambient":
		if mesh != nil {
			v, err := p.floats(args)
			if err != nil || len(v) < 3 {
				return true, p.errf("ambient needs 3 values")
			}
			mesh.Ambient = geom.Vector3{X: v[0], Y: v[1], Z: v[2]}
		}
		return true, nil
	case "diffuse":
		if mesh != nil {
			v, err := p.floats(args)
			if err != nil || len(v) < 3 {
				return true, p.errf("diffuse needs 3 values")
			}
			mesh.Diffuse = geom.Vector3{X: v[0], Y: v[1], Z: v[2]}
		}
		return true, nil
	case "transparencyhint":
		if mesh != nil && len(args) > 0 {
			v, err := p.int(args[0])
			if err != nil {
				return true, err
			}
			mesh.TransparencyHint = uint32(v)
		}
		return true, nil
	case "render":
		if mesh != nil && len(args) > 0 {
			mesh.Render = args[0] != "0"
		}
		return true, nil
	case "shadow":
		if n.Light != nil && len(args) > 0 {
			n.Light.Shadow = args[0] != "0"
		} else if mesh != nil && len(args) > 0 {
			mesh.Shadow = args[0] != "0"
		}
		return true, nil
	case "beaming":
		if mesh != nil && len(args) > 0 {
			mesh.Beaming = args[0] != "0"
		}
		return true, nil
	case "rotatetexture":
		if mesh != nil && len(args) > 0 {
			mesh.RotateTexture = args[0] != "0"
		}
		return true, nil
	case "verts":
		if mesh == nil {
			return true, p.errf("verts outside a mesh node")
		}
		return true, p.readVec3List(args, &mesh.Vertices)
	case "faces":
		if mesh == nil {
			return true, p.errf("faces outside a mesh node")
		}
		return true, p.readFaces(mesh, args, faceT)
	case "tverts":
		if mesh == nil {
			return true, p.errf("tverts outside a mesh node")
		}
		return true, p.readVec2List(args, tverts)
	case "weights":
		if mesh == nil || mesh.Skin == nil {
			return true, p.errf("weights outside a skin node")
		}
		return true, p.readWeights(mesh.Skin, args)
	case "constraints":
		if mesh == nil || mesh.Dangly == nil {
			return true, p.errf("constraints outside a danglymesh node")
		}
		return true, p.readFloatList(args, &mesh.Dangly.Constraints)
	case "displacement", "tightness", "period":
		if mesh == nil || mesh.Dangly == nil {
			return true, p.errf("%s outside a danglymesh node", key)
		}
		if len(args) > 0 {
			v, err := p.float(args[0])
			if err != nil {
				return true, err
			}
			switch key {
			case "displacement":
				mesh.Dangly.Displacement = v
			case "tightness":
				mesh.Dangly.Tightness = v
			case "period":
				mesh.Dangly.Period = v
			}
		}
		return true, nil
	case "aabb":
		// Stored tree data is regenerated on write; swallow the block.
		if mesh != nil {
			mesh.AABB = &AABBNode{}
		}
		return true, nil
	}

	if n.Light != nil {
		return p.lightProperty(n.Light, key, args)
	}
	if n.Emitter != nil {
		return p.emitterProperty(n.Emitter, key, args)
	}
	if n.Reference != nil {
		switch key {
		case "refmodel":
			if len(args) > 0 {
				n.Reference.RefModel = args[0]
			}
			return true, nil
		case "reattachable":
			if len(args) > 0 {
				n.Reference.Reattachable = args[0] != "0"
			}
			return true, nil
		}
	}
	return false, nil
}

func (p *asciiParser) lightProperty(l *Light, key string, args []string) (bool, error) {
	switch key {
	case "flareradius":
		if len(args) > 0 {
			v, err := p.float(args[0])
			if err != nil {
				return true, err
			}
			l.FlareRadius = v
		}
	case "flaresizes":
		return true, p.readFloatList(args, &l.FlareSizes)
	case "flarepositions":
		return true, p.readFloatList(args, &l.FlarePositions)
	case "flarecolorshifts":
		return true, p.readVec3List(args, &l.FlareColorShifts)
	case "texturenames":
		return true, p.readNameList(args, &l.FlareTextures)
	case "lightpriority":
		if len(args) > 0 {
			v, err := p.int(args[0])
			if err != nil {
				return true, err
			}
			l.Priority = uint32(v)
		}
	case "ambientonly":
		l.AmbientOnly = len(args) > 0 && args[0] != "0"
	case "ndynamictype", "isdynamic":
		if len(args) > 0 {
			v, err := p.int(args[0])
			if err != nil {
				return true, err
			}
			l.DynamicType = uint32(v)
		}
	case "affectdynamic":
		l.AffectDynamic = len(args) > 0 && args[0] != "0"
	case "lensflares", "flare":
		l.Flare = len(args) > 0 && args[0] != "0"
	case "fadinglight":
		l.FadingLight = len(args) > 0 && args[0] != "0"
	default:
		return false, nil
	}
	return true, nil
}

func (p *asciiParser) emitterProperty(e *Emitter, key string, args []string) (bool, error) {
	arg := ""
	if len(args) > 0 {
		arg = args[0]
	}
	switch key {
	case "update":
		e.Update = arg
	case "render":
		e.Render = arg
	case "blend":
		e.Blend = arg
	case "texture":
		e.Texture = arg
	case "chunkname":
		e.ChunkName = arg
	case "depthtexturename":
		e.DepthTexture = arg
	case "spawntype", "xgrid", "ygrid", "renderorder", "numbranches":
		v, err := p.int(arg)
		if err != nil {
			return true, err
		}
		switch key {
		case "spawntype":
			e.SpawnType = uint32(v)
		case "xgrid":
			e.GridX = uint32(v)
		case "ygrid":
			e.GridY = uint32(v)
		case "renderorder":
			e.RenderOrder = uint16(v)
		case "numbranches":
			e.BranchCount = uint32(v)
		}
	case "deadspace", "blastradius", "blastlength", "controlptsmoothing":
		v, err := p.float(arg)
		if err != nil {
			return true, err
		}
		switch key {
		case "deadspace":
			e.DeadSpace = v
		case "blastradius":
			e.BlastRadius = v
		case "blastlength":
			e.BlastLength = v
		case "controlptsmoothing":
			e.ControlPointSmoothing = v
		}
	case "twosidedtex":
		e.TwoSidedTexture = arg != "0"
	case "loop":
		e.Loop = arg != "0"
	case "framebledning", "frameblending":
		e.FrameBlending = arg != "0"
	case "p2p":
		if arg != "0" {
			e.Flags |= EmitterFlagP2P
		}
	case "p2p_sel":
		if arg != "0" {
			e.Flags |= EmitterFlagP2PSel
		}
	case "affectedbywind":
		if arg != "0" {
			e.Flags |= EmitterFlagAffectedWind
		}
	case "m_istinted":
		if arg != "0" {
			e.Flags |= EmitterFlagTinted
		}
	case "bounce":
		if arg != "0" {
			e.Flags |= EmitterFlagBounce
		}
	case "random":
		if arg != "0" {
			e.Flags |= EmitterFlagRandom
		}
	case "inherit":
		if arg != "0" {
			e.Flags |= EmitterFlagInherit
		}
	case "inheritvel":
		if arg != "0" {
			e.Flags |= EmitterFlagInheritVel
		}
	case "inherit_local":
		if arg != "0" {
			e.Flags |= EmitterFlagInheritLocal
		}
	case "splat":
		if arg != "0" {
			e.Flags |= EmitterFlagSplat
		}
	case "inheritpart":
		if arg != "0" {
			e.Flags |= EmitterFlagInheritPart
		}
	default:
		return false, nil
	}
	return true, nil
}

// controllerLine resolves a keyword against the controller table: a bare
// name is a single static value, "<name>key" opens a keyframe list.
func (p *asciiParser) controllerLine(n *Node, key string, args []string, anim bool) error {
	category := n.controllerCategory()

	if def := lookupControllerByName(category, key); def != nil {
		v, err := p.floats(args)
		if err != nil {
			return err
		}
		if def.Type == ControllerOrientation {
			if len(v) < 4 {
				return p.errf("orientation needs 4 values")
			}
			q := axisAngleToQuaternion(v)
			v = []float32{q.X, q.Y, q.Z, q.W}
		}
		if len(v) < def.Columns {
			return p.errf("%s needs %d values", key, def.Columns)
		}
		switch {
		case !anim && def.Type == ControllerPosition:
			n.Position = geom.Vector3{X: v[0], Y: v[1], Z: v[2]}
		case !anim && def.Type == ControllerOrientation:
			n.Orientation = geom.Quaternion{X: v[0], Y: v[1], Z: v[2], W: v[3]}
		default:
			n.Controllers = append(n.Controllers, &Controller{
				Type: def.Type,
				Keys: []ControllerKey{{Values: v[:def.Columns]}},
			})
		}
		return nil
	}

	name, bezier := strings.TrimSuffix(key, "key"), false
	if strings.HasSuffix(name, "bezier") {
		name, bezier = strings.TrimSuffix(name, "bezier"), true
	}
	if def := lookupControllerByName(category, name); def != nil && strings.HasSuffix(key, "key") {
		count := -1
		if len(args) > 0 {
			c, err := p.int(args[0])
			if err != nil {
				return err
			}
			count = c
		}
		if def.Type == ControllerOrientation && bezier {
			// Orientation rows are axis-angle, but bezier tangent columns
			// have no meaningful axis-angle to quaternion conversion.
			return p.errf("orientationbezierkey is not supported")
		}
		ctrl := &Controller{Type: def.Type, Bezier: bezier}
		columns := def.Columns
		if def.Type == ControllerOrientation {
			columns = 4 // axis-angle rows
		}
		if bezier {
			columns *= 3
		}
		for count != 0 {
			fields, ok := p.next()
			if !ok {
				return p.errf("unterminated %s list", key)
			}
			if strings.EqualFold(fields[0], "endlist") {
				break
			}
			v, err := p.floats(fields)
			if err != nil {
				return err
			}
			if len(v) < columns+1 {
				return p.errf("%s row needs %d values", key, columns+1)
			}
			values := v[1 : columns+1]
			if def.Type == ControllerOrientation && !bezier {
				q := axisAngleToQuaternion(values)
				values = []float32{q.X, q.Y, q.Z, q.W}
			}
			ctrl.Keys = append(ctrl.Keys, ControllerKey{Time: v[0], Values: values})
			if count > 0 {
				count--
			}
		}
		n.Controllers = append(n.Controllers, ctrl)
		return nil
	}

	log.Printf("mdl: ascii line %d: skipping %q", p.lineno, key)
	return nil
}

func (p *asciiParser) listCount(args []string) (int, error) {
	if len(args) == 0 {
		return 0, p.errf("list needs a count")
	}
	return p.int(args[0])
}

func (p *asciiParser) readVec3List(args []string, out *[]geom.Vector3) error {
	count, err := p.listCount(args)
	if err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		fields, ok := p.next()
		if !ok {
			return p.errf("truncated list")
		}
		v, err := p.floats(fields)
		if err != nil || len(v) < 3 {
			return p.errf("list row needs 3 values")
		}
		*out = append(*out, geom.Vector3{X: v[0], Y: v[1], Z: v[2]})
	}
	return nil
}

func (p *asciiParser) readVec2List(args []string, out *[]geom.Vector2) error {
	count, err := p.listCount(args)
	if err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		fields, ok := p.next()
		if !ok {
			return p.errf("truncated list")
		}
		v, err := p.floats(fields)
		if err != nil || len(v) < 2 {
			return p.errf("list row needs 2 values")
		}
		*out = append(*out, geom.Vector2{X: v[0], Y: v[1]})
	}
	return nil
}

func (p *asciiParser) readFloatList(args []string, out *[]float32) error {
	count, err := p.listCount(args)
	if err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		fields, ok := p.next()
		if !ok {
			return p.errf("truncated list")
		}
		v, err := p.float(fields[0])
		if err != nil {
			return err
		}
		*out = append(*out, v)
	}
	return nil
}

func (p *asciiParser) readNameList(args []string, out *[]string) error {
	count, err := p.listCount(args)
	if err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		fields, ok := p.next()
		if !ok {
			return p.errf("truncated list")
		}
		*out = append(*out, fields[0])
	}
	return nil
}

func (p *asciiParser) readFaces(mesh *Mesh, args []string, faceT *[][3]int) error {
	count, err := p.listCount(args)
	if err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		fields, ok := p.next()
		if !ok {
			return p.errf("truncated face list")
		}
		// v1 v2 v3 smoothgroup t1 t2 t3 material
		if len(fields) < 8 {
			return p.errf("face row needs 8 values")
		}
		var idx [3]uint16
		var tex [3]int
		for j := 0; j < 3; j++ {
			v, err := p.int(fields[j])
			if err != nil {
				return err
			}
			idx[j] = uint16(v)
			t, err := p.int(fields[4+j])
			if err != nil {
				return err
			}
			tex[j] = t
		}
		mat, err := p.int(fields[7])
		if err != nil {
			return err
		}
		mesh.Faces = append(mesh.Faces, Face{Indices: idx, Material: uint32(mat)})
		*faceT = append(*faceT, tex)
	}
	return nil
}

// applyTVerts resolves per-corner texture indices into one UV per vertex.
func (p *asciiParser) applyTVerts(n *Node, faceT [][3]int, tverts []geom.Vector2) {
	mesh := n.Mesh
	if mesh == nil || len(tverts) == 0 || len(mesh.Vertices) == 0 {
		return
	}
	mesh.UV1 = make([]geom.Vector2, len(mesh.Vertices))
	for fi, f := range mesh.Faces {
		if fi >= len(faceT) {
			break
		}
		for j := 0; j < 3; j++ {
			t := faceT[fi][j]
			if t >= 0 && t < len(tverts) && int(f.Indices[j]) < len(mesh.UV1) {
				mesh.UV1[f.Indices[j]] = tverts[t]
			}
		}
	}
}

func (p *asciiParser) readWeights(skin *Skin, args []string) error {
	count, err := p.listCount(args)
	if err != nil {
		return err
	}
	bones := p.skinBones[skin]
	slotOf := func(name string) float32 {
		for i, b := range bones {
			if strings.EqualFold(b, name) {
				return float32(i)
			}
		}
		bones = append(bones, name)
		return float32(len(bones) - 1)
	}
	for i := 0; i < count; i++ {
		fields, ok := p.next()
		if !ok {
			return p.errf("truncated weight list")
		}
		if len(fields)%2 != 0 || len(fields) > 8 {
			return p.errf("weight row needs bone/weight pairs")
		}
		w := [4]float32{}
		b := [4]float32{}
		for j := 0; j < len(fields)/2; j++ {
			b[j] = slotOf(fields[j*2])
			v, err := p.float(fields[j*2+1])
			if err != nil {
				return err
			}
			w[j] = v
		}
		skin.VertexWeights = append(skin.VertexWeights, w)
		skin.VertexBones = append(skin.VertexBones, b)
	}
	p.skinBones[skin] = bones
	return nil
}

func (p *asciiParser) parseAnimation(name string) error {
	anim := &Animation{Name: name}
	var nodes []*Node
	parents := make(map[*Node]string)
	byName := make(map[string]*Node)

	for {
		fields, ok := p.next()
		if !ok {
			return p.errf("animation %q not closed", name)
		}
		key := strings.ToLower(fields[0])
		args := fields[1:]
		switch key {
		case "doneanim":
			return p.finishAnimation(anim, nodes, parents, byName)
		case "length":
			if len(args) > 0 {
				v, err := p.float(args[0])
				if err != nil {
					return err
				}
				anim.Length = v
			}
		case "transtime":
			if len(args) > 0 {
				v, err := p.float(args[0])
				if err != nil {
					return err
				}
				anim.TransitionTime = v
			}
		case "animroot":
			if len(args) > 0 {
				anim.AnimRoot = args[0]
			}
		case "event":
			if len(args) < 2 {
				return p.errf("event needs a time and a name")
			}
			t, err := p.float(args[0])
			if err != nil {
				return err
			}
			anim.Events = append(anim.Events, Event{Time: t, Name: args[1]})
		case "node":
			if len(args) < 2 {
				return p.errf("node needs a type and a name")
			}
			n, err := p.parseAnimNode(args[1])
			if err != nil {
				return err
			}
			nodes = append(nodes, n)
			byName[strings.ToLower(n.Name)] = n
			parents[n] = p.animParent
			p.animParent = ""
		default:
			log.Printf("mdl: ascii line %d: skipping %q in animation", p.lineno, fields[0])
		}
	}
}

func (p *asciiParser) finishAnimation(anim *Animation, nodes []*Node, parents map[*Node]string, byName map[string]*Node) error {
	// A node whose parent is NULL or names something outside the
	// animation's own tree is a root candidate; extra candidates hang off
	// the first.
	var orphans []*Node
	for _, n := range nodes {
		parent := parents[n]
		pn := byName[strings.ToLower(parent)]
		if parent == "" || strings.EqualFold(parent, "null") || pn == nil || pn == n {
			orphans = append(orphans, n)
			continue
		}
		pn.Children = append(pn.Children, n)
	}
	if len(orphans) == 0 {
		return fmt.Errorf("mdl: animation %q has no root node", anim.Name)
	}
	root := orphans[0]
	for _, n := range orphans[1:] {
		root.Children = append(root.Children, n)
	}
	anim.Root = root
	p.model.Animations = append(p.model.Animations, anim)
	return nil
}

func (p *asciiParser) parseAnimNode(name string) (*Node, error) {
	n := &Node{Name: name, Orientation: geom.Quaternion{W: 1}}
	if mn, ok := p.byName[strings.ToLower(name)]; ok {
		n.Number = mn.Number
	}
	for {
		fields, ok := p.next()
		if !ok {
			return nil, p.errf("animation node %q not closed", name)
		}
		key := strings.ToLower(fields[0])
		args := fields[1:]
		switch key {
		case "endnode":
			return n, nil
		case "parent":
			if len(args) > 0 {
				p.animParent = args[0]
			}
		default:
			if err := p.controllerLine(n, key, args, true); err != nil {
				return nil, err
			}
		}
	}
}
