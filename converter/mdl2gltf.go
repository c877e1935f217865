package converter

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/odysseytools/mdlconv/geom"
	"github.com/odysseytools/mdlconv/mdl"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"

	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	_ "image/gif"

	"github.com/blezek/tga"
	_ "github.com/oov/psd"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

type MDLToGLTFOption struct {
	Scale      float32 // Default: 1.0
	ForceUnlit bool

	TextureReCompress      bool
	TextureBytesThreshold  int64 // 0: unlimited
	TextureResolutionLimit int   // 0: unlimited
	TextureScale           float32

	IgnoreAnimations bool
}

type mdlToGltf struct {
	*MDLToGLTFOption
	*gltf.Document
	nodeIndex   map[*mdl.Node]uint32
	numberIndex map[uint16]uint32
}

// Texture references in the model carry no extension; the matching image
// sits next to the model with one of these.
var textureExtensions = []string{".tga", ".png", ".jpg", ".jpeg", ".bmp", ".psd"}

type textureCache struct {
	srcDir   string
	textures map[string]*textureInfo
}

type textureInfo struct {
	file string
	id   *uint32
	img  image.Image
	err  error
}

func (c *textureCache) get(name string) *textureInfo {
	key := strings.ToLower(name)
	if t, ok := c.textures[key]; ok {
		return t
	}
	t := &textureInfo{}
	for _, ext := range textureExtensions {
		if _, err := os.Stat(filepath.Join(c.srcDir, key+ext)); err == nil {
			t.file = key + ext
			break
		}
	}
	if t.file == "" {
		t.err = fmt.Errorf("texture not found: %s", name)
	}
	c.textures[key] = t
	return t
}

func (c *textureCache) getImage(name string) (image.Image, error) {
	t := c.get(name)
	if t.img != nil || t.err != nil {
		return t.img, t.err
	}

	f, err := os.Open(filepath.Join(c.srcDir, t.file))
	if err != nil {
		t.err = err
		return nil, err
	}
	defer f.Close()

	t.img, _, t.err = image.Decode(f)
	if t.err != nil && strings.ToLower(filepath.Ext(t.file)) == ".tga" {
		// retry
		f.Seek(0, io.SeekStart)
		t.img, t.err = tga.Decode(f)
	}
	return t.img, t.err
}

func NewMDLToGLTFConverter(options *MDLToGLTFOption) *mdlToGltf {
	if options == nil {
		options = &MDLToGLTFOption{}
	}
	if options.Scale == 0 {
		options.Scale = 1.0
	}
	if options.TextureScale == 0 {
		options.TextureScale = 1.0
	}
	return &mdlToGltf{
		MDLToGLTFOption: options,
		Document:        gltf.NewDocument(),
	}
}

func (m *mdlToGltf) addMatrices(mat [][4][4]float32) uint32 {
	a := make([][4]float32, len(mat)*4)
	for i, m := range mat {
		a[i*4+0] = m[0]
		a[i*4+1] = m[1]
		a[i*4+2] = m[2]
		a[i*4+3] = m[3]
	}
	acc := modeler.WriteTangent(m.Document, a)
	m.Accessors[acc].Type = gltf.AccessorMat4
	m.Accessors[acc].Count /= 4
	m.BufferViews[*m.Accessors[acc].BufferView].ByteStride *= 4
	return acc
}

func (m *mdlToGltf) addSkin(skin *mdl.Skin) uint32 {
	scale := m.Scale
	joints := make([]uint32, len(skin.Bonemap))
	invmats := make([][4][4]float32, len(skin.Bonemap))
	for slot, number := range skin.Bonemap {
		if number == mdl.BonemapUnused {
			// Unused slots receive no weight; point them at the root with
			// an identity bind so the skin stays valid.
			joints[slot] = 0
			invmats[slot] = [4][4]float32{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}, {0, 0, 0, 1}}
			continue
		}
		joints[slot] = m.numberIndex[uint16(number)]

		var q geom.Quaternion
		var t geom.Vector3
		if slot < len(skin.BoneQuaternions) {
			q = skin.BoneQuaternions[slot]
		} else {
			q = geom.Quaternion{W: 1}
		}
		if slot < len(skin.BoneTranslations) {
			t = skin.BoneTranslations[slot]
		}
		// The stored bind pose already maps model space into bone space.
		inv := geom.NewTranslateMatrix4(t.X*scale, t.Y*scale, t.Z*scale).
			Mul(geom.NewRotationMatrix4FromQuaternion(&q))
		var a [16]geom.Element
		inv.ToArray(a[:])
		invmats[slot] = [4][4]float32{
			{a[0], a[1], a[2], a[3]},
			{a[4], a[5], a[6], a[7]},
			{a[8], a[9], a[10], a[11]},
			{a[12], a[13], a[14], a[15]},
		}
	}
	m.Skins = append(m.Skins, &gltf.Skin{
		Joints:              joints,
		InverseBindMatrices: gltf.Index(m.addMatrices(invmats)),
	})
	return uint32(len(m.Skins) - 1)
}

func (m *mdlToGltf) hasAlpha(texture string, textures *textureCache) bool {
	if texture == "" {
		return false
	}
	img, err := textures.getImage(texture)
	if err != nil {
		return false
	}
	switch img.ColorModel() {
	case color.YCbCrModel, color.CMYKModel:
		return false
	case color.RGBAModel:
		return !img.(*image.RGBA).Opaque()
	case color.NRGBAModel:
		return !img.(*image.NRGBA).Opaque()
	}
	return false
}

func scaleTexture(texture string, mime string, textures *textureCache, scale float32, limit int) (io.Reader, error) {
	img, err := textures.getImage(texture)
	if err != nil {
		return nil, err
	}
	rect := img.Bounds()

	if limit > 0 {
		sz := int(float32(rect.Dx()) * scale)
		if sz > limit {
			scale *= float32(limit) / float32(sz)
		}
	}

	if scale != 1.0 {
		dst := image.NewRGBA(image.Rect(0, 0, int(float32(rect.Dx())*scale), int(float32(rect.Dy())*scale)))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, rect, draw.Over, nil)
		img = dst
	}

	w := new(bytes.Buffer)
	if mime == "image/png" {
		err = png.Encode(w, img)
	} else {
		err = jpeg.Encode(w, img, nil)
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (m *mdlToGltf) addTexture(texture string, textures *textureCache) (*uint32, error) {
	t := textures.get(texture)
	if t.id != nil {
		return t.id, nil
	}
	if t.err != nil {
		return nil, t.err
	}
	ext := strings.ToLower(filepath.Ext(t.file))

	encode := m.TextureReCompress
	if m.TextureBytesThreshold > 0 {
		stat, err := os.Stat(filepath.Join(textures.srcDir, t.file))
		if err != nil {
			return nil, err
		}
		if stat.Size() > m.TextureBytesThreshold {
			encode = true
		}
	}

	var mimeType string
	if ext == ".jpg" || ext == ".jpeg" {
		mimeType = "image/jpeg"
	} else if ext == ".png" {
		mimeType = "image/png"
	} else {
		mimeType = "image/png"
		encode = true
	}

	var r io.Reader
	if encode {
		r2, err := scaleTexture(texture, mimeType, textures, m.TextureScale, m.TextureResolutionLimit)
		if err != nil {
			return nil, err
		}
		r = r2
	} else {
		f, err := os.Open(filepath.Join(textures.srcDir, t.file))
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	img, err := modeler.WriteImage(m.Document, t.file, mimeType, r)
	if err != nil {
		return nil, err
	}
	m.Buffers[0].ByteLength = uint32(len(m.Buffers[0].Data)) // avoid AddImage bug
	m.Textures = append(m.Textures,
		&gltf.Texture{Sampler: gltf.Index(0), Source: gltf.Index(img)})

	t.id = gltf.Index(uint32(len(m.Textures)) - 1)

	return t.id, nil
}

func (m *mdlToGltf) convertMaterial(name string, mesh *mdl.Mesh, textures *textureCache) *gltf.Material {
	var unlitMaterialExt = "KHR_materials_unlit"
	var rf float32 = 0.9
	var mf float32 = 0
	mm := &gltf.Material{
		Name: name,
		PBRMetallicRoughness: &gltf.PBRMetallicRoughness{
			BaseColorFactor: &[4]float32{mesh.Diffuse.X, mesh.Diffuse.Y, mesh.Diffuse.Z, 1},
			RoughnessFactor: &rf,
			MetallicFactor:  &mf,
		},
	}
	if mesh.TransparencyHint != 0 || m.hasAlpha(mesh.Texture1, textures) {
		mm.AlphaMode = gltf.AlphaBlend
	}
	if m.ForceUnlit || mesh.HasLightmap {
		// Lightmapped geometry is pre-lit in the source assets.
		mm.Extensions = map[string]interface{}{unlitMaterialExt: map[string]string{}}
	}

	if mesh.Texture1 != "" {
		if tex, err := m.addTexture(mesh.Texture1, textures); err == nil {
			mm.PBRMetallicRoughness.BaseColorTexture = &gltf.TextureInfo{
				Index: *tex,
			}
		} else {
			log.Print("Texture read error:", err)
		}
	}
	return mm
}

func (m *mdlToGltf) addMaterial(mesh *mdl.Mesh, textures *textureCache, cache map[string]uint32) uint32 {
	key := strings.ToLower(mesh.Texture1)
	if mesh.HasLightmap {
		key += "|lm"
	}
	if mesh.TransparencyHint != 0 {
		key += "|blend"
	}
	if id, ok := cache[key]; ok {
		return id
	}
	name := mesh.Texture1
	if name == "" {
		name = "material"
	}
	m.Document.Materials = append(m.Document.Materials, m.convertMaterial(name, mesh, textures))
	id := uint32(len(m.Document.Materials) - 1)
	cache[key] = id
	return id
}

func (m *mdlToGltf) convertMesh(node *mdl.Node, textures *textureCache, materials map[string]uint32) *gltf.Mesh {
	mesh := node.Mesh
	scale := m.Scale

	positions := make([][3]float32, len(mesh.Vertices))
	for i, v := range mesh.Vertices {
		positions[i] = [3]float32{v.X * scale, v.Y * scale, v.Z * scale}
	}

	attributes := map[string]uint32{
		"POSITION": modeler.WritePosition(m.Document, positions),
	}
	if len(mesh.Normals) == len(mesh.Vertices) && len(mesh.Normals) > 0 {
		normals := make([][3]float32, len(mesh.Normals))
		for i, n := range mesh.Normals {
			normals[i] = [3]float32{n.X, n.Y, n.Z}
		}
		attributes["NORMAL"] = modeler.WriteNormal(m.Document, normals)

		if len(mesh.Tangents) == len(mesh.Vertices) && len(mesh.Bitangents) == len(mesh.Vertices) {
			tangents := make([][4]float32, len(mesh.Tangents))
			for i, t := range mesh.Tangents {
				w := float32(1)
				if mesh.Normals[i].Cross(&mesh.Tangents[i]).Dot(&mesh.Bitangents[i]) < 0 {
					w = -1
				}
				tangents[i] = [4]float32{t.X, t.Y, t.Z, w}
			}
			attributes["TANGENT"] = modeler.WriteTangent(m.Document, tangents)
		}
	}
	if len(mesh.UV1) == len(mesh.Vertices) && len(mesh.UV1) > 0 {
		uvs := make([][2]float32, len(mesh.UV1))
		for i, uv := range mesh.UV1 {
			uvs[i] = [2]float32{uv.X, uv.Y}
		}
		attributes["TEXCOORD_0"] = modeler.WriteTextureCoord(m.Document, uvs)
	}
	if len(mesh.UV2) == len(mesh.Vertices) && len(mesh.UV2) > 0 {
		uvs := make([][2]float32, len(mesh.UV2))
		for i, uv := range mesh.UV2 {
			uvs[i] = [2]float32{uv.X, uv.Y}
		}
		attributes["TEXCOORD_1"] = modeler.WriteTextureCoord(m.Document, uvs)
	}
	if skin := mesh.Skin; skin != nil &&
		len(skin.VertexBones) == len(mesh.Vertices) && len(skin.VertexWeights) == len(mesh.Vertices) {
		joints := make([][4]uint16, len(mesh.Vertices))
		weights := make([][4]float32, len(mesh.Vertices))
		for i := range mesh.Vertices {
			for j := 0; j < 4; j++ {
				if skin.VertexWeights[i][j] > 0 && skin.VertexBones[i][j] >= 0 {
					joints[i][j] = uint16(skin.VertexBones[i][j])
					weights[i][j] = skin.VertexWeights[i][j]
				}
			}
		}
		attributes["JOINTS_0"] = modeler.WriteJoints(m.Document, joints)
		attributes["WEIGHTS_0"] = modeler.WriteWeights(m.Document, weights)
	}

	indices := make([]uint16, 0, len(mesh.Faces)*3)
	for _, f := range mesh.Faces {
		indices = append(indices, f.Indices[0], f.Indices[1], f.Indices[2])
	}

	return &gltf.Mesh{
		Name: node.Name,
		Primitives: []*gltf.Primitive{{
			Indices:    gltf.Index(modeler.WriteIndices(m.Document, indices)),
			Attributes: attributes,
			Material:   gltf.Index(m.addMaterial(mesh, textures, materials)),
		}},
	}
}

// controllerValues returns the key value portion of a controller row. Bezier
// rows store in/out tangents after the value; those are dropped here and the
// curve is exported with linear interpolation.
func controllerValues(k *mdl.ControllerKey, columns int) []float32 {
	if len(k.Values) < columns {
		return nil
	}
	return k.Values[:columns]
}

func (m *mdlToGltf) addChannel(a *gltf.Animation, node uint32, path gltf.TRSProperty, keys uint32, samples uint32) {
	a.Samplers = append(a.Samplers, &gltf.AnimationSampler{
		Input:         gltf.Index(keys),
		Output:        gltf.Index(samples),
		Interpolation: gltf.InterpolationLinear,
	})
	a.Channels = append(a.Channels, &gltf.Channel{
		Sampler: gltf.Index(uint32(len(a.Samplers) - 1)),
		Target: gltf.ChannelTarget{
			Node: gltf.Index(node),
			Path: path,
		},
	})
}

func (m *mdlToGltf) addAnimation(anim *mdl.Animation) {
	if anim.Root == nil {
		return
	}
	a := &gltf.Animation{Name: anim.Name}
	scale := m.Scale
	for _, node := range anim.Root.Nodes() {
		target, ok := m.numberIndex[node.Number]
		if !ok {
			continue
		}
		for _, c := range node.Controllers {
			if len(c.Keys) == 0 {
				continue
			}
			keys := make([]float32, len(c.Keys))
			for i, k := range c.Keys {
				keys[i] = k.Time
			}
			switch c.Type {
			case mdl.ControllerPosition:
				translations := make([][3]float32, 0, len(c.Keys))
				for i := range c.Keys {
					v := controllerValues(&c.Keys[i], 3)
					if v == nil {
						continue
					}
					translations = append(translations, [3]float32{v[0] * scale, v[1] * scale, v[2] * scale})
				}
				if len(translations) != len(keys) {
					continue
				}
				keysAcc := modeler.WriteAccessor(m.Document, gltf.TargetArrayBuffer, keys)
				m.addChannel(a, target, gltf.TRSTranslation, keysAcc, modeler.WritePosition(m.Document, translations))
			case mdl.ControllerOrientation:
				rotations := make([][4]float32, 0, len(c.Keys))
				for i := range c.Keys {
					v := controllerValues(&c.Keys[i], 4)
					if v == nil {
						continue
					}
					rotations = append(rotations, [4]float32{v[0], v[1], v[2], v[3]})
				}
				if len(rotations) != len(keys) {
					continue
				}
				keysAcc := modeler.WriteAccessor(m.Document, gltf.TargetArrayBuffer, keys)
				m.addChannel(a, target, gltf.TRSRotation, keysAcc, modeler.WriteTangent(m.Document, rotations))
			case mdl.ControllerScale:
				scales := make([][3]float32, 0, len(c.Keys))
				for i := range c.Keys {
					v := controllerValues(&c.Keys[i], 1)
					if v == nil {
						continue
					}
					scales = append(scales, [3]float32{v[0], v[0], v[0]})
				}
				if len(scales) != len(keys) {
					continue
				}
				keysAcc := modeler.WriteAccessor(m.Document, gltf.TargetArrayBuffer, keys)
				m.addChannel(a, target, gltf.TRSScale, keysAcc, modeler.WritePosition(m.Document, scales))
			}
		}
	}
	if len(a.Channels) > 0 {
		m.Animations = append(m.Animations, a)
	}
}

func (m *mdlToGltf) Convert(model *mdl.Model, textureDir string) (*gltf.Document, error) {
	if model.Root == nil {
		return nil, fmt.Errorf("model %s has no root node", model.Name)
	}
	nodes := model.Nodes()
	m.nodeIndex = map[*mdl.Node]uint32{}
	m.numberIndex = map[uint16]uint32{}
	for i, n := range nodes {
		m.nodeIndex[n] = uint32(i)
		m.numberIndex[n.Number] = uint32(i)
	}

	textures := &textureCache{srcDir: textureDir, textures: map[string]*textureInfo{}}
	materials := map[string]uint32{}

	m.Nodes = make([]*gltf.Node, len(nodes))
	for i, n := range nodes {
		scale := m.Scale
		node := &gltf.Node{
			Name:        n.Name,
			Translation: [3]float32{n.Position.X * scale, n.Position.Y * scale, n.Position.Z * scale},
			Rotation:    [4]float32{n.Orientation.X, n.Orientation.Y, n.Orientation.Z, n.Orientation.W},
		}
		if node.Rotation == [4]float32{0, 0, 0, 0} {
			node.Rotation = [4]float32{0, 0, 0, 1}
		}
		for _, c := range n.Children {
			node.Children = append(node.Children, m.nodeIndex[c])
		}
		m.Nodes[i] = node
	}
	m.Scenes[0].Nodes = append(m.Scenes[0].Nodes, m.nodeIndex[model.Root])

	// Meshes after the node table so skin joints can reference any node.
	for i, n := range nodes {
		mesh := n.Mesh
		if mesh == nil || len(mesh.Vertices) == 0 || len(mesh.Faces) == 0 || !mesh.Render {
			continue
		}
		m.Nodes[i].Mesh = gltf.Index(uint32(len(m.Document.Meshes)))
		m.Document.Meshes = append(m.Document.Meshes, m.convertMesh(n, textures, materials))
		if mesh.Skin != nil {
			m.Nodes[i].Skin = gltf.Index(m.addSkin(mesh.Skin))
		}
	}

	if !m.IgnoreAnimations {
		for _, anim := range model.Animations {
			m.addAnimation(anim)
		}
	}

	useUnlit := false
	for _, mm := range m.Document.Materials {
		if mm.Extensions["KHR_materials_unlit"] != nil {
			useUnlit = true
		}
	}
	if useUnlit {
		m.ExtensionsUsed = append(m.ExtensionsUsed, "KHR_materials_unlit")
	}

	if len(m.Document.Textures) > 0 {
		m.Document.Samplers = []*gltf.Sampler{{}}
	}

	return m.Document, nil
}
