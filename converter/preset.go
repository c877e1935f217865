package converter

import (
	"io/ioutil"
	"log"

	"github.com/odysseytools/mdlconv/mdl"
	"github.com/qmuntal/gltf"
	"gopkg.in/yaml.v2"
)

// Preset bundles export settings so conversion pipelines can be described
// in a file instead of flag soup.
type Preset struct {
	Scale            float32 `yaml:"scale"`
	ForceUnlit       bool    `yaml:"forceUnlit"`
	IgnoreAnimations bool    `yaml:"ignoreAnimations"`

	Textures TexturePreset `yaml:"textures"`

	MaterialSettings map[string]*MaterialSetting `yaml:"materialSettings"`

	// Binary re-encode settings.
	Variant             string `yaml:"variant"`
	CompressQuaternions bool   `yaml:"compressQuaternions"`
	RecomputeTangents   bool   `yaml:"recomputeTangents"`
}

type TexturePreset struct {
	ReCompress      bool    `yaml:"recompress"`
	BytesThreshold  int64   `yaml:"bytesThreshold"`
	ResolutionLimit int     `yaml:"resolutionLimit"`
	Scale           float32 `yaml:"scale"`
}

// MaterialSetting overrides the generated glTF material for one texture
// name. "*" matches any material without an explicit entry.
type MaterialSetting struct {
	ForceUnlit bool   `yaml:"forceUnlit"`
	AlphaMode  string `yaml:"alphaMode"`
}

func LoadPreset(path string) (*Preset, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p Preset
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Preset) GLTFOption() *MDLToGLTFOption {
	return &MDLToGLTFOption{
		Scale:                  p.Scale,
		ForceUnlit:             p.ForceUnlit,
		IgnoreAnimations:       p.IgnoreAnimations,
		TextureReCompress:      p.Textures.ReCompress,
		TextureBytesThreshold:  p.Textures.BytesThreshold,
		TextureResolutionLimit: p.Textures.ResolutionLimit,
		TextureScale:           p.Textures.Scale,
	}
}

func (p *Preset) EncodeOptions() *mdl.EncodeOptions {
	return &mdl.EncodeOptions{
		CompressQuaternions: p.CompressQuaternions,
		RecomputeTangents:   p.RecomputeTangents,
	}
}

// ApplyMaterialSettings rewrites generated materials according to the
// preset. Material names follow the diffuse texture name.
func ApplyMaterialSettings(doc *gltf.Document, settings map[string]*MaterialSetting) {
	if len(settings) == 0 {
		return
	}
	var unlitMaterialExt = "KHR_materials_unlit"
	useUnlit := false
	for _, mat := range doc.Materials {
		setting := settings[mat.Name]
		if setting == nil {
			setting = settings["*"]
		}
		if setting == nil {
			continue
		}
		if setting.ForceUnlit {
			if mat.Extensions == nil {
				mat.Extensions = map[string]interface{}{}
			}
			mat.Extensions[unlitMaterialExt] = map[string]string{}
			useUnlit = true
		}
		switch setting.AlphaMode {
		case "blend":
			mat.AlphaMode = gltf.AlphaBlend
		case "mask":
			mat.AlphaMode = gltf.AlphaMask
		case "opaque":
			mat.AlphaMode = gltf.AlphaOpaque
		case "":
		default:
			log.Println("Unknown alphaMode:", setting.AlphaMode)
		}
	}
	if useUnlit {
		for _, e := range doc.ExtensionsUsed {
			if e == unlitMaterialExt {
				return
			}
		}
		doc.ExtensionsUsed = append(doc.ExtensionsUsed, unlitMaterialExt)
	}
}
