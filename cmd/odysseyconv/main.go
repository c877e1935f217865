package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/odysseytools/mdlconv/converter"
	"github.com/odysseytools/mdlconv/mdl"
	"github.com/qmuntal/gltf"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.Logger

func newLogger(level string) *zap.Logger {
	lvl := zapcore.InfoLevel
	switch level {
	case "debug":
		lvl = zapcore.DebugLevel
	case "warn":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	}
	encoder := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:          "time",
		LevelKey:         "level",
		MessageKey:       "msg",
		EncodeTime:       zapcore.TimeEncoderOfLayout("15:04:05"),
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		ConsoleSeparator: " ",
	})
	return zap.New(zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), lvl))
}

func defaultOutputFile(input string) string {
	ext := strings.ToLower(filepath.Ext(input))
	base := input[0 : len(input)-len(ext)]
	if ext == ".ascii" {
		return base // model.mdl.ascii -> model.mdl
	} else if ext == ".mdl" {
		return base + ".glb"
	}
	return input + ".glb"
}

// binary models start with a u32 zero sentinel; everything else is treated
// as the ascii form.
func isBinaryModel(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	var head [4]byte
	if _, err := f.Read(head[:]); err != nil {
		return false
	}
	return bytes.Equal(head[:], []byte{0, 0, 0, 0})
}

func loadModel(input string) (*mdl.Model, *mdl.Variant, error) {
	if !isBinaryModel(input) {
		model, err := mdl.DecodeASCIIFile(input)
		return model, nil, err
	}
	data, err := os.ReadFile(input)
	if err != nil {
		return nil, nil, err
	}
	variant, err := mdl.DetectVariant(data)
	if err != nil {
		return nil, nil, err
	}
	model, err := mdl.DecodeFile(input)
	return model, variant, err
}

func saveModel(model *mdl.Model, output string, variant *mdl.Variant, opts *mdl.EncodeOptions,
	preset *converter.Preset, gltfOpt *converter.MDLToGLTFOption, texDir string) error {
	ext := strings.ToLower(filepath.Ext(output))
	switch ext {
	case ".glb", ".gltf":
		conv := converter.NewMDLToGLTFConverter(gltfOpt)
		doc, err := conv.Convert(model, texDir)
		if err != nil {
			return err
		}
		if preset != nil {
			converter.ApplyMaterialSettings(doc, preset.MaterialSettings)
		}
		if ext == ".gltf" {
			return gltf.Save(doc, output)
		}
		return gltf.SaveBinary(doc, output)
	case ".mdl":
		return mdl.EncodeFile(model, variant, opts, output)
	}
	return fmt.Errorf("unsupported output type: %v", ext)
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s input.mdl [output.glb]\n", os.Args[0])
		flag.PrintDefaults()
	}
	variantName := flag.String("variant", "", "target variant for .mdl output (k1-pc, k2-pc, k1-xbox, k2-xbox)")
	compressQuats := flag.Bool("compressquats", false, "pack orientation keys (.mdl)")
	recomputeTangents := flag.Bool("tangents", false, "recompute tangent space (.mdl)")
	forceUnlit := flag.Bool("gltfunlit", false, "unlit all materials")
	noAnim := flag.Bool("noanim", false, "skip animations (.glb)")
	scale := flag.Float64("scale", 1.0, "geometry scale (.glb)")
	texDir := flag.String("texdir", "", "texture search directory (default: input directory)")
	presetFile := flag.String("preset", "", "YAML export preset")
	logLevel := flag.String("loglevel", "info", "debug, info, warn or error")
	flag.Parse()

	logger = newLogger(*logLevel)
	defer logger.Sync()

	if flag.NArg() == 0 {
		flag.Usage()
		return
	}
	input := flag.Arg(0)
	output := ""
	if flag.NArg() < 2 {
		output = defaultOutputFile(input)
	} else {
		output = flag.Arg(1)
	}

	gltfOpt := &converter.MDLToGLTFOption{
		Scale:            float32(*scale),
		ForceUnlit:       *forceUnlit,
		IgnoreAnimations: *noAnim,
	}
	encodeOpts := &mdl.EncodeOptions{
		CompressQuaternions: *compressQuats,
		RecomputeTangents:   *recomputeTangents,
	}

	var preset *converter.Preset
	if *presetFile != "" {
		p, err := converter.LoadPreset(*presetFile)
		if err != nil {
			logger.Fatal("preset load failed", zap.Error(err))
		}
		preset = p
		gltfOpt = p.GLTFOption()
		gltfOpt.ForceUnlit = gltfOpt.ForceUnlit || *forceUnlit
		encodeOpts = p.EncodeOptions()
		if *variantName == "" {
			*variantName = p.Variant
		}
	}

	model, srcVariant, err := loadModel(input)
	if err != nil {
		logger.Fatal("load failed", zap.String("input", input), zap.Error(err))
	}
	logger.Info("loaded model",
		zap.String("name", model.Name),
		zap.Int("nodes", len(model.Nodes())),
		zap.Int("animations", len(model.Animations)))
	if srcVariant != nil {
		logger.Debug("source variant", zap.String("variant", srcVariant.Name))
	}

	variant := srcVariant
	if *variantName != "" {
		variant = mdl.VariantByName(*variantName)
		if variant == nil {
			logger.Fatal("unknown variant", zap.String("variant", *variantName))
		}
	}

	dir := *texDir
	if dir == "" {
		dir = filepath.Dir(input)
	}

	if err := saveModel(model, output, variant, encodeOpts, preset, gltfOpt, dir); err != nil {
		logger.Fatal("save failed", zap.String("output", output), zap.Error(err))
	}
	logger.Info("wrote", zap.String("output", output))
}
