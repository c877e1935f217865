package mdl

// Variant selects one of the four platform/edition layouts. Layout
// differences are small: the engine function pointer fingerprints, eight
// extra mesh header bytes in the second edition, and 16-bit bone indices
// in the vertex stream on Xbox (float32 on PC).
type Variant struct {
	Name string

	ModelFnPtr1 uint32
	ModelFnPtr2 uint32
	AnimFnPtr1  uint32
	AnimFnPtr2  uint32
	MeshFnPtr1  uint32
	MeshFnPtr2  uint32

	SecondEdition bool
	Xbox          bool
}

var (
	VariantK1PC = &Variant{
		Name:        "k1-pc",
		ModelFnPtr1: 4273776, ModelFnPtr2: 4216096,
		AnimFnPtr1: 4273392, AnimFnPtr2: 4451552,
		MeshFnPtr1: 4216656, MeshFnPtr2: 4216672,
	}
	VariantK2PC = &Variant{
		Name:        "k2-pc",
		ModelFnPtr1: 4285200, ModelFnPtr2: 4216320,
		AnimFnPtr1: 4284816, AnimFnPtr2: 4522928,
		MeshFnPtr1: 4216880, MeshFnPtr2: 4216896,
		SecondEdition: true,
	}
	VariantK1Xbox = &Variant{
		Name:        "k1-xbox",
		ModelFnPtr1: 4254992, ModelFnPtr2: 4255008,
		AnimFnPtr1: 4254608, AnimFnPtr2: 4255008,
		MeshFnPtr1: 4216368, MeshFnPtr2: 4216384,
		Xbox: true,
	}
	VariantK2Xbox = &Variant{
		Name:        "k2-xbox",
		ModelFnPtr1: 4266096, ModelFnPtr2: 4266112,
		AnimFnPtr1: 4265712, AnimFnPtr2: 4266112,
		MeshFnPtr1: 4216592, MeshFnPtr2: 4216608,
		SecondEdition: true,
		Xbox:          true,
	}
)

var variants = []*Variant{VariantK1PC, VariantK2PC, VariantK1Xbox, VariantK2Xbox}

// VariantByName resolves "k1-pc", "k2-pc", "k1-xbox" or "k2-xbox", or nil.
func VariantByName(name string) *Variant {
	for _, v := range variants {
		if v.Name == name {
			return v
		}
	}
	return nil
}

func detectVariant(fnPtr1, fnPtr2 uint32) (*Variant, error) {
	for _, v := range variants {
		if v.ModelFnPtr1 == fnPtr1 && v.ModelFnPtr2 == fnPtr2 {
			return v, nil
		}
	}
	return nil, &UnknownVariantError{FnPtr1: fnPtr1, FnPtr2: fnPtr2}
}
