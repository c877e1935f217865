package mdl

import "fmt"

// Every parse error is fatal for the whole operation: the reader never
// returns a partial Model.

// CorruptHeaderError reports a header field that does not match the
// format's fixed expectations.
type CorruptHeaderError struct {
	Offset int64
	Reason string
}

func (e *CorruptHeaderError) Error() string {
	return fmt.Sprintf("mdl: corrupt header at offset %d: %s", e.Offset, e.Reason)
}

// UnknownVariantError reports an unrecognized platform/edition fingerprint.
type UnknownVariantError struct {
	FnPtr1 uint32
	FnPtr2 uint32
}

func (e *UnknownVariantError) Error() string {
	return fmt.Sprintf("mdl: unknown variant fingerprint %d/%d", e.FnPtr1, e.FnPtr2)
}

// ArrayCountMismatchError reports an array descriptor whose redundant
// count fields disagree.
type ArrayCountMismatchError struct {
	Offset int64
	Count  uint32
	Count2 uint32
}

func (e *ArrayCountMismatchError) Error() string {
	return fmt.Sprintf("mdl: array count mismatch at offset %d: %d != %d", e.Offset, e.Count, e.Count2)
}

// OutOfBoundsError reports an offset or length resolving outside the
// stream.
type OutOfBoundsError struct {
	Offset int64
	Size   int64
	Length int64
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("mdl: read of %d bytes at offset %d out of bounds (stream length %d)", e.Size, e.Offset, e.Length)
}

// MissingCompanionStreamError reports a mesh that needs vertex data while
// no MDX stream was supplied.
type MissingCompanionStreamError struct {
	Node string
}

func (e *MissingCompanionStreamError) Error() string {
	return fmt.Sprintf("mdl: node %q needs vertex data but no companion stream was given", e.Node)
}

// UnsupportedNodeTypeError reports node type flags outside the known set.
type UnsupportedNodeTypeError struct {
	Offset int64
	Flags  uint16
}

func (e *UnsupportedNodeTypeError) Error() string {
	return fmt.Sprintf("mdl: unsupported node type flags 0x%04x at offset %d", e.Flags, e.Offset)
}

// InvalidControllerTypeError reports a controller type id not defined for
// the node kind it appears on.
type InvalidControllerTypeError struct {
	Node string
	Type uint32
}

func (e *InvalidControllerTypeError) Error() string {
	return fmt.Sprintf("mdl: invalid controller type %d on node %q", e.Type, e.Node)
}

// CyclicGraphError reports a node tree that is not acyclic. Detected
// before the encoder plans its layout.
type CyclicGraphError struct {
	Node string
}

func (e *CyclicGraphError) Error() string {
	return fmt.Sprintf("mdl: node %q is reachable twice; model tree must be acyclic", e.Node)
}
