package mdl

import (
	"sort"

	"github.com/odysseytools/mdlconv/geom"
)

// BuildAABBTree partitions the faces of a mesh into a binary tree of
// axis-aligned bounding boxes with one leaf per face. The split axis is
// the one with the largest extent (ties favor the later of X, Y, Z);
// faces are ordered by centroid along it and split at the middle index.
func BuildAABBTree(faces []Face, vertices []geom.Vector3) *AABBNode {
	if len(faces) == 0 {
		return nil
	}
	indices := make([]int32, len(faces))
	for i := range indices {
		indices[i] = int32(i)
	}
	centroids := make([]geom.Vector3, len(faces))
	for i, f := range faces {
		c := &geom.Vector3{}
		for _, vi := range f.Indices {
			c = c.Add(&vertices[vi])
		}
		centroids[i] = *c.Scale(1.0 / 3)
	}
	b := &aabbBuilder{faces: faces, vertices: vertices, centroids: centroids}
	return b.build(indices)
}

type aabbBuilder struct {
	faces     []Face
	vertices  []geom.Vector3
	centroids []geom.Vector3
}

func (b *aabbBuilder) build(indices []int32) *AABBNode {
	box := geom.NewBoundingBox()
	for _, fi := range indices {
		for _, vi := range b.faces[fi].Indices {
			box.Extend(&b.vertices[vi])
		}
	}

	if len(indices) == 1 {
		return &AABBNode{
			Box:       *box,
			FaceIndex: indices[0],
			Plane:     AABBPlaneLeaf,
		}
	}

	axis := box.LongestAxis()
	sort.SliceStable(indices, func(i, j int) bool {
		return axisValue(&b.centroids[indices[i]], axis) < axisValue(&b.centroids[indices[j]], axis)
	})

	// Children are built left first so a serializer visiting the tree in
	// discovery order emits parents before children.
	mid := len(indices) / 2
	return &AABBNode{
		Box:       *box,
		Left:      b.build(indices[:mid]),
		Right:     b.build(indices[mid:]),
		FaceIndex: -1,
		Plane:     AABBPlaneX << axis,
	}
}

func axisValue(v *geom.Vector3, axis int) geom.Element {
	switch axis {
	case 0:
		return v.X
	case 1:
		return v.Y
	}
	return v.Z
}

// Leaves returns the number of leaf nodes under n.
func (n *AABBNode) Leaves() int {
	if n == nil {
		return 0
	}
	if n.Left == nil && n.Right == nil {
		return 1
	}
	return n.Left.Leaves() + n.Right.Leaves()
}

// Height returns the height of the tree rooted at n.
func (n *AABBNode) Height() int {
	if n == nil {
		return 0
	}
	l, r := n.Left.Height(), n.Right.Height()
	if l > r {
		return l + 1
	}
	return r + 1
}
