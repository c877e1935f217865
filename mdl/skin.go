package mdl

// RemapBones resolves a skin's bonemap against the full node list in
// serial (depth-first) order. It returns two parallel per-slot tables:
// the serial position of the bone's node and the node's number. Slots
// whose bonemap entry is negative stay zero. Entries naming a node number
// that does not exist fall back to the slot's own index as the serial
// position; old assets rely on that.
func RemapBones(nodes []*Node, bonemap []float32) (serial []uint16, nodeNumbers []uint16) {
	serialByNumber := make(map[uint16]int, len(nodes))
	for i, n := range nodes {
		if _, ok := serialByNumber[n.Number]; !ok {
			serialByNumber[n.Number] = i
		}
	}

	for slot, entry := range bonemap {
		number := int(entry)
		for len(serial) <= slot {
			serial = append(serial, 0)
			nodeNumbers = append(nodeNumbers, 0)
		}
		if number < 0 {
			continue
		}
		if idx, ok := serialByNumber[uint16(number)]; ok {
			serial[slot] = uint16(idx)
		} else {
			serial[slot] = uint16(slot)
		}
		nodeNumbers[slot] = uint16(number)
	}
	return serial, nodeNumbers
}

// RemapBones rebuilds the skin's derived lookup tables from the model's
// node list. Called by the reader after decode; composite multi-part
// models call it again with the combined node list.
func (s *Skin) RemapBones(nodes []*Node) {
	s.BoneSerial, s.BoneNode = RemapBones(nodes, s.Bonemap)
}
