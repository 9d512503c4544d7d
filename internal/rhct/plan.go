package rhct

import (
	"fmt"

	"github.com/tinyrange/rhct/internal/hwinfo"
)

// Node type tags in the serialized table.
const (
	nodeTypeISAString uint16 = 0
	nodeTypeCMO       uint16 = 1
	nodeTypeHartInfo  uint16 = 0xFFFF
)

const (
	nodeRevision = 1

	// Every node starts with u16 type, u16 length, u8 revision.
	nodeHeaderSize = 5

	// tableFixedSize is the ACPI header plus the node count, first-node
	// offset, timebase frequency and flags fields.
	tableFixedSize = acpiHeaderSize + 4 + 4 + 8 + 8

	// isaNodeFixedSize is the node header plus the u16 string length.
	isaNodeFixedSize = nodeHeaderSize + 2

	// cmoNodeSize is the node header plus the three block-size exponents.
	cmoNodeSize = nodeHeaderSize + 3

	// hartNodeFixedSize is the node header plus the u16 offset count and
	// u32 hart uid; the per-group offset array follows.
	hartNodeFixedSize = nodeHeaderSize + 2 + 4

	maxNodeSize  = 0xFFFF
	maxTableSize = 0xFFFFFFFF
)

type nodeKind int

const (
	nodeISA nodeKind = iota
	nodeCMO
	nodeHart
)

// plannedNode is one entry of the node offset index: which object will be
// written, where, and how long its record is. Entries are appended in the
// exact order the writer visits them, with contiguous offsets.
type plannedNode struct {
	kind   nodeKind
	offset uint32
	length uint16
	index  int // element index within the object list of this kind
}

// tablePlan is the finished size computation for one table.
type tablePlan struct {
	total     uint32
	nodeCount uint32

	// groupOffsets lists the start of each non-hart node group that exists
	// (ISA, then CMO). Every hart-info node embeds this same array.
	groupOffsets []uint32

	nodes []plannedNode
}

// buildPlan computes the exact byte size and offset of every node. Group
// order is fixed: one ISA string node, the CMO group if any CMO objects
// exist, then one hart-info node per hart. Any node longer than the 16-bit
// length field, a CMO group longer than one node can address, or a table
// beyond 32 bits fails with ErrOverflow before anything is allocated.
func buildPlan(isa string, cmoCount int, hartCount int) (*tablePlan, error) {
	if isa == "" {
		return nil, fmt.Errorf("rhct: empty ISA string: %w", hwinfo.ErrInvalidInput)
	}
	if hartCount == 0 {
		return nil, fmt.Errorf("rhct: no hart objects: %w", hwinfo.ErrInvalidInput)
	}

	p := &tablePlan{}
	total := uint64(tableFixedSize)

	isaSize := uint64(isaNodeFixedSize) + align2(uint64(len(isa)+1))
	if isaSize > maxNodeSize {
		return nil, fmt.Errorf("rhct: ISA node size %d exceeds 16-bit length: %w", isaSize, hwinfo.ErrOverflow)
	}
	p.groupOffsets = append(p.groupOffsets, uint32(total))
	p.nodes = append(p.nodes, plannedNode{kind: nodeISA, offset: uint32(total), length: uint16(isaSize)})
	total += isaSize

	if cmoCount > 0 {
		groupSize := uint64(cmoCount) * cmoNodeSize
		if groupSize > maxNodeSize {
			return nil, fmt.Errorf("rhct: CMO node group size %d exceeds 16-bit length: %w", groupSize, hwinfo.ErrOverflow)
		}
		p.groupOffsets = append(p.groupOffsets, uint32(total))
		for i := 0; i < cmoCount; i++ {
			p.nodes = append(p.nodes, plannedNode{kind: nodeCMO, offset: uint32(total), length: cmoNodeSize, index: i})
			total += cmoNodeSize
		}
	}

	hartSize := uint64(hartNodeFixedSize) + 4*uint64(len(p.groupOffsets))
	if hartSize > maxNodeSize {
		return nil, fmt.Errorf("rhct: hart-info node size %d exceeds 16-bit length: %w", hartSize, hwinfo.ErrOverflow)
	}
	for i := 0; i < hartCount; i++ {
		if total+hartSize > maxTableSize {
			return nil, fmt.Errorf("rhct: table size exceeds 32 bits: %w", hwinfo.ErrOverflow)
		}
		p.nodes = append(p.nodes, plannedNode{kind: nodeHart, offset: uint32(total), length: uint16(hartSize), index: i})
		total += hartSize
	}

	if total > maxTableSize {
		return nil, fmt.Errorf("rhct: table size %d exceeds 32 bits: %w", total, hwinfo.ErrOverflow)
	}

	p.total = uint32(total)
	p.nodeCount = uint32(1 + cmoCount + hartCount)
	return p, nil
}

func align2(n uint64) uint64 {
	return (n + 1) &^ 1
}
