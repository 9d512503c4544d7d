package rhct

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinyrange/rhct/internal/hwinfo"
)

// Table is a fully constructed RHCT.
type Table struct {
	data []byte
}

// Bytes returns the serialized table. Nil after Free.
func (t *Table) Bytes() []byte {
	if t == nil {
		return nil
	}
	return t.data
}

// Free releases the table buffer. Calling it again, or on a nil table, is a
// safe no-op.
func (t *Table) Free() {
	if t == nil {
		return
	}
	t.data = nil
}

// Generator builds RHCT tables. The zero value is not usable; use
// NewGenerator.
type Generator struct {
	oem OEMInfo

	// alloc is the buffer allocator, replaceable by tests that need to
	// observe or fail allocations.
	alloc func(size int) ([]byte, error)
}

// NewGenerator returns a Generator with the given OEM header fields.
func NewGenerator(oem OEMInfo) *Generator {
	return &Generator{
		oem: oem,
		alloc: func(size int) ([]byte, error) {
			return make([]byte, size), nil
		},
	}
}

// Generate builds the table from a populated object store using default OEM
// metadata.
func Generate(store *hwinfo.Store) (*Table, error) {
	return NewGenerator(DefaultOEMInfo()).Build(store)
}

// Build constructs the table from the store's object lists. The ISA string,
// timer and hart lists are mandatory; the CMO list is optional. On any
// failure the returned table is nil and nothing allocated is retained.
func (g *Generator) Build(store *hwinfo.Store) (*Table, error) {
	isa, err := hwinfo.Object[hwinfo.ISAString](store, hwinfo.ObjISAString)
	if err != nil {
		return nil, err
	}
	timer, err := hwinfo.Object[hwinfo.Timer](store, hwinfo.ObjTimer)
	if err != nil {
		return nil, err
	}
	harts, err := hwinfo.Objects[hwinfo.Hart](store, hwinfo.ObjHart)
	if err != nil {
		return nil, err
	}

	cmos, err := hwinfo.Objects[hwinfo.CMO](store, hwinfo.ObjCMO)
	if err != nil && !isNotFound(err) {
		return nil, err
	}

	plan, err := buildPlan(isa.ISA, len(cmos), len(harts))
	if err != nil {
		return nil, err
	}
	slog.Debug("rhct: planned table", "size", plan.total, "nodes", plan.nodeCount)

	buf, err := g.alloc(int(plan.total))
	if err != nil {
		return nil, fmt.Errorf("rhct: allocate %d byte table: %w", plan.total, hwinfo.ErrResourceExhausted)
	}
	if len(buf) != int(plan.total) {
		return nil, fmt.Errorf("rhct: allocator returned %d bytes, want %d: %w", len(buf), plan.total, hwinfo.ErrResourceExhausted)
	}

	writeACPIHeader(buf, "RHCT", 1, plan.total, g.oem)
	putU32(buf[acpiHeaderSize:], plan.nodeCount)
	putU32(buf[acpiHeaderSize+4:], tableFixedSize)
	putU64(buf[acpiHeaderSize+8:], timer.TimebaseFrequency)
	var flags uint64
	if timer.CannotWakeCPU {
		flags |= 1
	}
	putU64(buf[acpiHeaderSize+16:], flags)

	for _, node := range plan.nodes {
		body := buf[node.offset:]
		switch node.kind {
		case nodeISA:
			writeISANode(body, node.length, isa.ISA)
		case nodeCMO:
			writeCMONode(body, cmos[node.index])
		case nodeHart:
			writeHartNode(body, node.length, harts[node.index].UID, plan.groupOffsets)
		}
	}

	buf[9] = checksum(buf)
	return &Table{data: buf}, nil
}

func writeNodeHeader(b []byte, nodeType uint16, length uint16) {
	binary.LittleEndian.PutUint16(b[0:], nodeType)
	binary.LittleEndian.PutUint16(b[2:], length)
	b[4] = nodeRevision
}

func writeISANode(b []byte, length uint16, isa string) {
	writeNodeHeader(b, nodeTypeISAString, length)
	binary.LittleEndian.PutUint16(b[nodeHeaderSize:], uint16(len(isa)+1))
	copy(b[isaNodeFixedSize:], isa)
	// Trailing NUL and even-length padding are already zero.
}

func writeCMONode(b []byte, cmo hwinfo.CMO) {
	writeNodeHeader(b, nodeTypeCMO, cmoNodeSize)
	b[nodeHeaderSize] = cmo.CbomBlockSize
	b[nodeHeaderSize+1] = cmo.CbopBlockSize
	b[nodeHeaderSize+2] = cmo.CbozBlockSize
}

func writeHartNode(b []byte, length uint16, uid uint32, groupOffsets []uint32) {
	writeNodeHeader(b, nodeTypeHartInfo, length)
	binary.LittleEndian.PutUint16(b[nodeHeaderSize:], uint16(len(groupOffsets)))
	putU32(b[nodeHeaderSize+2:], uid)
	for i, off := range groupOffsets {
		putU32(b[hartNodeFixedSize+4*i:], off)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, hwinfo.ErrNotFound)
}

func putU32(b []byte, v uint32) {
	binary.LittleEndian.PutUint32(b, v)
}

func putU64(b []byte, v uint64) {
	binary.LittleEndian.PutUint64(b, v)
}
