// Package fdt provides utilities for building and reading Flattened Device
// Trees (FDT).
package fdt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

const (
	fdtMagic       = 0xd00dfeed
	fdtVersion     = 17
	fdtLastCompVer = 16
	fdtHeaderSize  = 40

	fdtBeginNodeToken = 0x00000001
	fdtEndNodeToken   = 0x00000002
	fdtPropToken      = 0x00000003
	fdtNopToken       = 0x00000004
	fdtEndToken       = 0x00000009
)

// Builder constructs a Flattened Device Tree blob.
type Builder struct {
	structBuf  bytes.Buffer
	strings    bytes.Buffer
	stringsOff map[string]uint32
}

// NewBuilder creates a new FDT builder.
func NewBuilder() *Builder {
	return &Builder{
		stringsOff: make(map[string]uint32),
	}
}

// BeginNode starts a new node with the given name.
func (b *Builder) BeginNode(name string) {
	b.writeToken(fdtBeginNodeToken)
	b.structBuf.WriteString(name)
	b.structBuf.WriteByte(0)
	b.padStruct()
}

// EndNode ends the current node.
func (b *Builder) EndNode() {
	b.writeToken(fdtEndNodeToken)
}

// AddPropertyEmpty adds an empty property.
func (b *Builder) AddPropertyEmpty(name string) {
	b.property(name, nil)
}

// AddPropertyString adds a string property.
func (b *Builder) AddPropertyString(name, value string) {
	b.property(name, append([]byte(value), 0))
}

// AddPropertyStringList adds a string list property.
func (b *Builder) AddPropertyStringList(name string, values []string) {
	var data []byte
	for _, v := range values {
		data = append(data, v...)
		data = append(data, 0)
	}
	b.property(name, data)
}

// AddPropertyU32 adds a 32-bit unsigned integer property.
func (b *Builder) AddPropertyU32(name string, value uint32) {
	b.AddPropertyU32Array(name, []uint32{value})
}

// AddPropertyU32Array adds an array of 32-bit unsigned integers.
func (b *Builder) AddPropertyU32Array(name string, values []uint32) {
	data := make([]byte, 0, len(values)*4)
	for _, v := range values {
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], v)
		data = append(data, tmp[:]...)
	}
	b.property(name, data)
}

// AddPropertyU64 adds a 64-bit unsigned integer property.
func (b *Builder) AddPropertyU64(name string, value uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], value)
	b.property(name, tmp[:])
}

// AddPropertyU64Pair adds a pair of 64-bit values (e.g., for reg properties).
func (b *Builder) AddPropertyU64Pair(name string, addr, size uint64) {
	var tmp [16]byte
	binary.BigEndian.PutUint64(tmp[:8], addr)
	binary.BigEndian.PutUint64(tmp[8:], size)
	b.property(name, tmp[:])
}

// AddPropertyBytes adds a raw bytes property.
func (b *Builder) AddPropertyBytes(name string, data []byte) {
	b.property(name, data)
}

// Build generates the final FDT blob.
func (b *Builder) Build() []byte {
	b.writeToken(fdtEndToken)
	b.padStruct()

	structBytes := b.structBuf.Bytes()
	stringsBytes := b.strings.Bytes()

	// Empty memory reservation map: one terminating (0, 0) entry.
	memReserve := make([]byte, 16)

	offMemReserve := fdtHeaderSize
	offStruct := offMemReserve + len(memReserve)
	offStrings := offStruct + len(structBytes)
	totalSize := offStrings + len(stringsBytes)

	blob := make([]byte, totalSize)
	header := blob[:fdtHeaderSize]
	binary.BigEndian.PutUint32(header[0:4], fdtMagic)
	binary.BigEndian.PutUint32(header[4:8], uint32(totalSize))
	binary.BigEndian.PutUint32(header[8:12], uint32(offStruct))
	binary.BigEndian.PutUint32(header[12:16], uint32(offStrings))
	binary.BigEndian.PutUint32(header[16:20], uint32(offMemReserve))
	binary.BigEndian.PutUint32(header[20:24], fdtVersion)
	binary.BigEndian.PutUint32(header[24:28], fdtLastCompVer)
	binary.BigEndian.PutUint32(header[28:32], 0) // boot_cpuid_phys
	binary.BigEndian.PutUint32(header[32:36], uint32(len(stringsBytes)))
	binary.BigEndian.PutUint32(header[36:40], uint32(len(structBytes)))

	copy(blob[offMemReserve:], memReserve)
	copy(blob[offStruct:], structBytes)
	copy(blob[offStrings:], stringsBytes)

	return blob
}

// BuildNode serializes a Node tree into an FDT blob. Properties are emitted
// in sorted name order so identical trees produce identical blobs.
func BuildNode(root Node) ([]byte, error) {
	b := NewBuilder()
	if err := emitNode(b, root); err != nil {
		return nil, err
	}
	return b.Build(), nil
}

func emitNode(b *Builder, n Node) error {
	b.BeginNode(n.Name)

	if len(n.Properties) > 0 {
		keys := make([]string, 0, len(n.Properties))
		for name := range n.Properties {
			keys = append(keys, name)
		}
		sort.Strings(keys)
		for _, name := range keys {
			if err := emitProperty(b, name, n.Properties[name]); err != nil {
				return err
			}
		}
	}

	for _, child := range n.Children {
		if err := emitNode(b, child); err != nil {
			return err
		}
	}

	b.EndNode()
	return nil
}

func emitProperty(b *Builder, name string, prop Property) error {
	if prop.DefinedCount() == 0 {
		return fmt.Errorf("fdt property %q has no values", name)
	}
	if prop.DefinedCount() > 1 {
		return fmt.Errorf("fdt property %q has multiple value kinds", name)
	}
	switch prop.Kind() {
	case "strings":
		if len(prop.Strings) == 1 {
			b.AddPropertyString(name, prop.Strings[0])
		} else {
			b.AddPropertyStringList(name, prop.Strings)
		}
	case "u32":
		b.AddPropertyU32Array(name, prop.U32)
	case "u64":
		data := make([]byte, 0, len(prop.U64)*8)
		for _, v := range prop.U64 {
			var tmp [8]byte
			binary.BigEndian.PutUint64(tmp[:], v)
			data = append(data, tmp[:]...)
		}
		b.AddPropertyBytes(name, data)
	case "bytes":
		b.AddPropertyBytes(name, prop.Bytes)
	case "flag":
		b.AddPropertyEmpty(name)
	default:
		return fmt.Errorf("fdt property %q has unsupported kind %q", name, prop.Kind())
	}
	return nil
}

func (b *Builder) property(name string, value []byte) {
	b.writeToken(fdtPropToken)
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(len(value)))
	b.structBuf.Write(tmp[:])
	binary.BigEndian.PutUint32(tmp[:], b.stringOffset(name))
	b.structBuf.Write(tmp[:])
	b.structBuf.Write(value)
	b.padStruct()
}

func (b *Builder) stringOffset(name string) uint32 {
	if off, ok := b.stringsOff[name]; ok {
		return off
	}
	off := uint32(b.strings.Len())
	b.strings.WriteString(name)
	b.strings.WriteByte(0)
	b.stringsOff[name] = off
	return off
}

func (b *Builder) writeToken(token uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], token)
	b.structBuf.Write(tmp[:])
}

func (b *Builder) padStruct() {
	for b.structBuf.Len()%4 != 0 {
		b.structBuf.WriteByte(0)
	}
}
