package fdt

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Tree is a parsed Flattened Device Tree. Nodes are held in traversal order
// in a flat array; cross-references (parent links, phandles) are kept as
// indices into that array rather than pointers.
type Tree struct {
	nodes    []treeNode
	phandles map[uint32]int
}

type treeNode struct {
	name     string
	parent   int
	children []int
	props    map[string][]byte
}

// NodeRef identifies one node of a Tree.
type NodeRef struct {
	tree *Tree
	id   int
}

// Parse reads an FDT blob and builds the node index.
func Parse(blob []byte) (*Tree, error) {
	if len(blob) < fdtHeaderSize {
		return nil, fmt.Errorf("fdt: blob too short (%d bytes)", len(blob))
	}
	if magic := binary.BigEndian.Uint32(blob[0:4]); magic != fdtMagic {
		return nil, fmt.Errorf("fdt: bad magic 0x%08x", magic)
	}
	totalSize := binary.BigEndian.Uint32(blob[4:8])
	offStruct := binary.BigEndian.Uint32(blob[8:12])
	offStrings := binary.BigEndian.Uint32(blob[12:16])
	sizeStrings := binary.BigEndian.Uint32(blob[32:36])
	sizeStruct := binary.BigEndian.Uint32(blob[36:40])

	if uint64(totalSize) > uint64(len(blob)) ||
		uint64(offStruct)+uint64(sizeStruct) > uint64(totalSize) ||
		uint64(offStrings)+uint64(sizeStrings) > uint64(totalSize) {
		return nil, fmt.Errorf("fdt: header offsets out of range")
	}

	structBytes := blob[offStruct : offStruct+sizeStruct]
	stringBytes := blob[offStrings : offStrings+sizeStrings]

	t := &Tree{phandles: make(map[uint32]int)}
	cur := -1
	pos := 0

	readU32 := func() (uint32, error) {
		if pos+4 > len(structBytes) {
			return 0, fmt.Errorf("fdt: truncated structure block")
		}
		v := binary.BigEndian.Uint32(structBytes[pos:])
		pos += 4
		return v, nil
	}

	for {
		token, err := readU32()
		if err != nil {
			return nil, err
		}
		switch token {
		case fdtBeginNodeToken:
			end := pos
			for end < len(structBytes) && structBytes[end] != 0 {
				end++
			}
			if end >= len(structBytes) {
				return nil, fmt.Errorf("fdt: unterminated node name")
			}
			name := string(structBytes[pos:end])
			pos = align4(end + 1)

			id := len(t.nodes)
			t.nodes = append(t.nodes, treeNode{
				name:   name,
				parent: cur,
				props:  make(map[string][]byte),
			})
			if cur >= 0 {
				t.nodes[cur].children = append(t.nodes[cur].children, id)
			}
			cur = id

		case fdtEndNodeToken:
			if cur < 0 {
				return nil, fmt.Errorf("fdt: unbalanced end-node token")
			}
			cur = t.nodes[cur].parent

		case fdtPropToken:
			if cur < 0 {
				return nil, fmt.Errorf("fdt: property outside of a node")
			}
			propLen, err := readU32()
			if err != nil {
				return nil, err
			}
			nameOff, err := readU32()
			if err != nil {
				return nil, err
			}
			if pos+int(propLen) > len(structBytes) {
				return nil, fmt.Errorf("fdt: truncated property value")
			}
			name, err := stringAt(stringBytes, nameOff)
			if err != nil {
				return nil, err
			}
			value := make([]byte, propLen)
			copy(value, structBytes[pos:pos+int(propLen)])
			pos = align4(pos + int(propLen))
			t.nodes[cur].props[name] = value

			if name == "phandle" || name == "linux,phandle" {
				if len(value) == 4 {
					t.phandles[binary.BigEndian.Uint32(value)] = cur
				}
			}

		case fdtNopToken:

		case fdtEndToken:
			if cur != -1 {
				return nil, fmt.Errorf("fdt: end token inside open node")
			}
			if len(t.nodes) == 0 {
				return nil, fmt.Errorf("fdt: empty tree")
			}
			return t, nil

		default:
			return nil, fmt.Errorf("fdt: unknown token 0x%08x", token)
		}
	}
}

func stringAt(table []byte, off uint32) (string, error) {
	if int(off) >= len(table) {
		return "", fmt.Errorf("fdt: string offset 0x%x out of range", off)
	}
	end := int(off)
	for end < len(table) && table[end] != 0 {
		end++
	}
	return string(table[int(off):end]), nil
}

func align4(n int) int {
	return (n + 3) &^ 3
}

// Root returns the root node of the tree.
func (t *Tree) Root() NodeRef {
	return NodeRef{tree: t, id: 0}
}

// NodeByPhandle resolves a phandle token to the node it designates.
func (t *Tree) NodeByPhandle(phandle uint32) (NodeRef, bool) {
	id, ok := t.phandles[phandle]
	if !ok {
		return NodeRef{}, false
	}
	return NodeRef{tree: t, id: id}, true
}

// Nodes returns every node of the tree in traversal order, root first.
func (t *Tree) Nodes() []NodeRef {
	refs := make([]NodeRef, len(t.nodes))
	for i := range t.nodes {
		refs[i] = NodeRef{tree: t, id: i}
	}
	return refs
}

// Name returns the node name including any unit address.
func (n NodeRef) Name() string {
	return n.tree.nodes[n.id].name
}

// Parent returns the parent node, or false for the root.
func (n NodeRef) Parent() (NodeRef, bool) {
	p := n.tree.nodes[n.id].parent
	if p < 0 {
		return NodeRef{}, false
	}
	return NodeRef{tree: n.tree, id: p}, true
}

// Children returns the immediate children whose name matches name, either
// exactly or as "name@unit". Passing "" returns all children.
func (n NodeRef) Children(name string) []NodeRef {
	var out []NodeRef
	for _, id := range n.tree.nodes[n.id].children {
		child := n.tree.nodes[id].name
		if name == "" || child == name || strings.HasPrefix(child, name+"@") {
			out = append(out, NodeRef{tree: n.tree, id: id})
		}
	}
	return out
}

// Child returns the first child matching name, if any.
func (n NodeRef) Child(name string) (NodeRef, bool) {
	children := n.Children(name)
	if len(children) == 0 {
		return NodeRef{}, false
	}
	return children[0], true
}

// Property returns the raw bytes of a property. The second return value
// distinguishes an absent property from an empty one.
func (n NodeRef) Property(name string) ([]byte, bool) {
	v, ok := n.tree.nodes[n.id].props[name]
	return v, ok
}

// PropU32 reads a single-cell property.
func (n NodeRef) PropU32(name string) (uint32, bool) {
	v, ok := n.Property(name)
	if !ok || len(v) < 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(v), true
}

// PropU64 reads a two-cell property.
func (n NodeRef) PropU64(name string) (uint64, bool) {
	v, ok := n.Property(name)
	if !ok || len(v) < 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(v), true
}

// PropU32Slice reads a property as an array of cells. It returns false if the
// property is absent or its length is not a multiple of four.
func (n NodeRef) PropU32Slice(name string) ([]uint32, bool) {
	v, ok := n.Property(name)
	if !ok || len(v)%4 != 0 {
		return nil, false
	}
	out := make([]uint32, len(v)/4)
	for i := range out {
		out[i] = binary.BigEndian.Uint32(v[i*4:])
	}
	return out, true
}

// AddressCells returns the node's #address-cells value, defaulting to 2.
func (n NodeRef) AddressCells() uint32 {
	if v, ok := n.PropU32("#address-cells"); ok {
		return v
	}
	return 2
}

// IsCompatible reports whether the node's compatible list contains any of the
// given values.
func (n NodeRef) IsCompatible(values ...string) bool {
	raw, ok := n.Property("compatible")
	if !ok {
		return false
	}
	for _, entry := range strings.Split(strings.TrimRight(string(raw), "\x00"), "\x00") {
		for _, want := range values {
			if entry == want {
				return true
			}
		}
	}
	return false
}
