package fdt

import (
	"bytes"
	"testing"
)

func buildSampleTree() []byte {
	b := NewBuilder()
	b.BeginNode("")
	b.AddPropertyU32("#address-cells", 2)
	b.AddPropertyU32("#size-cells", 2)
	b.AddPropertyString("compatible", "riscv-virtio")

	b.BeginNode("cpus")
	b.AddPropertyU32("#address-cells", 1)
	b.AddPropertyU32("#size-cells", 0)
	b.AddPropertyU32("timebase-frequency", 10000000)

	for i := 0; i < 2; i++ {
		b.BeginNode("cpu@" + string(rune('0'+i)))
		b.AddPropertyString("device_type", "cpu")
		b.AddPropertyU32("reg", uint32(i))
		b.AddPropertyString("compatible", "riscv")

		b.BeginNode("interrupt-controller")
		b.AddPropertyU32("#interrupt-cells", 1)
		b.AddPropertyEmpty("interrupt-controller")
		b.AddPropertyString("compatible", "riscv,cpu-intc")
		b.AddPropertyU32("phandle", uint32(i+1))
		b.EndNode()

		b.EndNode()
	}
	b.EndNode()

	b.BeginNode("soc")
	b.BeginNode("plic@c000000")
	b.AddPropertyString("compatible", "riscv,plic0")
	b.AddPropertyU64Pair("reg", 0x0c000000, 0x04000000)
	b.AddPropertyU32("riscv,ndev", 127)
	b.AddPropertyU32Array("interrupts-extended", []uint32{1, 11, 2, 11})
	b.EndNode()
	b.EndNode()

	b.EndNode()
	return b.Build()
}

func TestParseRoundTrip(t *testing.T) {
	tree, err := Parse(buildSampleTree())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	root := tree.Root()
	if got := root.AddressCells(); got != 2 {
		t.Fatalf("root #address-cells: got %d want 2", got)
	}
	if !root.IsCompatible("riscv-virtio") {
		t.Fatalf("root compatible mismatch")
	}

	cpus, ok := root.Child("cpus")
	if !ok {
		t.Fatalf("missing cpus node")
	}
	if got := cpus.AddressCells(); got != 1 {
		t.Fatalf("cpus #address-cells: got %d want 1", got)
	}
	if freq, ok := cpus.PropU32("timebase-frequency"); !ok || freq != 10000000 {
		t.Fatalf("timebase-frequency: got %d (present=%v)", freq, ok)
	}

	cpuNodes := cpus.Children("cpu")
	if len(cpuNodes) != 2 {
		t.Fatalf("cpu children: got %d want 2", len(cpuNodes))
	}
	for i, cpu := range cpuNodes {
		reg, ok := cpu.PropU32("reg")
		if !ok || reg != uint32(i) {
			t.Fatalf("cpu %d reg: got %d (present=%v)", i, reg, ok)
		}
		if _, ok := cpu.Child("interrupt-controller"); !ok {
			t.Fatalf("cpu %d missing interrupt-controller", i)
		}
	}
}

func TestParsePhandleIndex(t *testing.T) {
	tree, err := Parse(buildSampleTree())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	for ph := uint32(1); ph <= 2; ph++ {
		intc, ok := tree.NodeByPhandle(ph)
		if !ok {
			t.Fatalf("phandle %d not indexed", ph)
		}
		if intc.Name() != "interrupt-controller" {
			t.Fatalf("phandle %d resolved to %q", ph, intc.Name())
		}
		cpu, ok := intc.Parent()
		if !ok {
			t.Fatalf("phandle %d node has no parent", ph)
		}
		reg, _ := cpu.PropU32("reg")
		if reg != ph-1 {
			t.Fatalf("phandle %d parent reg: got %d want %d", ph, reg, ph-1)
		}
	}

	if _, ok := tree.NodeByPhandle(99); ok {
		t.Fatalf("unexpected phandle 99")
	}
}

func TestParsePropertyAbsenceVsEmpty(t *testing.T) {
	b := NewBuilder()
	b.BeginNode("")
	b.BeginNode("dev")
	b.AddPropertyEmpty("present-but-empty")
	b.EndNode()
	b.EndNode()

	tree, err := Parse(b.Build())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	dev, ok := tree.Root().Child("dev")
	if !ok {
		t.Fatalf("missing dev node")
	}
	if v, ok := dev.Property("present-but-empty"); !ok || len(v) != 0 {
		t.Fatalf("empty property: present=%v len=%d", ok, len(v))
	}
	if _, ok := dev.Property("absent"); ok {
		t.Fatalf("absent property reported present")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse([]byte("not a dtb")); err == nil {
		t.Fatalf("expected error for short blob")
	}

	blob := buildSampleTree()
	blob[0] ^= 0xff
	if _, err := Parse(blob); err == nil {
		t.Fatalf("expected error for bad magic")
	}
}

func TestBuildNodeDeterministic(t *testing.T) {
	root := Node{
		Properties: map[string]Property{
			"#address-cells": {U32: []uint32{2}},
			"#size-cells":    {U32: []uint32{2}},
			"compatible":     {Strings: []string{"riscv-virtio"}},
			"model":          {Strings: []string{"riscv-virtio,qemu"}},
		},
		Children: []Node{
			{
				Name: "memory@80000000",
				Properties: map[string]Property{
					"device_type": {Strings: []string{"memory"}},
					"reg":         {U64: []uint64{0x80000000, 0x10000000}},
				},
			},
		},
	}

	first, err := BuildNode(root)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	second, err := BuildNode(root)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("BuildNode output differs between runs")
	}

	tree, err := Parse(first)
	if err != nil {
		t.Fatalf("parse built node: %v", err)
	}
	mem, ok := tree.Root().Child("memory")
	if !ok {
		t.Fatalf("missing memory node")
	}
	if base, ok := mem.PropU64("reg"); !ok || base != 0x80000000 {
		t.Fatalf("memory reg: got 0x%x (present=%v)", base, ok)
	}
}

func TestBuildNodeRejectsAmbiguousProperty(t *testing.T) {
	root := Node{
		Children: []Node{
			{
				Name: "bad",
				Properties: map[string]Property{
					"p": {U32: []uint32{1}, Strings: []string{"x"}},
				},
			},
		},
	}
	if _, err := BuildNode(root); err == nil {
		t.Fatalf("expected error for ambiguous property")
	}
}
