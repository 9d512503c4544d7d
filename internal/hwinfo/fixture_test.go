package hwinfo

import (
	"fmt"
	"testing"

	"github.com/tinyrange/rhct/internal/fdt"
)

// topology describes a synthetic board for tests. CPU local interrupt
// controllers get phandles 1..cpus.
type topology struct {
	cpus     int
	wideRegs bool // two-cell hart ids
	isa      string
	timebase uint32
	cbom     uint32
	cbop     uint32
	cboz     uint32
	skipIntc int // 1-based cpu whose interrupt-controller child is omitted
	regWidth int // override reg byte width for the first cpu (0 = natural)
	nonRiscv bool
	soc      func(b *fdt.Builder)
}

func (f topology) build(t *testing.T) *fdt.Tree {
	t.Helper()

	b := fdt.NewBuilder()
	b.BeginNode("")
	b.AddPropertyU32("#address-cells", 2)
	b.AddPropertyU32("#size-cells", 2)
	b.AddPropertyString("compatible", "riscv-virtio")

	b.BeginNode("cpus")
	if f.wideRegs {
		b.AddPropertyU32("#address-cells", 2)
	} else {
		b.AddPropertyU32("#address-cells", 1)
	}
	b.AddPropertyU32("#size-cells", 0)
	if f.timebase != 0 {
		b.AddPropertyU32("timebase-frequency", f.timebase)
	}

	for i := 0; i < f.cpus; i++ {
		b.BeginNode(fmt.Sprintf("cpu@%d", i))
		b.AddPropertyString("device_type", "cpu")
		switch {
		case f.regWidth != 0 && i == 0:
			b.AddPropertyBytes("reg", make([]byte, f.regWidth))
		case f.wideRegs:
			b.AddPropertyU64("reg", uint64(i))
		default:
			b.AddPropertyU32("reg", uint32(i))
		}
		if f.nonRiscv {
			b.AddPropertyString("compatible", "acme,unobtanium")
		} else {
			b.AddPropertyString("compatible", "riscv")
		}
		if f.isa != "" {
			b.AddPropertyString("riscv,isa", f.isa)
		}
		if i == 0 {
			if f.cbom != 0 {
				b.AddPropertyU32("riscv,cbom-block-size", f.cbom)
			}
			if f.cbop != 0 {
				b.AddPropertyU32("riscv,cbop-block-size", f.cbop)
			}
			if f.cboz != 0 {
				b.AddPropertyU32("riscv,cboz-block-size", f.cboz)
			}
		}

		if f.skipIntc != i+1 {
			b.BeginNode("interrupt-controller")
			b.AddPropertyU32("#interrupt-cells", 1)
			b.AddPropertyEmpty("interrupt-controller")
			b.AddPropertyString("compatible", "riscv,cpu-intc")
			b.AddPropertyU32("phandle", uint32(i+1))
			b.EndNode()
		}

		b.EndNode()
	}
	b.EndNode() // cpus

	if f.soc != nil {
		b.BeginNode("soc")
		b.AddPropertyU32("#address-cells", 2)
		b.AddPropertyU32("#size-cells", 2)
		b.AddPropertyStringList("compatible", []string{"simple-bus"})
		b.AddPropertyEmpty("ranges")
		f.soc(b)
		b.EndNode()
	}

	b.EndNode() // root

	tree, err := fdt.Parse(b.Build())
	if err != nil {
		t.Fatalf("parse fixture tree: %v", err)
	}
	return tree
}

// addPLIC emits a PLIC with the qemu-virt routing shape: one machine-external
// and one supervisor-external pair per cpu.
func addPLIC(b *fdt.Builder, base uint64, ndev uint32, cpus int) {
	b.BeginNode(fmt.Sprintf("plic@%x", base))
	b.AddPropertyString("compatible", "riscv,plic0")
	b.AddPropertyU32("#interrupt-cells", 1)
	b.AddPropertyEmpty("interrupt-controller")
	b.AddPropertyU64Pair("reg", base, 0x04000000)
	var pairs []uint32
	for i := 0; i < cpus; i++ {
		pairs = append(pairs, uint32(i+1), 11, uint32(i+1), 9)
	}
	b.AddPropertyU32Array("interrupts-extended", pairs)
	b.AddPropertyU32("riscv,ndev", ndev)
	b.EndNode()
}

// addAPLIC emits an APLIC whose routing pairs all carry irq. Pass
// msiParent != 0 to omit the routing property and delegate instead.
func addAPLIC(b *fdt.Builder, base uint64, numSources uint32, cpus int, irq uint32, msiParent uint32) {
	b.BeginNode(fmt.Sprintf("aplic@%x", base))
	b.AddPropertyString("compatible", "riscv,aplic")
	b.AddPropertyU32("#interrupt-cells", 2)
	b.AddPropertyEmpty("interrupt-controller")
	b.AddPropertyU64Pair("reg", base, 0x8000)
	b.AddPropertyU32("riscv,num-sources", numSources)
	if msiParent != 0 {
		b.AddPropertyU32("msi-parent", msiParent)
	} else {
		var pairs []uint32
		for i := 0; i < cpus; i++ {
			pairs = append(pairs, uint32(i+1), irq)
		}
		b.AddPropertyU32Array("interrupts-extended", pairs)
	}
	b.EndNode()
}

// addIMSIC emits an IMSIC routed to every cpu with the given irq, covering
// the provided (base, size) regions.
func addIMSIC(b *fdt.Builder, cpus int, irq uint32, numIDs uint32, phandle uint32, regions ...[2]uint64) {
	b.BeginNode(fmt.Sprintf("imsics@%x", regions[0][0]))
	b.AddPropertyString("compatible", "riscv,imsics")
	b.AddPropertyEmpty("msi-controller")
	var pairs []uint32
	for i := 0; i < cpus; i++ {
		pairs = append(pairs, uint32(i+1), irq)
	}
	b.AddPropertyU32Array("interrupts-extended", pairs)
	b.AddPropertyU32("riscv,num-ids", numIDs)
	var reg []uint32
	for _, r := range regions {
		reg = append(reg,
			uint32(r[0]>>32), uint32(r[0]),
			uint32(r[1]>>32), uint32(r[1]))
	}
	b.AddPropertyU32Array("reg", reg)
	if phandle != 0 {
		b.AddPropertyU32("phandle", phandle)
	}
	b.EndNode()
}
