package hwinfo

import (
	"encoding/binary"
	"fmt"

	"github.com/tinyrange/rhct/internal/fdt"
)

// resolveExternal scans the whole tree for PLIC and APLIC instances,
// allocates each a contiguous global-interrupt-number range, and writes the
// composite external-controller id into every hart a controller serves. An
// entirely absent external interrupt subsystem is not an error.
func resolveExternal(tree *fdt.Tree, harts []Hart) ([]IntController, error) {
	var (
		controllers []IntController
		gsiBase     uint32
		seq         uint32
	)

	for _, node := range tree.Nodes() {
		isPlic := node.IsCompatible("riscv,plic0")
		if !isPlic && !isSupervisorAPLIC(tree, node) {
			continue
		}

		sources, ok := node.PropU32("riscv,num-sources")
		if !ok {
			sources, ok = node.PropU32("riscv,ndev")
			if !ok {
				return nil, fmt.Errorf("hwinfo: %s node %q has no source count: %w", kindName(isPlic), node.Name(), ErrInvalidInput)
			}
		}

		reg, ok := node.Property("reg")
		if !ok || len(reg) < 16 || len(reg)%4 != 0 {
			return nil, fmt.Errorf("hwinfo: %s node %q has malformed reg: %w", kindName(isPlic), node.Name(), ErrInvalidInput)
		}
		base := binary.BigEndian.Uint64(reg)
		size := binary.BigEndian.Uint64(reg[8:])

		ctrl := IntController{
			Seq:     seq,
			Sources: sources,
			Base:    base,
			Size:    size,
			GSIBase: gsiBase,
			Version: 1,
		}
		gsiBase += sources

		if isPlic {
			ctrl.Kind = ControllerPLIC
			ctrl.HardwareID = hwIDPLIC
			pairs, ok := node.PropU32Slice("interrupts-extended")
			if !ok || len(pairs) < 2 {
				return nil, fmt.Errorf("hwinfo: plic node %q has malformed interrupts-extended: %w", node.Name(), ErrInvalidInput)
			}
			annotatePLIC(tree, harts, seq, pairs)
		} else {
			ctrl.Kind = ControllerAPLIC
			ctrl.HardwareID = hwIDAPLIC
			if pairs, ok := node.PropU32Slice("interrupts-extended"); ok && len(pairs)%2 == 0 {
				ctrl.Contexts = uint32(len(pairs) / 2)
				annotateAPLIC(tree, harts, seq, pairs)
			}
		}

		controllers = append(controllers, ctrl)
		seq++
	}

	return controllers, nil
}

// annotatePLIC walks the (phandle, irq) routing pairs of a PLIC. Contexts
// alternate machine/supervisor per hart, so each hart owns two consecutive
// pairs and only the odd context of the pair group is recorded.
func annotatePLIC(tree *fdt.Tree, harts []Hart, seq uint32, pairs []uint32) {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] != irqSupervisorExternal {
			continue
		}
		hart := hartForPhandle(tree, harts, pairs[i])
		if hart == nil {
			continue
		}
		localCPU := uint32(i/2) / 2
		hart.ExtIntcID = extIntcID(seq, 2*localCPU+1)
	}
}

// annotateAPLIC records one context per routing pair, in encounter order.
func annotateAPLIC(tree *fdt.Tree, harts []Hart, seq uint32, pairs []uint32) {
	for i := 0; i+1 < len(pairs); i += 2 {
		hart := hartForPhandle(tree, harts, pairs[i])
		if hart == nil {
			continue
		}
		hart.ExtIntcID = extIntcID(seq, uint32(i/2))
	}
}

// isSupervisorAPLIC reports whether the node is an APLIC serving supervisor
// mode. Device trees carry both M-mode and S-mode instances under the same
// compatible string; an instance qualifies when its own routing targets the
// supervisor external interrupt, or when it delegates through an msi-parent
// IMSIC whose routing does.
func isSupervisorAPLIC(tree *fdt.Tree, node fdt.NodeRef) bool {
	if !node.IsCompatible("riscv,aplic") {
		return false
	}
	if pairs, ok := node.PropU32Slice("interrupts-extended"); ok && len(pairs) >= 2 &&
		pairs[1] == irqSupervisorExternal {
		return true
	}
	if phandle, ok := node.PropU32("msi-parent"); ok {
		if imsic, found := tree.NodeByPhandle(phandle); found {
			if pairs, ok := imsic.PropU32Slice("interrupts-extended"); ok && len(pairs) >= 2 &&
				pairs[1] == irqSupervisorExternal {
				return true
			}
		}
	}
	return false
}

func kindName(isPlic bool) string {
	if isPlic {
		return "plic"
	}
	return "aplic"
}
