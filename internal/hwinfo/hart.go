package hwinfo

import (
	"fmt"

	"github.com/tinyrange/rhct/internal/fdt"
)

// extractHarts enumerates the cpu children of /cpus and produces one Hart
// record per node, UIDs assigned in traversal order starting at 0.
func extractHarts(tree *fdt.Tree) ([]Hart, error) {
	cpus, ok := tree.Root().Child("cpus")
	if !ok {
		return nil, fmt.Errorf("hwinfo: no /cpus node: %w", ErrNotFound)
	}
	addressCells := cpus.AddressCells()

	cpuNodes := cpus.Children("cpu")
	if len(cpuNodes) == 0 {
		return nil, fmt.Errorf("hwinfo: /cpus has no cpu nodes: %w", ErrNotFound)
	}

	harts := make([]Hart, 0, len(cpuNodes))
	for uid, cpu := range cpuNodes {
		if !cpu.IsCompatible("riscv") {
			return nil, fmt.Errorf("hwinfo: cpu node %q is not riscv-compatible: %w", cpu.Name(), ErrUnsupported)
		}

		hartID, err := readHartID(cpu, addressCells)
		if err != nil {
			return nil, err
		}

		// Every hart must expose its local interrupt controller.
		if _, ok := cpu.Child("interrupt-controller"); !ok {
			return nil, fmt.Errorf("hwinfo: cpu node %q has no interrupt-controller: %w", cpu.Name(), ErrInvalidInput)
		}

		harts = append(harts, Hart{
			UID:     uint32(uid),
			HartID:  hartID,
			Version: 1,
			Flags:   hartFlagEnabled,
		})
	}

	return harts, nil
}

// readHartID reads the cpu node's reg property as a scalar sized by the
// enclosing node's #address-cells. Only one- and two-cell widths exist.
func readHartID(cpu fdt.NodeRef, addressCells uint32) (uint64, error) {
	raw, ok := cpu.Property("reg")
	if !ok {
		return 0, fmt.Errorf("hwinfo: cpu node %q has no reg property: %w", cpu.Name(), ErrInvalidInput)
	}
	if len(raw) != 4 && len(raw) != 8 {
		return 0, fmt.Errorf("hwinfo: cpu node %q reg has width %d: %w", cpu.Name(), len(raw), ErrInvalidInput)
	}
	if addressCells == 2 && len(raw) == 8 {
		v, _ := cpu.PropU64("reg")
		return v, nil
	}
	v, _ := cpu.PropU32("reg")
	return uint64(v), nil
}

// hartIDOfCPU reads a cpu node's hart id using its parent's address cells.
func hartIDOfCPU(cpu fdt.NodeRef) (uint64, error) {
	cells := uint32(2)
	if parent, ok := cpu.Parent(); ok {
		cells = parent.AddressCells()
	}
	return readHartID(cpu, cells)
}

// findHart returns the record with the given hardware id, or nil.
func findHart(harts []Hart, hartID uint64) *Hart {
	for i := range harts {
		if harts[i].HartID == hartID {
			return &harts[i]
		}
	}
	return nil
}

// hartForPhandle resolves a routing phandle (which names a cpu's local
// interrupt controller) to the owning hart record: phandle → intc node →
// parent cpu node → hart id → record. Returns nil when any link is missing.
func hartForPhandle(tree *fdt.Tree, harts []Hart, phandle uint32) *Hart {
	intc, ok := tree.NodeByPhandle(phandle)
	if !ok {
		return nil
	}
	cpu, ok := intc.Parent()
	if !ok {
		return nil
	}
	hartID, err := hartIDOfCPU(cpu)
	if err != nil {
		return nil
	}
	return findHart(harts, hartID)
}
