package hwinfo

import (
	"encoding/binary"
	"fmt"

	"github.com/tinyrange/rhct/internal/fdt"
)

// errNoSupervisorIMSIC reports an entirely absent message-signaled interrupt
// subsystem. It is the only IMSIC failure the pipeline tolerates; a routing
// entry naming a missing hart is also ErrNotFound but aborts extraction.
var errNoSupervisorIMSIC = fmt.Errorf("hwinfo: no supervisor-mode imsic: %w", ErrNotFound)

// resolveIMSIC scans for the supervisor-mode IMSIC, reads its capacity
// parameters, and assigns every routed hart its interrupt-file page within
// the IMSIC's MMIO regions. Returns ErrNotFound when no supervisor-mode
// instance exists; callers treat that as an optional subsystem being absent.
// A routing entry whose hart cannot be located is a hard failure: the
// topology is inconsistent.
func resolveIMSIC(tree *fdt.Tree, harts []Hart) (*IMSIC, error) {
	for _, node := range tree.Nodes() {
		if !node.IsCompatible("riscv,imsics") {
			continue
		}

		pairs, ok := node.PropU32Slice("interrupts-extended")
		if !ok || len(pairs) == 0 || len(pairs)%2 != 0 {
			return nil, fmt.Errorf("hwinfo: imsic node %q has malformed interrupts-extended: %w", node.Name(), ErrInvalidInput)
		}

		// Device trees carry an M-mode IMSIC too; only the S-mode one counts.
		if pairs[1] != irqSupervisorExternal {
			continue
		}

		info := &IMSIC{Version: 1}

		numIDs, ok := node.PropU32("riscv,num-ids")
		if !ok {
			return nil, fmt.Errorf("hwinfo: imsic node %q has no riscv,num-ids: %w", node.Name(), ErrInvalidInput)
		}
		info.NumIDs = numIDs

		if v, ok := node.PropU32("riscv,num-guest-ids"); ok {
			info.NumGuestIDs = v
		} else {
			info.NumGuestIDs = numIDs
		}
		if v, ok := node.PropU32("riscv,guest-index-bits"); ok {
			info.GuestIndexBits = uint8(v)
		}
		if v, ok := node.PropU32("riscv,hart-index-bits"); ok {
			info.HartIndexBits = uint8(v)
		}
		if v, ok := node.PropU32("riscv,group-index-bits"); ok {
			info.GroupIndexBits = uint8(v)
		}
		if v, ok := node.PropU32("riscv,group-index-shift"); ok {
			info.GroupIndexShift = uint8(v)
		} else {
			info.GroupIndexShift = imsicPageShift * 2
		}

		numTargets := len(pairs) / 2
		if info.HartIndexBits == 0 {
			// Default: bit length of the routed hart count.
			for n := numTargets; n > 0; n >>= 1 {
				info.HartIndexBits++
			}
		}

		reg, ok := node.Property("reg")
		if !ok || len(reg) == 0 || len(reg)%16 != 0 {
			return nil, fmt.Errorf("hwinfo: imsic node %q has malformed reg: %w", node.Name(), ErrInvalidInput)
		}

		if err := assignTargetPages(tree, harts, node, pairs, reg, numTargets); err != nil {
			return nil, err
		}

		return info, nil
	}

	return nil, errNoSupervisorIMSIC
}

// assignTargetPages partitions the routed harts across the IMSIC's MMIO
// regions by capacity (region size / interrupt-file page size) and writes
// each hart's target page address and size into its record.
func assignTargetPages(tree *fdt.Tree, harts []Hart, node fdt.NodeRef, pairs []uint32, reg []byte, numTargets int) error {
	target := 0
	for off := 0; off < len(reg); off += 16 {
		base := binary.BigEndian.Uint64(reg[off:])
		size := binary.BigEndian.Uint64(reg[off+8:])
		capacity := size / imsicPageSize

		for slot := uint64(0); slot < capacity && target < numTargets; slot, target = slot+1, target+1 {
			hart := hartForPhandle(tree, harts, pairs[target*2])
			if hart == nil {
				return fmt.Errorf("hwinfo: imsic node %q routes phandle %d to an unknown hart: %w",
					node.Name(), pairs[target*2], ErrNotFound)
			}
			hart.IMSICAddr = base + slot*imsicPageSize
			hart.IMSICSize = imsicPageSize
		}
	}
	return nil
}
