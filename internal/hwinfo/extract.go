package hwinfo

import (
	"errors"
	"fmt"
	"log/slog"
	"math/bits"
	"strings"

	"github.com/tinyrange/rhct/internal/fdt"
)

// Extract runs the whole extraction pipeline over a parsed device tree and
// publishes the resulting object lists to a fresh Store. The hart list is
// built first, then enriched in place by the IMSIC and PLIC/APLIC resolvers;
// no records are added after the hart stage. Any failure aborts the pipeline
// with nothing published.
func Extract(tree *fdt.Tree) (*Store, error) {
	harts, err := extractHarts(tree)
	if err != nil {
		return nil, err
	}
	slog.Debug("hwinfo: extracted harts", "count", len(harts))

	imsic, err := resolveIMSIC(tree, harts)
	if err != nil && !errors.Is(err, errNoSupervisorIMSIC) {
		return nil, err
	}

	controllers, err := resolveExternal(tree, harts)
	if err != nil {
		return nil, err
	}
	slog.Debug("hwinfo: resolved external controllers", "count", len(controllers), "imsic", imsic != nil)

	store := NewStore()
	store.Add(ObjHart, harts)

	var plics, aplics []IntController
	for _, ctrl := range controllers {
		switch ctrl.Kind {
		case ControllerPLIC:
			plics = append(plics, ctrl)
		case ControllerAPLIC:
			aplics = append(aplics, ctrl)
		}
	}
	if len(plics) > 0 {
		store.Add(ObjPLIC, plics)
	}
	if len(aplics) > 0 {
		store.Add(ObjAPLIC, aplics)
	}
	if imsic != nil {
		store.Add(ObjIMSIC, []IMSIC{*imsic})
	}

	if isa, ok := extractISAString(tree); ok {
		store.Add(ObjISAString, []ISAString{isa})
	}

	cmo, err := extractCMO(tree)
	if err != nil {
		return nil, err
	}
	if cmo != nil {
		store.Add(ObjCMO, []CMO{*cmo})
	}

	if timer, ok := extractTimer(tree); ok {
		store.Add(ObjTimer, []Timer{timer})
	}

	return store, nil
}

// extractISAString reads the ISA description from the first cpu node. All
// harts are assumed to share one ISA string.
func extractISAString(tree *fdt.Tree) (ISAString, bool) {
	cpu, ok := firstCPU(tree)
	if !ok {
		return ISAString{}, false
	}
	raw, ok := cpu.Property("riscv,isa")
	if !ok {
		return ISAString{}, false
	}
	isa := strings.TrimRight(string(raw), "\x00")
	if isa == "" {
		return ISAString{}, false
	}
	return ISAString{ISA: isa}, true
}

// extractCMO reads the cache-maintenance block sizes from the first cpu node
// and stores them as log2 exponents. Returns nil when no CMO property is
// present at all.
func extractCMO(tree *fdt.Tree) (*CMO, error) {
	cpu, ok := firstCPU(tree)
	if !ok {
		return nil, nil
	}

	var (
		cmo CMO
		any bool
	)
	for _, entry := range []struct {
		prop string
		dst  *uint8
	}{
		{"riscv,cbom-block-size", &cmo.CbomBlockSize},
		{"riscv,cbop-block-size", &cmo.CbopBlockSize},
		{"riscv,cboz-block-size", &cmo.CbozBlockSize},
	} {
		v, ok := cpu.PropU32(entry.prop)
		if !ok {
			continue
		}
		if v == 0 || v&(v-1) != 0 {
			return nil, fmt.Errorf("hwinfo: cpu node %q %s %d is not a power of two: %w",
				cpu.Name(), entry.prop, v, ErrInvalidInput)
		}
		*entry.dst = uint8(bits.TrailingZeros32(v))
		any = true
	}
	if !any {
		return nil, nil
	}
	return &cmo, nil
}

// extractTimer reads the timebase frequency from /cpus. The property is one
// or two cells wide depending on the platform.
func extractTimer(tree *fdt.Tree) (Timer, bool) {
	cpus, ok := tree.Root().Child("cpus")
	if !ok {
		return Timer{}, false
	}
	raw, ok := cpus.Property("timebase-frequency")
	if !ok {
		return Timer{}, false
	}
	var freq uint64
	switch len(raw) {
	case 4:
		v, _ := cpus.PropU32("timebase-frequency")
		freq = uint64(v)
	case 8:
		freq, _ = cpus.PropU64("timebase-frequency")
	default:
		return Timer{}, false
	}
	return Timer{TimebaseFrequency: freq}, true
}

func firstCPU(tree *fdt.Tree) (fdt.NodeRef, bool) {
	cpus, ok := tree.Root().Child("cpus")
	if !ok {
		return fdt.NodeRef{}, false
	}
	return cpus.Child("cpu")
}
