package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/tinyrange/rhct/internal/fdt"
	"github.com/tinyrange/rhct/internal/hwinfo"
	"github.com/tinyrange/rhct/internal/rhct"
)

// loadTree reads a board description from disk. Binary device-tree blobs are
// parsed directly; .yaml/.yml files go through the YAML topology format and
// are serialized to a blob first so both inputs exercise the same parser.
func loadTree(path string) (*fdt.Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		root, err := fdt.LoadYAML(data)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		data, err = fdt.BuildNode(root)
		if err != nil {
			return nil, fmt.Errorf("build %s: %w", path, err)
		}
	}

	tree, err := fdt.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return tree, nil
}

func hexdump(b []byte) {
	for off := 0; off < len(b); off += 16 {
		end := off + 16
		if end > len(b) {
			end = len(b)
		}
		var hex, text strings.Builder
		for i := off; i < end; i++ {
			fmt.Fprintf(&hex, "%02x ", b[i])
			if b[i] >= 0x20 && b[i] < 0x7f {
				text.WriteByte(b[i])
			} else {
				text.WriteByte('.')
			}
		}
		fmt.Printf("%08x  %-48s %s\n", off, hex.String(), text.String())
	}
}

func run() error {
	in := flag.String("in", "", "input board description (.dtb, .yaml or .yml)")
	out := flag.String("out", "", "output table file (default: stdout hexdump)")
	oemID := flag.String("oem-id", "", "override the 6-byte OEM id")
	dump := flag.Bool("hexdump", false, "print a hexdump of the table")
	verbose := flag.Bool("verbose", false, "enable debug logging")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `rhctgen - build a RISC-V hart capabilities table from a board description

USAGE:
  rhctgen -in board.dtb [-out rhct.bin] [flags]

FLAGS:
  -in FILE     Board description: a flattened device tree blob, or a YAML
               topology (.yaml/.yml) describing the same node structure
  -out FILE    Write the table to FILE; without it the table is hexdumped
  -oem-id ID   Override the OEM id field (at most 6 characters)
  -hexdump     Hexdump the table even when -out is given
  -verbose     Debug logging to stderr

EXAMPLES:
  rhctgen -in virt.dtb -out rhct.bin
  rhctgen -in board.yaml -hexdump
`)
	}
	flag.Parse()

	if *verbose {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	if *in == "" {
		flag.Usage()
		os.Exit(1)
	}

	tree, err := loadTree(*in)
	if err != nil {
		return err
	}

	store, err := hwinfo.Extract(tree)
	if err != nil {
		return fmt.Errorf("extract topology: %w", err)
	}

	oem := rhct.DefaultOEMInfo()
	if *oemID != "" {
		if len(*oemID) > len(oem.OEMID) {
			return fmt.Errorf("oem id %q is longer than %d bytes", *oemID, len(oem.OEMID))
		}
		oem.OEMID = [6]byte{' ', ' ', ' ', ' ', ' ', ' '}
		copy(oem.OEMID[:], *oemID)
	}

	table, err := rhct.NewGenerator(oem).Build(store)
	if err != nil {
		return fmt.Errorf("build table: %w", err)
	}
	defer table.Free()

	if *out != "" {
		if err := os.WriteFile(*out, table.Bytes(), 0644); err != nil {
			return err
		}
		slog.Debug("wrote table", "path", *out, "size", len(table.Bytes()))
	}
	if *dump || *out == "" {
		hexdump(table.Bytes())
	}

	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "rhctgen: %v\n", err)
		os.Exit(1)
	}
}
