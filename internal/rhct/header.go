// Package rhct synthesizes the RISC-V Hart Capabilities Table from extracted
// hardware topology objects. The table is built with a strict two-pass
// discipline: a planner computes every node's exact size and offset first,
// then a writer fills a buffer allocated to exactly the planned total.
package rhct

// OEMInfo mirrors the ACPI table header OEM fields.
type OEMInfo struct {
	OEMID           [6]byte
	OEMTableID      [8]byte
	OEMRevision     uint32
	CreatorID       [4]byte
	CreatorRevision uint32
}

// DefaultOEMInfo returns the default table header metadata.
func DefaultOEMInfo() OEMInfo {
	return OEMInfo{
		OEMID:           [6]byte{'R', 'I', 'S', 'C', 'V', ' '},
		OEMTableID:      [8]byte{'R', 'H', 'C', 'T', 'G', 'E', 'N', ' '},
		OEMRevision:     1,
		CreatorID:       [4]byte{'R', 'H', 'C', 'T'},
		CreatorRevision: 1,
	}
}

const acpiHeaderSize = 36

// writeACPIHeader fills the 36-byte ACPI description header at the start of
// buf. The checksum byte is left zero; the caller patches it once the whole
// table has been written.
func writeACPIHeader(buf []byte, signature string, revision uint8, length uint32, oem OEMInfo) {
	copy(buf[0:4], signature)
	putU32(buf[4:], length)
	buf[8] = revision
	buf[9] = 0 // checksum, patched last
	copy(buf[10:16], oem.OEMID[:])
	copy(buf[16:24], oem.OEMTableID[:])
	putU32(buf[24:], oem.OEMRevision)
	copy(buf[28:32], oem.CreatorID[:])
	putU32(buf[32:], oem.CreatorRevision)
}

// checksum returns the byte that makes the table sum to zero.
func checksum(b []byte) byte {
	var sum uint8
	for _, v := range b {
		sum += v
	}
	return byte(0 - sum)
}
