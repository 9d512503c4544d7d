// Package hwinfo extracts a RISC-V hardware topology (harts, interrupt
// controllers, IMSIC, timer, ISA/CMO metadata) from a flattened device tree
// and publishes it as typed object lists for table generators to consume.
package hwinfo

// Supervisor external interrupt number in interrupts-extended routing pairs.
// Routing entries targeting any other privilege mode are out of scope.
const irqSupervisorExternal = 9

const (
	imsicPageShift = 12
	imsicPageSize  = 1 << imsicPageShift
)

// hartFlagEnabled is set on every discovered hart. The DT status property is
// deliberately not consulted; boot-time online/offline state is not modeled.
const hartFlagEnabled = 1

// Hart describes one hardware execution context. One record is created per
// cpu node; the interrupt-controller and IMSIC resolvers enrich it in place
// afterwards.
type Hart struct {
	// UID is assigned in discovery order starting at 0. It is the identifier
	// the serialized table uses, not the hardware hart id.
	UID uint32

	// HartID is the opaque hardware thread identifier from the cpu node's
	// reg property.
	HartID uint64

	// ExtIntcID is the composite (controller sequence << 24) | context
	// identifier of the external interrupt controller context serving this
	// hart. Zero means no external controller.
	ExtIntcID uint32

	// IMSICAddr and IMSICSize describe this hart's message-signaled
	// interrupt target page. Zero when no IMSIC was resolved.
	IMSICAddr uint64
	IMSICSize uint64

	Version uint8
	Flags   uint32
}

// ControllerKind distinguishes the two wired external interrupt controllers.
type ControllerKind int

const (
	ControllerPLIC ControllerKind = iota
	ControllerAPLIC
)

func (k ControllerKind) String() string {
	switch k {
	case ControllerPLIC:
		return "plic"
	case ControllerAPLIC:
		return "aplic"
	default:
		return "unknown"
	}
}

// Hardware identification tags emitted into the serialized controller nodes.
var (
	hwIDPLIC  = [8]byte{'R', 'S', 'C', 'V', '0', '0', '0', '1'}
	hwIDAPLIC = [8]byte{'R', 'S', 'C', 'V', '0', '0', '0', '2'}
)

// IntController describes one discovered PLIC or APLIC instance. Immutable
// once created.
type IntController struct {
	Kind ControllerKind

	// Seq is the controller's discovery sequence id, the upper byte of
	// every composite ExtIntcID it hands out.
	Seq uint32

	Sources uint32
	Base    uint64
	Size    uint64

	// GSIBase is the start of this controller's contiguous global interrupt
	// number range.
	GSIBase uint32

	// Contexts is the number of interrupt delivery contexts (APLIC only).
	Contexts uint32

	HardwareID [8]byte
	Version    uint8
}

// IMSIC describes the message-signaled interrupt subsystem. At most one per
// topology.
type IMSIC struct {
	NumIDs      uint32
	NumGuestIDs uint32

	GuestIndexBits  uint8
	HartIndexBits   uint8
	GroupIndexBits  uint8
	GroupIndexShift uint8

	Version uint8
	Flags   uint32
}

// ISAString holds the ISA description shared by all harts.
type ISAString struct {
	ISA string
}

// CMO holds the cache-maintenance block sizes as log2 exponents.
type CMO struct {
	CbomBlockSize uint8
	CbopBlockSize uint8
	CbozBlockSize uint8
}

// Timer holds the system timer description.
type Timer struct {
	TimebaseFrequency uint64
	CannotWakeCPU     bool
}

func extIntcID(seq, context uint32) uint32 {
	return seq<<24 | context
}
