package hwinfo

import "fmt"

// ObjectKind tags one typed object list in a Store.
type ObjectKind int

const (
	ObjHart ObjectKind = iota
	ObjPLIC
	ObjAPLIC
	ObjIMSIC
	ObjISAString
	ObjCMO
	ObjTimer
)

func (k ObjectKind) String() string {
	switch k {
	case ObjHart:
		return "hart"
	case ObjPLIC:
		return "plic"
	case ObjAPLIC:
		return "aplic"
	case ObjIMSIC:
		return "imsic"
	case ObjISAString:
		return "isa-string"
	case ObjCMO:
		return "cmo"
	case ObjTimer:
		return "timer"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Store holds the extracted object lists keyed by kind. It is call-scoped:
// one Extract invocation produces one Store, and ownership passes to the
// table generator that consumes it.
type Store struct {
	lists map[ObjectKind]any
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{lists: make(map[ObjectKind]any)}
}

// Add publishes a typed object list under kind, replacing any previous list.
func (s *Store) Add(kind ObjectKind, list any) {
	s.lists[kind] = list
}

// Objects returns the list published under kind, or ErrNotFound if nothing
// was published there.
func Objects[T any](s *Store, kind ObjectKind) ([]T, error) {
	v, ok := s.lists[kind]
	if !ok {
		return nil, fmt.Errorf("hwinfo: no %s objects: %w", kind, ErrNotFound)
	}
	list, ok := v.([]T)
	if !ok {
		return nil, fmt.Errorf("hwinfo: %s objects have type %T: %w", kind, v, ErrInvalidInput)
	}
	return list, nil
}

// Object returns the single object published under kind. It fails with
// ErrInvalidInput if the list does not hold exactly one entry.
func Object[T any](s *Store, kind ObjectKind) (T, error) {
	var zero T
	list, err := Objects[T](s, kind)
	if err != nil {
		return zero, err
	}
	if len(list) != 1 {
		return zero, fmt.Errorf("hwinfo: expected one %s object, have %d: %w", kind, len(list), ErrInvalidInput)
	}
	return list[0], nil
}
