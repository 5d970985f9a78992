package state

import "strings"

// Flags declare why a model registered an attribute. They compose with
// bitwise OR; registering the same attribute twice unions the flags.
type Flags uint8

const (
	// FlagInit marks data that must be present before a model initializes.
	FlagInit Flags = 1 << iota
	// FlagSub marks data the model consumes every cycle.
	FlagSub
	// FlagOpt marks data the model consumes when present.
	FlagOpt
	// FlagPub marks data the model produces.
	FlagPub
)

// Has reports whether every flag in want is set.
func (f Flags) Has(want Flags) bool {
	return f&want == want
}

// Intersects reports whether any flag in other is set.
func (f Flags) Intersects(other Flags) bool {
	return f&other != 0
}

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	parts := make([]string, 0, 4)
	if f.Has(FlagInit) {
		parts = append(parts, "INIT")
	}
	if f.Has(FlagSub) {
		parts = append(parts, "SUB")
	}
	if f.Has(FlagOpt) {
		parts = append(parts, "OPT")
	}
	if f.Has(FlagPub) {
		parts = append(parts, "PUB")
	}
	return strings.Join(parts, "|")
}

// forReadiness widens a readiness query: subscribed data cannot be ready
// unless the initialization data is too.
func (f Flags) forReadiness() Flags {
	if f.Has(FlagSub) {
		return f | FlagInit
	}
	return f
}

// forReset widens a reset request: consuming subscribed changes also
// consumes the initialization and optional sides of the same cycle.
func (f Flags) forReset() Flags {
	if f.Has(FlagSub) {
		return f | FlagInit | FlagOpt
	}
	return f
}
