package schema

import "strings"

// Kind identifies one of the ten MPLP module kinds. The set is closed: every
// artifact in an evidence pack carries exactly one of these as its "kind".
type Kind string

const (
	KindContext   Kind = "Context"
	KindPlan      Kind = "Plan"
	KindConfirm   Kind = "Confirm"
	KindTrace     Kind = "Trace"
	KindRole      Kind = "Role"
	KindDialog    Kind = "Dialog"
	KindCollab    Kind = "Collab"
	KindExtension Kind = "Extension"
	KindCore      Kind = "Core"
	KindNetwork   Kind = "Network"
)

var kindOrder = []Kind{
	KindContext,
	KindPlan,
	KindConfirm,
	KindTrace,
	KindRole,
	KindDialog,
	KindCollab,
	KindExtension,
	KindCore,
	KindNetwork,
}

// Kinds returns all module kinds in canonical order.
func Kinds() []Kind {
	out := make([]Kind, len(kindOrder))
	copy(out, kindOrder)
	return out
}

// ParseKind resolves a discriminator value to a Kind. Matching is
// case-insensitive so that "plan" and "Plan" name the same module.
func ParseKind(s string) (Kind, bool) {
	for _, k := range kindOrder {
		if strings.EqualFold(string(k), s) {
			return k, true
		}
	}
	return "", false
}

// Order returns the position of k in the canonical ordering, or -1.
func (k Kind) Order() int {
	for i, candidate := range kindOrder {
		if candidate == k {
			return i
		}
	}
	return -1
}

// Valid reports whether k is a member of the closed kind set.
func (k Kind) Valid() bool { return k.Order() >= 0 }
