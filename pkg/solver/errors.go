package solver

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrPackageNotFound = errors.New("package not found")
	ErrUnsatisfiable   = errors.New("unsatisfiable")
	ErrStepBudget      = errors.New("solver step budget exhausted")
)

// UnsatisfiableError describes a requirement that no candidate
// could satisfy and the packages that led to it.
type UnsatisfiableError struct {
	// Spec is the requirement that failed.
	Spec string
	// Chain lists the packages that required Spec, starting
	// from a manifest dependency.
	Chain []string
	// Conflict is the already chosen package or constraint that
	// ruled out the candidates, if there was one.
	Conflict string
	notFound bool
}

func (e *UnsatisfiableError) Error() string {
	var sb strings.Builder
	if e.notFound {
		sb.WriteString(fmt.Sprintf("%s: nothing provides %q", ErrPackageNotFound, e.Spec))
	} else {
		sb.WriteString(fmt.Sprintf("%s: no candidate satisfies %q", ErrUnsatisfiable, e.Spec))
	}
	if len(e.Chain) > 0 {
		sb.WriteString(" required by " + strings.Join(e.Chain, " -> "))
	}
	if e.Conflict != "" {
		sb.WriteString(" (conflicts with " + e.Conflict + ")")
	}
	return sb.String()
}

func (e *UnsatisfiableError) Is(target error) bool {
	if e.notFound {
		return target == ErrPackageNotFound
	}
	return target == ErrUnsatisfiable
}
