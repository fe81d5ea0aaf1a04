package provider

import "fmt"

// Priority orders providers for selection. Lower ordinal wins; ties
// break by registration order.
type Priority int

// Provider priorities, highest first.
const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
	PriorityBackup
)

// String returns the string representation of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	case PriorityBackup:
		return "backup"
	default:
		return "unknown"
	}
}

// Valid reports whether the priority is one of the defined values.
func (p Priority) Valid() bool {
	return p >= PriorityCritical && p <= PriorityBackup
}

// ParsePriority parses a priority name. Unknown names return an error.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "critical":
		return PriorityCritical, nil
	case "high":
		return PriorityHigh, nil
	case "normal", "":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	case "backup":
		return PriorityBackup, nil
	default:
		return PriorityNormal, fmt.Errorf("unknown priority %q", s)
	}
}
