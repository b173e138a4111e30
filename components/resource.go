package components

import (
	"fmt"
	"strings"
)

// FlowMode determines which inventories a converter may draw from or deposit into.
type FlowMode uint8

const (
	FlowNull                     FlowMode = iota // No declared mode; resolved from the resource catalog
	FlowNone                                     // Own part only
	FlowAllVessel                                // Any inventory on the vessel
	FlowAllVesselBalance                         // Any inventory, drained evenly
	FlowStagePriority                            // Vessel-wide; staging order is not modelled
	FlowStagePriorityBalance                     // Vessel-wide; staging order is not modelled
	FlowStackPrioritySearch                      // Parts reachable through crossfeed
	FlowStageStack                               // Crossfeed reachable; staging order is not modelled
	FlowStageStackBalance                        // Crossfeed reachable; staging order is not modelled
)

var flowModeNames = [...]string{
	FlowNull:                 "NULL",
	FlowNone:                 "NO_FLOW",
	FlowAllVessel:            "ALL_VESSEL",
	FlowAllVesselBalance:     "ALL_VESSEL_BALANCE",
	FlowStagePriority:        "STAGE_PRIORITY_FLOW",
	FlowStagePriorityBalance: "STAGE_PRIORITY_FLOW_BALANCE",
	FlowStackPrioritySearch:  "STACK_PRIORITY_SEARCH",
	FlowStageStack:           "STAGE_STACK_FLOW",
	FlowStageStackBalance:    "STAGE_STACK_FLOW_BALANCE",
}

func (m FlowMode) String() string {
	if int(m) < len(flowModeNames) {
		return flowModeNames[m]
	}
	return fmt.Sprintf("FlowMode(%d)", uint8(m))
}

// ParseFlowMode parses the upper-case mode name. An empty string is FlowNull.
func ParseFlowMode(s string) (FlowMode, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return FlowNull, nil
	}
	for i, name := range flowModeNames {
		if name == s {
			return FlowMode(i), nil
		}
	}
	return FlowNull, fmt.Errorf("unknown flow mode %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (m FlowMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *FlowMode) UnmarshalText(b []byte) error {
	v, err := ParseFlowMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Reach is the extent of the part graph a flow mode can reach.
type Reach uint8

const (
	ReachPart   Reach = iota // Converter's own part
	ReachStack               // Parts connected through crossfeed
	ReachVessel              // Whole vessel
)

// Reach returns how far the mode can reach. FlowNull must be resolved first;
// it reports ReachVessel.
func (m FlowMode) Reach() Reach {
	switch m {
	case FlowNone:
		return ReachPart
	case FlowStackPrioritySearch, FlowStageStack, FlowStageStackBalance:
		return ReachStack
	default:
		return ReachVessel
	}
}

// ResourceRatio is one input or output of a converter, in units per second
// at full activation.
type ResourceRatio struct {
	Resource   string   `json:"resource" yaml:"resource"`
	Ratio      float64  `json:"ratio" yaml:"ratio"`
	FlowMode   FlowMode `json:"flow_mode,omitempty" yaml:"flow_mode,omitempty"`
	DumpExcess bool     `json:"dump_excess,omitempty" yaml:"dump_excess,omitempty"`
}

// ConstraintKind is the comparison used by a resource constraint.
type ConstraintKind uint8

const (
	AtLeast ConstraintKind = iota
	AtMost
)

func (k ConstraintKind) String() string {
	if k == AtMost {
		return "AT_MOST"
	}
	return "AT_LEAST"
}

// MarshalText implements encoding.TextMarshaler.
func (k ConstraintKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *ConstraintKind) UnmarshalText(b []byte) error {
	switch strings.ToUpper(strings.TrimSpace(string(b))) {
	case "AT_LEAST", "":
		*k = AtLeast
	case "AT_MOST":
		*k = AtMost
	default:
		return fmt.Errorf("unknown constraint kind %q", string(b))
	}
	return nil
}

// ResourceConstraint enables or disables a converter based on the aggregate
// amount of a resource, without affecting its flow.
type ResourceConstraint struct {
	Resource string         `json:"resource" yaml:"resource"`
	Amount   float64        `json:"amount" yaml:"amount"`
	Kind     ConstraintKind `json:"kind" yaml:"kind"`
}

// ConstraintState is the result of evaluating a resource constraint.
// States are ordered so that the worst state is the largest.
type ConstraintState uint8

const (
	Enabled ConstraintState = iota
	Boundary
	Disabled
)

func (s ConstraintState) String() string {
	switch s {
	case Enabled:
		return "ENABLED"
	case Boundary:
		return "BOUNDARY"
	case Disabled:
		return "DISABLED"
	}
	return fmt.Sprintf("ConstraintState(%d)", uint8(s))
}

// Merge combines two states conjunctively: any Disabled disables, otherwise
// any Boundary yields Boundary.
func (s ConstraintState) Merge(o ConstraintState) ConstraintState {
	return max(s, o)
}

// MarshalText implements encoding.TextMarshaler.
func (s ConstraintState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ConstraintState) UnmarshalText(b []byte) error {
	switch strings.ToUpper(string(b)) {
	case "ENABLED", "":
		*s = Enabled
	case "BOUNDARY":
		*s = Boundary
	case "DISABLED":
		*s = Disabled
	default:
		return fmt.Errorf("unknown constraint state %q", string(b))
	}
	return nil
}
