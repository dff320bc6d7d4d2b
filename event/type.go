package event

import (
	"fmt"
	"strings"
)

// Type is the closed set of captured event kinds. The numeric codes are part
// of the wire format and must never be renumbered.
type Type uint16

const (
	// TypeUnrecognized marks an event whose code this build does not know.
	// Recorders never emit it; it only appears after decoding.
	TypeUnrecognized Type = 0

	TypeSessionStart   Type = 1
	TypeDomSnapshot    Type = 2
	TypeDomMutation    Type = 3
	TypeMouseMove      Type = 4
	TypeMouseClick     Type = 5
	TypeScroll         Type = 6
	TypeInput          Type = 7
	TypeResize         Type = 8
	TypePageNavigation Type = 9
	TypeConsole        Type = 10
	TypeNetwork        Type = 11
	TypeError          Type = 12
	TypeRageClick      Type = 13
	TypeIdentify       Type = 14
	TypeCustom         Type = 15
)

var typeNames = [...]string{
	TypeUnrecognized:   "unrecognized",
	TypeSessionStart:   "session_start",
	TypeDomSnapshot:    "dom_snapshot",
	TypeDomMutation:    "dom_mutation",
	TypeMouseMove:      "mouse_move",
	TypeMouseClick:     "mouse_click",
	TypeScroll:         "scroll",
	TypeInput:          "input",
	TypeResize:         "resize",
	TypePageNavigation: "page_navigation",
	TypeConsole:        "console",
	TypeNetwork:        "network",
	TypeError:          "error",
	TypeRageClick:      "rage_click",
	TypeIdentify:       "identify",
	TypeCustom:         "custom",
}

// Known reports whether t is a defined, recordable type.
func (t Type) Known() bool {
	return t >= TypeSessionStart && t <= TypeCustom
}

// String returns the snake_case name of t.
func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("type(%d)", uint16(t))
}

// Types returns every known type in code order.
func Types() []Type {
	out := make([]Type, 0, len(typeNames)-1)
	for t := TypeSessionStart; t <= TypeCustom; t++ {
		out = append(out, t)
	}
	return out
}

// ParseType resolves a type from its name (e.g. "mouse_click").
func ParseType(s string) (Type, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t := TypeSessionStart; t <= TypeCustom; t++ {
		if typeNames[t] == s {
			return t, nil
		}
	}
	return TypeUnrecognized, fmt.Errorf("event: unknown type %q", s)
}

// ParseTypes resolves a comma-separated list of type names.
func ParseTypes(s string) ([]Type, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]Type, 0, len(parts))
	for _, p := range parts {
		t, err := ParseType(p)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
