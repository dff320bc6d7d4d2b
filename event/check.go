package event

import "fmt"

// Rule names a stream invariant.
type Rule string

const (
	RuleStartFirst       Rule = "session_start_first"
	RuleStartOnce        Rule = "session_start_once"
	RuleSnapshotFirst    Rule = "snapshot_before_mutation"
	RuleMonotonicTime    Rule = "timestamp_order"
	RuleUnrecognizedType Rule = "unrecognized_type"
)

// Violation describes one place a stream breaks an invariant.
type Violation struct {
	Index int
	Rule  Rule
	Msg   string
}

func (v Violation) String() string {
	return fmt.Sprintf("#%d %s: %s", v.Index, v.Rule, v.Msg)
}

// Check inspects a sorted stream and reports every invariant it breaks.
// Readers use it to flag degraded recordings; it never modifies the stream.
func Check(events []*Event) []Violation {
	var out []Violation
	starts := 0
	snapshotForPage := false

	for i, e := range events {
		if i > 0 && Compare(events[i-1], e) > 0 {
			out = append(out, Violation{i, RuleMonotonicTime, "event precedes its predecessor"})
		}
		switch e.Type {
		case TypeSessionStart:
			starts++
			if starts > 1 {
				out = append(out, Violation{i, RuleStartOnce, "duplicate session start"})
			}
		case TypePageNavigation:
			snapshotForPage = false
		case TypeDomSnapshot:
			snapshotForPage = true
		case TypeDomMutation:
			if !snapshotForPage {
				out = append(out, Violation{i, RuleSnapshotFirst, "mutation without a snapshot for this page"})
			}
		case TypeUnrecognized:
			out = append(out, Violation{i, RuleUnrecognizedType, "unknown type code"})
		}
		if i == 0 && e.Type != TypeSessionStart {
			out = append(out, Violation{i, RuleStartFirst, fmt.Sprintf("stream starts with %s", e.Type)})
		}
	}
	if len(events) > 0 && starts == 0 {
		out = append(out, Violation{0, RuleStartFirst, "no session start"})
	}
	return out
}
