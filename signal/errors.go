package signal

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/xraph/rewind/event"
	"github.com/xraph/rewind/id"
	"github.com/xraph/rewind/internal/entity"
)

// ErrGroupNotFound is returned by stores when an error group does not exist.
var ErrGroupNotFound = errors.New("rewind: error group not found")

// ErrorGroup aggregates every occurrence of one error across sessions.
type ErrorGroup struct {
	entity.Entity

	ID          id.ID     `json:"id"`
	ProjectID   id.ID     `json:"project_id"`
	Fingerprint string    `json:"fingerprint"`
	Message     string    `json:"message"`
	TopFrame    string    `json:"top_frame,omitempty"`
	Count       int64     `json:"count"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	SessionIDs  []string  `json:"session_ids"`
	Pages       []string  `json:"pages"`
}

// AffectedSessions returns the number of distinct sessions in the group.
func (g *ErrorGroup) AffectedSessions() int { return len(g.SessionIDs) }

// Occurrence is one error event placed on the wall clock.
type Occurrence struct {
	SessionID id.ID
	URL       string
	At        time.Time
	Message   string
	Stack     string
}

// Add folds one occurrence into the group.
func (g *ErrorGroup) Add(o Occurrence) {
	g.Count++
	if g.FirstSeen.IsZero() || o.At.Before(g.FirstSeen) {
		g.FirstSeen = o.At
	}
	if o.At.After(g.LastSeen) {
		g.LastSeen = o.At
	}
	g.SessionIDs = insertSorted(g.SessionIDs, o.SessionID.String())
	if o.URL != "" {
		g.Pages = insertSorted(g.Pages, o.URL)
	}
}

// Merge folds every occurrence recorded in other into g. Both groups must
// share a fingerprint.
func (g *ErrorGroup) Merge(other *ErrorGroup) {
	g.Count += other.Count
	if g.FirstSeen.IsZero() || (!other.FirstSeen.IsZero() && other.FirstSeen.Before(g.FirstSeen)) {
		g.FirstSeen = other.FirstSeen
	}
	if other.LastSeen.After(g.LastSeen) {
		g.LastSeen = other.LastSeen
	}
	for _, s := range other.SessionIDs {
		g.SessionIDs = insertSorted(g.SessionIDs, s)
	}
	for _, p := range other.Pages {
		g.Pages = insertSorted(g.Pages, p)
	}
}

func insertSorted(set []string, v string) []string {
	i, found := slices.BinarySearch(set, v)
	if found {
		return set
	}
	return slices.Insert(set, i, v)
}

var (
	v8Frame    = regexp.MustCompile(`^\s*at\s+(.+)$`)
	geckoFrame = regexp.MustCompile(`^\s*([^@\s]*)@(.+:\d+(:\d+)?)$`)
)

// TopFrame extracts the innermost stack frame from a V8 ("at fn (file:1:2)")
// or Gecko/WebKit ("fn@file:1:2") stack trace. It returns "" when no frame
// is recognizable.
func TopFrame(stack string) string {
	for line := range strings.SplitSeq(stack, "\n") {
		line = strings.TrimSpace(line)
		if m := v8Frame.FindStringSubmatch(line); m != nil {
			return strings.TrimSpace(m[1])
		}
		if m := geckoFrame.FindStringSubmatch(line); m != nil {
			if m[1] == "" {
				return m[2]
			}
			return m[1] + " (" + m[2] + ")"
		}
	}
	return ""
}

// Fingerprint is the stable grouping key for an error: a hash of its
// whitespace-normalized message and its top stack frame.
func Fingerprint(message, topFrame string) string {
	msg := strings.Join(strings.Fields(message), " ")
	return fmt.Sprintf("%016x", xxhash.Sum64String(msg+"\x00"+topFrame))
}

// Occurrences places a session's error events on the wall clock using the
// session start time.
func Occurrences(sessionID id.ID, start time.Time, events []*event.Event) []Occurrence {
	var out []Occurrence
	for _, e := range events {
		p, ok := e.Data.(event.ErrorReport)
		if !ok {
			continue
		}
		out = append(out, Occurrence{
			SessionID: sessionID,
			URL:       e.URL,
			At:        start.Add(time.Duration(e.Timestamp) * time.Millisecond).UTC(),
			Message:   p.Message,
			Stack:     p.Stack,
		})
	}
	return out
}

// GroupErrors folds occurrences into groups keyed by fingerprint. Groups are
// returned most frequent first; ties are broken by fingerprint. Group IDs
// are left unset for the caller to assign or match.
func GroupErrors(projectID id.ID, occs []Occurrence) []*ErrorGroup {
	byFP := make(map[string]*ErrorGroup)
	for _, o := range occs {
		frame := TopFrame(o.Stack)
		fp := Fingerprint(o.Message, frame)
		g, ok := byFP[fp]
		if !ok {
			g = &ErrorGroup{
				ProjectID:   projectID,
				Fingerprint: fp,
				Message:     strings.TrimSpace(o.Message),
				TopFrame:    frame,
			}
			byFP[fp] = g
		}
		g.Add(o)
	}

	out := make([]*ErrorGroup, 0, len(byFP))
	for _, g := range byFP {
		out = append(out, g)
	}
	SortGroups(out)
	return out
}
