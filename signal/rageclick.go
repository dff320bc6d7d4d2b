package signal

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/xraph/rewind/event"
	"github.com/xraph/rewind/id"
)

// RageClickCluster is a burst of repeated clicks on one target.
type RageClickCluster struct {
	SessionID id.ID   `json:"session_id"`
	URL       string  `json:"url"`
	Selector  string  `json:"selector"`
	Count     int     `json:"count"`
	StartMs   int64   `json:"start_ms"`
	EndMs     int64   `json:"end_ms"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
}

// Event converts the cluster to a RageClick event stamped at its end.
func (c RageClickCluster) Event() *event.Event {
	e := event.New(c.EndMs, c.URL, event.RageClick{
		Selector: c.Selector,
		Count:    c.Count,
		StartMs:  c.StartMs,
		EndMs:    c.EndMs,
		X:        c.X,
		Y:        c.Y,
	})
	e.SessionID = c.SessionID
	return e
}

var positional = regexp.MustCompile(`:(nth-child|nth-of-type|nth-last-child|nth-last-of-type)\([^)]*\)|:(first|last|only)-(child|of-type)`)

// NormalizeSelector reduces a selector to the form used to decide whether
// two clicks hit the "same" target: positional pseudo-classes are dropped
// and combinator whitespace is canonicalized.
func NormalizeSelector(sel string) string {
	sel = positional.ReplaceAllString(sel, "")
	sel = strings.Join(strings.Fields(sel), " ")
	sel = strings.ReplaceAll(sel, " > ", ">")
	return sel
}

type click struct {
	e   *event.Event
	p   event.MouseClick
	key string
}

// DetectRageClicks finds clusters of at least MinClicks clicks on the same
// normalized target within Window. Windows that share clicks merge into one
// cluster. Results are ordered by start time.
func DetectRageClicks(events []*event.Event, cfg RageClickConfig) []RageClickCluster {
	cfg = Config{RageClick: cfg}.withDefaults().RageClick
	window := cfg.Window.Milliseconds()

	groups := make(map[string][]click)
	var order []string
	for _, e := range sortedCopy(events) {
		p, ok := e.Data.(event.MouseClick)
		if !ok {
			continue
		}
		key := e.URL + "\x00" + targetKey(p)
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], click{e: e, p: p, key: key})
	}

	var out []RageClickCluster
	for _, key := range order {
		out = append(out, clusters(groups[key], cfg.MinClicks, window)...)
	}
	sortClusters(out)
	return out
}

func targetKey(p event.MouseClick) string {
	if p.Selector != "" {
		return NormalizeSelector(p.Selector)
	}
	return "#node-" + strconv.FormatInt(p.NodeID, 10)
}

func clusters(cs []click, minClicks int, window int64) []RageClickCluster {
	var out []RageClickCluster
	start, end := -1, -1

	flush := func() {
		if start < 0 {
			return
		}
		first, last := cs[start], cs[end]
		sel := first.p.Selector
		if sel == "" {
			sel = first.key[strings.IndexByte(first.key, 0)+1:]
		}
		out = append(out, RageClickCluster{
			SessionID: first.e.SessionID,
			URL:       first.e.URL,
			Selector:  sel,
			Count:     end - start + 1,
			StartMs:   first.e.Timestamp,
			EndMs:     last.e.Timestamp,
			X:         last.p.X,
			Y:         last.p.Y,
		})
		start, end = -1, -1
	}

	for i := 0; i+minClicks-1 < len(cs); i++ {
		j := i + minClicks - 1
		if cs[j].e.Timestamp-cs[i].e.Timestamp > window {
			continue
		}
		for j+1 < len(cs) && cs[j+1].e.Timestamp-cs[i].e.Timestamp <= window {
			j++
		}
		if start >= 0 && i <= end {
			end = max(end, j)
			continue
		}
		flush()
		start, end = i, j
	}
	flush()
	return out
}
