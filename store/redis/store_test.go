package redis

import (
	"math"
	"testing"
	"time"

	"github.com/xraph/rewind/catalog"
	"github.com/xraph/rewind/quarantine"
	"github.com/xraph/rewind/session"
	"github.com/xraph/rewind/signal"
)

// Every entity listed through an index is decoded by loadAll.
var (
	_ = loadAll[session.Session]
	_ = loadAll[signal.ErrorGroup]
	_ = loadAll[catalog.EventDefinition]
	_ = loadAll[quarantine.Entry]
	_ = loadAll[projectModel]
)

func TestApplyPagination(t *testing.T) {
	items := []*int{new(int), new(int), new(int), new(int)}
	for i, p := range items {
		*p = i
	}

	tests := []struct {
		name          string
		offset, limit int
		want          []int
	}{
		{"all", 0, 0, []int{0, 1, 2, 3}},
		{"limit", 0, 2, []int{0, 1}},
		{"offset", 1, 0, []int{1, 2, 3}},
		{"window", 1, 2, []int{1, 2}},
		{"past end", 4, 0, nil},
		{"limit beyond", 2, 10, []int{2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := applyPagination(items, tt.offset, tt.limit)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i, p := range got {
				if *p != tt.want[i] {
					t.Errorf("[%d] = %d, want %d", i, *p, tt.want[i])
				}
			}
		})
	}
}

func TestScores(t *testing.T) {
	a := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := a.Add(250 * time.Millisecond)
	if scoreFromTime(b) <= scoreFromTime(a) {
		t.Error("sub-second ordering lost")
	}
	if got := formatScore(1.5); got != "1.5" {
		t.Errorf("formatScore = %q", got)
	}
	if math.IsInf(scoreFromTime(a), 0) {
		t.Error("score overflow")
	}
}

func TestKeys(t *testing.T) {
	if got := entityKey(prefixSession, "sess_1"); got != "rewind:sess:sess_1" {
		t.Errorf("entityKey = %q", got)
	}
	if got := fingerprintKey("proj_1", "abc"); got != "rewind:u:grp:fp:proj_1/abc" {
		t.Errorf("fingerprintKey = %q", got)
	}
}
