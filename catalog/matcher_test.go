package catalog

import "testing"

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		name    string
		want    bool
	}{
		{"*", "checkout.completed", true},
		{"*", "x", true},

		{"checkout.completed", "checkout.completed", true},
		{"checkout.completed", "checkout.started", false},

		{"checkout.*", "checkout.completed", true},
		{"checkout.*", "cart.completed", false},
		{"*.completed", "checkout.completed", true},
		{"*.completed", "checkout.started", false},
		{"checkout.*.failed", "checkout.payment.failed", true},
		{"checkout.*.failed", "checkout.payment.retried", false},

		{"checkout.*", "checkout.payment.failed", false},
		{"checkout", "checkout.completed", false},

		{"checkout.**", "checkout.completed", true},
		{"checkout.**", "checkout.payment.failed", true},
		{"checkout.**", "checkout", false},
		{"checkout.**", "cart.payment.failed", false},

		{"", "", true},
		{"a", "b", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"_vs_"+tt.name, func(t *testing.T) {
			if got := Match(tt.pattern, tt.name); got != tt.want {
				t.Errorf("Match(%q, %q) = %v, want %v", tt.pattern, tt.name, got, tt.want)
			}
		})
	}
}

func TestMatchAny(t *testing.T) {
	patterns := []string{"signup.*", "checkout.**"}
	if !MatchAny(patterns, "checkout.payment.failed") {
		t.Error("expected match")
	}
	if MatchAny(patterns, "search.performed") {
		t.Error("unexpected match")
	}
	if MatchAny(nil, "anything") {
		t.Error("empty pattern list matched")
	}
}
