package sync

import "testing"

func TestClassify(t *testing.T) {
	const (
		stored = "aaa"
		edited = "bbb"
		other  = "ccc"
	)

	cases := []struct {
		name         string
		local        string
		remote       string
		hasMapping   bool
		remoteExists bool
		want         State
	}{
		{"no mapping", edited, other, false, false, StateNew},
		{"mapping but remote gone", stored, "", true, false, StateNew},
		{"neither side moved", stored, stored, true, true, StateUnchanged},
		{"local edit only", edited, stored, true, true, StateChangedLocal},
		{"remote edit only", stored, edited, true, true, StateChangedRemote},
		{"both moved differently", edited, other, true, true, StateConflicted},
		{"both moved identically", edited, edited, true, true, StateConflicted},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.local, stored, tc.remote, tc.hasMapping, tc.remoteExists)
			if got != tc.want {
				t.Fatalf("Classify() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestClassifyIsPure(t *testing.T) {
	first := Classify("a", "b", "c", true, true)
	for i := 0; i < 10; i++ {
		if got := Classify("a", "b", "c", true, true); got != first {
			t.Fatalf("verdict changed on repeat call: %v then %v", first, got)
		}
	}
}

func TestStateString(t *testing.T) {
	want := map[State]string{
		StateNew:           "new",
		StateUnchanged:     "unchanged",
		StateChangedLocal:  "changed-local",
		StateChangedRemote: "changed-remote",
		StateConflicted:    "conflicted",
	}
	for st, s := range want {
		if st.String() != s {
			t.Errorf("State(%d).String() = %q, want %q", st, st.String(), s)
		}
	}
}
