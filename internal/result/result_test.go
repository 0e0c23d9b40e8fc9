package result

import (
	"sync"
	"testing"
)

func TestTotals_ConcurrentAddSumsToRows(t *testing.T) {
	t.Parallel()

	var tot Totals
	const perAction = 250

	var wg sync.WaitGroup
	for _, a := range Actions {
		for i := 0; i < perAction; i++ {
			wg.Add(1)
			go func(a Action) {
				defer wg.Done()
				tot.Add(a)
			}(a)
		}
	}
	wg.Wait()

	snap := tot.Snapshot()
	for _, a := range Actions {
		if got := snap.Get(a); got != perAction {
			t.Fatalf("snap.Get(%s)=%d; want %d", a, got, perAction)
		}
	}
	if got, want := snap.Total(), int64(perAction*len(Actions)); got != want {
		t.Fatalf("Total()=%d; want %d", got, want)
	}
}

func TestTotals_OutOfRangeCountsAsFailure(t *testing.T) {
	t.Parallel()

	var tot Totals
	tot.Add(Action(42))
	if got := tot.Get(Failure); got != 1 {
		t.Fatalf("Get(Failure)=%d; want 1", got)
	}
}

func TestParseAction(t *testing.T) {
	t.Parallel()

	for _, a := range Actions {
		got, err := ParseAction(a.String())
		if err != nil {
			t.Fatalf("ParseAction(%q) error: %v", a.String(), err)
		}
		if got != a {
			t.Fatalf("ParseAction(%q)=%v; want %v", a.String(), got, a)
		}
	}
	if got, err := ParseAction("update"); err != nil || got != Update {
		t.Fatalf("ParseAction(update)=%v,%v; want UPDATE,nil", got, err)
	}
	if _, err := ParseAction("CONVERT"); err == nil {
		t.Fatalf("expected error for unknown action")
	}
}

func TestRowResultString(t *testing.T) {
	t.Parallel()

	r := Failed(3, "in.csv", 17, CodeAmbiguousMatch, "two matches")
	want := "row 3: FAILURE id=17 code=ambiguous_match: two matches"
	if got := r.String(); got != want {
		t.Fatalf("String()=%q; want %q", got, want)
	}
	if Inserted(1, "x", 5).Action.Succeeded() != true {
		t.Fatalf("INSERT should count as succeeded")
	}
	if Skipped(1, "x", "resume").Action.Succeeded() {
		t.Fatalf("SKIP should not count as succeeded")
	}
}
