package predictor

import (
	"fmt"
	"sync"
	"testing"
)

func observeN(g *Graph, prev, curr string, n int) {
	for i := 0; i < n; i++ {
		g.Observe(prev, curr)
	}
}

func TestPredictNext(t *testing.T) {
	t.Run("BelowThreshold", func(t *testing.T) {
		g := New()
		observeN(g, "home", "inbox", 2)

		if _, ok := g.PredictNext("home"); ok {
			t.Fatal("expected no prediction below the observation threshold")
		}

		g.Observe("home", "inbox")
		next, ok := g.PredictNext("home")
		if !ok || next != "inbox" {
			t.Fatalf("PredictNext = %q, %v, want inbox, true", next, ok)
		}
	})

	t.Run("PicksHighestCount", func(t *testing.T) {
		g := New()
		observeN(g, "home", "inbox", 3)
		observeN(g, "home", "settings", 5)

		next, ok := g.PredictNext("home")
		if !ok || next != "settings" {
			t.Fatalf("PredictNext = %q, %v, want settings, true", next, ok)
		}
	})

	t.Run("TieBreaksByKey", func(t *testing.T) {
		g := New()
		observeN(g, "home", "profile", 4)
		observeN(g, "home", "inbox", 4)

		next, ok := g.PredictNext("home")
		if !ok || next != "inbox" {
			t.Fatalf("PredictNext = %q, %v, want inbox, true", next, ok)
		}
	})

	t.Run("UnknownKey", func(t *testing.T) {
		g := New()
		if _, ok := g.PredictNext("never-seen"); ok {
			t.Fatal("expected no prediction for an unknown key")
		}
	})
}

func TestObserveIgnoresDegenerateTransitions(t *testing.T) {
	g := New()
	g.Observe("", "inbox")
	g.Observe("home", "")
	g.Observe("home", "home")

	if got := g.Len(); got != 0 {
		t.Fatalf("Len = %d, want 0", got)
	}
}

func TestCandidates(t *testing.T) {
	t.Run("RanksByCountThenKey", func(t *testing.T) {
		g := New()
		observeN(g, "home", "inbox", 5)
		observeN(g, "home", "settings", 3)
		observeN(g, "feed", "profile", 3)

		got := g.Candidates([]string{"home", "feed"}, 5)
		want := []string{"inbox", "profile", "settings"}
		if len(got) != len(want) {
			t.Fatalf("Candidates = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("Candidates = %v, want %v", got, want)
			}
		}
	})

	t.Run("DedupeKeepsMaxCount", func(t *testing.T) {
		g := New()
		observeN(g, "home", "inbox", 3)
		observeN(g, "feed", "inbox", 6)
		observeN(g, "feed", "profile", 4)

		got := g.Candidates([]string{"home", "feed"}, 5)
		if len(got) != 2 || got[0] != "inbox" || got[1] != "profile" {
			t.Fatalf("Candidates = %v, want [inbox profile]", got)
		}
	})

	t.Run("SkipsColdTransitions", func(t *testing.T) {
		g := New()
		observeN(g, "home", "inbox", 2)

		if got := g.Candidates([]string{"home"}, 5); got != nil {
			t.Fatalf("Candidates = %v, want nil", got)
		}
	})

	t.Run("TruncatesToLimit", func(t *testing.T) {
		g := New()
		for i := 0; i < 8; i++ {
			observeN(g, "home", fmt.Sprintf("screen-%d", i), 3+i)
		}

		got := g.Candidates([]string{"home"}, 2)
		if len(got) != 2 || got[0] != "screen-7" || got[1] != "screen-6" {
			t.Fatalf("Candidates = %v, want [screen-7 screen-6]", got)
		}
	})

	t.Run("DefaultLimit", func(t *testing.T) {
		g := New()
		for i := 0; i < 8; i++ {
			observeN(g, "home", fmt.Sprintf("screen-%d", i), 3)
		}

		if got := g.Candidates([]string{"home"}, 0); len(got) != defaultCandidateLimit {
			t.Fatalf("len(Candidates) = %d, want %d", len(got), defaultCandidateLimit)
		}
	})

	t.Run("OnlyRecentWindowConsidered", func(t *testing.T) {
		g := New()
		observeN(g, "old-screen", "inbox", 5)

		recent := []string{"old-screen"}
		for i := 0; i < maxRecentKeys; i++ {
			recent = append(recent, fmt.Sprintf("filler-%d", i))
		}

		if got := g.Candidates(recent, 5); got != nil {
			t.Fatalf("Candidates = %v, want nil for key outside the recent window", got)
		}
	})
}

func TestFanOutStaysBounded(t *testing.T) {
	g := New()
	for i := 0; i < 40; i++ {
		observeN(g, "hub", fmt.Sprintf("s%02d", i), 3)
	}

	got := g.Candidates([]string{"hub"}, 64)
	if len(got) != maxSuccessors {
		t.Fatalf("fan-out = %d, want %d", len(got), maxSuccessors)
	}

	seen := make(map[string]bool, len(got))
	for _, key := range got {
		seen[key] = true
	}
	if !seen["s00"] || !seen["s39"] {
		t.Fatalf("expected both the oldest surviving and the newest edge, got %v", got)
	}
}

func TestForgetDropsEdgesBothWays(t *testing.T) {
	g := New()
	observeN(g, "home", "inbox", 3)
	observeN(g, "inbox", "thread", 3)
	observeN(g, "thread", "inbox", 3)

	g.Forget("inbox")

	for _, key := range []string{"home", "inbox", "thread"} {
		if next, ok := g.PredictNext(key); ok {
			t.Fatalf("PredictNext(%q) = %q after Forget, want no prediction", key, next)
		}
	}
}

func TestReset(t *testing.T) {
	g := New()
	observeN(g, "home", "inbox", 3)

	g.Reset()

	if got := g.Len(); got != 0 {
		t.Fatalf("Len = %d after Reset, want 0", got)
	}
	if _, ok := g.PredictNext("home"); ok {
		t.Fatal("expected no prediction after Reset")
	}
}

func TestConcurrentObserveAndPredict(t *testing.T) {
	g := New()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			prev := fmt.Sprintf("worker-%d", w)
			for i := 0; i < 200; i++ {
				g.Observe(prev, fmt.Sprintf("key-%d", i%16))
				g.PredictNext(prev)
				g.Candidates([]string{prev}, 5)
			}
		}(w)
	}
	wg.Wait()

	if got := g.Len(); got != 8 {
		t.Fatalf("Len = %d, want 8", got)
	}
}
