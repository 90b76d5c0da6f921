package callsession

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// The Redis-backed Sessions is a thin mapping onto hash commands plus one
// Lua script; its behavior contract is shared with MemorySessions, which
// is what the state-machine tests run against.

func TestSessions_CandidatesAreWriteOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySessions()

	if err := s.Create(ctx, "c1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	// Duplicate create must not reset anything.
	if err := s.Create(ctx, "c1"); err != nil {
		t.Fatalf("create twice: %v", err)
	}

	if err := s.SetCandidates(ctx, "c1", []string{"+4676A", "+4676B"}); err != nil {
		t.Fatalf("set candidates: %v", err)
	}
	if err := s.SetCandidates(ctx, "c1", []string{"+4676C"}); err != nil {
		t.Fatalf("second set candidates: %v", err)
	}

	got, err := s.Candidates(ctx, "c1")
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(got) != 2 || got[0] != "+4676A" {
		t.Fatalf("candidate list was reset: %v", got)
	}
}

func TestSessions_ResolveIsWonExactlyOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySessions()
	if err := s.Create(ctx, "c1"); err != nil {
		t.Fatalf("create: %v", err)
	}

	resolved, err := s.IsResolved(ctx, "c1")
	if err != nil || resolved {
		t.Fatalf("fresh session should be unresolved, got %v err=%v", resolved, err)
	}

	const n = 16
	var wg sync.WaitGroup
	wins := make(chan bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := s.TryResolve(ctx, "c1")
			if err != nil {
				t.Errorf("try resolve: %v", err)
				return
			}
			wins <- won
		}()
	}
	wg.Wait()
	close(wins)

	var winners int
	for w := range wins {
		if w {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}

	resolved, err = s.IsResolved(ctx, "c1")
	if err != nil || !resolved {
		t.Fatalf("expected resolved session, got %v err=%v", resolved, err)
	}
}

func TestSessions_MissingSessionCountsAsResolved(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySessions()

	resolved, err := s.IsResolved(ctx, "nope")
	if err != nil || !resolved {
		t.Fatalf("missing session must read as resolved, got %v err=%v", resolved, err)
	}
	if _, err := s.TryResolve(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	// MarkResolved for an unknown call is a harmless no-op (late hangups).
	if err := s.MarkResolved(ctx, "nope"); err != nil {
		t.Fatalf("mark resolved: %v", err)
	}
}

func TestSessions_HistoryFields(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySessions()
	if err := s.Create(ctx, "c1"); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.SetField(ctx, "c1", FieldHelpersContacted, "3"); err != nil {
		t.Fatalf("set field: %v", err)
	}
	v, err := s.Field(ctx, "c1", FieldHelpersContacted)
	if err != nil || v != "3" {
		t.Fatalf("expected 3, got %q err=%v", v, err)
	}
	v, err = s.Field(ctx, "c1", FieldMatchFound)
	if err != nil || v != "" {
		t.Fatalf("unset field should read empty, got %q err=%v", v, err)
	}
}
