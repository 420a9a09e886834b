package conversation

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/haasonsaas/docqa/internal/llm"
	"github.com/haasonsaas/docqa/internal/retry"
	"github.com/haasonsaas/docqa/pkg/models"
)

func TestTrim(t *testing.T) {
	sys := turn(models.RoleSystem, "s", 5)
	h1 := turn(models.RoleHuman, "h1", 10)
	a1 := turn(models.RoleAssistant, "a1", 10)
	h2 := turn(models.RoleHuman, "h2", 10)
	a2 := turn(models.RoleAssistant, "a2", 10)
	long := turn(models.RoleHuman, "long", 50)

	tests := []struct {
		name    string
		history []models.Turn
		budget  int
		want    []models.Turn
	}{
		{name: "empty history", history: nil, budget: 100, want: []models.Turn{}},
		{name: "everything fits", history: []models.Turn{h1, a1, h2, a2}, budget: 40, want: []models.Turn{h1, a1, h2, a2}},
		{name: "oldest dropped first", history: []models.Turn{h1, a1, h2, a2}, budget: 25, want: []models.Turn{h2, a2}},
		{name: "assistant first dropped", history: []models.Turn{h1, a1, h2, a2}, budget: 30, want: []models.Turn{h2, a2}},
		{name: "system turn kept", history: []models.Turn{sys, h1, a1, h2, a2}, budget: 25, want: []models.Turn{sys, h2, a2}},
		{name: "newest alone too big", history: []models.Turn{h1, a1}, budget: 5, want: []models.Turn{}},
		{name: "newest too big keeps system", history: []models.Turn{sys, h1, a1}, budget: 9, want: []models.Turn{sys}},
		{name: "stops at first turn that does not fit", history: []models.Turn{h1, a1, long, a2}, budget: 30, want: []models.Turn{}},
		{name: "trailing human kept", history: []models.Turn{h1, a1, h2}, budget: 10, want: []models.Turn{h2}},
	}

	trimmer := NewTrimmer(charCounter, retry.Policy{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := trimmer.Trim(context.Background(), tt.history, tt.budget)
			if err != nil {
				t.Fatalf("Trim() error = %v", err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("Trim() = %v, want %v", contents(got), contents(tt.want))
			}
		})
	}
}

func TestTrimProperties(t *testing.T) {
	sizes := []int{7, 12, 3, 20, 9, 15, 4, 11, 8, 6}
	var history []models.Turn
	for i, size := range sizes {
		role := models.RoleHuman
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		history = append(history, turn(role, string(rune('a'+i)), size))
	}
	withSystem := append([]models.Turn{turn(models.RoleSystem, "S", 6)}, history...)

	trimmer := NewTrimmer(charCounter, retry.Policy{})
	ctx := context.Background()

	for _, input := range [][]models.Turn{history, withSystem} {
		for budget := 0; budget <= 120; budget += 3 {
			got, err := trimmer.Trim(ctx, input, budget)
			if err != nil {
				t.Fatalf("Trim() error = %v", err)
			}

			rest := got
			if len(input) > 0 && input[0].Role == models.RoleSystem {
				if len(got) == 0 || got[0] != input[0] {
					t.Fatalf("budget %d: leading system turn not kept", budget)
				}
				rest = got[1:]
			}

			if total := tokens(got); total > budget && len(rest) > 0 {
				t.Errorf("budget %d: trimmed history uses %d tokens", budget, total)
			}
			if len(rest) > 0 && rest[0].Role != models.RoleHuman {
				t.Errorf("budget %d: trimmed history starts with %s", budget, rest[0].Role)
			}
			if len(rest) > 0 && !slices.Equal(rest, input[len(input)-len(rest):]) {
				t.Errorf("budget %d: result is not a suffix of the history", budget)
			}

			again, err := trimmer.Trim(ctx, got, budget)
			if err != nil {
				t.Fatalf("Trim() error = %v", err)
			}
			if !slices.Equal(again, got) {
				t.Errorf("budget %d: trim is not idempotent: %v then %v", budget, contents(got), contents(again))
			}
		}
	}
}

func TestTrimDoesNotAliasInput(t *testing.T) {
	history := []models.Turn{
		turn(models.RoleHuman, "h1", 4),
		turn(models.RoleAssistant, "a1", 4),
	}
	got, err := NewTrimmer(charCounter, retry.Policy{}).Trim(context.Background(), history, 100)
	if err != nil {
		t.Fatal(err)
	}
	got[0].Content = "changed"
	if history[0].Content == "changed" {
		t.Fatal("Trim() returned a slice sharing the input's backing array")
	}
}

func TestTrimCounterFailure(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCalls int
	}{
		{name: "transient is retried", err: errors.New("503 service unavailable"), wantCalls: 2},
		{
			name:      "auth is not retried",
			err:       &llm.ProviderError{Reason: llm.FailureAuth, Provider: "google", Status: 401, Message: "API key not valid"},
			wantCalls: 1,
		},
		{name: "unclassified is not retried", err: errors.New("count failed"), wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			counter := llm.TokenCounterFunc(func(context.Context, models.Turn) (int, error) {
				calls++
				return 0, tt.err
			})

			trimmer := NewTrimmer(counter, retry.Policy{MaxAttempts: 2, InitialDelay: 1})
			_, err := trimmer.Trim(context.Background(), []models.Turn{models.HumanTurn("hi")}, 10)
			if !errors.Is(err, tt.err) {
				t.Fatalf("Trim() error = %v, want %v", err, tt.err)
			}
			if calls != tt.wantCalls {
				t.Errorf("counter called %d times, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func tokens(turns []models.Turn) int {
	total := 0
	for _, t := range turns {
		total += len(t.Content)
	}
	return total
}

func contents(turns []models.Turn) []string {
	out := make([]string, len(turns))
	for i, t := range turns {
		out[i] = t.Content
	}
	return out
}
