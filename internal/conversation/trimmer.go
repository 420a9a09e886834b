package conversation

import (
	"context"
	"fmt"

	"github.com/haasonsaas/docqa/internal/llm"
	"github.com/haasonsaas/docqa/internal/retry"
	"github.com/haasonsaas/docqa/pkg/models"
)

// Trimmer reduces a history to a token budget, keeping the newest turns.
//
// The result:
//   - keeps a leading system turn whenever one exists
//   - is otherwise a contiguous suffix of the input
//   - starts its non-system part on a human turn
//   - never contains a partial turn
//
// Walking from the newest turn stops at the first turn that does not fit,
// so an older short turn is never kept after a newer one was dropped.
type Trimmer struct {
	counter llm.TokenCounter
	policy  retry.Policy
}

// NewTrimmer returns a Trimmer that measures turns with counter. Token
// counts that call out to a provider are attempted under policy.
func NewTrimmer(counter llm.TokenCounter, policy retry.Policy) *Trimmer {
	return &Trimmer{counter: counter, policy: policy}
}

// Trim returns a new slice holding the retained turns of history.
func (t *Trimmer) Trim(ctx context.Context, history []models.Turn, budget int) ([]models.Turn, error) {
	if len(history) == 0 {
		return []models.Turn{}, nil
	}

	var system *models.Turn
	rest := history
	if history[0].Role == models.RoleSystem {
		system = &history[0]
		rest = history[1:]
		n, err := t.count(ctx, *system)
		if err != nil {
			return nil, err
		}
		budget -= n
	}

	start := len(rest)
	used := 0
	for i := len(rest) - 1; i >= 0; i-- {
		n, err := t.count(ctx, rest[i])
		if err != nil {
			return nil, err
		}
		if used+n > budget {
			break
		}
		used += n
		start = i
	}

	for start < len(rest) && rest[start].Role != models.RoleHuman {
		start++
	}

	out := make([]models.Turn, 0, len(rest)-start+1)
	if system != nil {
		out = append(out, *system)
	}
	return append(out, rest[start:]...), nil
}

func (t *Trimmer) count(ctx context.Context, turn models.Turn) (int, error) {
	n, result := retry.DoValue(ctx, t.policy, func(ctx context.Context) (int, error) {
		n, err := t.counter.CountTokens(ctx, turn)
		if err != nil && !llm.IsRetryable(err) {
			return 0, retry.Permanent(err)
		}
		return n, err
	})
	if result.Err != nil {
		return 0, fmt.Errorf("count tokens: %w", result.Err)
	}
	return n, nil
}
