// Package sequence owns the receipt number counter. The counter is the only
// process-wide mutable singleton: every advance goes through one mutex so two
// in-flight confirmations can never observe the same value.
package sequence

import (
	"context"
	"fmt"
	"sync"

	"pesanaja/backend/internal/domain"
	"pesanaja/backend/internal/store"
)

// maxCounter is the largest counter that still fits the 8-digit receipt
// suffix. Beyond it callers must rotate the unit prefix or archive; the
// generator refuses to wrap silently.
const maxCounter = 99999999

type Generator struct {
	mu   sync.Mutex
	repo store.Repository
}

func New(repo store.Repository) *Generator {
	return &Generator{repo: repo}
}

// Next reserves and returns the next receipt number. The read-check-persist
// step runs under the generator mutex; the counter is persisted before the
// receipt is handed out, so a crash can skip a number but never reissue one.
func (g *Generator) Next(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	state, err := g.repo.GetSequence(ctx)
	if err != nil {
		return "", err
	}

	next := state.Counter + 1
	if next > maxCounter {
		return "", store.ErrSequenceExhausted
	}

	if err := g.repo.SetSequenceCounter(ctx, next); err != nil {
		return "", err
	}
	return FormatReceipt(state.UnitPrefix, next), nil
}

// Current returns the persisted sequence state without advancing it.
func (g *Generator) Current(ctx context.Context) (domain.SequenceState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.repo.GetSequence(ctx)
}

// FormatReceipt renders a receipt number as the unit prefix followed by the
// counter zero-padded to eight digits.
func FormatReceipt(unitPrefix string, counter uint64) string {
	return fmt.Sprintf("%s%08d", unitPrefix, counter)
}
