package memory

import (
	"context"

	"github.com/youssefsiam38/agentmem/storage"
	"github.com/youssefsiam38/agentmem/tokens"
	"github.com/youssefsiam38/agentmem/types"
)

// Accounting is the token accountant's verdict for one call.
type Accounting struct {
	// Unobserved is the suffix of the caller's messages not yet folded into
	// observations. It is what an observation cycle summarizes.
	Unobserved []types.Message

	// PendingTokens is the token mass of Unobserved.
	PendingTokens int

	// Threshold is the resolved observation threshold.
	Threshold int

	// Due reports whether an observation cycle should run now.
	Due bool
}

// account measures the unobserved mass of messages against rec.
//
// The pending count is measured from the unobserved set rather than added
// to the stored value, so handing the same history in twice never counts a
// message twice.
func (m *Memory) account(ctx context.Context, rec *storage.Record, messages []types.Message) (Accounting, error) {
	unobserved := unobservedMessages(rec, messages)

	pending, err := tokens.CountMessages(ctx, m.counter, unobserved)
	if err != nil {
		return Accounting{}, err
	}

	threshold := ResolveThreshold(m.config.ObservationThreshold)
	return Accounting{
		Unobserved:    unobserved,
		PendingTokens: pending,
		Threshold:     threshold,
		Due:           len(unobserved) > 0 && pending >= threshold,
	}, nil
}
