package memory

import (
	"time"

	"github.com/youssefsiam38/agentmem/storage"
	"github.com/youssefsiam38/agentmem/types"
)

// FilterByCutoff drops the messages already folded into observations.
// A timestamped message is kept iff it is strictly after cutoff; messages
// without a timestamp are always kept. A nil cutoff keeps everything.
// Timestamps are compared at storage.TimestampPrecision, the resolution a
// cutoff survives a round trip through the store at.
//
// Only pass a cutoff returned by a successful observation (or read from the
// record, which only such an observation advances).
func FilterByCutoff(messages []types.Message, cutoff *time.Time) []types.Message {
	if cutoff == nil {
		return messages
	}

	kept := make([]types.Message, 0, len(messages))
	for _, msg := range messages {
		if !msg.HasTimestamp() || msg.Timestamp.Truncate(storage.TimestampPrecision).After(*cutoff) {
			kept = append(kept, msg)
		}
	}
	return kept
}

// unobservedMessages returns the suffix of messages not yet folded into rec.
// When the last observed message is present in the list, everything after
// it is unobserved; otherwise the timestamp cutoff decides.
func unobservedMessages(rec *storage.Record, messages []types.Message) []types.Message {
	if rec.LastObservedMessageID != "" {
		for i := len(messages) - 1; i >= 0; i-- {
			if messages[i].ID == rec.LastObservedMessageID {
				return messages[i+1:]
			}
		}
	}
	return FilterByCutoff(messages, rec.LastObservedAt)
}

// observedThrough returns the cutoff a successful observation of batch
// establishes: the newest timestamp in the batch, or now when the batch has
// none, never earlier than the record's current cutoff. The result is
// truncated to storage.TimestampPrecision so the value returned to the
// caller is the one the store keeps.
func observedThrough(prev *time.Time, batch []types.Message, now time.Time) time.Time {
	var newest time.Time
	for _, msg := range batch {
		if msg.HasTimestamp() && msg.Timestamp.After(newest) {
			newest = msg.Timestamp
		}
	}
	if newest.IsZero() {
		newest = now
	}
	newest = newest.Truncate(storage.TimestampPrecision)
	if prev != nil && prev.After(newest) {
		return *prev
	}
	return newest
}

// lastMessageID returns the ID of the last message in batch that has one.
func lastMessageID(batch []types.Message, fallback string) string {
	for i := len(batch) - 1; i >= 0; i-- {
		if batch[i].ID != "" {
			return batch[i].ID
		}
	}
	return fallback
}
