// Package memory keeps a bounded, running summary ("observations") of an
// open-ended conversation and compresses that summary ("reflection") when it
// grows too large.
//
// # Cycles
//
// Each record (one per thread or resource key) moves through two
// single-flight phases:
//
//   - Observation: once the unobserved messages reach the observation
//     threshold, they are folded into the observations by the injected
//     ObserveFunc. Success advances the cutoff and resets the pending count.
//   - Reflection: once the observations reach the reflection threshold, the
//     injected ReflectFunc compresses them.
//
// A phase already running on a record is never entered twice; the second
// attempt marks the record as buffering and returns a Buffered outcome. A
// failed cycle clears its guard and leaves every other field untouched, so
// the same messages are observed by a later call. Nothing is retried
// internally.
//
// # Usage
//
//	mem, err := memory.New(store, sum.Observe, sum.Reflect, &memory.Config{
//	    ObservationThreshold: memory.Fixed(30000),
//	    ReflectionThreshold:  memory.Range{Min: 20000, Max: 40000},
//	    Scope:                storage.ScopeThread,
//	}, memory.WithLogger(slog.Default()))
//
//	res, err := mem.Process(ctx, threadID, history)
//	if err != nil {
//	    return err
//	}
//	kept, _ := mem.Filter(ctx, threadID, history)
//	system, _ := mem.SystemPrompt(ctx, threadID, basePrompt)
//
// Filter only drops messages already folded into a committed observation:
// timestamped messages at or before the record's cutoff. Untimestamped
// messages always pass.
//
// # Thread Safety
//
// Memory is safe for concurrent use. Single-flight guards live in the
// store, so several processes sharing a database also never run the same
// phase on one record at once. Set Config.CycleLease to recover guards left
// behind by a crashed process.
package memory
