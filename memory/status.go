package memory

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/youssefsiam38/agentmem/storage"
)

const (
	progressBarWidth = 20
	barFilled        = "█"
	barEmpty         = "░"
)

// NoRecordStatus is reported for a key that has never been processed.
const NoRecordStatus = "no record found"

// ProgressBar renders value/total as a 20-cell bar followed by a percentage
// with one decimal place. The ratio is clamped to [0, 1]; total <= 0 is 0%.
func ProgressBar(value, total int) string {
	ratio := 0.0
	if total > 0 {
		ratio = math.Min(math.Max(float64(value)/float64(total), 0), 1)
	}

	filled := int(math.Round(ratio * progressBarWidth))
	return strings.Repeat(barFilled, filled) +
		strings.Repeat(barEmpty, progressBarWidth-filled) +
		fmt.Sprintf(" %.1f%%", ratio*100)
}

// FormatTokens renders n as-is below 1000 and as thousands with one decimal
// place and a "k" suffix otherwise. Halves round away from zero.
func FormatTokens(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	return fmt.Sprintf("%.1fk", math.Round(float64(n)/100)/10)
}

// FormatStatus renders the diagnostic view of rec against the resolved
// observation and reflection thresholds.
func FormatStatus(rec *storage.Record, observationThreshold, reflectionThreshold int) string {
	if rec == nil {
		return NoRecordStatus
	}

	lastObserved := "never"
	if rec.LastObservedAt != nil {
		lastObserved = rec.LastObservedAt.UTC().Format(time.RFC3339)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Observational memory (%s %s)\n", rec.Scope, rec.ScopeKey)
	fmt.Fprintf(&b, "  Unobserved:    %s  %s / %s tokens\n",
		ProgressBar(rec.PendingMessageTokens, observationThreshold),
		FormatTokens(rec.PendingMessageTokens), FormatTokens(observationThreshold))
	fmt.Fprintf(&b, "  Observations:  %s  %s / %s tokens\n",
		ProgressBar(rec.ObservationTokenCount, reflectionThreshold),
		FormatTokens(rec.ObservationTokenCount), FormatTokens(reflectionThreshold))
	fmt.Fprintf(&b, "  Last observed: %s\n", lastObserved)
	fmt.Fprintf(&b, "  Observing:     %s\n", yesNo(rec.IsObserving, rec.BufferingMessages))
	fmt.Fprintf(&b, "  Reflecting:    %s\n", yesNo(rec.IsReflecting, rec.BufferingObservations))
	fmt.Fprintf(&b, "  Generation:    %d", rec.GenerationCount)
	return b.String()
}

func yesNo(active, buffering bool) string {
	switch {
	case active && buffering:
		return "yes (input buffered)"
	case active:
		return "yes"
	default:
		return "no"
	}
}
