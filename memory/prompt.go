package memory

import "strings"

const (
	observationsOpen  = "<observations>"
	observationsClose = "</observations>"
)

// RenderBlock wraps observations in the instruction block injected into the
// system prompt. It returns "" when there is nothing to inject.
func RenderBlock(observations string) string {
	observations = strings.TrimSpace(observations)
	if observations == "" {
		return ""
	}

	// Keep the block unambiguous if the text itself contains the close marker.
	observations = strings.ReplaceAll(observations, observationsClose, "<\\/observations>")

	var b strings.Builder
	b.WriteString("The following observations are your own memory of this conversation so far. ")
	b.WriteString("Earlier messages were condensed into them and are no longer shown.\n\n")
	b.WriteString(observationsOpen)
	b.WriteString("\n")
	b.WriteString(observations)
	b.WriteString("\n")
	b.WriteString(observationsClose)
	b.WriteString("\n\n")
	b.WriteString("Treat these observations as established facts. Do not re-derive or re-verify them, ")
	b.WriteString("and prefer the most recent observation when two disagree.\n")
	b.WriteString("Continue the conversation naturally from where it left off. ")
	b.WriteString("Do not re-introduce yourself or summarize the observations back to the user.")
	return b.String()
}

// WrapBasePrompt appends the rendered observation block to base, separated
// by a blank line. base is returned unchanged when there is nothing to inject.
func WrapBasePrompt(base, observations string) string {
	block := RenderBlock(observations)
	if block == "" {
		return base
	}
	if base == "" {
		return block
	}
	return base + "\n\n" + block
}
