package summarizer

import (
	"fmt"
	"strings"

	"github.com/youssefsiam38/agentmem/types"
)

// maxToolOutput is the length at which tool output is abbreviated in a
// transcript.
const maxToolOutput = 500

// ObserverSystemPrompt instructs the model how to fold messages into
// observations.
const ObserverSystemPrompt = `You are the memory of an AI assistant. Your task is to maintain a running list of observations about an ongoing conversation.

You receive the existing observations (possibly empty) and a transcript of new messages. Return the complete, updated observation list: every existing observation that is still true, followed by new observations from the transcript.

## Guidelines

- Write one observation per line, starting with "- "
- Preserve specific details: names, dates, numbers, file paths, decisions and user preferences
- Record what the user is currently working on and any open questions or pending tasks
- Note tool results that changed the state of the task
- When a new message supersedes an existing observation, replace the old observation
- Ignore greetings, pleasantries and meta-conversation
- Do not add information that is not in the observations or the transcript
- Output only the observation list, with no preamble`

// ReflectorSystemPrompt instructs the model how to compress observations.
const ReflectorSystemPrompt = `You are the memory of an AI assistant. Your observation list has grown too long and must be condensed.

Rewrite the observations so they take substantially fewer tokens while keeping everything needed to continue the conversation.

## Guidelines

- Write one observation per line, starting with "- "
- Merge related and redundant observations
- Drop observations that were superseded by later ones
- Keep specific details: names, dates, numbers, decisions and user preferences
- Keep the user's current task and pending work
- Maintain chronological order where it matters
- Output only the condensed observation list, with no preamble`

// BuildObservePrompt creates the user message for an observation.
func BuildObservePrompt(previous, transcript string) string {
	var b strings.Builder
	if strings.TrimSpace(previous) != "" {
		b.WriteString("<existing_observations>\n")
		b.WriteString(previous)
		b.WriteString("\n</existing_observations>\n\n")
	} else {
		b.WriteString("There are no existing observations yet.\n\n")
	}
	b.WriteString("<new_messages>\n")
	b.WriteString(transcript)
	b.WriteString("</new_messages>\n\n")
	b.WriteString("Return the complete, updated observation list.")
	return b.String()
}

// BuildReflectPrompt creates the user message for a reflection.
func BuildReflectPrompt(observations string) string {
	return "<observations>\n" + observations + "\n</observations>\n\n" +
		"Condense these observations following your instructions."
}

// FormatTranscript renders messages as readable text. Reasoning traces and
// unknown parts are left out; messages with nothing to show are skipped.
func FormatTranscript(messages []types.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		content := messageText(msg)
		if content == "" {
			continue
		}
		b.WriteString(roleLabel(msg.Role))
		if msg.HasTimestamp() {
			fmt.Fprintf(&b, " (%s)", msg.Timestamp.UTC().Format("2006-01-02 15:04"))
		}
		b.WriteString(":\n")
		b.WriteString(content)
		b.WriteString("\n\n")
	}
	return b.String()
}

func roleLabel(role types.Role) string {
	switch role {
	case types.RoleAssistant:
		return "Assistant"
	case types.RoleSystem:
		return "System"
	case types.RoleTool:
		return "Tool"
	default:
		return "User"
	}
}

// messageText extracts readable text content from a message.
func messageText(msg types.Message) string {
	var parts []string

	for _, part := range msg.Content {
		switch p := part.(type) {
		case types.TextPart:
			if p.Text != "" {
				parts = append(parts, p.Text)
			}
		case types.ImagePart:
			parts = append(parts, "[Image]")
		case types.ToolInvocationPart:
			parts = append(parts, fmt.Sprintf("[Tool: %s, Input: %s]", p.Name, string(p.Input)))
			if p.Output != "" {
				// Include tool results (abbreviated if very long)
				result := p.Output
				if len(result) > maxToolOutput {
					result = result[:maxToolOutput-3] + "..."
				}
				label := "Tool Result"
				if p.IsError {
					label = "Tool Error"
				}
				parts = append(parts, fmt.Sprintf("[%s for %s: %s]", label, p.Name, result))
			}
		}
	}

	return strings.Join(parts, "\n")
}
