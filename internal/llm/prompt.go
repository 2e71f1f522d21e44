package llm

import (
	"fmt"
	"sort"
	"strings"
)

const systemPrompt = "You are playing a character in a simulation. " +
	"Stay in character. Respond ONLY with a single JSON object of the form " +
	`{"action_name": "<name>", "parameters": {...}} and nothing else.`

// buildPrompt renders the actor's situation into the user message. Section
// order is fixed so identical requests produce identical prompts.
func buildPrompt(req DecisionRequest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s. %s\n", req.ActorName, req.ActorDescription)
	if req.Status != "" {
		fmt.Fprintf(&b, "Current status: %s\n", req.Status)
	}

	if len(req.Goals) > 0 {
		b.WriteString("\nYour goals:\n")
		for _, g := range req.Goals {
			fmt.Fprintf(&b, "- %s\n", g)
		}
	}

	if len(req.Emotions) > 0 {
		b.WriteString("\nYour emotional state:\n")
		names := make([]string, 0, len(req.Emotions))
		for name := range req.Emotions {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "- %s: %.2f\n", name, req.Emotions[name])
		}
	}

	if len(req.Memory) > 0 {
		b.WriteString("\nRecent memories (oldest first):\n")
		for _, m := range req.Memory {
			fmt.Fprintf(&b, "- %s\n", m)
		}
	}

	if req.Perception != "" {
		fmt.Fprintf(&b, "\nWhat you perceive right now:\n%s\n", req.Perception)
	}

	if len(req.AvailableActions) > 0 {
		fmt.Fprintf(&b, "\nAvailable actions: %s\n", strings.Join(req.AvailableActions, ", "))
	}

	b.WriteString("\nChoose your next action.")
	return b.String()
}
