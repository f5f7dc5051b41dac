package agent

import (
	"strings"
)

// reactStep is one parsed model output in the reasoning loop.
type reactStep struct {
	Thought     string
	Action      string
	ActionInput string // raw JSON text as the model wrote it
	FinalAnswer string
}

func (s reactStep) hasAction() bool {
	return s.Action != ""
}

func (s reactStep) hasFinal() bool {
	return s.FinalAnswer != ""
}

// step markers, matched at line starts.
const (
	markerThought     = "Thought:"
	markerAction      = "Action:"
	markerActionInput = "Action Input:"
	markerFinal       = "Final Answer:"
	markerObservation = "Observation:"
)

// parseReactStep parses the Thought / Action / Action Input / Final
// Answer grammar. Models drift, so the parser is forgiving: output
// with no markers at all is treated as a final answer, and a Final
// Answer wins over an Action in the same output. Action Input may span
// lines until the next marker.
func parseReactStep(content string) reactStep {
	var step reactStep
	lines := strings.Split(content, "\n")

	// section tracks which multi-line field is being accumulated.
	section := ""
	var acc []string

	flush := func() {
		text := strings.TrimSpace(strings.Join(acc, "\n"))
		switch section {
		case markerThought:
			step.Thought = text
		case markerActionInput:
			step.ActionInput = text
		case markerFinal:
			step.FinalAnswer = text
		}
		acc = acc[:0]
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, markerFinal):
			flush()
			section = markerFinal
			acc = append(acc, strings.TrimPrefix(trimmed, markerFinal))
		case strings.HasPrefix(trimmed, markerActionInput):
			flush()
			section = markerActionInput
			acc = append(acc, strings.TrimPrefix(trimmed, markerActionInput))
		case strings.HasPrefix(trimmed, markerAction):
			flush()
			section = ""
			step.Action = strings.TrimSpace(strings.TrimPrefix(trimmed, markerAction))
		case strings.HasPrefix(trimmed, markerThought):
			flush()
			section = markerThought
			acc = append(acc, strings.TrimPrefix(trimmed, markerThought))
		case strings.HasPrefix(trimmed, markerObservation):
			// Models sometimes hallucinate observations; ignore them.
			flush()
			section = ""
		default:
			if section != "" {
				acc = append(acc, line)
			}
		}
	}
	flush()

	// No markers anywhere: take the whole output as the answer.
	if !step.hasAction() && !step.hasFinal() && step.Thought == "" {
		step.FinalAnswer = strings.TrimSpace(content)
	}
	return step
}
