package tui

import (
	"github.com/charmbracelet/huh"
)

// PromptEvent interactively collects an event name and a single
// string payload field via huh, for sending custom/GOTO events from
// `orcd run` outside the flow's own declared transitions.
func PromptEvent() (event string, payload map[string]any, err error) {
	var name, value string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Event name").Value(&name),
			huh.NewInput().Title("Payload value (optional)").Value(&value),
		),
	)
	if err := form.Run(); err != nil {
		return "", nil, err
	}

	if value == "" {
		return name, nil, nil
	}
	return name, map[string]any{"value": value}, nil
}
