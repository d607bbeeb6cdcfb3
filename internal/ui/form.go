package ui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/kpfarm/farmbook/internal/schema"
)

// ErrAborted is returned when the user cancels a form.
var ErrAborted = errors.New("aborted")

// EditSettings shows an interactive form prefilled with current and returns
// the edited settings. Every field must be non-empty.
func EditSettings(current schema.Settings) (schema.Settings, error) {
	s := current
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Farm name").Value(&s.FarmName).Validate(required("Farm name")),
			huh.NewInput().Title("Manager name").Value(&s.ManagerName).Validate(required("Manager name")),
			huh.NewInput().Title("Location").Value(&s.Location).Validate(required("Location")),
			huh.NewInput().Title("Currency symbol").Value(&s.Currency).Validate(required("Currency symbol")),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return current, ErrAborted
		}
		return current, fmt.Errorf("failed to run settings form: %w", err)
	}
	return s, s.Validate()
}

// Confirm asks a yes/no question; the default answer is no.
func Confirm(question string) (bool, error) {
	var ok bool
	err := huh.NewConfirm().Title(question).Value(&ok).Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return false, nil
	}
	return ok, err
}

func required(field string) func(string) error {
	return func(v string) error {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}
