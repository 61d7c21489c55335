// Package dialogs declares the Dialogs capability, consumed by repofiles
// and repofilesdetails for delete/save/conflict confirmations, plus a
// terminal implementation and a non-interactive one for tests and
// headless operation. Grounded on the prompt-switch shape of
// internal/cli/prompt.go, generalized from its fixed file/folder-conflict
// menus to an arbitrary option list.
package dialogs

import "context"

// Option is one choice presented to the user.
type Option struct {
	ID string
	Label string
}

// ValidatorFunc validates free-text input collected by ShowValidator;
// a non-nil error is shown to the user and re-prompts.
type ValidatorFunc func(input string) error

// Request describes a confirmation dialog: a message and a fixed set of
// options, e.g. {"Discard changes?", [{"discard","Discard"},{"cancel","Cancel"}]}.
type Request struct {
	Title string
	Message string
	Options []Option
}

// ValidatorRequest describes a free-text prompt (e.g. "enter a new name").
type ValidatorRequest struct {
	Title string
	Message string
	Default string
	Validator ValidatorFunc
}

// Dialogs is the capability the repofiles/repofilesdetails services use to
// ask the user something and wait for an answer. Show returns the chosen
// Option.ID, or ("", false) if the user dismissed without choosing.
type Dialogs interface {
	Show(ctx context.Context, req Request) (optionID string, ok bool, err error)
	ShowValidator(ctx context.Context, req ValidatorRequest) (value string, ok bool, err error)
}

// Well-known option ids used by the repofiles/repofilesdetails save and
// delete flows.
const (OptionConfirm = "confirm"
	OptionCancel = "cancel"
	OptionDiscard = "discard"
	OptionSaveAsNew = "save_as_new")
