package dialogs

import "context"

// Auto is a non-interactive Dialogs implementation for tests and headless
// operation: every Show resolves immediately with a fixed answer instead
// of blocking on stdin. Grounded on the same need internal/cli's GUI-mode
// log suppression addresses (a caller that must never block waiting for a
// human), generalized into an explicit, inspectable policy instead of a
// silent log-swallow.
type Auto struct {
	// OptionID is returned by every Show call. Empty means "dismiss"
	// (ok=false), matching Future<Option<confirm_payload>>
	// resolving to None.
	OptionID string
	// Value is returned by every ShowValidator call.
	Value string

	// Calls records every request made, for assertions in tests.
	Calls []string
}

// NewAutoConfirm returns an Auto that always answers OptionConfirm.
func NewAutoConfirm() *Auto { return &Auto{OptionID: OptionConfirm} }

// NewAutoDeny returns an Auto that always dismisses (no option chosen).
func NewAutoDeny() *Auto { return &Auto{OptionID: ""} }

func (a *Auto) Show(ctx context.Context, req Request) (string, bool, error) {
	a.Calls = append(a.Calls, req.Title)
	if a.OptionID == "" {
		return "", false, nil
	}
	for _, opt := range req.Options {
		if opt.ID == a.OptionID {
			return opt.ID, true, nil
		}
	}
	return "", false, nil
}

func (a *Auto) ShowValidator(ctx context.Context, req ValidatorRequest) (string, bool, error) {
	a.Calls = append(a.Calls, req.Title)
	if a.Value == "" {
		return "", false, nil
	}
	if req.Validator != nil {
		if err := req.Validator(a.Value); err != nil {
			return "", false, err
		}
	}
	return a.Value, true, nil
}
