package domainerrors

import "strings"

// Errors is a list of failures collected by an operation that does not stop
// at the first one.
type Errors struct {
	errs []error
}

// Join collects the non-nil errors. It returns nil when none are left and
// the single error itself when only one is left.
func Join(errs ...error) error {
	var out []error
	for _, err := range errs {
		if err != nil {
			out = append(out, err)
		}
	}

	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	default:
		return &Errors{errs: out}
	}
}

// Error implements the error interface.
func (m *Errors) Error() string {
	parts := make([]string, 0, len(m.errs))
	for _, err := range m.errs {
		parts = append(parts, err.Error())
	}
	return strings.Join(parts, "; ")
}

// Unwrap exposes every collected failure to errors.Is and errors.As.
func (m *Errors) Unwrap() []error {
	return m.errs
}

// Codes returns the codes of the collected failures in order.
func (m *Errors) Codes() []Code {
	codes := make([]Code, 0, len(m.errs))
	for _, err := range m.errs {
		if c := CodeOf(err); c != "" {
			codes = append(codes, c)
		}
	}
	return codes
}
