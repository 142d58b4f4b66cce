package checkout

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode"

	"storefront/internal/domain"
)

var ErrInvalidForm = errors.New("invalid checkout form")

// Form is what the shopper fills in at the checkout step.
type Form struct {
	Customer domain.Customer
	Message  string
}

// FieldError names one rejected field.
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string { return e.Field + ": " + e.Reason }

const (
	minTelDigits = 8
	maxTelDigits = 15
)

// Validate checks the form locally. The returned error wraps ErrInvalidForm
// and every FieldError found.
func (f Form) Validate() error {
	var errs []error
	c := f.Customer
	if strings.TrimSpace(c.Name) == "" {
		errs = append(errs, FieldError{Field: "name", Reason: "required"})
	}
	if strings.TrimSpace(c.Email) == "" {
		errs = append(errs, FieldError{Field: "email", Reason: "required"})
	} else if addr, err := mail.ParseAddress(c.Email); err != nil || addr.Address != strings.TrimSpace(c.Email) {
		errs = append(errs, FieldError{Field: "email", Reason: "not a valid address"})
	}
	if n, ok := telDigits(c.Tel); !ok {
		errs = append(errs, FieldError{Field: "tel", Reason: "digits only"})
	} else if n < minTelDigits || n > maxTelDigits {
		errs = append(errs, FieldError{Field: "tel", Reason: fmt.Sprintf("needs %d to %d digits", minTelDigits, maxTelDigits)})
	}
	if strings.TrimSpace(c.Address) == "" {
		errs = append(errs, FieldError{Field: "address", Reason: "required"})
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidForm, errors.Join(errs...))
}

// telDigits counts digits, allowing a leading + and spaces or dashes.
func telDigits(tel string) (int, bool) {
	tel = strings.TrimPrefix(strings.TrimSpace(tel), "+")
	n := 0
	for _, r := range tel {
		switch {
		case unicode.IsDigit(r):
			n++
		case r == ' ' || r == '-':
		default:
			return 0, false
		}
	}
	return n, true
}

// normalized trims the fields before they are sent.
func (f Form) normalized() Form {
	c := f.Customer
	return Form{
		Customer: domain.Customer{
			Name:    strings.TrimSpace(c.Name),
			Email:   strings.TrimSpace(c.Email),
			Tel:     strings.TrimSpace(c.Tel),
			Address: strings.TrimSpace(c.Address),
		},
		Message: strings.TrimSpace(f.Message),
	}
}
