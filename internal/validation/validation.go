// Package validation holds the request payloads of the auth endpoints and
// the ozzo-validation rules that guard them.  Check turns a failed
// validation into the 400 error the HTTP layer reports.
package validation

import (
	"errors"
	"regexp"
	"sort"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"github.com/iliyamo/auth-service/internal/apperr"
	"github.com/iliyamo/auth-service/internal/utils"
)

// Message is the top-level message of every validation failure.
const Message = "Validation failed"

// PasswordTooLong is reported for passwords bcrypt cannot hash.
const PasswordTooLong = "Password must be at most 72 bytes"

var (
	upper   = regexp.MustCompile(`[A-Z]`)
	lower   = regexp.MustCompile(`[a-z]`)
	digit   = regexp.MustCompile(`[0-9]`)
	special = regexp.MustCompile(`[^A-Za-z0-9]`)
)

// PasswordRules is the password policy applied to every new password.
func PasswordRules(field string) []validation.Rule {
	return []validation.Rule{
		validation.Required.Error(field + " is required"),
		validation.RuneLength(8, 0).Error("Password must be at least 8 characters long"),
		maxBytes(utils.MaxPasswordBytes, PasswordTooLong),
		validation.Match(upper).Error("Password must contain at least one uppercase letter"),
		validation.Match(lower).Error("Password must contain at least one lowercase letter"),
		validation.Match(digit).Error("Password must contain at least one number"),
		validation.Match(special).Error("Password must contain at least one special character"),
	}
}

// EmailRules validates an already normalized email address.
func EmailRules() []validation.Rule {
	return []validation.Rule{
		validation.Required.Error("Email is required"),
		is.Email.Error("Please provide a valid email address"),
		validation.RuneLength(0, 255).Error("Email must be less than 255 characters"),
	}
}

// Equals fails unless the value is exactly want.
func Equals(want, msg string) validation.Rule {
	return validation.By(func(value interface{}) error {
		s, _ := value.(string)
		if s != want {
			return errors.New(msg)
		}
		return nil
	})
}

// maxBytes limits the encoded length of a string, which is what bcrypt
// counts, rather than its rune count.
func maxBytes(n int, msg string) validation.Rule {
	return validation.By(func(value interface{}) error {
		s, _ := value.(string)
		if len(s) > n {
			return errors.New(msg)
		}
		return nil
	})
}

// Check validates v and converts field failures into an apperr validation
// error listing every offending field in a stable order.
func Check(v validation.Validatable) error {
	err := v.Validate()
	if err == nil {
		return nil
	}
	var errs validation.Errors
	if !errors.As(err, &errs) {
		var internal validation.InternalError
		if errors.As(err, &internal) {
			return apperr.Internal(err)
		}
		return apperr.Validation(Message, apperr.FieldError{Message: err.Error()})
	}
	fields := make([]string, 0, len(errs))
	for f := range errs {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	out := make([]apperr.FieldError, 0, len(fields))
	for _, f := range fields {
		out = append(out, apperr.FieldError{Field: f, Message: errs[f].Error()})
	}
	return apperr.Validation(Message, out...)
}
