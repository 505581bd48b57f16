package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"idgate.org/internal/outcome"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// checkStruct validates tagged command fields and reports the first violation.
func checkStruct(v any) outcome.Result[outcome.Unit] {
	err := structValidator().Struct(v)
	if err == nil {
		return outcome.Success()
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fail[outcome.Unit](ErrInvalidArgument, "Invalid request parameters")
	}
	return fail[outcome.Unit](ErrValidation, "%s", describeFieldError(verrs[0]))
}

func describeFieldError(fe validator.FieldError) string {
	field := humanize(fe.Field())
	switch fe.Tag() {
	case "max", "lte":
		if fe.Kind().String() == "string" {
			return fmt.Sprintf("%s is too long", field)
		}
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "gte", "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "required":
		return fmt.Sprintf("%s is required", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// humanize turns FirstName into "First name".
func humanize(field string) string {
	var b strings.Builder
	for i, r := range field {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte(' ')
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
