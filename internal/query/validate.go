package query

import (
	"regexp"
	"sort"

	"github.com/go-playground/validator/v10"
)

var tzRegexp = regexp.MustCompile(tzPattern)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("pumpkin_timezone", func(fl validator.FieldLevel) bool {
		return tzRegexp.MatchString(fl.Field().String())
	})
	return v
}

type timezoneInput struct {
	TZ string `validate:"required,pumpkin_timezone"`
}

// validTimezone reports whether tz matches the IANA-or-UTC pattern
// spec.md §4.8 requires, via go-playground/validator/v10 rather than an
// ad hoc regexp check.
func validTimezone(tz string) bool {
	return validate.Struct(timezoneInput{TZ: tz}) == nil
}

// sortFailedRequests orders by ascending status code, stable so requests
// sharing a code keep their HAR insertion order.
func sortFailedRequests(rows []FailedRequestRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].StatusCode < rows[j].StatusCode
	})
}
