package validator

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = newValidate()

func newValidate() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their JSON name so clients see the keys they sent.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})

	// Money travels as decimal.Decimal; numeric tags (gt, gte, lte) compare its
	// float value.
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	_ = v.RegisterValidation("money", validateMoney)

	return v
}

// moneyScale is the number of decimal places a money field may carry.
const moneyScale = 2

// validateMoney rejects amounts with more than two decimal places. The
// original decimal is read from the parent struct because the custom type
// func has already turned the field into a float64.
func validateMoney(fl validator.FieldLevel) bool {
	d, ok := fieldDecimal(fl)
	if !ok {
		return false
	}
	return d.Equal(d.Truncate(moneyScale))
}

func fieldDecimal(fl validator.FieldLevel) (decimal.Decimal, bool) {
	if parent := fl.Parent(); parent.Kind() == reflect.Struct {
		if f := parent.FieldByName(fl.StructFieldName()); f.IsValid() && f.CanInterface() {
			if d, ok := f.Interface().(decimal.Decimal); ok {
				return d, true
			}
		}
	}
	switch fl.Field().Kind() {
	case reflect.Float32, reflect.Float64:
		return decimal.NewFromFloat(fl.Field().Float()), true
	case reflect.String:
		d, err := decimal.NewFromString(fl.Field().String())
		return d, err == nil
	default:
		return decimal.Decimal{}, false
	}
}

// Validate validates a struct using go-playground/validator tags.
func Validate(s any) error {
	if err := validate.Struct(s); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return &ValidationError{Errors: validationErrors}
		}
		return err
	}
	return nil
}

// ValidationError wraps validator.ValidationErrors with client-facing messages.
type ValidationError struct {
	Errors validator.ValidationErrors
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		msgs = append(msgs, fmt.Sprintf("field '%s' %s", err.Field(), msgForTag(err)))
	}
	return strings.Join(msgs, "; ")
}

// Fields returns a map of field names to error messages.
func (e *ValidationError) Fields() map[string]string {
	fields := make(map[string]string, len(e.Errors))
	for _, err := range e.Errors {
		fields[err.Field()] = msgForTag(err)
	}
	return fields
}

func msgForTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at least %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lt":
		return fmt.Sprintf("must be less than %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	case "money":
		return fmt.Sprintf("must have at most %d decimal places", moneyScale)
	case "uuid":
		return "must be a valid UUID"
	case "url":
		return "must be a valid URL"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	default:
		return fmt.Sprintf("failed on '%s' validation", fe.Tag())
	}
}

// DecodeAndValidate decodes a JSON request body into dst and validates it.
// An empty body is reported as a decode error.
func DecodeAndValidate(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("decode request body: empty body")
		}
		return fmt.Errorf("decode request body: %w", err)
	}
	return Validate(dst)
}
