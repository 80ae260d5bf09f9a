package httpapi

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type validationErrors map[string][]string

func (v validationErrors) add(field, msg string) {
	v[field] = append(v[field], msg)
}

// newValidator reports fields by their JSON names and adds the "future"
// tag: an RFC3339 timestamp after now().
func newValidator(now func() time.Time) *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("future", func(fl validator.FieldLevel) bool {
		t, err := time.Parse(time.RFC3339, fl.Field().String())
		return err == nil && t.After(now())
	})
	return v
}

// collect turns a validator error into the 422 body's field messages.
func collect(errs validationErrors, err error) {
	collectField(errs, "", err)
}

// collectField is collect for a single value checked with Var, which
// carries no field name of its own.
func collectField(errs validationErrors, field string, err error) {
	if err == nil {
		return
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		errs.add("request", "The request is invalid.")
		return
	}
	for _, fe := range verrs {
		name := field
		if name == "" {
			name = fe.Field()
		}
		errs.add(name, fieldMessage(name, fe.Tag(), fe.Param()))
	}
}

func fieldMessage(field, tag, param string) string {
	label := strings.ReplaceAll(field, "_", " ")
	switch tag {
	case "required":
		return fmt.Sprintf("The %s field is required.", label)
	case "max":
		return fmt.Sprintf("The %s field must not be greater than %s characters.", label, param)
	case "min":
		return fmt.Sprintf("The %s field must have at least %s items.", label, param)
	case "http_url", "url":
		return fmt.Sprintf("The %s field must be a valid URL.", label)
	case "datetime":
		return fmt.Sprintf("The %s field must be a valid date.", label)
	case "future":
		return fmt.Sprintf("The %s field must be a date after now.", label)
	default:
		return fmt.Sprintf("The %s field is invalid.", label)
	}
}
