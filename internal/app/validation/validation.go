// Package validation checks struct-tagged values with go-playground/validator
// and reports failures as VALIDATION_FAILED service errors keyed by JSON
// field name.
package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/atproject/projectone/internal/errors"
)

var tagPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.:-]*$`)

// Validator wraps a configured validator.Validate. It is safe for concurrent use.
type Validator struct {
	validate *validator.Validate
}

var std = New()

// New returns a validator with the custom rules registered.
func New() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(jsonName)
	_ = v.RegisterValidation("item_tag", func(fl validator.FieldLevel) bool {
		return tagPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("json_object", func(fl validator.FieldLevel) bool {
		raw := bytes.TrimSpace(fl.Field().Bytes())
		if len(raw) == 0 {
			return true
		}
		var obj map[string]json.RawMessage
		return raw[0] == '{' && json.Unmarshal(raw, &obj) == nil
	})
	return &Validator{validate: v}
}

// Struct validates s with the shared validator.
func Struct(s interface{}) error {
	return std.Struct(s)
}

// Struct validates s. It returns nil or a *errors.ServiceError with one
// detail per failing field.
func (v *Validator) Struct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperrors.Internal("validation misconfigured", err)
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		name := fieldPath(fe)
		if _, seen := fields[name]; !seen {
			fields[name] = message(fe)
		}
	}
	return apperrors.Validation(fields)
}

// Var validates a single value against rules and reports failures under
// field, the way Struct does for tagged fields.
func Var(field string, value interface{}, rules string) error {
	return std.Var(field, value, rules)
}

func (v *Validator) Var(field string, value interface{}, rules string) error {
	err := v.validate.Var(value, rules)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperrors.Internal("validation misconfigured", err)
	}
	return apperrors.Validation(map[string]string{field: message(verrs[0])})
}

func jsonName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	switch name {
	case "-":
		return ""
	case "":
		return fld.Name
	}
	return name
}

// fieldPath drops the top-level struct name from the namespace so nested
// fields read as "tags[1]" rather than "Item.tags[1]".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func message(fe validator.FieldError) string {
	unit := "characters"
	switch fe.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		unit = "entries"
	}

	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must have at least %s %s", fe.Param(), unit)
	case "max":
		return fmt.Sprintf("must have at most %s %s", fe.Param(), unit)
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "uuid", "uuid4":
		return "must be a UUID"
	case "item_tag":
		return "must contain only lower-case letters, digits, '.', ':' or '-'"
	case "json_object":
		return "must be a JSON object"
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}
