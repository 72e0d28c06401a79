package utils

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	pkgerrors "github.com/engramdb/engram/pkg/errors"
)

var validate = validator.New()

// ValidateStruct checks a request DTO against its validation tags and folds
// every failure into a single Validation error, with one detail entry per
// offending field.
func ValidateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	fieldErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return pkgerrors.NewValidationError(err.Error())
	}

	details := make(map[string]interface{}, len(fieldErrors))
	messages := make([]string, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		message := fieldMessage(fe)
		details[strings.ToLower(fe.Field())] = message
		messages = append(messages, message)
	}
	return pkgerrors.NewValidationError(strings.Join(messages, "; ")).WithDetails(details)
}

func fieldMessage(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())

	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s is below the minimum of %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s exceeds the maximum of %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", field, fe.Param())
	case "uuid":
		return field + " must be a valid id"
	case "gte", "lte":
		return fmt.Sprintf("%s is out of range (%s %s)", field, fe.Tag(), fe.Param())
	default:
		return field + " is invalid"
	}
}
