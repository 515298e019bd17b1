package validation

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	appErrors "github.com/unclebandit/leaddrip-backend/internal/errors"
)

var validate = validator.New()

// ValidateStruct checks validate tags on s and returns an
// *appErrors.ValidationError listing every failing field.
func ValidateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	var fields []string
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		param := fe.Param()

		switch fe.Tag() {
		case "required":
			fields = append(fields, field+" is required")
		case "min":
			fields = append(fields, field+" must be at least "+param)
		case "max":
			fields = append(fields, field+" must be at most "+param)
		case "gt":
			fields = append(fields, field+" must be greater than "+param)
		case "gte":
			fields = append(fields, field+" must be at least "+param)
		default:
			fields = append(fields, field+" is invalid")
		}
	}
	return appErrors.NewValidationError(fields...)
}
