package queue

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var ErrInvalidInput = errors.New("invalid input")

// ValidationError reports the first field that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

type inputValidator struct {
	v *validator.Validate
}

func newInputValidator() *inputValidator {
	return &inputValidator{v: validator.New()}
}

func (iv *inputValidator) Validate(i any) error {
	if err := iv.v.Struct(i); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &ValidationError{
				Field:   fe.Field(),
				Message: fmt.Sprintf("failed on '%s' validation", fe.Tag()),
			}
		}
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}
