package contextutils

import (
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// IsValidEmail reports whether email passes go-playground/validator's
// email rule. Used by signup and the admin CLI.
func IsValidEmail(email string) bool {
	return validate.Var(email, "email") == nil
}
