package domain

import (
	"github.com/go-playground/validator/v10"
)

// validate is the package-level validator instance used for struct validation.
// Configured with required struct validation enabled for strict field checking.
var validate = validator.New(validator.WithRequiredStructEnabled())
