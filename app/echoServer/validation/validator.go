package validation

import (
	"github.com/go-playground/validator/v10"
)

// Validator plugs go-playground/validator into echo's c.Validate.
type Validator struct {
	v *validator.Validate
}

func New() *Validator {
	return &Validator{v: validator.New()}
}

func (v *Validator) Validate(i interface{}) error {
	return v.v.Struct(i)
}

// Engine exposes the underlying validator so controllers share one instance and its struct cache.
func (v *Validator) Engine() *validator.Validate {
	return v.v
}
