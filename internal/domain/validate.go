package domain

import (
	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("capability", func(fl validator.FieldLevel) bool {
		return Capability(fl.Field().String()).Valid()
	})
	_ = validate.RegisterValidation("tasktype", func(fl validator.FieldLevel) bool {
		return TaskType(fl.Field().String()).Valid()
	})
	_ = validate.RegisterValidation("mode", func(fl validator.FieldLevel) bool {
		return ExecutionMode(fl.Field().String()).Valid()
	})
}

// Validator returns the shared validator with the domain tags registered
// (capability, tasktype, mode).
func Validator() *validator.Validate {
	return validate
}

func (d AgentDescriptor) Validate() error {
	return validate.Struct(d)
}
