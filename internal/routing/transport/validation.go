package transport

import (
	govalidator "github.com/go-playground/validator/v10"

	"leadrouter_backend/internal/routing/domain"
	"leadrouter_backend/platform/validator"
)

// RegisterValidations installs the routing binding tags. Call once at module
// wiring time, before any request binds a routing DTO.
func RegisterValidations(val *validator.Validator) error {
	return val.RegisterValidation("routing_strategy", func(fl govalidator.FieldLevel) bool {
		return domain.ValidStrategy(domain.RoutingStrategy(fl.Field().String()))
	})
}
