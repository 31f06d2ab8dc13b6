package validators

import (
	"net/http"
	"regexp"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// CustomValidator adapts validator.v10 to echo.Validator.
type CustomValidator struct {
	validator *validator.Validate
}

// NewValidator returns the validator installed as e.Validator. Besides the
// built-in tags it knows "username": letters, digits, '_' and '-'.
func NewValidator() *CustomValidator {
	v := validator.New()
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	return &CustomValidator{validator: v}
}

func (cv *CustomValidator) Validate(i interface{}) error {
	if err := cv.validator.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}
