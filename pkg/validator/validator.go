package validator

import (
	"errors"
	"net/http"
	"reflect"
	"sort"
	"strings"
	"unicode"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslations "github.com/go-playground/validator/v10/translations/en"
	"github.com/labstack/echo/v4"

	"github.com/onurcolak/unified-inbox/internal/apperrors"
)

// rule is a custom tag together with its English message.
type rule struct {
	tag     string
	fn      validator.Func
	message string
}

var customRules = []rule{
	{tag: "phone", fn: validatePhone, message: "{0} must be a phone number with 10 to 15 digits"},
}

// CustomValidator plugs go-playground/validator into echo and translates
// failures into per-field English messages keyed by json name.
type CustomValidator struct {
	validate   *validator.Validate
	translator ut.Translator
}

func New() *CustomValidator {
	validate := validator.New()
	validate.RegisterTagNameFunc(jsonFieldName)

	english := en.New()
	trans, _ := ut.New(english, english).GetTranslator("en")

	if err := enTranslations.RegisterDefaultTranslations(validate, trans); err != nil {
		panic("validator: default translations: " + err.Error())
	}

	for _, r := range customRules {
		if err := register(validate, trans, r); err != nil {
			panic("validator: " + r.tag + ": " + err.Error())
		}
	}

	return &CustomValidator{validate: validate, translator: trans}
}

func register(validate *validator.Validate, trans ut.Translator, r rule) error {
	if err := validate.RegisterValidation(r.tag, r.fn); err != nil {
		return err
	}

	return validate.RegisterTranslation(r.tag, trans,
		func(t ut.Translator) error {
			return t.Add(r.tag, r.message, true)
		},
		func(t ut.Translator, fe validator.FieldError) string {
			msg, _ := t.T(r.tag, fe.Field())
			return msg
		},
	)
}

func jsonFieldName(field reflect.StructField) string {
	name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return field.Name
	}
	return name
}

// Validate satisfies echo.Validator. Field failures come back as *ValidationError.
func (cv *CustomValidator) Validate(i any) error {
	err := cv.validate.Struct(i)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	details := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fe.Field()] = fe.Translate(cv.translator)
	}
	return &ValidationError{Errors: details}
}

func validatePhone(fl validator.FieldLevel) bool {
	digits := 0
	for _, r := range fl.Field().String() {
		switch {
		case unicode.IsDigit(r):
			digits++
		case strings.ContainsRune("+-() ", r):
		default:
			return false
		}
	}
	return digits >= 10 && digits <= 15
}

type ValidationError struct {
	Errors map[string]string `json:"errors"`
}

// Error lists the failures ordered by field.
func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Errors))
	for field := range e.Errors {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, len(fields))
	for i, field := range fields {
		parts[i] = field + ": " + e.Errors[field]
	}
	return strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == apperrors.ErrValidation
}

type ValidationErrorResponse struct {
	Success bool              `json:"success"`
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

// HandleValidationError answers 422 with field details, or 400 for anything
// the validator could not attribute to a field.
func HandleValidationError(c echo.Context, err error) error {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return c.JSON(http.StatusUnprocessableEntity, ValidationErrorResponse{
			Error:   "Validation failed",
			Details: ve.Errors,
		})
	}

	return c.JSON(http.StatusBadRequest, ValidationErrorResponse{Error: err.Error()})
}
