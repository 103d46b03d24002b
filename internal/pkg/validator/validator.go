package validator

import (
	"regexp"

	"github.com/Masterminds/semver/v3"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/gofiber/fiber/v2"

	"github.com/shiftcal/ota-server/internal/pkg/errs"
)

var (
	slugRegexp = regexp.MustCompile("^[a-zA-Z0-9_-]+$")
)

var (
	uni   = ut.New(en.New())
	trans ut.Translator
)

func init() {
	trans, _ = uni.GetTranslator("en")
	en_translations.RegisterDefaultTranslations(Validate, trans)

	Validate.RegisterTranslation("slug", trans, func(ut ut.Translator) error {
		return ut.Add("slug", "{0} must be alphanumeric, underscore, or hyphen", true)
	}, func(ut ut.Translator, fe validator.FieldError) string {
		t, _ := ut.T("slug", fe.Field())
		return t
	})

	Validate.RegisterTranslation("semverish", trans, func(ut ut.Translator) error {
		return ut.Add("semverish", "{0} must be a semantic version", true)
	}, func(ut ut.Translator, fe validator.FieldError) string {
		t, _ := ut.T("semverish", fe.Field())
		return t
	})
}

var Validate = New()

func New() *validator.Validate {
	validate := validator.New()

	validate.RegisterValidation("slug", slug)
	validate.RegisterValidation("semverish", semverish)

	return validate
}

func slug(fl validator.FieldLevel) bool {
	val := fl.Field().String()
	return slugRegexp.MatchString(val)
}

// semverish accepts loose semantic versions ("1.2", "v1.2.3").
func semverish(fl validator.FieldLevel) bool {
	_, err := semver.NewVersion(fl.Field().String())
	return err == nil
}

type ValidationError struct {
	Field     string `json:"field"`
	Violation string `json:"violation"`
	Message   string `json:"message"`
}

func convertValidationErrors(ves validator.ValidationErrors) []*ValidationError {
	errors := make([]*ValidationError, 0, len(ves))
	for _, fe := range ves {
		errors = append(errors, &ValidationError{
			Field:     fe.Field(),
			Violation: fe.Tag(),
			Message:   fe.Translate(trans),
		})
	}
	return errors
}

// ValidateStruct checks dest and converts violations into the business
// error shape the central handler error mapper understands.
func ValidateStruct(dest any) error {
	if err := Validate.Struct(dest); err != nil {
		ves, ok := err.(validator.ValidationErrors)
		if !ok {
			panic(err)
		}
		return errs.ErrInvalidParams.WithDetails(fiber.Map{
			"violations": convertValidationErrors(ves),
		})
	}
	return nil
}
