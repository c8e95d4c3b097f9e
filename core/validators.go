package core

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/locales/fr"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	fr_translations "github.com/go-playground/validator/v10/translations/fr"
)

var (
	// custom validation tags & texts
	alphaNumUnderTag   = "alphanum_"
	alphaNumUnderText  = "seuls les caractères alphanumériques et les tirets bas sont autorisés"
	alphaNumUnderRegex = regexp.MustCompile(`^[\w\s]+$`)

	familyCodeTag   = "familycode"
	familyCodeText  = "code famille invalide"
	familyCodeRegex = regexp.MustCompile(`^[A-Z0-9]{3,8}-[A-Z0-9]{3,8}$`)

	requiredTag     = "required"
	requiredWithTag = "required_with"
	requiredText    = "ce champ est obligatoire"
)

// NewTranslator returns the french translator used for validation messages.
func NewTranslator() ut.Translator {
	_fr := fr.New()
	uni := ut.New(_fr, _fr)
	translator, _ := uni.GetTranslator("fr")
	return translator
}

// InitValidators instantiates the validator for use.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = fr_translations.RegisterDefaultTranslations(validate, translator)

	// Use JSON tag names for errors instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// register custom validators
	_ = validate.RegisterValidation(alphaNumUnderTag, alphaNumUnderValidation)
	RegisterCustomTranslation(validate, translator, alphaNumUnderTag, alphaNumUnderText)

	_ = validate.RegisterValidation(familyCodeTag, familyCodeValidation)
	RegisterCustomTranslation(validate, translator, familyCodeTag, familyCodeText)

	RegisterCustomTranslation(validate, translator, requiredTag, requiredText, true)
	RegisterCustomTranslation(validate, translator, requiredWithTag, requiredText, true)
}

// RegisterCustomTranslation registers a custom translation for the specified validation tag.
func RegisterCustomTranslation(validate *validator.Validate, translator ut.Translator, tag, text string, override ...bool) {
	var ovrd bool
	if len(override) > 0 {
		ovrd = override[0]
	}
	_ = validate.RegisterTranslation(
		tag, translator,
		func(t ut.Translator) error { return t.Add(tag, text, ovrd) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(tag, fe.Field())
			return s
		},
	)
}

// TranslateValidationErrors converts validator errors into a core.ValidationError carrying translated field messages.
func TranslateValidationErrors(err error, translator ut.Translator) error {
	vErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	flds := make([]FieldError, 0, len(vErrs))
	for _, vErr := range vErrs {
		flds = append(flds, FieldError{Field: vErr.Field(), Error: vErr.Translate(translator)})
	}
	return NewValidationError(nil, flds...)
}

// Custom Global Validators

// alphaNumUnderValidation only allows alphanumeric characters and underscores.
func alphaNumUnderValidation(fl validator.FieldLevel) bool {
	return alphaNumUnderRegex.MatchString(fl.Field().String())
}

// familyCodeValidation checks the shape of a family code, e.g. "DUPONT-4F2A".
func familyCodeValidation(fl validator.FieldLevel) bool {
	return familyCodeRegex.MatchString(fl.Field().String())
}

// IsFamilyCode reports whether code has the shape of a family code.
func IsFamilyCode(code string) bool {
	return familyCodeRegex.MatchString(code)
}

// Validator bundles a validator with the translator of its messages.
type Validator struct {
	Validate   *validator.Validate
	Translator ut.Translator
}

// NewValidator returns a Validator initialized with InitValidators.
func NewValidator() *Validator {
	v := &Validator{Validate: validator.New(), Translator: NewTranslator()}
	InitValidators(v.Validate, v.Translator)
	return v
}

// Struct validates s and turns the failures into a translated ValidationError.
func (v *Validator) Struct(s interface{}) error {
	if err := v.Validate.Struct(s); err != nil {
		return TranslateValidationErrors(err, v.Translator)
	}
	return nil
}
