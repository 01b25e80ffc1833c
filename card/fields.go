package card

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

var (
	ErrInvalidFields = errors.New("invalid card fields")
	ErrRenderFailed  = errors.New("card render failed")
)

// MaxFieldLength bounds every text field, in runes. It matches the max
// rule in the validate tags of Fields.
const MaxFieldLength = 64

// Fields are the user-entered texts printed on the card.
type Fields struct {
	PatientName     string `json:"fullName" validate:"utf8,max=64,singleline"`
	ConsultantName  string `json:"consultantName" validate:"utf8,max=64,singleline"`
	ConsultantPhone string `json:"consultantPhone" validate:"utf8,max=64,singleline"`
	FamilyPhone     string `json:"familyPhone" validate:"utf8,max=64,singleline"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("utf8", func(fl validator.FieldLevel) bool {
		return utf8.ValidString(fl.Field().String())
	})
	_ = v.RegisterValidation("singleline", func(fl validator.FieldLevel) bool {
		return !strings.ContainsAny(fl.Field().String(), "\r\n")
	})
	return v
}

// DefaultFields returns the sample texts the editor starts with.
func DefaultFields() Fields {
	return Fields{
		PatientName:     "Jan Kowalski",
		ConsultantName:  "Anna Nowak",
		ConsultantPhone: "+48 123 456 789",
		FamilyPhone:     "+48 987 654 321",
	}
}

// Normalize trims surrounding whitespace from every field.
func (f Fields) Normalize() Fields {
	return Fields{
		PatientName:     strings.TrimSpace(f.PatientName),
		ConsultantName:  strings.TrimSpace(f.ConsultantName),
		ConsultantPhone: strings.TrimSpace(f.ConsultantPhone),
		FamilyPhone:     strings.TrimSpace(f.FamilyPhone),
	}
}

// Validate checks field lengths, in characters, and that no field spans
// several lines. Empty fields are allowed and leave their slot blank.
func (f Fields) Validate() error {
	err := validate.Struct(f)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidFields, err)
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "utf8":
		return fmt.Errorf("%w: %s is not valid UTF-8", ErrInvalidFields, fe.Field())
	case "max":
		return fmt.Errorf("%w: %s is longer than %s characters", ErrInvalidFields, fe.Field(), fe.Param())
	case "singleline":
		return fmt.Errorf("%w: %s must be a single line", ErrInvalidFields, fe.Field())
	}
	return fmt.Errorf("%w: %s failed %s", ErrInvalidFields, fe.Field(), fe.Tag())
}

// dialURI turns a phone number as typed into a tel: URI, keeping digits and
// a leading plus.
func dialURI(phone string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(phone) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 || b.String() == "+" {
		return ""
	}
	return "tel:" + b.String()
}
