package quotation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// ErrInvalidEdit signals a field edit that fails validation.
var ErrInvalidEdit = errors.New("quotation: invalid edit")

// FieldEdit is the set of list-visible fields a manager may change.
type FieldEdit struct {
	Client *string          `json:"client,omitempty" validate:"omitnil,min=1,max=200"`
	Amount *decimal.Decimal `json:"amount,omitempty" validate:"omitnil,gte=0"`
}

func (e FieldEdit) Empty() bool { return e.Client == nil && e.Amount == nil }

// Patch converts the edit into a wire patch.
func (e FieldEdit) Patch() Patch {
	return Patch{Client: e.Client, Amount: e.Amount}
}

var validate = sync.OnceValue(func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
})

// Validator exposes the shared validator so other packages validate with the
// same registered types.
func Validator() *validator.Validate { return validate() }

// Normalize trims the client name before validation.
func (e FieldEdit) Normalize() FieldEdit {
	if e.Client != nil {
		trimmed := strings.TrimSpace(*e.Client)
		e.Client = &trimmed
	}
	return e
}

// ValidateEdit checks a normalized field edit.
func ValidateEdit(e FieldEdit) error {
	if e.Empty() {
		return fmt.Errorf("%w: no fields to change", ErrInvalidEdit)
	}
	if err := validate().Struct(e); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describe(fe))
			}
			return fmt.Errorf("%w: %s", ErrInvalidEdit, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidEdit, err)
	}
	return nil
}

// ValidateText rejects blank comment and reply bodies.
func ValidateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: text must not be blank", ErrInvalidEdit)
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "min":
		return fe.Field() + " must not be blank"
	case "max":
		return fe.Field() + " is too long"
	case "gte":
		return fe.Field() + " must not be negative"
	default:
		return fe.Field() + " is invalid"
	}
}
