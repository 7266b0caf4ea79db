package validation

import (
	"reflect"
	"strings"
	"sync"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/rivo/uniseg"
)

// MaxSubscriberNameLength is measured in user-perceived characters
// (grapheme clusters), not bytes or runes.
const MaxSubscriberNameLength = 256

const forbiddenNameCharacters = `/()"<>\{}`

var (
	shared     *validatorv10.Validate
	sharedOnce sync.Once
)

// New returns a configured validator with the custom rules registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// report fields by their json name
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	if err := v.RegisterValidation("subscriber_name", subscriberNameValidation); err != nil {
		panic(err)
	}

	return v
}

// Shared returns a process-wide validator. validator.Validate caches struct
// metadata and is safe for concurrent use.
func Shared() *validatorv10.Validate {
	sharedOnce.Do(func() {
		shared = New()
	})
	return shared
}

func subscriberNameValidation(fl validatorv10.FieldLevel) bool {
	return IsValidSubscriberName(fl.Field().String())
}

// IsValidSubscriberName rejects names that are blank, longer than
// MaxSubscriberNameLength graphemes, or contain any of / ( ) " < > \ { }.
func IsValidSubscriberName(s string) bool {
	if strings.TrimSpace(s) == "" {
		return false
	}
	if uniseg.GraphemeClusterCount(s) > MaxSubscriberNameLength {
		return false
	}
	return !strings.ContainsAny(s, forbiddenNameCharacters)
}

// IsValidEmail applies the same rule as the "email" tag.
func IsValidEmail(s string) bool {
	return Shared().Var(s, "required,email") == nil
}
