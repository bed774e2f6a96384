package validation

import (
	"net/url"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// New returns a validator with the asset request rules registered. Field errors
// use JSON field names.
func New() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("asset_url", validateAssetURL)
	_ = v.RegisterValidation("storage_root", validateStorageRoot)

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validateAssetURL(fl validator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	if err != nil {
		return false
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}

	return u.Host != ""
}

func validateStorageRoot(fl validator.FieldLevel) bool {
	root := fl.Field().String()
	return root != "" && filepath.IsAbs(root)
}
