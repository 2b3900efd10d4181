package workflow

import (
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/diplomas_backend/models"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// getValidator returns the process validator. Field errors are reported by JSON name
// and a zero models.Date counts as missing.
func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New()
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
			if d, ok := field.Interface().(models.Date); ok {
				return d.String()
			}
			return nil
		}, models.Date{})
		validate = v
	})
	return validate
}
