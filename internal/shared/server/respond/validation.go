package respond

import (
	"errors"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// FieldError is one failed binding rule.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

var tagNamesOnce sync.Once

// useWireNames makes validator report json/form names instead of Go field
// names.
func useWireNames() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "form"} {
			name, _, _ := strings.Cut(f.Tag.Get(tag), ",")
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return f.Name
	})
}

// Validation writes a 422 for a binding or query parsing error, listing the
// failed fields when the error comes from the validator.
func Validation(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		Error(c, http.StatusUnprocessableEntity, "validation_error", err.Error(), nil)
		return
	}
	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{Field: fe.Field(), Rule: fe.Tag(), Param: fe.Param()})
	}
	Error(c, http.StatusUnprocessableEntity, "validation_error", "request validation failed", fields)
}

// BindJSON binds the body into dst and writes the 422 itself on failure.
func BindJSON(c *gin.Context, dst any) bool {
	tagNamesOnce.Do(useWireNames)
	if err := c.ShouldBindJSON(dst); err != nil {
		Validation(c, err)
		return false
	}
	return true
}
