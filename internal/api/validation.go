package api

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"moderation-queue/internal/models"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("verdict", func(fl validator.FieldLevel) bool {
		return models.VideoStatus(fl.Field().String()).Terminal()
	})
	return v
}

var fieldMessages = map[string]string{
	"video_id": "video_id must be a positive integer",
	"status":   "status must be 'spam' or 'not spam'",
}

// validateRequest writes a 422 describing the first failing field and reports
// whether req was valid.
func validateRequest(w http.ResponseWriter, req any) bool {
	err := validate.Struct(req)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "invalid request")
		return false
	}
	field := verrs[0].Field()
	msg, ok := fieldMessages[field]
	if !ok {
		msg = "invalid " + field + " (" + verrs[0].Tag() + ")"
	}
	writeError(w, http.StatusUnprocessableEntity, msg)
	return false
}
