package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

type fieldError struct {
	Field string `json:"field"`
	Info  string `json:"info"`
}

func respondBindingError(c *gin.Context, err error) {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid form body"})
		return
	}

	details := make([]fieldError, 0, len(validationErrs))
	for _, fe := range validationErrs {
		details = append(details, fieldError{Field: strings.ToLower(fe.Field()), Info: fieldMessage(fe)})
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "details": details})
}

func fieldMessage(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "oneof":
		return field + " must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	default:
		return field + " is invalid"
	}
}
