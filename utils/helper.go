package utils

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ProcessValidationErrors maps each failed field to the tag it failed on.
func ProcessValidationErrors(err error) map[string]string {
	errorResponse := make(map[string]string)

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return errorResponse
	}
	for _, ve := range validationErrors {
		// Drop the root struct name: "NewDiploma.aluno.nome" -> "aluno.nome".
		field := ve.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		errorResponse[field] = ve.Tag()
	}
	return errorResponse
}

// Backoff returns base * 2^(attempt-1), capped at max. attempt starts at 1.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if max > 0 && delay >= max {
			return max
		}
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}
