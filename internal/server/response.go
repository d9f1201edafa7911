package server

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	StatusOK    = "OK"
	StatusError = "Error"
)

// Response общий конверт JSON ответов API
type Response struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Code   string `json:"code,omitempty"`
}

func OK() Response {
	return Response{Status: StatusOK}
}

func Error(msg string) Response {
	return Response{Status: StatusError, Error: msg}
}

// ErrorWithCode ответ с кодом BotError, чтобы клиент мог различать ошибки
func ErrorWithCode(code, msg string) Response {
	return Response{Status: StatusError, Error: msg, Code: code}
}

// ValidationError собирает ошибки валидатора в одну строку
func ValidationError(errs validator.ValidationErrors) Response {
	var msgs []string

	for _, err := range errs {
		switch err.ActualTag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("field %s is a required field", err.Field()))
		case "datetime":
			msgs = append(msgs, fmt.Sprintf("field %s must be a date in format %s", err.Field(), err.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("field %s is not valid", err.Field()))
		}
	}

	return Response{
		Status: StatusError,
		Error:  strings.Join(msgs, ", "),
	}
}
