// Package apperr define os tipos de erro expostos pela API e o mapeamento para status HTTP.
package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUpstream     = errors.New("upstream unavailable")
)

// Error carrega o tipo (Kind), a mensagem segura para o cliente e a causa original
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

// Is permite errors.Is(err, apperr.ErrConflict) etc.
func (e *Error) Is(target error) bool { return e.Kind == target }

func (e *Error) Unwrap() error { return e.Err }

// E cria um erro de um tipo com mensagem visível ao cliente
func E(kind error, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap anexa a causa; a causa nunca é enviada ao cliente
func Wrap(kind error, err error, msg string) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Status traduz o erro para status HTTP e mensagem pública.
// Erros sem tipo conhecido viram 500 com mensagem genérica.
func Status(err error) (int, string) {
	var ae *Error
	msg := ""
	if errors.As(err, &ae) {
		msg = ae.Msg
	}
	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest, orDefault(msg, "invalid input")
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, orDefault(msg, "not found")
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, orDefault(msg, "conflict")
	case errors.Is(err, ErrUpstream):
		return http.StatusServiceUnavailable, orDefault(msg, "service unavailable")
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
