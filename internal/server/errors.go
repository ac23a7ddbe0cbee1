// internal/server/errors.go
package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"mcp-ckd-meal/internal/ledger"
	"mcp-ckd-meal/internal/nutrition"
	"mcp-ckd-meal/internal/recognition"
)

const (
	codeInvalidParams = "invalid_params"
	codeNotFound      = "not_found"
	codeInternal      = "internal"
)

// toolError pins an explicit status and code on an error.
type toolError struct {
	status int
	code   string
	err    error
}

func newToolError(status int, code string, err error) *toolError {
	return &toolError{status: status, code: code, err: err}
}

func (e *toolError) Error() string { return e.err.Error() }
func (e *toolError) Unwrap() error { return e.err }

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// statusFor maps an error to its HTTP status and taxonomy code.
func statusFor(err error) (int, string) {
	var te *toolError
	if errors.As(err, &te) {
		return te.status, te.code
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		if fe.Code == fiber.StatusNotFound {
			return fe.Code, codeNotFound
		}
		if fe.Code < fiber.StatusInternalServerError {
			return fe.Code, codeInvalidParams
		}
		return fe.Code, codeInternal
	}

	switch {
	case errors.Is(err, nutrition.ErrDishNotFound), errors.Is(err, ledger.ErrMealNotFound):
		return fiber.StatusNotFound, codeNotFound
	case errors.Is(err, ledger.ErrInvalidRecord):
		return fiber.StatusBadRequest, codeInvalidParams
	case errors.Is(err, ledger.ErrStoreUnavailable):
		return fiber.StatusServiceUnavailable, codeInternal
	}

	switch code := recognition.Code(err); code {
	case "model_unavailable", "invalid_image", "no_results", "no_predictions", "superseded":
		return fiber.StatusUnprocessableEntity, code
	case "canceled":
		return fiber.StatusRequestTimeout, code
	}
	return fiber.StatusInternalServerError, codeInternal
}

func errorHandler(c *fiber.Ctx, err error) error {
	status, code := statusFor(err)
	if status >= fiber.StatusInternalServerError {
		log.Errorf("%s %s: %v", c.Method(), c.Path(), err)
	} else {
		log.Debugf("%s %s: %s: %v", c.Method(), c.Path(), code, err)
	}
	return c.Status(status).JSON(errorBody{Error: err.Error(), Code: code})
}
