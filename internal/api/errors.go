package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/render"

	"github.com/rafaeljc/giftrules/internal/giftcart"
)

// writeError renders a structured error with the given status.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Code: code, Message: message})
}

func writeInternal(w http.ResponseWriter, r *http.Request, message string) {
	writeError(w, r, http.StatusInternalServerError, "ERR_INTERNAL", message)
}

// giftStatus maps a gift operation failure kind to its HTTP status.
var giftStatus = map[giftcart.Kind]int{
	giftcart.KindMissingParameters:  http.StatusBadRequest,
	giftcart.KindGiftNotAvailable:   http.StatusUnprocessableEntity,
	giftcart.KindLimitReached:       http.StatusConflict,
	giftcart.KindProductUnavailable: http.StatusUnprocessableEntity,
	giftcart.KindOutOfStock:         http.StatusUnprocessableEntity,
	giftcart.KindQuantityLocked:     http.StatusUnprocessableEntity,
	giftcart.KindNotFound:           http.StatusNotFound,
	giftcart.KindCouldNotAdd:        http.StatusInternalServerError,
	giftcart.KindCouldNotRemove:     http.StatusInternalServerError,
}

// writeGiftError renders a *giftcart.Error as {code, message}. It reports false
// when err is not a gift error, leaving the response untouched.
func writeGiftError(w http.ResponseWriter, r *http.Request, err error) bool {
	var gerr *giftcart.Error
	if !errors.As(err, &gerr) {
		return false
	}

	status, ok := giftStatus[gerr.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	writeError(w, r, status, giftErrorCode(gerr.Kind), gerr.Message())
	return true
}

// giftErrorCode turns a kind into its API code, e.g. ERR_LIMIT_REACHED.
func giftErrorCode(kind giftcart.Kind) string {
	return "ERR_" + strings.ToUpper(string(kind))
}

// giftResult is the label recorded for a gift operation outcome.
func giftResult(err error) string {
	if err == nil {
		return "ok"
	}
	var gerr *giftcart.Error
	if errors.As(err, &gerr) {
		return string(gerr.Kind)
	}
	return "error"
}
