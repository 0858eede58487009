package httptransport

import (
	"net/http"

	"github.com/iliamunaev/card-settlement/internal/apperr"
)

// kindBadRequest marks malformed requests rejected before any processing.
const kindBadRequest = "bad_request"

// kindToStatus maps error classification kinds
// to HTTP status codes.
var kindToStatus = map[string]int{
	kindBadRequest:                  http.StatusBadRequest,
	apperr.KindValidation:           http.StatusBadRequest,
	apperr.KindDeclined:             http.StatusPaymentRequired,
	apperr.KindGateway:              http.StatusBadGateway,
	apperr.KindPersistence:          http.StatusServiceUnavailable,
	apperr.KindNotFound:             http.StatusNotFound,
	apperr.KindInvalidTransition:    http.StatusConflict,
	apperr.KindDuplicateTransaction: http.StatusConflict,
	apperr.KindConflict:             http.StatusConflict,
	apperr.KindTimeout:              http.StatusGatewayTimeout,
	apperr.KindCanceled:             http.StatusRequestTimeout,
}

// statusForKind returns the HTTP status for an error kind. The empty kind
// means success.
func statusForKind(kind string) int {
	if kind == "" {
		return http.StatusOK
	}
	if s, ok := kindToStatus[kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func httpStatus(err error) int {
	return statusForKind(apperr.Kind(err))
}
