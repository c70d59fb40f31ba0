package api

import (
	"context"
	"errors"
	"net/http"

	"cloudstore/internal/fetch"
	"cloudstore/internal/relay"
	"cloudstore/internal/service"
	"cloudstore/internal/storage"
)

// statusFor 把领域错误映射为 HTTP 状态码，code 为上游返回的厂商错误码（若有）。
func statusFor(err error) (status int, code string) {
	var se *fetch.StatusError
	switch {
	case errors.Is(err, storage.ErrInvalidKey), errors.Is(err, storage.ErrInvalidOptions):
		return http.StatusBadRequest, ""
	case errors.Is(err, storage.ErrLengthRequired):
		return http.StatusLengthRequired, ""
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, ""
	case errors.Is(err, relay.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, ""
	case errors.Is(err, relay.ErrTimedOut):
		return http.StatusGatewayTimeout, ""
	case errors.Is(err, relay.ErrAborted), errors.Is(err, context.Canceled):
		// 客户端中途断开
		return http.StatusBadRequest, ""
	case errors.As(err, &se):
		return http.StatusBadGateway, se.Code()
	case errors.Is(err, relay.ErrTransport), errors.Is(err, fetch.ErrUnsupportedContentType):
		return http.StatusBadGateway, ""
	case errors.Is(err, service.ErrLedgerDisabled):
		return http.StatusNotImplemented, ""
	default:
		return http.StatusInternalServerError, ""
	}
}
