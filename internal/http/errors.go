package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/semindex/internal/collections"
	"github.com/fyrsmithlabs/semindex/internal/commands"
	"github.com/fyrsmithlabs/semindex/internal/embeddings"
	"github.com/fyrsmithlabs/semindex/internal/index"
	"github.com/fyrsmithlabs/semindex/internal/indexer"
	"github.com/fyrsmithlabs/semindex/internal/search"
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he.Code
	case errors.Is(err, index.ErrInvalidRequest),
		errors.Is(err, search.ErrInvalidQuery),
		errors.Is(err, collections.ErrUnknownCollection),
		errors.Is(err, indexer.ErrInvalidItem),
		errors.Is(err, commands.ErrInvalidCommand),
		errors.Is(err, embeddings.ErrEmptyInput):
		return http.StatusBadRequest
	case errors.Is(err, embeddings.ErrEmbeddingFailed),
		errors.Is(err, embeddings.ErrDimensionMismatch):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func errorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := statusFor(err)
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			if m, ok := he.Message.(string); ok {
				msg = m
			} else {
				msg = http.StatusText(code)
			}
		}
		if code >= http.StatusInternalServerError {
			logger.Error("request failed",
				zap.String("path", c.Path()),
				zap.Int("status", code),
				zap.Error(err))
			if code == http.StatusInternalServerError {
				msg = http.StatusText(code)
			}
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(code)
			return
		}
		if err := c.JSON(code, ErrorResponse{Error: msg}); err != nil {
			logger.Warn("failed to write error response", zap.Error(err))
		}
	}
}
