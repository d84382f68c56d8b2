package api

import (
	"errors"
	"net/http"

	"candlefeed/internal/backfill"
	"candlefeed/internal/market"

	"github.com/gin-gonic/gin"
)

// ErrorBody is the structured error payload.
type ErrorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

const kindNotFound = "not_found"

func errorBody(err error) ErrorBody {
	if errors.Is(err, backfill.ErrJobNotFound) {
		return ErrorBody{Error: err.Error(), Kind: kindNotFound}
	}
	return ErrorBody{Error: err.Error(), Kind: market.ErrorKind(err)}
}

func statusFor(kind string) int {
	switch kind {
	case "configuration":
		return http.StatusBadRequest
	case "provider_request":
		return http.StatusBadGateway
	case "insufficient_data":
		return http.StatusUnprocessableEntity
	case kindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	body := errorBody(err)
	c.JSON(statusFor(body.Kind), body)
}

func badRequest(c *gin.Context, field, value, reason string) {
	writeError(c, market.NewConfigurationError(field, value, reason))
}
