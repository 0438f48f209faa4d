package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/die-net/revproxy/internal/apperr"
)

type okResponse struct {
	Success bool `json:"success"`
	Obj     any  `json:"obj"`
}

type errorResponse struct {
	Error string      `json:"error"`
	Code  apperr.Kind `json:"code"`
}

func jsonObj(c *gin.Context, obj any) {
	c.JSON(http.StatusOK, okResponse{Success: true, Obj: obj})
}

func jsonErr(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	c.JSON(statusFor(kind), errorResponse{Error: err.Error(), Code: kind})
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindPortInUse:
		return http.StatusConflict
	case apperr.KindUpstreamConnect:
		return http.StatusBadGateway
	case apperr.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
