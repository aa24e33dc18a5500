package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/http/middleware"
)

// Error is what endpoint handlers return instead of writing the response.
type Error struct {
	Code    int
	Message string
	// Extra fields merged into the JSON body.
	Extra gin.H
}

func (e *Error) body() gin.H {
	h := gin.H{"error": e.Message}
	for k, v := range e.Extra {
		h[k] = v
	}
	return h
}

func BadRequest(msg string) *Error   { return &Error{Code: http.StatusBadRequest, Message: msg} }
func NotFound(msg string) *Error     { return &Error{Code: http.StatusNotFound, Message: msg} }
func Unauthorized(msg string) *Error { return &Error{Code: http.StatusUnauthorized, Message: msg} }
func Internal(msg string) *Error     { return &Error{Code: http.StatusInternalServerError, Message: msg} }

// Response lets a handler pick a status other than 200.
type Response struct {
	Code int
	Body any
}

func Accepted(body any) Response { return Response{Code: http.StatusAccepted, Body: body} }

type HandlerFuncWithAuth func(ctx *gin.Context, operator string) (any, *Error)
type HandlerFunc func(ctx *gin.Context) (any, *Error)

func ResolveEndpointWithAuth(h HandlerFuncWithAuth) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		operator, ok := middleware.GetOperator(ctx)
		if !ok {
			ctx.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		write(ctx, func() (any, *Error) { return h(ctx, operator) })
	}
}

func ResolveEndpoint(h HandlerFunc) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		write(ctx, func() (any, *Error) { return h(ctx) })
	}
}

func write(ctx *gin.Context, h func() (any, *Error)) {
	result, apiErr := h()
	if apiErr != nil {
		ctx.JSON(apiErr.Code, apiErr.body())
		return
	}
	if r, ok := result.(Response); ok {
		ctx.JSON(r.Code, r.Body)
		return
	}
	ctx.JSON(http.StatusOK, result)
}
