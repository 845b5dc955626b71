package xhttp

import (
	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"
)

type Router = router.Router

func NewRouter() *Router {
	return router.New()
}

// CreateDefaultRouter returns a router with JSON not-found and method-not-allowed handlers.
func CreateDefaultRouter() *Router {
	r := NewRouter()
	r.RedirectTrailingSlash = true
	r.SaveMatchedRoutePath = true
	r.NotFound = NotFoundHandler
	r.MethodNotAllowed = MethodNotAllowedHandler
	r.HandleOPTIONS = false
	r.HandleMethodNotAllowed = true
	return r
}

func NotFoundHandler(ctx *RequestCtx) {
	WriteEnvelope(ctx, fasthttp.StatusNotFound, false, "route not found", nil)
}

func MethodNotAllowedHandler(ctx *RequestCtx) {
	WriteEnvelope(ctx, fasthttp.StatusMethodNotAllowed, false, "method not allowed", nil)
}
