package xhttp

import (
	"encoding/json"

	"github.com/valyala/fasthttp"
)

// Envelope is the body shape of every API response.
type Envelope struct {
	Status  bool        `json:"status"`
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

func WriteEnvelope(ctx *RequestCtx, code int, ok bool, message string, data interface{}) {
	body, err := json.Marshal(Envelope{Status: ok, Code: code, Message: message, Data: data})
	if err != nil {
		ctx.Error(fasthttp.StatusMessage(fasthttp.StatusInternalServerError), fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json; charset=utf-8")
	ctx.SetStatusCode(code)
	ctx.SetBody(body)
}
