package handlers

import (
	"context"

	"github.com/nimasrn/payment-reconciler/internal/model"
	xhttp "github.com/nimasrn/payment-reconciler/pkg/http"
	"github.com/nimasrn/payment-reconciler/pkg/logger"
	"github.com/valyala/fasthttp"
)

const userKey = "user"

type Authenticator interface {
	Authenticate(ctx context.Context, header string) (*model.User, error)
}

// RequireUser rejects requests without a valid bearer token and stores the
// resolved user on the request.
func RequireUser(auth Authenticator, next xhttp.RequestHandler) xhttp.RequestHandler {
	return func(ctx *xhttp.RequestCtx) {
		user, err := auth.Authenticate(ctx, string(ctx.Request.Header.Peek(fasthttp.HeaderAuthorization)))
		if err != nil {
			logger.Debug("bearer authentication failed", "path", string(ctx.Path()), "error", err)
			xhttp.WriteEnvelope(ctx, fasthttp.StatusUnauthorized, false, "unauthorized", nil)
			return
		}
		ctx.SetUserValue(userKey, user)
		next(ctx)
	}
}

func currentUser(ctx *xhttp.RequestCtx) *model.User {
	user, _ := ctx.UserValue(userKey).(*model.User)
	return user
}
