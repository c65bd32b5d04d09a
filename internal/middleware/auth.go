package middleware

import (
	"strings"

	"seawatch/internal/auth"
	"seawatch/internal/errs"
	"seawatch/internal/model"

	"github.com/gin-gonic/gin"
)

const actorKey = "actor"

// Authenticate resolves the request actor from a bearer token. A request
// without an Authorization header continues as anonymous and the service
// decides; a header that does not verify is rejected here.
func Authenticate(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, message := resolveActor(c.GetHeader("Authorization"), jwtSecret)
		if message != "" {
			abortUnauthorized(c, message)
			return
		}
		SetActor(c, actor)
		c.Next()
	}
}

// OptionalAuthenticate is Authenticate for public reads: a header that does
// not verify leaves the caller anonymous instead of failing the request.
func OptionalAuthenticate(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, _ := resolveActor(c.GetHeader("Authorization"), jwtSecret)
		SetActor(c, actor)
		c.Next()
	}
}

// resolveActor returns Anonymous and a client message when header is present
// but unusable.
func resolveActor(header, jwtSecret string) (model.Actor, string) {
	if header == "" {
		return model.Anonymous, ""
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return model.Anonymous, "invalid authorization header format"
	}

	actor, err := auth.Authenticate(strings.TrimSpace(parts[1]), jwtSecret)
	if err != nil {
		return model.Anonymous, "invalid or expired token"
	}
	return actor, ""
}

func SetActor(c *gin.Context, actor model.Actor) {
	c.Set(actorKey, actor)
}

// ActorFrom returns the actor stored by Authenticate, or Anonymous.
func ActorFrom(c *gin.Context) model.Actor {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(model.Actor); ok {
			return actor
		}
	}
	return model.Anonymous
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(errs.ResponseOf(errs.E(errs.KindUnauthorized, "Authenticate", message, nil)))
}
