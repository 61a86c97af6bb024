package middleware

import (
	"collaborative-diagram-editor/auth"
	"collaborative-diagram-editor/internal/errors"
	"collaborative-diagram-editor/internal/user"
	"collaborative-diagram-editor/redis"
	"strings"

	"github.com/gin-gonic/gin"
)

type UserProvider interface {
	GetUserByID(id string) (*user.User, error)
}

type Auth struct {
	UserService UserProvider
}

func (m *Auth) AuthMiddleWare() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		authHeader := ctx.GetHeader("Authorization")
		var token string
		tokenQuery := ctx.Query("token")

		if authHeader != "" {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		} else if tokenQuery != "" {
			// websocket clients can't set headers
			token = tokenQuery
		} else {
			ctx.Error(errors.Unauthorized("Authorization is not found!", nil))
			ctx.Abort()
			return
		}

		parsedToken, err := auth.VerifyJWT(token)
		if err != nil {
			ctx.Error(errors.Unauthorized("Invalid token!", err))
			ctx.Abort()
			return
		}

		userID, err := auth.GetUserID(parsedToken)
		if err != nil {
			ctx.Error(errors.Unauthorized("Invalid token!", err))
			ctx.Abort()
			return
		}

		// check the token wasn't revoked by logout
		if redis.RedisClient != nil {
			exists, err := redis.RedisClient.Exists(redis.Ctx, token).Result()
			if err != nil || exists == 0 {
				ctx.Error(errors.Unauthorized("Token expired or not found", err))
				ctx.Abort()
				return
			}
		}

		u, err := m.UserService.GetUserByID(userID)
		if err != nil {
			ctx.Error(errors.Unauthorized("Invalid User ID!", err))
			ctx.Abort()
			return
		}

		ctx.Set("user_id", u.ID)
		ctx.Set("user_email", u.Email)
		ctx.Set("user_role", u.Role)
		ctx.Set("jwt_token", token)
		ctx.Next()
	}
}
