package httpapi

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const userIDKey = "user_id"

// RequireOwner authenticates the caller from an HS256 bearer token whose
// subject is the numeric user id. Tokens are issued by the auth service.
func RequireOwner(secret []byte) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw, ok := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
		if !ok || raw == "" || len(secret) == 0 {
			return message(c, fiber.StatusUnauthorized, "Unauthenticated")
		}

		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			return message(c, fiber.StatusUnauthorized, "Unauthenticated")
		}

		userID, err := strconv.ParseUint(claims.Subject, 10, 64)
		if err != nil || userID == 0 {
			return message(c, fiber.StatusUnauthorized, "Unauthenticated")
		}

		c.Locals(userIDKey, userID)
		return c.Next()
	}
}

func currentUser(c *fiber.Ctx) uint64 {
	id, _ := c.Locals(userIDKey).(uint64)
	return id
}
