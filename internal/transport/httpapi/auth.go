package httpapi

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
)

const dashboardRealm = "Quartz Dashboard"

func (s *Server) basicAuth() fiber.Handler {
	return basicauth.New(basicauth.Config{
		Realm: dashboardRealm,
		Authorizer: func(user, pass string) bool {
			wantUser, wantPass := s.creds()
			okUser := subtle.ConstantTimeCompare([]byte(user), []byte(wantUser)) == 1
			okPass := subtle.ConstantTimeCompare([]byte(pass), []byte(wantPass)) == 1
			return okUser && okPass
		},
		Unauthorized: func(c *fiber.Ctx) error {
			c.Set(fiber.HeaderWWWAuthenticate, `Basic realm="`+dashboardRealm+`"`)
			return c.Status(fiber.StatusUnauthorized).SendString("Unauthorized")
		},
	})
}
