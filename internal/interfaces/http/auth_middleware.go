package http

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/zatca-einvoicing/internal/application/dto"
	"github.com/jhoicas/zatca-einvoicing/pkg/jwt"
)

// Locals keys para UserID y CompanyID en Fiber.
const (
	LocalUserID    = "user_id"
	LocalCompanyID = "company_id"
)

// AuthMiddleware valida el Bearer Token JWT y deja UserID y CompanyID en c.Locals.
// El token lo emite el módulo de usuarios; aquí solo se exige un company_id válido.
func AuthMiddleware(jwtSecret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		scheme, token, ok := strings.Cut(c.Get(fiber.HeaderAuthorization), " ")
		switch {
		case scheme == "":
			return rejectToken(c, "MISSING_TOKEN", "Authorization header requerido")
		case !ok || !strings.EqualFold(scheme, "Bearer"):
			return rejectToken(c, "INVALID_TOKEN", "formato: Bearer <token>")
		}
		token = strings.TrimSpace(token)
		if token == "" {
			return rejectToken(c, "MISSING_TOKEN", "token vacío")
		}
		userID, companyID, err := jwt.Parse(jwtSecret, token)
		if err != nil {
			return rejectToken(c, "INVALID_TOKEN", "token inválido o expirado")
		}
		c.Locals(LocalUserID, userID)
		c.Locals(LocalCompanyID, companyID)
		return c.Next()
	}
}

func rejectToken(c *fiber.Ctx, code, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: code, Message: msg})
}

// GetUserID UserID del token (después de AuthMiddleware).
func GetUserID(c *fiber.Ctx) string { return localString(c, LocalUserID) }

// GetCompanyID tenant del token (después de AuthMiddleware).
func GetCompanyID(c *fiber.Ctx) string { return localString(c, LocalCompanyID) }

func localString(c *fiber.Ctx, key string) string {
	s, _ := c.Locals(key).(string)
	return s
}
