package validation

import (
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var (
	sqlInjectionPattern = regexp.MustCompile(`(?i)(union\s+select|insert\s+into|drop\s+table|delete\s+from|exec\s*\(|<script)`)
	xssPattern          = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)
)

type Config struct {
	MaxTextLength       int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxTextLength == 0 {
		cfg.MaxTextLength = 5000
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == "POST" || c.Method() == "PUT" {
			contentType := c.Get("Content-Type")
			if contentType != "" {
				allowed := false
				for _, allowedType := range cfg.AllowedContentTypes {
					if strings.Contains(contentType, allowedType) {
						allowed = true
						break
					}
				}
				if !allowed {
					return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
						"error": "Unsupported content type",
					})
				}
			}
		}

		path := c.Path()

		if strings.Contains(path, "/api/v1/turn") {
			var req map[string]interface{}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			text, ok := req["text"].(string)
			if !ok || strings.TrimSpace(text) == "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Text is required and must be a string",
				})
			}

			if len(text) > cfg.MaxTextLength {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Text exceeds maximum length",
				})
			}

			if sqlInjectionPattern.MatchString(text) || xssPattern.MatchString(text) {
				cfg.Logger.Warn("Suspicious turn content rejected",
					zap.String("ip", c.IP()),
				)
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid text content",
				})
			}
		}

		if strings.Contains(path, "/api/v1/feedback") && c.Method() == "POST" {
			var req map[string]interface{}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			responseID, ok := req["response_id"].(string)
			if !ok || responseID == "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "response_id is required and must be a string",
				})
			}

			if satisfaction, ok := req["satisfaction"].(float64); ok {
				if satisfaction < 1 || satisfaction > 5 {
					return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
						"error": "satisfaction must be between 1 and 5",
					})
				}
			}

			if relevance, ok := req["relevance"].(float64); ok {
				if relevance < 1 || relevance > 3 {
					return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
						"error": "relevance must be between 1 and 3",
					})
				}
			}
		}

		return c.Next()
	}
}
