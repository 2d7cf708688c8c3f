package rest

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// setupWebSocketRoutes 注册 /ws 事件流，?executionId= 只订阅单个执行
func (s *Server) setupWebSocketRoutes() {
	if s.hub == nil {
		return
	}

	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	s.app.Get("/ws", websocket.New(s.hub.Serve))
}
