package rest

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"yqhp/web-runner/internal/browser"
	"yqhp/web-runner/internal/executor"
	"yqhp/web-runner/internal/step"
	"yqhp/web-runner/pkg/types"
)

// 单动作接口直接操作当前浏览器会话，不创建执行记录
func (s *Server) setupActionRoutes() {
	s.app.Post("/goto", s.gotoURL)
	s.app.Post("/ai-input", s.aiInput)
	s.app.Post("/ai-tap", s.aiTap)
	s.app.Post("/ai-query", s.aiQuery)
	s.app.Post("/ai-assert", s.aiAssert)
	s.app.Post("/ai-action", s.aiAction)
	s.app.Post("/ai-wait-for", s.aiWaitFor)
	s.app.Post("/ai-scroll", s.aiScroll)
	s.app.Post("/screenshot", s.screenshot)
	s.app.Get("/page-info", s.pageInfo)
	s.app.Post("/cleanup", s.cleanup)
	s.app.Post("/set-browser-mode", s.setBrowserMode)
}

func (s *Server) session(c *fiber.Ctx, mode string) (*browser.Session, error) {
	sessions := s.orch.Sessions()
	tc := s.orch.Timeouts()
	if mode == "" {
		return sessions.Current(c.UserContext(), tc)
	}
	m, err := types.ParseMode(mode)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return sessions.Acquire(c.UserContext(), m.Headless(), tc)
}

// runAction 以单步方式执行，复用执行器的参数解析与导航降级
func (s *Server) runAction(c *fiber.Ctx, mode string, st types.Step, message string) error {
	sess, err := s.session(c, mode)
	if err != nil {
		if fe, ok := err.(*fiber.Error); ok {
			return fail(c, fe.Code, fe.Message)
		}
		return fail(c, fiber.StatusInternalServerError, "浏览器初始化失败: "+err.Error())
	}

	res := s.actions.Execute(c.UserContext(), &executor.Request{
		Step:     st,
		Session:  sess,
		Index:    0,
		Total:    1,
		Timeouts: s.orch.Timeouts(),
	})
	if !res.IsSuccess() {
		s.logger.Warn("action failed", zap.String("action", res.Action), zap.String("error", res.Error))
		return fail(c, fiber.StatusInternalServerError, res.Error)
	}
	return c.JSON(ActionResponse{
		Success:   true,
		Message:   message,
		Result:    res.Result,
		Timestamp: now(),
	})
}

func badBody(c *fiber.Ctx, err error) error {
	return fail(c, fiber.StatusBadRequest, "请求解析失败: "+err.Error())
}

func (s *Server) gotoURL(c *fiber.Ctx) error {
	var req GotoRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}
	if req.URL == "" {
		return fail(c, fiber.StatusBadRequest, "缺少 url 参数")
	}
	return s.runAction(c, req.Mode, types.Step{
		Type:   step.ActionNavigate,
		Params: map[string]any{"url": req.URL},
	}, "页面导航成功")
}

func (s *Server) aiInput(c *fiber.Ctx) error {
	var req InputRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}
	return s.runAction(c, "", types.Step{
		Type:   step.ActionInput,
		Params: map[string]any{"text": req.Text, "locate": req.Locate},
	}, "输入完成")
}

func (s *Server) aiTap(c *fiber.Ctx) error {
	var req PromptRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}
	return s.runAction(c, "", types.Step{
		Type:   step.ActionTap,
		Params: map[string]any{"locate": req.Prompt},
	}, "点击完成")
}

func (s *Server) aiQuery(c *fiber.Ctx) error {
	var req PromptRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}
	return s.runAction(c, "", types.Step{
		Type:   step.ActionQuery,
		Params: map[string]any{"query": req.Prompt},
	}, "查询完成")
}

func (s *Server) aiAssert(c *fiber.Ctx) error {
	var req PromptRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}
	return s.runAction(c, "", types.Step{
		Type:   step.ActionAssert,
		Params: map[string]any{"condition": req.Prompt},
	}, "断言通过")
}

func (s *Server) aiAction(c *fiber.Ctx) error {
	var req PromptRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}
	return s.runAction(c, "", types.Step{
		Type:   step.ActionAI,
		Params: map[string]any{"instruction": req.Prompt},
	}, "操作完成")
}

func (s *Server) aiWaitFor(c *fiber.Ctx) error {
	var req WaitForRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}
	if req.Timeout <= 0 {
		req.Timeout = types.DefaultTimeoutMs
	}
	return s.runAction(c, "", types.Step{
		Type:   step.ActionWaitFor,
		Params: map[string]any{"condition": req.Prompt, "timeout": req.Timeout},
	}, "等待条件已满足")
}

func (s *Server) aiScroll(c *fiber.Ctx) error {
	var req ScrollRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}
	params := map[string]any{}
	if req.Options.Direction != "" {
		params["direction"] = req.Options.Direction
	}
	if req.Options.Distance > 0 {
		params["distance"] = req.Options.Distance
	}
	if req.Options.ScrollType != "" {
		params["scroll_type"] = req.Options.ScrollType
	}
	if req.Locate != "" {
		params["locate"] = req.Locate
	}
	return s.runAction(c, "", types.Step{Type: step.ActionScroll, Params: params}, "滚动完成")
}

func (s *Server) screenshot(c *fiber.Ctx) error {
	var req ScreenshotRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badBody(c, err)
		}
	}
	path := req.Path
	if path == "" {
		path = filepath.Join(s.config.ScreenshotDir, fmt.Sprintf("screenshot-%d.png", time.Now().UnixMilli()))
	}

	sess, err := s.session(c, "")
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, "浏览器初始化失败: "+err.Error())
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fail(c, fiber.StatusInternalServerError, "创建截图目录失败: "+err.Error())
	}
	if _, err := sess.Page.Screenshot(c.UserContext(), browser.ScreenshotOptions{FullPage: true, Path: path}); err != nil {
		return fail(c, fiber.StatusInternalServerError, "截图失败: "+err.Error())
	}
	return c.JSON(ActionResponse{
		Success:   true,
		Message:   "截图已保存",
		Result:    fiber.Map{"path": path},
		Timestamp: now(),
	})
}

func (s *Server) pageInfo(c *fiber.Ctx) error {
	if !s.orch.Sessions().Initialized() {
		return fail(c, fiber.StatusInternalServerError, browser.ErrNoSession.Error())
	}
	sess, err := s.session(c, "")
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, err.Error())
	}
	title, err := sess.Page.Title(c.UserContext())
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(PageInfoResponse{
		Success:  true,
		URL:      sess.Page.URL(),
		Title:    title,
		Viewport: sess.Page.Viewport(),
	})
}

func (s *Server) cleanup(c *fiber.Ctx) error {
	if err := s.orch.Sessions().Release(c.UserContext()); err != nil {
		return fail(c, fiber.StatusInternalServerError, "资源清理失败: "+err.Error())
	}
	return c.JSON(ActionResponse{Success: true, Message: "资源清理完成", Timestamp: now()})
}

func (s *Server) setBrowserMode(c *fiber.Ctx) error {
	var req ModeRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}
	mode, perr := types.ParseMode(req.Mode)
	if perr != nil || req.Mode == "" {
		return fail(c, fiber.StatusBadRequest, "mode 必须是 headless 或 browser")
	}
	if err := s.orch.Sessions().SetMode(c.UserContext(), mode.Headless(), s.orch.Timeouts()); err != nil {
		return fail(c, fiber.StatusInternalServerError, "切换浏览器模式失败: "+err.Error())
	}
	return c.JSON(ActionResponse{
		Success:   true,
		Message:   fmt.Sprintf("浏览器已切换到 %s 模式", mode),
		Result:    fiber.Map{"mode": mode},
		Timestamp: now(),
	})
}
