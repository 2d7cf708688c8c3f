package rest

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"yqhp/web-runner/internal/execution"
)

func (s *Server) healthCheck(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Success:   true,
		Message:   "服务运行正常",
		Timestamp: now(),
	})
}

func (s *Server) executeTestcase(c *fiber.Ctx) error {
	var req ExecuteRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}
	if req.Testcase == nil {
		return fail(c, fiber.StatusBadRequest, "缺少测试用例数据")
	}

	id, err := s.orch.Submit(execution.SubmitRequest{
		Testcase:  req.Testcase,
		Mode:      req.Mode,
		Timeouts:  req.TimeoutSettings,
		OnFailure: req.OnFailure,
	})
	if err != nil {
		if errors.Is(err, execution.ErrInvalidTestcase) {
			return fail(c, fiber.StatusBadRequest, err.Error())
		}
		if errors.Is(err, execution.ErrQueueFull) {
			return fail(c, fiber.StatusTooManyRequests, err.Error())
		}
		return err
	}

	s.logger.Info("testcase accepted",
		zap.String("execution_id", id),
		zap.String("testcase", req.Testcase.Name),
		zap.Int("steps", len(req.Testcase.Steps)))

	return c.JSON(ExecutionAck{
		Success:     true,
		ExecutionID: id,
		Message:     "测试用例开始执行",
		Timestamp:   now(),
	})
}

func (s *Server) getExecutionStatus(c *fiber.Ctx) error {
	rec, err := s.orch.Get(c.Params("id"))
	if err != nil {
		return s.notFound(c, err)
	}
	return c.JSON(rec)
}

func (s *Server) getExecutionReport(c *fiber.Ctx) error {
	report, err := s.orch.Report(c.Params("id"))
	if err != nil {
		return s.notFound(c, err)
	}
	return c.JSON(report)
}

func (s *Server) listExecutions(c *fiber.Ctx) error {
	return c.JSON(s.orch.List())
}

func (s *Server) stopExecution(c *fiber.Ctx) error {
	id := c.Params("id")
	stopped, err := s.orch.Stop(id)
	if err != nil {
		return s.notFound(c, err)
	}

	msg := "执行已停止"
	if !stopped {
		msg = "执行已结束"
	}
	return c.JSON(ExecutionAck{
		Success:     true,
		ExecutionID: id,
		Message:     msg,
		Timestamp:   now(),
	})
}

func (s *Server) serverStatus(c *fiber.Ctx) error {
	st := s.orch.Status()
	return c.JSON(StatusResponse{
		Status:             "ready",
		BrowserInitialized: st.BrowserInitialized,
		RunningExecutions:  st.Running,
		TotalExecutions:    st.Total,
		Uptime:             st.Uptime.Seconds(),
		Timestamp:          now(),
	})
}

func (s *Server) notFound(c *fiber.Ctx, err error) error {
	if errors.Is(err, execution.ErrExecutionNotFound) {
		return fail(c, fiber.StatusNotFound, err.Error())
	}
	return err
}
