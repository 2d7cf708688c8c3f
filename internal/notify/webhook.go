package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"yqhp/web-runner/internal/config"
	"yqhp/web-runner/pkg/types"
)

// Notifier 执行开始与结束的外部回调
type Notifier interface {
	Name() string
	ExecutionStarted(ctx context.Context, rec *types.ExecutionRecord) error
	ExecutionFinished(ctx context.Context, rec *types.ExecutionRecord) error
}

// Callback 事件名
const (
	CallbackStarted  = "execution.started"
	CallbackFinished = "execution.finished"
)

// CallbackPayload 回调请求体
type CallbackPayload struct {
	Event       string                  `json:"event"`
	ExecutionID string                  `json:"execution_id"`
	Testcase    string                  `json:"testcase"`
	Status      types.ExecutionStatus   `json:"status"`
	Mode        types.Mode              `json:"mode"`
	StartTime   time.Time               `json:"start_time"`
	EndTime     *time.Time              `json:"end_time,omitempty"`
	Summary     *types.ExecutionSummary `json:"summary,omitempty"`
	Error       string                  `json:"error,omitempty"`
	ReportPath  string                  `json:"report_path,omitempty"`
	Timestamp   time.Time               `json:"timestamp"`
}

// Webhook 通过 HTTP 回调通知外部系统
type Webhook struct {
	config     config.WebhookConfig
	httpClient *http.Client
}

// NewWebhook 创建 Webhook 通知器
func NewWebhook(cfg config.WebhookConfig) *Webhook {
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Webhook{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Name 实现 Notifier
func (w *Webhook) Name() string {
	return "webhook"
}

// ExecutionStarted 通知执行开始
func (w *Webhook) ExecutionStarted(ctx context.Context, rec *types.ExecutionRecord) error {
	return w.sendWithRetry(ctx, w.payload(CallbackStarted, rec))
}

// ExecutionFinished 通知最终结果
func (w *Webhook) ExecutionFinished(ctx context.Context, rec *types.ExecutionRecord) error {
	p := w.payload(CallbackFinished, rec)
	report := types.NewExecutionReport(rec)
	p.Summary = &report.Summary
	return w.sendWithRetry(ctx, p)
}

func (w *Webhook) payload(event string, rec *types.ExecutionRecord) *CallbackPayload {
	return &CallbackPayload{
		Event:       event,
		ExecutionID: rec.ID,
		Testcase:    rec.Testcase,
		Status:      rec.Status,
		Mode:        rec.Mode,
		StartTime:   rec.StartTime,
		EndTime:     rec.EndTime,
		Error:       rec.Error,
		ReportPath:  rec.ReportPath,
		Timestamp:   time.Now(),
	}
}

func (w *Webhook) sendWithRetry(ctx context.Context, payload *CallbackPayload) error {
	var lastErr error

	for attempt := 0; attempt <= w.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.config.RetryDelay * time.Duration(attempt)):
			}
		}

		err := w.send(ctx, payload)
		if err == nil {
			return nil
		}
		lastErr = err
	}

	return fmt.Errorf("webhook failed after %d attempts: %w", w.config.RetryAttempts+1, lastErr)
}

func (w *Webhook) send(ctx context.Context, payload *CallbackPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, w.config.Method, w.config.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
