package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/web-runner/internal/browser"
	"yqhp/web-runner/internal/browser/browsertest"
)

// scriptedModel 依次返回预设回复
type scriptedModel struct {
	mu      sync.Mutex
	replies []string
	inputs  [][]*schema.Message
	err     error
}

func (m *scriptedModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = append(m.inputs, input)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.replies) == 0 {
		return schema.AssistantMessage(`{"pass": false, "reason": "no more replies"}`, nil), nil
	}
	r := m.replies[0]
	if len(m.replies) > 1 {
		m.replies = m.replies[1:]
	}
	return schema.AssistantMessage(r, nil), nil
}

func (m *scriptedModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not supported")
}

func pageWithElements() *browsertest.Page {
	p := browsertest.NewPage()
	p.EvaluateFunc = func(script string, args ...any) (any, error) {
		switch {
		case strings.Contains(script, "querySelectorAll(sel)"):
			return []any{
				map[string]any{"id": float64(1), "tag": "input", "placeholder": "用户名", "x": float64(10), "y": float64(20)},
				map[string]any{"id": float64(2), "tag": "button", "text": "登录", "x": float64(10), "y": float64(60)},
			}, nil
		case strings.Contains(script, "innerText"):
			return "欢迎登录 Example", nil
		}
		return nil, nil
	}
	return p
}

func TestAgent_TapUsesLocatedElement(t *testing.T) {
	page := pageWithElements()
	m := &scriptedModel{replies: []string{"```json\n{\"id\": 2, \"reason\": \"登录按钮\"}\n```"}}
	a := New(page, m, Config{}, nil)

	require.NoError(t, a.Tap(context.Background(), "登录按钮"))
	assert.Equal(t, []string{`[data-wr-id="2"]`}, page.Clicks)

	require.Len(t, m.inputs, 1)
	assert.Contains(t, m.inputs[0][1].Content, `[2] <button> "登录"`)
}

func TestAgent_InputAndNotFound(t *testing.T) {
	page := pageWithElements()
	m := &scriptedModel{replies: []string{`{"id": 1}`, `{"id": 0, "reason": "没有注册按钮"}`}}
	a := New(page, m, Config{}, nil)

	require.NoError(t, a.Input(context.Background(), "admin", "用户名输入框"))
	assert.Equal(t, "admin", page.Fills[`[data-wr-id="1"]`])

	err := a.Tap(context.Background(), "注册按钮")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrElementNotFound)
}

func TestAgent_Assert(t *testing.T) {
	m := &scriptedModel{replies: []string{`{"pass": true}`, `{"pass": false, "reason": "标题不符"}`}}
	a := New(pageWithElements(), m, Config{}, nil)

	require.NoError(t, a.Assert(context.Background(), "页面显示欢迎登录"))
	err := a.Assert(context.Background(), "页面显示个人中心")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "标题不符")
}

func TestAgent_WaitForPollsUntilPass(t *testing.T) {
	m := &scriptedModel{replies: []string{`{"pass": false}`, `{"pass": true}`}}
	a := New(pageWithElements(), m, Config{PollInterval: 10 * time.Millisecond}, nil)

	require.NoError(t, a.WaitFor(context.Background(), "加载完成", time.Second))
}

func TestAgent_WaitForTimesOut(t *testing.T) {
	m := &scriptedModel{replies: []string{`{"pass": false, "reason": "仍在加载"}`}}
	a := New(pageWithElements(), m, Config{PollInterval: 10 * time.Millisecond}, nil)

	err := a.WaitFor(context.Background(), "加载完成", 50*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestAgent_QueryParsesJSON(t *testing.T) {
	m := &scriptedModel{replies: []string{"结果如下:\n{\"title\": \"Example\", \"count\": 2}"}}
	a := New(pageWithElements(), m, Config{}, nil)

	v, err := a.Query(context.Background(), "页面标题和按钮数量")
	require.NoError(t, err)
	obj, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Example", obj["title"])
}

func TestAgent_ActExecutesPlan(t *testing.T) {
	page := pageWithElements()
	m := &scriptedModel{replies: []string{`[{"action":"input","id":1,"text":"admin"},{"action":"tap","id":2},{"action":"scroll","direction":"down","distance":200}]`}}
	a := New(page, m, Config{}, nil)

	require.NoError(t, a.Act(context.Background(), "输入用户名后点击登录"))
	assert.Equal(t, "admin", page.Fills[`[data-wr-id="1"]`])
	assert.Equal(t, []string{`[data-wr-id="2"]`}, page.Clicks)
	assert.Equal(t, [][2]float64{{0, 200}}, page.Wheels)
}

func TestAgent_ScrollDefaultsToViewport(t *testing.T) {
	page := pageWithElements()
	a := New(page, &scriptedModel{}, Config{}, nil)

	require.NoError(t, a.Scroll(context.Background(), browser.ScrollOptions{Direction: "up"}, ""))
	assert.Equal(t, [][2]float64{{0, -720}}, page.Wheels)
}

func TestAgent_ModelError(t *testing.T) {
	a := New(pageWithElements(), &scriptedModel{err: errors.New("401")}, Config{}, nil)
	err := a.Assert(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ai model")
}

func TestFactory_RequiresModel(t *testing.T) {
	_, err := Factory(nil, DefaultConfig(), nil)(browsertest.NewPage())
	assert.Error(t, err)
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, extractJSON("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `[1,2]`, extractJSON("plan: [1,2] done"))
	assert.Equal(t, `true`, extractJSON(" true "))
}
