package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestSteps_UnmarshalJSON(t *testing.T) {
	t.Run("array", func(t *testing.T) {
		var tc Testcase
		err := json.Unmarshal([]byte(`{"name":"t1","steps":[{"type":"goto","params":{"url":"https://example.com"}}]}`), &tc)
		require.NoError(t, err)
		require.Len(t, tc.Steps, 1)
		assert.Equal(t, "goto", tc.Steps[0].Token())
		assert.Equal(t, "https://example.com", tc.Steps[0].Params["url"])
	})

	t.Run("string", func(t *testing.T) {
		var tc Testcase
		err := json.Unmarshal([]byte(`{"name":"t1","steps":"[{\"action\":\"click\",\"params\":{\"locate\":\"登录按钮\"}}]"}`), &tc)
		require.NoError(t, err)
		require.Len(t, tc.Steps, 1)
		assert.Equal(t, "click", tc.Steps[0].Token())
	})

	t.Run("empty", func(t *testing.T) {
		var tc Testcase
		require.NoError(t, json.Unmarshal([]byte(`{"name":"t2","steps":[]}`), &tc))
		assert.ErrorIs(t, tc.Validate(), ErrNoSteps)
	})

	t.Run("invalid string", func(t *testing.T) {
		var tc Testcase
		err := json.Unmarshal([]byte(`{"name":"t3","steps":"not json"}`), &tc)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "步骤解析失败")
	})
}

func TestSteps_UnmarshalYAML(t *testing.T) {
	src := `
name: login
steps:
  - type: goto
    params:
      url: https://example.com
  - type: aiTap
    params:
      locate: 登录按钮
`
	var tc Testcase
	require.NoError(t, yaml.Unmarshal([]byte(src), &tc))
	require.Len(t, tc.Steps, 2)
	assert.Equal(t, "aiTap", tc.Steps[1].Token())
	assert.NoError(t, tc.Validate())
}

func TestStep_TokenPrefersType(t *testing.T) {
	s := Step{Type: "aiTap", Action: "click"}
	assert.Equal(t, "aiTap", s.Token())
	assert.Equal(t, "aiTap", s.Label())
	s.Description = "点击登录"
	assert.Equal(t, "点击登录", s.Label())
}

func TestTimeoutConfig_WithDefaults(t *testing.T) {
	tc := TimeoutConfig{ActionTimeout: 5000}.WithDefaults(TimeoutConfig{PageTimeout: 10000})
	assert.Equal(t, 10000, tc.PageTimeout)
	assert.Equal(t, 5000, tc.ActionTimeout)
	assert.Equal(t, DefaultTimeoutMs, tc.NavigationTimeout)
}

func TestStepResult_FailAndFinish(t *testing.T) {
	r := NewStepResult(1, Step{Type: "aiTap", Params: map[string]any{"locate": "x"}}, "ai_tap")
	r.Fail(nil)
	r.Finish()
	assert.False(t, r.IsSuccess())
	assert.Equal(t, "step failed", r.Error)
	assert.False(t, r.EndTime.IsZero())
	assert.GreaterOrEqual(t, r.Duration, int64(0))
}

func TestParseModeAndPolicy(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.True(t, m.Headless())

	m, err = ParseMode("browser")
	require.NoError(t, err)
	assert.False(t, m.Headless())

	_, err = ParseMode("kiosk")
	assert.Error(t, err)

	p, err := ParseFailurePolicy("", FailurePolicyContinue)
	require.NoError(t, err)
	assert.Equal(t, FailurePolicyContinue, p)

	_, err = ParseFailurePolicy("retry", FailurePolicyContinue)
	assert.Error(t, err)
}

func TestNewExecutionReport(t *testing.T) {
	rec := &ExecutionRecord{
		ID:         "exec_1",
		TotalSteps: 3,
		Steps: []StepResult{
			{Index: 0, Status: StepStatusSuccess},
			{Index: 1, Status: StepStatusFailed},
		},
	}
	rep := NewExecutionReport(rec)
	assert.Equal(t, 3, rep.Summary.Total)
	assert.Equal(t, 1, rep.Summary.Successful)
	assert.Equal(t, 1, rep.Summary.Failed)
}
