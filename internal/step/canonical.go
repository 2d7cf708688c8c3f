package step

import (
	"errors"
	"math"
	"strings"
	"time"

	"github.com/spf13/cast"

	"yqhp/web-runner/pkg/types"
)

const (
	// DefaultWait wait 步骤未指定时长时的等待时间
	DefaultWait = time.Second
	// MaxDuration 等待时长与超时参数的上限
	MaxDuration = 24 * time.Hour
)

var (
	errMissing    = errors.New("missing")
	errOutOfRange = errors.New("out of range")
)

// Canonical 规范化后的步骤，Raw 保留原始步骤用于报告
type Canonical struct {
	Raw    types.Step
	Action string

	Locate      string
	Text        string
	URL         string
	Condition   string
	Instruction string
	Script      string
	Query       string
	Extract     string
	Variable    string

	Duration time.Duration
	Timeout  time.Duration

	Direction  string
	Distance   int
	ScrollType string

	// Invalid 取值越界的参数名，非空时步骤不执行
	Invalid string
}

// Canonicalize 解析动作与参数别名，不修改原始步骤
func Canonicalize(raw types.Step) Canonical {
	p := raw.Params
	c := Canonical{
		Raw:    raw,
		Action: Normalize(raw.Token()),

		Locate:    firstString(p, "locate", "selector", "element", "prompt"),
		Text:      firstString(p, "text", "value"),
		URL:       firstString(p, "url", "href"),
		Condition: firstString(p, "condition", "assertion", "prompt"),
		Script:    firstString(p, "script", "code", "expression"),
		Query:     firstString(p, "query", "demand", "prompt"),
		Extract:   firstString(p, "extract"),
		Variable:  firstString(p, "variable"),

		Direction:  strings.ToLower(firstString(p, "direction")),
		ScrollType: firstString(p, "scroll_type", "scrollType"),
	}

	c.Instruction = firstString(p, "instruction", "prompt")
	if c.Instruction == "" {
		c.Instruction = raw.Label()
	}

	c.Duration = DefaultWait
	if d, key, err := firstDuration(p, "time", "duration", "ms"); err == nil {
		c.Duration = d
	} else if errors.Is(err, errOutOfRange) {
		c.Invalid = key
	}
	if d, key, err := firstDuration(p, "timeout"); err == nil {
		c.Timeout = d
	} else if errors.Is(err, errOutOfRange) && c.Invalid == "" {
		c.Invalid = key
	}
	if n, key, ok := firstNumber(p, "distance"); ok {
		if math.IsNaN(n) || n < 0 || n > math.MaxInt32 {
			if c.Invalid == "" {
				c.Invalid = key
			}
		} else {
			c.Distance = int(n)
		}
	}
	return c
}

func firstString(params map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := params[k]
		if !ok || v == nil {
			continue
		}
		if str, err := cast.ToStringE(v); err == nil && str != "" {
			return str
		}
	}
	return ""
}

// number 数值或数字字符串，布尔值不算数字
func number(v any) (float64, bool) {
	switch x := v.(type) {
	case nil, bool:
		return 0, false
	case string:
		v = strings.TrimSpace(x)
	}
	n, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// firstNumber 返回第一个可解析的数值及其参数名
func firstNumber(params map[string]any, keys ...string) (float64, string, bool) {
	for _, k := range keys {
		if n, ok := number(params[k]); ok {
			return n, k, true
		}
	}
	return 0, "", false
}

// firstDuration 数值按毫秒解析，字符串也可以是 "2s" 这样的时长。
// 负数、非有限值或超过 MaxDuration 的值返回 errOutOfRange
func firstDuration(params map[string]any, keys ...string) (time.Duration, string, error) {
	for _, k := range keys {
		v, ok := params[k]
		if !ok || v == nil {
			continue
		}
		if n, ok := number(v); ok {
			if math.IsNaN(n) || n < 0 || n > float64(MaxDuration/time.Millisecond) {
				return 0, k, errOutOfRange
			}
			return time.Duration(n * float64(time.Millisecond)), k, nil
		}
		if str, isStr := v.(string); isStr {
			d, err := cast.ToDurationE(strings.TrimSpace(str))
			if err != nil {
				continue
			}
			if d < 0 || d > MaxDuration {
				return 0, k, errOutOfRange
			}
			return d, k, nil
		}
	}
	return 0, "", errMissing
}
