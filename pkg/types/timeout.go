package types

import "time"

// DefaultTimeoutMs 页面、动作、导航超时的默认值
const DefaultTimeoutMs = 30000

// TimeoutConfig 浏览器会话的超时配置，单位毫秒
type TimeoutConfig struct {
	PageTimeout       int `json:"page_timeout,omitempty" yaml:"page_timeout"`
	ActionTimeout     int `json:"action_timeout,omitempty" yaml:"action_timeout"`
	NavigationTimeout int `json:"navigation_timeout,omitempty" yaml:"navigation_timeout"`
}

// DefaultTimeoutConfig 三项均为 30000ms
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		PageTimeout:       DefaultTimeoutMs,
		ActionTimeout:     DefaultTimeoutMs,
		NavigationTimeout: DefaultTimeoutMs,
	}
}

// WithDefaults 用 def 填充未设置(<=0)的项，def 自身未设置时回落到 30000ms
func (t TimeoutConfig) WithDefaults(def TimeoutConfig) TimeoutConfig {
	pick := func(v, d int) int {
		if v > 0 {
			return v
		}
		if d > 0 {
			return d
		}
		return DefaultTimeoutMs
	}
	return TimeoutConfig{
		PageTimeout:       pick(t.PageTimeout, def.PageTimeout),
		ActionTimeout:     pick(t.ActionTimeout, def.ActionTimeout),
		NavigationTimeout: pick(t.NavigationTimeout, def.NavigationTimeout),
	}
}

// Page 页面超时
func (t TimeoutConfig) Page() time.Duration {
	return time.Duration(t.PageTimeout) * time.Millisecond
}

// Action 动作超时
func (t TimeoutConfig) Action() time.Duration {
	return time.Duration(t.ActionTimeout) * time.Millisecond
}

// Navigation 导航超时
func (t TimeoutConfig) Navigation() time.Duration {
	return time.Duration(t.NavigationTimeout) * time.Millisecond
}
