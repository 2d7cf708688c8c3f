// Package step 将调用方提交的各种步骤写法统一为执行器使用的规范动作
package step

// 规范动作
const (
	ActionNavigate   = "navigate"
	ActionTap        = "ai_tap"
	ActionInput      = "ai_input"
	ActionAssert     = "ai_assert"
	ActionHover      = "ai_hover"
	ActionWaitFor    = "ai_wait_for"
	ActionScroll     = "ai_scroll"
	ActionQuery      = "ai_query"
	ActionAI         = "ai"
	ActionWait       = "wait"
	ActionRefresh    = "refresh"
	ActionBack       = "back"
	ActionScreenshot = "screenshot"
	ActionEvaluateJS = "evaluate_javascript"
)

var aliases = map[string]string{
	"goto":     ActionNavigate,
	"navigate": ActionNavigate,
	"open":     ActionNavigate,
	"visit":    ActionNavigate,

	"aiTap":  ActionTap,
	"ai_tap": ActionTap,
	"click":  ActionTap,
	"tap":    ActionTap,

	"aiInput":  ActionInput,
	"ai_input": ActionInput,
	"type":     ActionInput,
	"input":    ActionInput,
	"fill":     ActionInput,

	"aiAssert":  ActionAssert,
	"ai_assert": ActionAssert,
	"assert":    ActionAssert,

	"aiHover":  ActionHover,
	"ai_hover": ActionHover,
	"hover":    ActionHover,

	"aiWaitFor":   ActionWaitFor,
	"ai_wait_for": ActionWaitFor,
	"waitFor":     ActionWaitFor,
	"wait_for":    ActionWaitFor,

	"aiScroll":  ActionScroll,
	"ai_scroll": ActionScroll,
	"scroll":    ActionScroll,

	"aiQuery":  ActionQuery,
	"ai_query": ActionQuery,
	"query":    ActionQuery,

	"ai":        ActionAI,
	"aiAction":  ActionAI,
	"ai_action": ActionAI,
	"aiAct":     ActionAI,
	"action":    ActionAI,

	"wait":   ActionWait,
	"sleep":  ActionWait,
	"aiWait": ActionWait,
	"delay":  ActionWait,

	"refresh": ActionRefresh,
	"reload":  ActionRefresh,

	"back":    ActionBack,
	"goBack":  ActionBack,
	"go_back": ActionBack,

	"screenshot":      ActionScreenshot,
	"takeScreenshot":  ActionScreenshot,
	"take_screenshot": ActionScreenshot,

	"evaluateJavaScript":  ActionEvaluateJS,
	"evaluate_javascript": ActionEvaluateJS,
	"javascript":          ActionEvaluateJS,
	"js":                  ActionEvaluateJS,
}

// Normalize 返回规范动作名，未识别的写法原样返回
func Normalize(token string) string {
	if action, ok := aliases[token]; ok {
		return action
	}
	return token
}

// IsKnown 判断是否为规范动作
func IsKnown(action string) bool {
	switch action {
	case ActionNavigate, ActionTap, ActionInput, ActionAssert, ActionHover,
		ActionWaitFor, ActionScroll, ActionQuery, ActionAI, ActionWait,
		ActionRefresh, ActionBack, ActionScreenshot, ActionEvaluateJS:
		return true
	}
	return false
}

// Aliases 返回所有可识别写法的副本
func Aliases() map[string]string {
	out := make(map[string]string, len(aliases))
	for k, v := range aliases {
		out[k] = v
	}
	return out
}
