package executor

import (
	"errors"
	"fmt"

	"github.com/ohler55/ojg/jp"

	"yqhp/web-runner/internal/browser"
)

func errorsIsNavTimeout(err error) bool {
	return errors.Is(err, browser.ErrNavigationTimeout)
}

// extract 用 JSONPath 从查询结果中取值，单个匹配直接返回该值
func extract(data any, expr string) (any, error) {
	x, err := jp.ParseString(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid JSONPath %q: %w", expr, err)
	}
	matches := x.Get(data)
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("JSONPath %q matched nothing", expr)
	case 1:
		return matches[0], nil
	default:
		return matches, nil
	}
}
