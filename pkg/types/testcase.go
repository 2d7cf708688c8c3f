// Package types 定义测试执行服务的核心数据结构
package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNoSteps 测试用例没有步骤
var ErrNoSteps = errors.New("测试用例没有步骤")

// Testcase 一个命名的有序步骤序列
type Testcase struct {
	ID          string `json:"id,omitempty" yaml:"id,omitempty"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       Steps  `json:"steps" yaml:"steps"`
}

// Validate 校验测试用例至少包含一个步骤
func (tc *Testcase) Validate() error {
	if tc == nil {
		return errors.New("缺少测试用例数据")
	}
	if len(tc.Steps) == 0 {
		return ErrNoSteps
	}
	return nil
}

// Step 单个原始步骤，保持调用方提交的原样用于报告
type Step struct {
	Type        string         `json:"type,omitempty" yaml:"type,omitempty"`
	Action      string         `json:"action,omitempty" yaml:"action,omitempty"`
	Params      map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
}

// Token 返回步骤类型，type 优先于旧字段 action
func (s Step) Token() string {
	if s.Type != "" {
		return s.Type
	}
	return s.Action
}

// Label 返回用于展示的步骤描述
func (s Step) Label() string {
	if s.Description != "" {
		return s.Description
	}
	return s.Token()
}

// Steps 步骤列表，可以是 JSON 数组，也可以是内容为 JSON 数组的字符串
type Steps []Step

// UnmarshalJSON 兼容字符串与数组两种形式
func (s *Steps) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*s = nil
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("步骤解析失败: %w", err)
		}
		return s.parseString(raw)
	}
	var steps []Step
	if err := json.Unmarshal(data, &steps); err != nil {
		return fmt.Errorf("步骤解析失败: %w", err)
	}
	*s = steps
	return nil
}

// UnmarshalYAML 兼容 YAML 序列与 JSON 字符串
func (s *Steps) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return s.parseString(node.Value)
	}
	var steps []Step
	if err := node.Decode(&steps); err != nil {
		return fmt.Errorf("步骤解析失败: %w", err)
	}
	*s = steps
	return nil
}

func (s *Steps) parseString(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		*s = nil
		return nil
	}
	var steps []Step
	if err := json.Unmarshal([]byte(raw), &steps); err != nil {
		return fmt.Errorf("步骤解析失败: %w", err)
	}
	*s = steps
	return nil
}
