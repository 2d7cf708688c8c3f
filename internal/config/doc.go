// Package config 提供测试执行服务的配置管理功能。
// 支持从 YAML 文件、环境变量和命令行参数加载配置，
// 优先级顺序为：默认值 < YAML 文件 < 环境变量 < 命令行参数。
// AI 模型、接口地址、密钥与端口沿用 MIDSCENE_MODEL_NAME、OPENAI_BASE_URL、
// OPENAI_API_KEY、PORT 环境变量。
package config
