package config

import (
	"fmt"
	"net"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"yqhp/web-runner/pkg/logger"
	"yqhp/web-runner/pkg/types"
)

// Config represents the complete configuration for the web runner.
type Config struct {
	Server    ServerConfig        `yaml:"server"`
	AI        AIConfig            `yaml:"ai"`
	Browser   BrowserConfig       `yaml:"browser"`
	Timeouts  types.TimeoutConfig `yaml:"timeouts"`
	Execution ExecutionConfig     `yaml:"execution"`
	Report    ReportConfig        `yaml:"report"`
	Notify    NotifyConfig        `yaml:"notify"`
	Log       logger.Config       `yaml:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host          string        `yaml:"host" env:"WR_SERVER_HOST"`
	Port          int           `yaml:"port" env:"PORT"`
	ReadTimeout   time.Duration `yaml:"read_timeout" env:"WR_SERVER_READ_TIMEOUT"`
	WriteTimeout  time.Duration `yaml:"write_timeout" env:"WR_SERVER_WRITE_TIMEOUT"`
	EnableCORS    bool          `yaml:"enable_cors" env:"WR_SERVER_ENABLE_CORS"`
	EnableMetrics bool          `yaml:"enable_metrics" env:"WR_SERVER_ENABLE_METRICS"`
	BodyLimit     int           `yaml:"body_limit"`
}

// Address returns the listen address in host:port form.
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// AIConfig holds the OpenAI-compatible model endpoint used by the agent.
type AIConfig struct {
	Model          string        `yaml:"model" env:"MIDSCENE_MODEL_NAME"`
	BaseURL        string        `yaml:"base_url" env:"OPENAI_BASE_URL"`
	APIKey         string        `yaml:"api_key" env:"OPENAI_API_KEY"`
	Temperature    float32       `yaml:"temperature"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"WR_AI_REQUEST_TIMEOUT"`
	MaxElements    int           `yaml:"max_elements"`
	MaxTextLength  int           `yaml:"max_text_length"`
}

// BrowserConfig holds browser launch and per-run capture settings.
type BrowserConfig struct {
	DefaultMode        string        `yaml:"default_mode" env:"WR_BROWSER_MODE"`
	ViewportWidth      int           `yaml:"viewport_width"`
	ViewportHeight     int           `yaml:"viewport_height"`
	Args               []string      `yaml:"args" env:"WR_BROWSER_ARGS"`
	ScreenshotDir      string        `yaml:"screenshot_dir" env:"WR_SCREENSHOT_DIR"`
	ScreenshotEachStep bool          `yaml:"screenshot_each_step" env:"WR_SCREENSHOT_EACH_STEP"`
	StepInterval       time.Duration `yaml:"step_interval" env:"WR_STEP_INTERVAL"`
}

// ExecutionConfig holds orchestrator settings.
type ExecutionConfig struct {
	MaxRecords    int    `yaml:"max_records" env:"WR_MAX_RECORDS"`
	MaxPending    int    `yaml:"max_pending" env:"WR_MAX_PENDING"`
	FailurePolicy string `yaml:"failure_policy" env:"WR_FAILURE_POLICY"`
}

// ReportConfig holds report correlation settings.
type ReportConfig struct {
	Enabled        bool     `yaml:"enabled" env:"WR_REPORT_ENABLED"`
	Dir            string   `yaml:"dir" env:"WR_REPORT_DIR"`
	StripSelectors []string `yaml:"strip_selectors"`
}

// NotifyConfig holds external notification sinks.
type NotifyConfig struct {
	Webhook WebhookConfig `yaml:"webhook"`
	Redis   RedisConfig   `yaml:"redis"`
}

// WebhookConfig holds the HTTP callback settings.
type WebhookConfig struct {
	URL           string            `yaml:"url" env:"WR_WEBHOOK_URL"`
	Method        string            `yaml:"method"`
	Headers       map[string]string `yaml:"headers" env:"WR_WEBHOOK_HEADERS"`
	Timeout       time.Duration     `yaml:"timeout"`
	RetryAttempts int               `yaml:"retry_attempts"`
	RetryDelay    time.Duration     `yaml:"retry_delay"`
}

// RedisConfig holds the Redis pub/sub sink settings.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"WR_REDIS_ADDR"`
	Password string `yaml:"password" env:"WR_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"WR_REDIS_DB"`
	Channel  string `yaml:"channel" env:"WR_REDIS_CHANNEL"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:          "",
			Port:          3001,
			ReadTimeout:   30 * time.Second,
			WriteTimeout:  30 * time.Second,
			EnableCORS:    true,
			EnableMetrics: true,
			BodyLimit:     10 * 1024 * 1024,
		},
		AI: AIConfig{
			Model:          "qwen-vl-max-latest",
			BaseURL:        "https://dashscope.aliyuncs.com/compatible-mode/v1",
			RequestTimeout: 60 * time.Second,
			MaxElements:    300,
			MaxTextLength:  6000,
		},
		Browser: BrowserConfig{
			DefaultMode:        string(types.ModeHeadless),
			ViewportWidth:      1280,
			ViewportHeight:     720,
			Args:               []string{"--no-sandbox", "--disable-setuid-sandbox"},
			ScreenshotDir:      "screenshots",
			ScreenshotEachStep: true,
			StepInterval:       500 * time.Millisecond,
		},
		Timeouts: types.DefaultTimeoutConfig(),
		Execution: ExecutionConfig{
			MaxRecords:    50,
			MaxPending:    10,
			FailurePolicy: string(types.FailurePolicyContinue),
		},
		Report: ReportConfig{
			Enabled: true,
			Dir:     "midscene_run/report",
			StripSelectors: []string{
				".summary", ".metrics",
				"[data-section=summary]", "[data-section=metrics]",
			},
		},
		Notify: NotifyConfig{
			Webhook: WebhookConfig{
				Method:        "POST",
				Headers:       map[string]string{},
				Timeout:       10 * time.Second,
				RetryAttempts: 3,
				RetryDelay:    time.Second,
			},
			Redis: RedisConfig{
				Channel: "web-runner:events",
			},
		},
		Log: logger.DefaultConfig(),
	}
}

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	cmdArgs    map[string]string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		cmdArgs: make(map[string]string),
	}
}

// WithConfigPath sets the path to the YAML configuration file.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithCmdArgs sets command-line arguments for configuration override.
func (l *Loader) WithCmdArgs(args map[string]string) *Loader {
	l.cmdArgs = args
	return l
}

// Load loads configuration from all sources with proper precedence:
// defaults < YAML file < environment variables < command-line flags
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("从文件加载配置失败: %w", err)
		}
	}

	if err := applyEnvToStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("应用环境变量覆盖失败: %w", err)
	}

	for key, value := range l.cmdArgs {
		if err := setConfigValue(cfg, key, value); err != nil {
			return nil, fmt.Errorf("设置配置值 %s 失败: %w", key, err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("读取配置文件失败: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("解析配置文件失败: %w", err)
	}
	return nil
}

// applyEnvToStruct recursively applies environment variables to struct fields.
func applyEnvToStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if field.Kind() == reflect.Struct {
			if err := applyEnvToStruct(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}
		envValue, ok := os.LookupEnv(envTag)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("从环境变量 %s 设置字段 %s 失败: %w", envTag, fieldType.Name, err)
		}
	}
	return nil
}

// setConfigValue sets a configuration value by dot-notation path, matching
// either the yaml tag or the Go field name of each segment.
func setConfigValue(cfg *Config, path, value string) error {
	parts := strings.Split(path, ".")
	v := reflect.ValueOf(cfg).Elem()

	for i, part := range parts {
		field, ok := lookupField(v, part)
		if !ok {
			return fmt.Errorf("未知的配置路径: %s", path)
		}

		if i == len(parts)-1 {
			return setFieldValue(field, value)
		}
		if field.Kind() != reflect.Struct {
			return fmt.Errorf("期望 %s 是结构体，实际是 %s", part, field.Kind())
		}
		v = field
	}
	return nil
}

func lookupField(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	plain := strings.ReplaceAll(name, "_", "")
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := strings.Split(f.Tag.Get("yaml"), ",")[0]
		if tag == name || strings.EqualFold(f.Name, plain) {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// setFieldValue sets a reflect.Value from a string value.
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return fmt.Errorf("无法设置字段")
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("无效的时间格式: %w", err)
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("无效的整数: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("无效的浮点数: %w", err)
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("无效的布尔值: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("不支持的切片类型: %s", field.Type().Elem().Kind())
		}
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		field.Set(reflect.ValueOf(parts))

	case reflect.Map:
		if field.Type().Key().Kind() != reflect.String || field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("不支持的 map 类型")
		}
		m := make(map[string]string)
		for _, pair := range strings.Split(value, ",") {
			kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
			if len(kv) == 2 {
				m[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
			}
		}
		field.Set(reflect.ValueOf(m))

	default:
		return fmt.Errorf("不支持的字段类型: %s", field.Kind())
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file path.
func LoadFromFile(path string) (*Config, error) {
	return NewLoader().WithConfigPath(path).Load()
}

// Serialize serializes the configuration to YAML bytes.
func (c *Config) Serialize() ([]byte, error) {
	return yaml.Marshal(c)
}
