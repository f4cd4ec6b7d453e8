// =============================================================================
// 📦 AgentCouncil 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("agentcouncil.yaml").
//	    WithEnvPrefix("AGENTCOUNCIL").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/agentcouncil/agent/council"
	"github.com/BaSui01/agentcouncil/agent/orchestrator"
	"github.com/BaSui01/agentcouncil/agent/persistence"
	"github.com/BaSui01/agentcouncil/agent/protocol"
	"github.com/BaSui01/agentcouncil/agent/worker"
	"github.com/BaSui01/agentcouncil/internal/server"
	"github.com/BaSui01/agentcouncil/internal/telemetry"
	"github.com/BaSui01/agentcouncil/llm/ollama"
	"github.com/BaSui01/agentcouncil/types"
	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix 默认环境变量前缀
const DefaultEnvPrefix = "AGENTCOUNCIL"

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 AgentCouncil 的完整配置结构
type Config struct {
	// Orchestrator 任务路由、重试与升级
	Orchestrator orchestrator.Config `yaml:"orchestrator" env:"ORCHESTRATOR"`

	// Agents 启动时注册的 Agent（仅 YAML）
	Agents []AgentConfig `yaml:"agents" env:"-"`

	Pool     worker.PoolConfig       `yaml:"pool" env:"POOL"`
	Council  council.Config          `yaml:"council" env:"COUNCIL"`
	Protocol protocol.Config         `yaml:"protocol" env:"PROTOCOL"`
	Store    persistence.StoreConfig `yaml:"store" env:"STORE"`

	// Ollama 议会使用的模型后端
	Ollama ollama.Config `yaml:"ollama" env:"OLLAMA"`

	// Server 运维 HTTP（/health /status /metrics）
	Server server.Config `yaml:"server" env:"SERVER"`

	Metrics   MetricsConfig    `yaml:"metrics" env:"METRICS"`
	Log       LogConfig        `yaml:"log" env:"LOG"`
	Telemetry telemetry.Config `yaml:"telemetry" env:"TELEMETRY"`
}

// AgentConfig 描述一个启动时注册的 Agent
type AgentConfig struct {
	ID                 string   `yaml:"id"`
	Role               string   `yaml:"role"`
	Model              string   `yaml:"model"`
	Capabilities       []string `yaml:"capabilities"`
	MaxConcurrentTasks int      `yaml:"max_concurrent_tasks"`
	// Pool 为 true 时，发给该 Agent 的任务在 worker 池上执行
	Pool bool `yaml:"pool"`
}

// Info 转换为编排器使用的 AgentInfo
func (a AgentConfig) Info() orchestrator.AgentInfo {
	return orchestrator.AgentInfo{
		ID:                 a.ID,
		Role:               orchestrator.AgentRole(a.Role),
		Model:              a.Model,
		Capabilities:       append([]string(nil), a.Capabilities...),
		MaxConcurrentTasks: a.MaxConcurrentTasks,
	}
}

// MetricsConfig Prometheus 指标配置
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	lookupEnv  func(string) (string, bool)
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix: DefaultEnvPrefix,
		lookupEnv: os.LookupEnv,
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithEnvLookup replaces os.LookupEnv, mostly for tests.
func (l *Loader) WithEnvLookup(fn func(string) (string, bool)) *Loader {
	l.lookupEnv = fn
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量，最后执行 Validate 与自定义验证器
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, err
		}
	}

	if err := l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, types.NewError(types.ErrInvalidConfig, "failed to load config from env").WithCause(err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, types.NewError(types.ErrInvalidConfig, "config validation failed").WithCause(err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置，文件不存在时保留默认值
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return types.Errorf(types.ErrInvalidConfig, "failed to read config file %s", l.configPath).WithCause(err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return types.Errorf(types.ErrInvalidConfig, "failed to parse config file %s", l.configPath).WithCause(err)
	}
	return nil
}

// setFieldsFromEnv 递归设置结构体字段，键名为 PREFIX_SECTION_FIELD
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		envTag := t.Field(i).Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Time{}) {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue, ok := l.lookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// setFieldValue 按字段类型解析字符串
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", field.Type())
		}
		parts := splitList(value)
		out := reflect.MakeSlice(field.Type(), len(parts), len(parts))
		for i, p := range parts {
			out.Index(i).SetString(p)
		}
		field.Set(out)

	case reflect.Map:
		// k=v,k2=v2，目前只有 map[string]float64
		if field.Type().Key().Kind() != reflect.String || field.Type().Elem().Kind() != reflect.Float64 {
			return fmt.Errorf("unsupported map type %s", field.Type())
		}
		out := reflect.MakeMap(field.Type())
		for _, pair := range splitList(value) {
			k, v, ok := strings.Cut(pair, "=")
			if !ok || strings.TrimSpace(k) == "" {
				return fmt.Errorf("invalid map entry %q, want key=value", pair)
			}
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", k, err)
			}
			out.SetMapIndex(reflect.ValueOf(strings.TrimSpace(k)).Convert(field.Type().Key()), reflect.ValueOf(f).Convert(field.Type().Elem()))
		}
		field.Set(out)

	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}

	return nil
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 校验各子配置及它们之间的约束
func (c *Config) Validate() error {
	var errs []error

	check := func(section string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", section, err))
		}
	}

	check("orchestrator", c.Orchestrator.Validate())
	check("pool", c.Pool.Validate())
	check("council", c.Council.Validate())
	check("ollama", c.Ollama.Validate())

	if c.Protocol.MaxLogSize < 0 {
		check("protocol", errors.New("max_log_size must not be negative"))
	}
	if c.Protocol.DefaultWaitTimeout < 0 {
		check("protocol", errors.New("default_wait_timeout must not be negative"))
	}

	if !persistence.ValidMessageStore(c.Store.MessageStore) {
		check("store", fmt.Errorf("unknown message_store %q", c.Store.MessageStore))
	}
	if !persistence.ValidTaskStore(c.Store.TaskStore) {
		check("store", fmt.Errorf("unknown task_store %q", c.Store.TaskStore))
	}
	if c.Store.TaskStore == persistence.StoreTypeSQL {
		switch c.Store.Database.Driver {
		case "postgres", "mysql", "sqlite":
		default:
			check("store", fmt.Errorf("unknown database driver %q", c.Store.Database.Driver))
		}
	}

	check("server", c.Server.Validate())
	check("telemetry", c.Telemetry.Validate())

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
	default:
		check("log", fmt.Errorf("unknown level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "console", "":
	default:
		check("log", fmt.Errorf("unknown format %q", c.Log.Format))
	}

	seen := make(map[string]bool, len(c.Agents))
	supervisors := 0
	for i, a := range c.Agents {
		if a.ID == "" {
			check("agents", fmt.Errorf("agent %d has no id", i))
			continue
		}
		if seen[a.ID] {
			check("agents", fmt.Errorf("duplicate agent id %q", a.ID))
		}
		seen[a.ID] = true
		role := orchestrator.AgentRole(a.Role)
		if !role.IsValid() {
			check("agents", fmt.Errorf("agent %q has unknown role %q", a.ID, a.Role))
		}
		if role == orchestrator.RoleSupervisor {
			supervisors++
		}
		if a.MaxConcurrentTasks < 0 {
			check("agents", fmt.Errorf("agent %q max_concurrent_tasks must not be negative", a.ID))
		}
	}
	if sid := c.Orchestrator.SupervisorID; sid != "" && len(c.Agents) > 0 && !seen[sid] {
		check("agents", fmt.Errorf("supervisor_id %q is not among the configured agents", sid))
	}
	if len(c.Agents) > 0 && supervisors == 0 {
		check("agents", errors.New("at least one supervisor is required"))
	}

	if len(errs) > 0 {
		return types.NewError(types.ErrInvalidConfig, "config validation failed").WithCause(errors.Join(errs...))
	}
	return nil
}
