package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RedisConfig 定义了 Redis 数据库的连接配置。
// Redis 同时承载任务存储和查询结果缓存。
type RedisConfig struct {
	Address  string `yaml:"address"`  // Redis 服务器地址 (例如: "localhost:6379")
	Password string `yaml:"password"` // Redis 密码
	DB       int    `yaml:"db"`       // Redis 数据库编号
}

// KafkaConfig 定义了 Kafka 消息队列的连接配置。
// Enabled 为 false 时，任务提交退化为进程内 goroutine 派发。
type KafkaConfig struct {
	Enabled    bool     `yaml:"enabled"`    // 是否启用 Kafka 任务管道
	Brokers    []string `yaml:"brokers"`    // Kafka Broker 地址列表
	TasksTopic string   `yaml:"tasksTopic"` // 诊断任务主题
	GroupID    string   `yaml:"groupID"`    // 消费者组 ID
}

// DatabaseConfigs 包含所有外部存储的配置。
type DatabaseConfigs struct {
	Redis RedisConfig `yaml:"redis"` // Redis 配置
	Kafka KafkaConfig `yaml:"kafka"` // Kafka 配置
}

// KeycloakConfig 定义了 M2M 客户端凭证交换的配置。
type KeycloakConfig struct {
	TokenURL       string `yaml:"tokenURL"`       // 身份提供者的 token 端点
	ClientID       string `yaml:"clientID"`       // M2M 客户端 ID
	ClientSecret   string `yaml:"clientSecret"`   // M2M 客户端 Secret
	TimeoutSeconds int    `yaml:"timeoutSeconds"` // token 请求超时（秒）
}

// AuthConfig 用于配置入站校验和出站 M2M 认证。
type AuthConfig struct {
	JwtSecret string         `yaml:"jwtSecret"` // 入站 JWT 校验密钥，为空时跳过校验
	Keycloak  KeycloakConfig `yaml:"keycloak"`  // 出站 M2M 凭证配置
}

// PrometheusConfig 定义了指标后端的连接配置。
type PrometheusConfig struct {
	BaseURL        string `yaml:"baseURL"`        // Prometheus 服务地址
	TimeoutSeconds int    `yaml:"timeoutSeconds"` // 单次查询超时（秒）
}

// LokiConfig 定义了日志后端的连接配置。
type LokiConfig struct {
	BaseURL          string `yaml:"baseURL"`          // Loki 服务地址
	TimeoutSeconds   int    `yaml:"timeoutSeconds"`   // 单次查询超时（秒）
	DefaultLimit     int    `yaml:"defaultLimit"`     // 默认返回的日志行数
	TimeRangeMinutes int    `yaml:"timeRangeMinutes"` // 默认查询时间范围（分钟）
}

// ControlPlaneConfig 定义了平台 API 的连接配置。
type ControlPlaneConfig struct {
	BaseURL        string `yaml:"baseURL"`        // Control Plane API 地址
	TimeoutSeconds int    `yaml:"timeoutSeconds"` // 单次请求超时（秒）
	PageSize       int    `yaml:"pageSize"`       // 分页请求的每页条数
}

// BackendConfigs 包含所有只读遥测后端的配置。
type BackendConfigs struct {
	Prometheus   PrometheusConfig   `yaml:"prometheus"`   // 指标后端
	Loki         LokiConfig         `yaml:"loki"`         // 日志后端
	ControlPlane ControlPlaneConfig `yaml:"controlPlane"` // 平台 API
}

// ThresholdConfig 定义了聚合器使用的饱和度阈值（百分比）。
type ThresholdConfig struct {
	CPUPercent    float64 `yaml:"cpuPercent"`    // CPU 饱和度阈值, 默认 80
	MemoryPercent float64 `yaml:"memoryPercent"` // 内存饱和度阈值, 默认 90
}

// ConfidenceConfig 定义了信心分数策略。占位策略而非学习得分，
// 因此保持可配置。
type ConfidenceConfig struct {
	Baseline     float64 `yaml:"baseline"`     // 未产生发现时的分数, 默认 0.5
	WithFindings float64 `yaml:"withFindings"` // 产生至少一条发现时的分数, 默认 0.8
}

// WorkflowConfig 定义了诊断工作流的运行参数。
type WorkflowConfig struct {
	DiagnosisTimeoutSeconds int              `yaml:"diagnosisTimeoutSeconds"` // 单个工具调用的总超时（秒）
	MaxRetries              int              `yaml:"maxRetries"`              // 每个工具调用的最大重试次数
	RetryBaseDelayMS        int              `yaml:"retryBaseDelayMS"`        // 指数退避的基础延迟（毫秒）
	TaskRetentionMinutes    int              `yaml:"taskRetentionMinutes"`    // 任务记录的保留窗口（分钟）
	CacheTTLSeconds         int              `yaml:"cacheTTLSeconds"`         // 查询结果缓存的 TTL（秒）
	Thresholds              ThresholdConfig  `yaml:"thresholds"`              // 饱和度阈值
	Confidence              ConfidenceConfig `yaml:"confidence"`              // 信心分数策略
}

// RateLimiterConfig 定义了提交端点的限流配置。
type RateLimiterConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Rate     float64 `yaml:"rate"`     // 每秒生成的令牌数
	Capacity int     `yaml:"capacity"` // 令牌桶容量（突发上限）
}

// CircuitBreakerConfig 定义了出站 HTTP 客户端的熔断器配置。
type CircuitBreakerConfig struct {
	Enabled          bool   `yaml:"enabled"`
	FailureThreshold uint32 `yaml:"failureThreshold"`
	SuccessThreshold uint32 `yaml:"successThreshold"`
	Timeout          string `yaml:"timeout"` // 例如: "30s"
}

// MiddlewareConfig 包含所有中间件的配置。
type MiddlewareConfig struct {
	RateLimiter    RateLimiterConfig    `yaml:"rateLimiter"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker"`
}

// AppInfo 对应 'app' 部分，包含应用程序的基本信息。
type AppInfo struct {
	Name          string `yaml:"name"`          // 应用程序名称
	Version       string `yaml:"version"`       // 应用程序版本
	Environment   string `yaml:"environment"`   // 运行环境 (例如: "development", "production")
	ServerAddress string `yaml:"serverAddress"` // HTTP 服务监听地址 (例如: ":8000")
}

// LoggerConfig 定义了日志记录器的配置。
type LoggerConfig struct {
	Level string `yaml:"level"` // 日志级别 (例如: "info", "debug", "warn", "error")
}

// AppConfig 是整个 YAML 文件的根结构，包含了应用程序的所有配置。
type AppConfig struct {
	App        AppInfo          `yaml:"app"`        // 应用程序信息
	Logger     LoggerConfig     `yaml:"logger"`     // 日志记录器配置
	Auth       AuthConfig       `yaml:"auth"`       // 认证配置
	Databases  DatabaseConfigs  `yaml:"databases"`  // 外部存储配置
	Backends   BackendConfigs   `yaml:"backends"`   // 遥测后端配置
	Workflow   WorkflowConfig   `yaml:"workflow"`   // 工作流配置
	Middleware MiddlewareConfig `yaml:"middleware"` // 中间件配置
}

// DiagnosisTimeout 返回单个工具调用的总超时时间。
func (c *WorkflowConfig) DiagnosisTimeout() time.Duration {
	if c.DiagnosisTimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.DiagnosisTimeoutSeconds) * time.Second
}

// RetryBaseDelay 返回指数退避的基础延迟。
func (c *WorkflowConfig) RetryBaseDelay() time.Duration {
	if c.RetryBaseDelayMS <= 0 {
		return time.Second
	}
	return time.Duration(c.RetryBaseDelayMS) * time.Millisecond
}

// TaskRetention 返回任务记录的保留窗口。
func (c *WorkflowConfig) TaskRetention() time.Duration {
	if c.TaskRetentionMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(c.TaskRetentionMinutes) * time.Minute
}

// CacheTTL 返回查询结果缓存的 TTL。
func (c *WorkflowConfig) CacheTTL() time.Duration {
	if c.CacheTTLSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// LoadConfig 函数从指定路径加载并解析 YAML 配置文件。
//
// 参数:
//
//	path: YAML 配置文件的路径。
//
// 返回值:
//
//	*AppConfig: 解析后的应用程序配置结构体。
//	error: 如果文件读取或解析失败，则返回错误。
func LoadConfig(path string) (*AppConfig, error) {
	// 读取 YAML 文件内容。
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("无法读取 YAML 文件 '%s': %w", path, err)
	}
	var cfg AppConfig
	// 将 YAML 内容解析到 cfg 结构体中。
	if err := yaml.Unmarshal(yamlFile, &cfg); err != nil {
		return nil, fmt.Errorf("解析 YAML 文件失败: %w", err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// applyDefaults 为缺省字段填充合理的默认值。
func applyDefaults(cfg *AppConfig) {
	if cfg.App.ServerAddress == "" {
		cfg.App.ServerAddress = ":8000"
	}
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Backends.Loki.DefaultLimit <= 0 {
		cfg.Backends.Loki.DefaultLimit = 100
	}
	if cfg.Backends.Loki.TimeRangeMinutes <= 0 {
		cfg.Backends.Loki.TimeRangeMinutes = 30
	}
	if cfg.Backends.ControlPlane.PageSize <= 0 {
		cfg.Backends.ControlPlane.PageSize = 50
	}
	if cfg.Workflow.MaxRetries < 0 {
		cfg.Workflow.MaxRetries = 0
	}
	if cfg.Workflow.Thresholds.CPUPercent <= 0 {
		cfg.Workflow.Thresholds.CPUPercent = 80
	}
	if cfg.Workflow.Thresholds.MemoryPercent <= 0 {
		cfg.Workflow.Thresholds.MemoryPercent = 90
	}
	if cfg.Workflow.Confidence.Baseline <= 0 {
		cfg.Workflow.Confidence.Baseline = 0.5
	}
	if cfg.Workflow.Confidence.WithFindings <= 0 {
		cfg.Workflow.Confidence.WithFindings = 0.8
	}
}
