package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FieldConfig 定义了 Milvus 集合中字段的配置。
type FieldConfig struct {
	Name         string `yaml:"name"`                // 字段名称
	DataType     string `yaml:"dataType"`            // 字段数据类型 (例如: "Int64", "VarChar", "FloatVector")
	IsPrimaryKey bool   `yaml:"isPrimaryKey"`        // 是否为主键
	IsAutoID     bool   `yaml:"isAutoID"`            // 是否自动生成ID
	Dim          int    `yaml:"dim,omitempty"`       // 向量维度 (仅适用于向量类型)
	MaxLength    int    `yaml:"maxLength,omitempty"` // 最大长度 (仅适用于VarChar类型)
}

// IndexConfig 定义了 Milvus 集合中索引的配置。
type IndexConfig struct {
	FieldName  string                 `yaml:"fieldName"`  // 要创建索引的字段名称
	IndexType  string                 `yaml:"indexType"`  // 索引类型 (例如: "IVF_FLAT", "HNSW")
	MetricType string                 `yaml:"metricType"` // 相似度度量类型 (例如: "L2", "COSINE")
	Params     map[string]interface{} `yaml:"params"`     // 索引参数 (例如: {"nlist": 128})
}

// SchemaConfig 定义了 Milvus 集合的 Schema 配置。
type SchemaConfig struct {
	CollectionName string        `yaml:"collectionName"` // 集合名称
	Description    string        `yaml:"description"`    // 集合描述
	VectorField    string        `yaml:"vectorField"`    // 向量字段名称
	Fields         []FieldConfig `yaml:"fields"`         // 字段配置列表
	Index          IndexConfig   `yaml:"index"`          // 索引配置
}

// MilvusConfig 定义了 Milvus 数据库的连接和 Schema 配置。
type MilvusConfig struct {
	Address string       `yaml:"address"` // Milvus 服务地址
	Schema  SchemaConfig `yaml:"schema"`  // 语音笔记向量集合的 Schema
}

// RedisConfig 定义了 Redis 数据库的连接配置。
type RedisConfig struct {
	Address  string `yaml:"address"`  // Redis 服务器地址 (例如: "localhost:6379")
	Password string `yaml:"password"` // Redis 密码
	DB       int    `yaml:"db"`       // Redis 数据库编号
}

// StoreConfig 定义了共享状态存储 (任务/Agent/提案) 的连接配置。
type StoreConfig struct {
	Driver          string `yaml:"driver"`          // "mysql" 或 "sqlite"
	Address         string `yaml:"address"`         // MySQL 服务器地址
	Username        string `yaml:"username"`        // 用户名
	Password        string `yaml:"password"`        // 密码
	Database        string `yaml:"database"`        // 数据库名称
	Path            string `yaml:"path"`            // sqlite 文件路径, ":memory:" 表示内存库
	MaxOpenConns    int    `yaml:"maxOpenConns"`    // 最大打开连接数
	MaxIdleConns    int    `yaml:"maxIdleConns"`    // 最大空闲连接数
	ConnMaxLifetime int    `yaml:"connMaxLifetime"` // 连接最大生命周期 (秒)
	AutoMigrate     bool   `yaml:"autoMigrate"`     // 启动时是否自动建表
}

// MinIOConfig 定义了 MinIO 对象存储的连接配置。
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`  // MinIO 服务端点
	AccessKey string `yaml:"accessKey"` // 访问密钥
	SecretKey string `yaml:"secretKey"` // Secret 密钥
	Bucket    string `yaml:"bucket"`    // 音频存储桶名称
	Secure    bool   `yaml:"secure"`    // 是否使用HTTPS
}

// MongoConfig 定义了 MongoDB 数据库的连接配置。
type MongoConfig struct {
	Address  string `yaml:"address"`  // MongoDB 服务器地址
	Username string `yaml:"username"` // 用户名
	Password string `yaml:"password"` // 密码
	Database string `yaml:"database"` // 数据库名称
}

// Neo4jConfig 定义了 Neo4j 图数据库的连接配置。
type Neo4jConfig struct {
	Uri      string `yaml:"uri"`      // Neo4j 数据库URI (例如: "bolt://localhost:7687")
	Username string `yaml:"username"` // 用户名
	Password string `yaml:"password"` // 密码
	Database string `yaml:"database"` // 数据库名称
}

// EtcdConfig 定义了 Etcd 的连接配置，用于调度器选主。
type EtcdConfig struct {
	Endpoints   []string `yaml:"endpoints"`   // Etcd 节点地址列表
	Username    string   `yaml:"username"`    // 用户名
	Password    string   `yaml:"password"`    // 密码
	DialTimeout string   `yaml:"dialTimeout"` // 例如: "5s"
}

// APIKeyConfig 描述一个机器客户端的 API Key，只保存 bcrypt 哈希。
type APIKeyConfig struct {
	Name string `yaml:"name"`
	Hash string `yaml:"hash"`
}

// AuthConfig 用于配置认证方法和相关设置。
type AuthConfig struct {
	JwtSecret string         `yaml:"jwtSecret"` // JWT 密钥
	TokenTTL  int            `yaml:"tokenTTL"`  // JWT 令牌的有效期（秒）
	APIKeys   []APIKeyConfig `yaml:"apiKeys"`   // 机器客户端密钥
}

// KafkaConfig 定义了 Kafka 消息队列的连接配置。
type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`       // Kafka Broker 地址列表
	EventsTopic   string   `yaml:"eventsTopic"`   // 任务生命周期事件
	InboundTopic  string   `yaml:"inboundTopic"`  // 外部系统投递的请求
	ConsumerGroup string   `yaml:"consumerGroup"` // 入站消费者组
}

// DatabaseConfigs 包含所有数据库的配置。
type DatabaseConfigs struct {
	Store   StoreConfig  `yaml:"store"`   // 共享状态存储
	Milvus  MilvusConfig `yaml:"milvus"`  // Milvus 数据库配置
	Redis   RedisConfig  `yaml:"redis"`   // Redis 数据库配置
	MinIO   MinIOConfig  `yaml:"minio"`   // MinIO 对象存储配置
	MongoDB MongoConfig  `yaml:"mongodb"` // MongoDB 数据库配置
	Neo4j   Neo4jConfig  `yaml:"neo4j"`   // Neo4j 数据库配置
	Etcd    EtcdConfig   `yaml:"etcd"`    // Etcd 配置
	Kafka   KafkaConfig  `yaml:"kafka"`   // Kafka 消息队列配置
}

// AppInfo 对应 'app' 部分，包含应用程序的基本信息。
type AppInfo struct {
	Name        string `yaml:"name"`        // 应用程序名称
	Version     string `yaml:"version"`     // 应用程序版本
	Environment string `yaml:"environment"` // 运行环境 (例如: "development", "production")
	Address     string `yaml:"address"`     // HTTP 监听地址
}

// LoggerConfig 定义了日志记录器的配置。
type LoggerConfig struct {
	Level      string `yaml:"level"`      // 日志级别 (例如: "info", "debug", "warn", "error")
	File       string `yaml:"file"`       // 为空时输出到 stdout
	MaxSizeMB  int    `yaml:"maxSizeMB"`  // 单个日志文件大小上限
	MaxBackups int    `yaml:"maxBackups"` // 保留的旧文件数量
	MaxAgeDays int    `yaml:"maxAgeDays"` // 旧文件保留天数
	Stderr     bool   `yaml:"stderr"`     // 未配置 File 时写 stderr 而不是 stdout
}

// ProviderConfig 描述一个模型提供商的连接参数。
type ProviderConfig struct {
	APIKey  string `yaml:"apiKey"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"baseURL"`
}

// LLMConfig 包含了文本生成能力的配置。
type LLMConfig struct {
	Provider  string         `yaml:"provider"`  // "gemini", "openai" 或 "ollama"
	MaxTokens int            `yaml:"maxTokens"` // 单次生成的默认上限
	Timeout   string         `yaml:"timeout"`   // 单次调用超时
	Gemini    ProviderConfig `yaml:"gemini"`
	OpenAI    ProviderConfig `yaml:"openai"`
	Ollama    ProviderConfig `yaml:"ollama"`
}

// EmbeddingConfig 包含了 Embedding 能力的配置。
type EmbeddingConfig struct {
	Provider  string         `yaml:"provider"`
	Dimension int            `yaml:"dimension"` // 固定向量维度，必须与 Milvus 集合一致
	Gemini    ProviderConfig `yaml:"gemini"`
	OpenAI    ProviderConfig `yaml:"openai"`
	Ollama    ProviderConfig `yaml:"ollama"`
}

// TranscriptionConfig 包含了语音转写能力的配置。
type TranscriptionConfig struct {
	Provider string         `yaml:"provider"` // 目前只有 "openai"
	OpenAI   ProviderConfig `yaml:"openai"`
}

// AgentConfig 是 Agent 注册表中的一项。
type AgentConfig struct {
	ID                 string   `yaml:"id"`
	Name               string   `yaml:"name"`
	Domain             string   `yaml:"domain"`
	CapabilityKeywords []string `yaml:"capabilityKeywords"`
	DefaultTaskType    string   `yaml:"defaultTaskType"`
	AutonomyLevel      int      `yaml:"autonomyLevel"`
	Enabled            bool     `yaml:"enabled"`
}

// DispatcherConfig 定义了分发器的路由配置。
type DispatcherConfig struct {
	DefaultAgent string        `yaml:"defaultAgent"` // 通用知识 Agent
	LogInbound   bool          `yaml:"logInbound"`   // 是否记录入站消息
	Agents       []AgentConfig `yaml:"agents"`       // 顺序即关键词匹配优先级
}

// SchedulerConfig 定义了心跳调度器的各项阈值。
type SchedulerConfig struct {
	Interval           string   `yaml:"interval"`
	ApprovedBatch      int      `yaml:"approvedBatch"`
	QueuedBatch        int      `yaml:"queuedBatch"`
	ReviewReminder     string   `yaml:"reviewReminder"`
	WorkingTimeout     string   `yaml:"workingTimeout"`
	DigestInterval     string   `yaml:"digestInterval"`
	PriorityCategories []string `yaml:"priorityCategories"` // glob 模式, 例如 "investor*"
	LeaderElection     bool     `yaml:"leaderElection"`
	ElectionPrefix     string   `yaml:"electionPrefix"`
}

// SlackConfig 定义了 Slack 渠道适配器的配置。
type SlackConfig struct {
	Enabled       bool   `yaml:"enabled"`
	BotToken      string `yaml:"botToken"`
	SigningSecret string `yaml:"signingSecret"`
	APIBaseURL    string `yaml:"apiBaseURL"`
}

// ChannelsConfig 定义了渠道适配器和通知绑定。
type ChannelsConfig struct {
	Slack         SlackConfig       `yaml:"slack"`
	DedupCapacity int               `yaml:"dedupCapacity"`
	DedupTTL      string            `yaml:"dedupTTL"`
	Bindings      map[string]string `yaml:"bindings"` // 通知类别 -> 渠道ID, 例如 review -> C0123
}

// VoiceConfig 定义了语音管道的配置。
type VoiceConfig struct {
	SimilarityThreshold float64 `yaml:"similarityThreshold"`
	TopK                int     `yaml:"topK"`
	WatchDir            string  `yaml:"watchDir"`
	WatchOwner          string  `yaml:"watchOwner"`
}

// AppConfig 是整个 YAML 文件的根结构，包含了应用程序的所有配置。
type AppConfig struct {
	App           AppInfo             `yaml:"app"`           // 应用程序信息
	Auth          AuthConfig          `yaml:"auth"`          // 认证配置
	LLM           LLMConfig           `yaml:"llm"`           // 文本生成
	Embedding     EmbeddingConfig     `yaml:"embedding"`     // 向量化
	Transcription TranscriptionConfig `yaml:"transcription"` // 语音转写
	Logger        LoggerConfig        `yaml:"logger"`        // 日志记录器配置
	Databases     DatabaseConfigs     `yaml:"databases"`     // 数据库配置
	Middleware    MiddlewareConfig    `yaml:"middleware"`    // 中间件配置
	Dispatcher    DispatcherConfig    `yaml:"dispatcher"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Channels      ChannelsConfig      `yaml:"channels"`
	Voice         VoiceConfig         `yaml:"voice"`
}

// MiddlewareConfig 包含所有中间件的配置。
type MiddlewareConfig struct {
	RateLimiter    RateLimiterConfig    `yaml:"rateLimiter"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker"`
}

// RateLimiterConfig 定义了令牌桶限流器的配置。
type RateLimiterConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Rate     float64 `yaml:"rate"` // 每秒速率
	Capacity int     `yaml:"capacity"`
}

// CircuitBreakerConfig 定义了熔断器的配置。
type CircuitBreakerConfig struct {
	Enabled          bool   `yaml:"enabled"`
	FailureThreshold uint32 `yaml:"failureThreshold"`
	SuccessThreshold uint32 `yaml:"successThreshold"`
	Timeout          string `yaml:"timeout"` // 例如: "30s"
}

// LoadConfig 函数从指定路径加载并解析 YAML 配置文件，并填充默认值。
func LoadConfig(path string) (*AppConfig, error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("无法读取 YAML 文件 '%s': %w", path, err)
	}
	return Parse(yamlFile)
}

// Parse 解析 YAML 内容。
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析 YAML 文件失败: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults 为未设置的字段填充默认值。
func (c *AppConfig) ApplyDefaults() {
	if c.App.Address == "" {
		c.App.Address = ":8080"
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 1024
	}
	if c.LLM.Timeout == "" {
		c.LLM.Timeout = "60s"
	}
	if c.Databases.Store.Driver == "" {
		c.Databases.Store.Driver = "mysql"
	}
	if c.Databases.Kafka.EventsTopic == "" {
		c.Databases.Kafka.EventsTopic = "task_events"
	}
	if c.Databases.Kafka.InboundTopic == "" {
		c.Databases.Kafka.InboundTopic = "inbound_requests"
	}
	if c.Databases.Kafka.ConsumerGroup == "" {
		c.Databases.Kafka.ConsumerGroup = "steward-dispatcher"
	}
	if c.Databases.MinIO.Bucket == "" {
		c.Databases.MinIO.Bucket = "voice-notes"
	}
	if c.Dispatcher.DefaultAgent == "" {
		c.Dispatcher.DefaultAgent = "knowledge-agent"
	}
	if len(c.Dispatcher.Agents) == 0 {
		c.Dispatcher.Agents = DefaultAgents()
	}
	s := &c.Scheduler
	if s.Interval == "" {
		s.Interval = "5m"
	}
	if s.ApprovedBatch == 0 {
		s.ApprovedBatch = 5
	}
	if s.QueuedBatch == 0 {
		s.QueuedBatch = 10
	}
	if s.ReviewReminder == "" {
		s.ReviewReminder = "30m"
	}
	if s.WorkingTimeout == "" {
		s.WorkingTimeout = "15m"
	}
	if s.DigestInterval == "" {
		s.DigestInterval = "30m"
	}
	if s.ElectionPrefix == "" {
		s.ElectionPrefix = "/steward/scheduler-leader"
	}
	if c.Channels.DedupCapacity == 0 {
		c.Channels.DedupCapacity = 4096
	}
	if c.Channels.DedupTTL == "" {
		c.Channels.DedupTTL = "10m"
	}
	if c.Channels.Slack.APIBaseURL == "" {
		c.Channels.Slack.APIBaseURL = "https://slack.com/api"
	}
	if c.Voice.SimilarityThreshold == 0 {
		c.Voice.SimilarityThreshold = 0.7
	}
	if c.Voice.TopK == 0 {
		c.Voice.TopK = 10
	}
}

// Validate 检查所有 duration 字段能否解析，以及 Agent 注册表是否合法。
func (c *AppConfig) Validate() error {
	durations := map[string]string{
		"llm.timeout":              c.LLM.Timeout,
		"scheduler.interval":       c.Scheduler.Interval,
		"scheduler.reviewReminder": c.Scheduler.ReviewReminder,
		"scheduler.workingTimeout": c.Scheduler.WorkingTimeout,
		"scheduler.digestInterval": c.Scheduler.DigestInterval,
		"channels.dedupTTL":        c.Channels.DedupTTL,
	}
	for key, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("配置项 %s 不是合法的时长 %q: %w", key, value, err)
		}
	}
	seen := make(map[string]bool, len(c.Dispatcher.Agents))
	for _, a := range c.Dispatcher.Agents {
		if a.ID == "" {
			return fmt.Errorf("dispatcher.agents 中存在缺少 id 的条目")
		}
		if seen[a.ID] {
			return fmt.Errorf("dispatcher.agents 中 id %q 重复", a.ID)
		}
		seen[a.ID] = true
		if a.AutonomyLevel < 1 || a.AutonomyLevel > 4 {
			return fmt.Errorf("agent %q 的 autonomyLevel 必须在 1..4 之间, 当前为 %d", a.ID, a.AutonomyLevel)
		}
	}
	if c.Channels.Slack.Enabled && c.Channels.Slack.SigningSecret == "" {
		return fmt.Errorf("启用 channels.slack 时必须配置 signingSecret")
	}
	return nil
}

// Duration 解析一个已经通过 Validate 校验的时长字符串。
func Duration(value string) time.Duration {
	d, _ := time.ParseDuration(value)
	return d
}
