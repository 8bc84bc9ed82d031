// Package app 组装各个进程共用的依赖: 配置、日志、共享状态存储、生成能力、语音管道和通知出口。
// 所有客户端都在这里显式构造并传入组件，进程退出时按相反顺序关闭。
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"Steward/backend/go/internal/config"
	"Steward/backend/go/internal/database/kafka"
	"Steward/backend/go/internal/database/milvus"
	"Steward/backend/go/internal/database/minio"
	"Steward/backend/go/internal/database/mongo"
	"Steward/backend/go/internal/database/neo4j"
	"Steward/backend/go/internal/database/sqldb"
	"Steward/backend/go/internal/dispatcher"
	"Steward/backend/go/internal/embedding"
	"Steward/backend/go/internal/executor"
	"Steward/backend/go/internal/llm"
	"Steward/backend/go/internal/models"
	"Steward/backend/go/internal/notify"
	"Steward/backend/go/internal/store"
	"Steward/backend/go/internal/transcription"
	"Steward/backend/go/internal/voice"
	pkghttp "Steward/backend/go/pkg/http"
	"Steward/backend/go/pkg/logger"

	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"gorm.io/gorm"
)

// Runtime 是一个进程的依赖容器。
type Runtime struct {
	Config *config.AppConfig
	Log    *logger.Logger
	DB     *gorm.DB
	Store  *store.Store

	mongoDB *mongodriver.Database
	closers []func()
}

// Option 在日志初始化之前调整加载的配置，用于命令行参数覆盖。
type Option func(cfg *config.AppConfig)

// Bootstrap 加载配置、初始化日志、打开共享状态存储并同步 Agent 注册表。
func Bootstrap(ctx context.Context, configPath, service string, opts ...Option) (*Runtime, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if err := logger.Init(cfg.Logger); err != nil {
		return nil, err
	}
	log := logger.New(service)

	db, err := sqldb.Open(cfg.Databases.Store)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{Config: cfg, Log: log, DB: db, Store: store.New(db)}
	rt.OnClose(func() {
		if err := sqldb.Close(db); err != nil {
			log.WithError(err).Warn("关闭共享状态存储失败")
		}
	})

	if cfg.Databases.Store.AutoMigrate || cfg.Databases.Store.Driver == "sqlite" {
		if err := rt.Store.AutoMigrate(ctx); err != nil {
			rt.Close()
			return nil, err
		}
	}
	if err := rt.Store.SyncAgents(ctx, AgentsFromConfig(cfg.Dispatcher.Agents)); err != nil {
		rt.Close()
		return nil, err
	}
	log.Infof("%s 已加载配置, Agent 数量 %d", service, len(cfg.Dispatcher.Agents))
	return rt, nil
}

// OnClose 注册一个关闭函数。
func (r *Runtime) OnClose(fn func()) {
	r.closers = append(r.closers, fn)
}

// Close 按注册的相反顺序关闭所有依赖。
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

// AgentsFromConfig 把配置中的注册表转换为存储模型。
func AgentsFromConfig(agents []config.AgentConfig) []models.Agent {
	out := make([]models.Agent, 0, len(agents))
	for _, a := range agents {
		out = append(out, models.Agent{
			ID:                 a.ID,
			Name:               a.Name,
			CapabilityKeywords: a.CapabilityKeywords,
			Domain:             a.Domain,
			AutonomyLevel:      a.AutonomyLevel,
			Enabled:            a.Enabled,
		})
	}
	return out
}

// InstanceID 返回用于选主和日志的实例标识。
func InstanceID(service string) string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%s-%d", service, host, os.Getpid())
}

// Generator 创建文本生成能力。未配置提供商时返回 nil，分发器只用关键词路由。
func (r *Runtime) Generator(ctx context.Context) (llm.Generator, error) {
	if r.Config.LLM.Provider == "" {
		r.Log.Warn("未配置生成能力, 分发器只使用关键词路由")
		return nil, nil
	}
	cb := r.Config.Middleware.CircuitBreaker
	cb.Enabled = true
	breaker, err := pkghttp.NewCircuitBreaker(cb)
	if err != nil {
		return nil, err
	}
	return llm.NewClient(ctx, r.Config.LLM, breaker)
}

// Mongo 返回共享的 MongoDB 数据库，未配置时返回 nil。
func (r *Runtime) Mongo(ctx context.Context) (*mongodriver.Database, error) {
	if r.mongoDB != nil || r.Config.Databases.MongoDB.Address == "" {
		return r.mongoDB, nil
	}
	client, db, err := mongo.NewClient(ctx, r.Config.Databases.MongoDB)
	if err != nil {
		return nil, err
	}
	r.OnClose(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Disconnect(ctx)
	})
	r.mongoDB = db
	return db, nil
}

// MessageLog 返回入站消息日志，未配置 MongoDB 时返回 nil。
func (r *Runtime) MessageLog(ctx context.Context) (*store.MongoMessageLog, error) {
	db, err := r.Mongo(ctx)
	if err != nil || db == nil {
		return nil, err
	}
	return store.NewMongoMessageLog(ctx, db)
}

// Dispatcher 创建分发器。
func (r *Runtime) Dispatcher(ctx context.Context, gen llm.Generator, notifier notify.Notifier) (*dispatcher.Dispatcher, error) {
	opts := dispatcher.Options{
		DefaultAgent: r.Config.Dispatcher.DefaultAgent,
		MaxTokens:    256,
		Rules:        dispatcher.RulesFromConfig(r.Config.Dispatcher.Agents),
		Generator:    gen,
		Notifier:     notifier,
		Logger:       r.Log.WithField("component", "dispatcher"),
	}
	if r.Config.Dispatcher.LogInbound {
		msgLog, err := r.MessageLog(ctx)
		if err != nil {
			return nil, err
		}
		if msgLog != nil {
			opts.MessageLog = msgLog
		}
	}
	return dispatcher.New(r.Store, opts), nil
}

// Executor 创建执行器。
func (r *Runtime) Executor(gen llm.Generator, notifier notify.Notifier) *executor.Executor {
	return executor.New(r.Store, gen, executor.Options{
		MaxTokens: r.Config.LLM.MaxTokens,
		Notifier:  notifier,
		Logger:    r.Log.WithField("component", "executor"),
	})
}

// Notifier 创建通知扇出，配置了 Kafka 时附加事件发布出口。
func (r *Runtime) Notifier(sinks map[string]notify.Sink) (*notify.Fanout, error) {
	fan := notify.NewFanout(r.Log.WithField("component", "notify"))
	kc := r.Config.Databases.Kafka
	if len(kc.Brokers) > 0 {
		if err := kafka.EnsureTopics(kc.Brokers, kc.EventsTopic, kc.InboundTopic); err != nil {
			r.Log.WithError(err).Warn("创建 Kafka 主题失败, 依赖自动创建")
		}
		pub := kafka.NewEventPublisher(kafka.NewWriter(kc.Brokers, kc.EventsTopic))
		r.OnClose(func() { _ = pub.Close() })
		fan.Add("kafka", notify.SinkFunc(pub.PublishEvent))
	}
	for name, sink := range sinks {
		fan.Add(name, sink)
	}
	return fan, nil
}

// Voice 创建语音管道。MinIO 和 MongoDB 是必需的，任一未配置时返回 nil。
// Milvus、Neo4j、向量化、转写都是可选的，缺失时对应阶段被跳过。
func (r *Runtime) Voice(ctx context.Context, gen llm.Generator) (*voice.Pipeline, error) {
	dbs := r.Config.Databases
	if dbs.MinIO.Endpoint == "" || dbs.MongoDB.Address == "" {
		r.Log.Warn("未配置 MinIO 或 MongoDB, 语音管道已禁用")
		return nil, nil
	}

	mc, err := minio.NewClient(ctx, dbs.MinIO)
	if err != nil {
		return nil, err
	}
	db, err := r.Mongo(ctx)
	if err != nil {
		return nil, err
	}
	notes, err := voice.NewMongoNoteStore(ctx, db)
	if err != nil {
		return nil, err
	}

	dim := r.Config.Embedding.Dimension
	opts := voice.Options{
		Generator:           gen,
		Dimension:           dim,
		MaxTokens:           800,
		SimilarityThreshold: r.Config.Voice.SimilarityThreshold,
		TopK:                r.Config.Voice.TopK,
		Logger:              r.Log.WithField("component", "voice"),
	}
	if r.Config.Transcription.Provider != "" || r.Config.Transcription.OpenAI.APIKey != "" {
		if opts.Transcriber, err = transcription.NewClient(r.Config.Transcription); err != nil {
			return nil, err
		}
	}
	if r.Config.Embedding.Provider != "" {
		if opts.Embedder, err = embedding.NewClient(ctx, r.Config.Embedding); err != nil {
			return nil, err
		}
	}
	if dbs.Milvus.Address != "" && dim > 0 {
		mv, err := milvus.NewClient(ctx, dbs.Milvus)
		if err != nil {
			return nil, err
		}
		r.OnClose(func() { _ = mv.Close() })
		schema := dbs.Milvus.Schema
		if schema.CollectionName == "" {
			schema = milvus.VoiceNoteSchema(dim)
		}
		if err := milvus.EnsureCollection(ctx, mv, schema); err != nil {
			return nil, err
		}
		opts.Index = voice.NewMilvusIndex(mv, schema.CollectionName, dim)
	}
	if dbs.Neo4j.Uri != "" {
		nc, err := neo4j.NewClient(ctx, dbs.Neo4j)
		if err != nil {
			return nil, err
		}
		r.OnClose(func() { nc.Close(context.Background()) })
		opts.Graph = voice.NewNeo4jMentionGraph(nc)
	}

	return voice.New(voice.NewMinioAudioStore(mc, dbs.MinIO.Bucket), notes, opts), nil
}
