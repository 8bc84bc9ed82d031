// api_server 是 Steward 的对外入口: REST API、Slack 回调、事件 WebSocket 和 Kafka 入站消费者。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Steward/backend/go/internal/api"
	"Steward/backend/go/internal/app"
	"Steward/backend/go/internal/channel"
	"Steward/backend/go/internal/config"
	"Steward/backend/go/internal/database/kafka"
	"Steward/backend/go/internal/database/redis"
	"Steward/backend/go/internal/database/sqldb"
	"Steward/backend/go/internal/ingest"
	"Steward/backend/go/internal/notify"
	"Steward/backend/go/internal/review"
	pkghttp "Steward/backend/go/pkg/http"
	"Steward/backend/go/pkg/ratelimiter"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "config.yaml", "配置文件路径")
	issueToken := flag.String("issue-token", "", "为指定主体签发 JWT 后退出")
	hashKey := flag.String("hash-key", "", "输出 API Key 的 bcrypt 哈希后退出")
	flag.Parse()

	if *hashKey != "" {
		hash, err := api.HashAPIKey(*hashKey)
		if err != nil {
			log.Fatalf("failed to hash api key: %v", err)
		}
		fmt.Println(hash)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. 加载配置、初始化日志和共享状态存储
	rt, err := app.Bootstrap(ctx, *configPath, "api_server")
	if err != nil {
		log.Fatalf("failed to bootstrap: %v", err)
	}
	defer rt.Close()
	cfg, appLogger := rt.Config, rt.Log

	auth := api.NewAuthenticator(cfg.Auth)
	if *issueToken != "" {
		tok, err := auth.IssueToken(*issueToken)
		if err != nil {
			appLogger.Fatal(fmt.Sprintf("Failed to issue token: %v", err))
		}
		fmt.Println(tok)
		return
	}

	// 2. 通知出口: Kafka 事件流、WebSocket 推送、Slack 频道
	// 配置了 Kafka 时 WebSocket 推送由事件转发器驱动，各进程的事件都能到达客户端。
	kc := cfg.Databases.Kafka
	hub := notify.NewHub()
	sinks := map[string]notify.Sink{}
	if len(kc.Brokers) == 0 {
		sinks["websocket"] = hub
	}
	var slack *channel.Slack
	if cfg.Channels.Slack.Enabled {
		slack = channel.NewSlack(cfg.Channels.Slack, ratelimiter.NewTokenBucket(1, 5), appLogger)
		sinks["slack"] = channel.NewSink(slack, cfg.Channels.Bindings, rt.Store)
	}
	notifier, err := rt.Notifier(sinks)
	if err != nil {
		appLogger.Fatal(fmt.Sprintf("Failed to create notifier: %v", err))
	}

	// 3. 生成能力、分发器、审核服务、语音管道
	gen, err := rt.Generator(ctx)
	if err != nil {
		appLogger.Fatal(fmt.Sprintf("Failed to create LLM client: %v", err))
	}
	disp, err := rt.Dispatcher(ctx, gen, notifier)
	if err != nil {
		appLogger.Fatal(fmt.Sprintf("Failed to create dispatcher: %v", err))
	}
	reviews := review.New(rt.Store, notifier, appLogger.WithField("component", "review"))
	if slack != nil {
		reviews.WithActions(channel.NewPostActions(slack, cfg.Channels.Bindings["outreach"]))
	}
	pipeline, err := rt.Voice(ctx, gen)
	if err != nil {
		appLogger.Fatal(fmt.Sprintf("Failed to create voice pipeline: %v", err))
	}
	var (
		apiVoice     api.Voice
		channelVoice channel.VoiceProcessor
	)
	if pipeline != nil {
		apiVoice, channelVoice = pipeline, pipeline
	}

	// 4. Slack 入站事件路由
	if slack != nil {
		dedup, err := newDeduper(ctx, cfg, rt)
		if err != nil {
			appLogger.Fatal(fmt.Sprintf("Failed to create deduper: %v", err))
		}
		router := channel.NewRouter(channel.RouterOptions{
			Dispatcher: disp,
			Voice:      channelVoice,
			Review:     reviews,
			Dedup:      dedup,
			Logger:     appLogger.WithField("component", "router"),
		}, slack)
		slack.OnEvent(func(ctx context.Context, ev channel.Event) {
			_ = router.Handle(ctx, ev)
		})
		appLogger.Info("Slack adapter enabled")
	}

	// 5. HTTP 服务器和路由
	gin.SetMode(gin.ReleaseMode)
	server, err := pkghttp.NewServer(cfg, pkghttp.WithLogger(appLogger))
	if err != nil {
		appLogger.Fatal(fmt.Sprintf("Failed to create HTTP server: %v", err))
	}
	handler := api.NewHandler(disp, rt.Store, reviews, apiVoice, appLogger).
		WithHealthCheck(func(ctx context.Context) error { return sqldb.HealthCheck(ctx, rt.DB) })
	api.Register(server.Engine(), api.Routes{
		Handler: handler,
		Auth:    auth,
		Events:  api.NewEventStream(hub, appLogger),
		Slack:   slack,
		Logger:  appLogger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		appLogger.Info("HTTP server listening at " + server.Addr())
		return server.ListenAndServe()
	})

	// 6. Kafka 入站消费者和事件转发器
	if len(kc.Brokers) > 0 {
		consumer := ingest.NewConsumer(kafka.NewReader(kc.Brokers, kc.InboundTopic, kc.ConsumerGroup), disp, appLogger)
		g.Go(func() error {
			defer consumer.Close()
			appLogger.Info("Kafka consumer started on topic " + kc.InboundTopic)
			return consumer.Run(gctx)
		})

		relayGroup := kc.ConsumerGroup + "-events-" + app.InstanceID("api")
		relay := ingest.NewEventRelay(kafka.NewReader(kc.Brokers, kc.EventsTopic, relayGroup), hub, appLogger)
		g.Go(func() error {
			defer relay.Close()
			return relay.Run(gctx)
		})
	}

	// 7. 优雅退出
	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Shutting down servers...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.WithError(err).Error("api_server stopped with error")
		return
	}
	appLogger.Info("Servers gracefully stopped")
}

// newDeduper 返回入站事件去重器: 进程内 LRU，配置了 Redis 时再加一层跨进程去重。
func newDeduper(ctx context.Context, cfg *config.AppConfig, rt *app.Runtime) (channel.Deduper, error) {
	ttl := config.Duration(cfg.Channels.DedupTTL)
	local, err := channel.NewLRUDeduper(cfg.Channels.DedupCapacity, ttl)
	if err != nil {
		return nil, err
	}
	if cfg.Databases.Redis.Address == "" {
		return local, nil
	}
	rdb, err := redis.NewClient(ctx, cfg.Databases.Redis)
	if err != nil {
		return nil, err
	}
	rt.OnClose(func() { _ = rdb.Close() })
	return channel.ChainDeduper{local, channel.NewRedisDeduper(rdb, ttl)}, nil
}
