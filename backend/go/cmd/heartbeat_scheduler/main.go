// heartbeat_scheduler 周期性地推进任务: 执行已批准和排队的任务、发送已批准的外联提案、
// 提醒审核、清理超时并发送摘要。
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

	"Steward/backend/go/internal/app"
	"Steward/backend/go/internal/channel"
	"Steward/backend/go/internal/discovery/etcd"
	"Steward/backend/go/internal/notify"
	"Steward/backend/go/internal/review"
	"Steward/backend/go/internal/scheduler"
	"Steward/backend/go/pkg/ratelimiter"
)

func main() {
	configPath := flag.String("config", "config.yaml", "配置文件路径")
	once := flag.Bool("once", false, "只执行一次 tick 后退出")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. 加载配置、初始化日志和共享状态存储
	rt, err := app.Bootstrap(ctx, *configPath, "heartbeat_scheduler")
	if err != nil {
		log.Fatalf("failed to bootstrap: %v", err)
	}
	defer rt.Close()
	cfg, appLogger := rt.Config, rt.Log

	// 2. 通知出口
	sinks := map[string]notify.Sink{}
	var slack *channel.Slack
	if cfg.Channels.Slack.Enabled {
		slack = channel.NewSlack(cfg.Channels.Slack, ratelimiter.NewTokenBucket(1, 5), appLogger)
		sinks["slack"] = channel.NewSink(slack, cfg.Channels.Bindings, rt.Store)
	}
	notifier, err := rt.Notifier(sinks)
	if err != nil {
		appLogger.Fatal(fmt.Sprintf("Failed to create notifier: %v", err))
	}

	// 3. 执行器
	gen, err := rt.Generator(ctx)
	if err != nil {
		appLogger.Fatal(fmt.Sprintf("Failed to create LLM client: %v", err))
	}
	if gen == nil {
		appLogger.Warn("No LLM provider configured, executions will fail until one is set")
	}
	exec := rt.Executor(gen, notifier)

	// 4. 调度器选项: 摘要消息来源和可选的 etcd 选主
	opts := scheduler.OptionsFromConfig(cfg.Scheduler)
	opts.Notifier = notifier
	opts.Logger = appLogger.WithField("component", "scheduler")
	messages, err := rt.MessageLog(ctx)
	if err != nil {
		appLogger.Fatal(fmt.Sprintf("Failed to open message log: %v", err))
	}
	if messages != nil {
		opts.Messages = messages
	} else {
		appLogger.Warn("MongoDB not configured, relationship digest disabled")
	}

	if slack != nil {
		// 在没有执行器的进程 (MCP、CLI) 里批准的提案由这里发送
		opts.Proposals = review.New(rt.Store, notifier, appLogger.WithField("component", "review")).
			WithActions(channel.NewPostActions(slack, cfg.Channels.Bindings["outreach"]))
	}

	if cfg.Scheduler.LeaderElection {
		election, err := etcd.NewLeaderElection(cfg.Databases.Etcd, cfg.Scheduler.ElectionPrefix, app.InstanceID("scheduler"))
		if err != nil {
			appLogger.Fatal(fmt.Sprintf("Failed to create leader election: %v", err))
		}
		rt.OnClose(func() { _ = election.Close() })
		go election.Run(ctx)
		opts.Leader = election
		appLogger.Info("Leader election enabled")
	}

	sched, err := scheduler.New(rt.Store, exec, opts)
	if err != nil {
		appLogger.Fatal(fmt.Sprintf("Failed to create scheduler: %v", err))
	}

	// 5. 运行
	if *once {
		report := sched.Tick(ctx)
		appLogger.WithFields(map[string]interface{}{
			"executed":       report.Executed,
			"proposals_sent": report.ProposalsSent,
			"suggested":      report.Suggested,
			"reminded":       report.Reminded,
			"timed_out":      report.TimedOut,
			"errors":         len(report.Errors),
		}).Info("Single tick finished")
		return
	}
	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.WithError(err).Error("Scheduler stopped with error")
	}
}
