package etcd

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"Steward/backend/go/internal/config"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

// LeaderElection 让多个调度器实例中只有一个执行非幂等的扫描
// (审核提醒、关系摘要、建议通知)。状态迁移本身不依赖它。
type LeaderElection struct {
	cli      *clientv3.Client
	prefix   string
	id       string
	sessionT int
	leader   atomic.Bool
}

// NewLeaderElection 创建 etcd 客户端。id 通常是主机名加进程号。
func NewLeaderElection(cfg config.EtcdConfig, prefix, id string) (*LeaderElection, error) {
	dial := 5 * time.Second
	if cfg.DialTimeout != "" {
		if d, err := time.ParseDuration(cfg.DialTimeout); err == nil {
			dial = d
		}
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DialTimeout: dial,
	})
	if err != nil {
		return nil, fmt.Errorf("无法连接到 etcd: %w", err)
	}
	return &LeaderElection{cli: cli, prefix: prefix, id: id, sessionT: 15}, nil
}

// IsLeader 报告当前实例是否持有领导权。
func (e *LeaderElection) IsLeader() bool {
	return e.leader.Load()
}

// Run 持续参与选举直到 ctx 结束。会话丢失后自动重新竞选。
func (e *LeaderElection) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if err := e.campaignOnce(ctx); err != nil && ctx.Err() == nil {
			log.Printf("⚠️ 调度器选主失败, 稍后重试: %v", err)
			select {
			case <-ctx.Done():
			case <-time.After(5 * time.Second):
			}
		}
	}
}

func (e *LeaderElection) campaignOnce(ctx context.Context) error {
	session, err := concurrency.NewSession(e.cli, concurrency.WithTTL(e.sessionT))
	if err != nil {
		return fmt.Errorf("创建 etcd 会话失败: %w", err)
	}
	defer session.Close()

	election := concurrency.NewElection(session, e.prefix)
	if err := election.Campaign(ctx, e.id); err != nil {
		return fmt.Errorf("竞选失败: %w", err)
	}
	e.leader.Store(true)
	log.Printf("✅ %s 成为调度器 leader", e.id)
	defer e.leader.Store(false)

	select {
	case <-ctx.Done():
		resignCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = election.Resign(resignCtx)
		return nil
	case <-session.Done():
		return fmt.Errorf("etcd 会话已过期")
	}
}

// Close 关闭 etcd 客户端。
func (e *LeaderElection) Close() error {
	return e.cli.Close()
}
