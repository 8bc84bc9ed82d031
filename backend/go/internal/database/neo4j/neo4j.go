package neo4j

import (
	"context"
	"fmt"
	"log"

	"Steward/backend/go/internal/config"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jClient 包含了 Neo4j 驱动实例和相关配置。
type Neo4jClient struct {
	Driver neo4j.DriverWithContext
	Config config.Neo4jConfig
}

// NewClient 创建驱动实例并验证连通性。
func NewClient(ctx context.Context, cfg config.Neo4jConfig) (*Neo4jClient, error) {
	auth := neo4j.BasicAuth(cfg.Username, cfg.Password, "")
	driver, err := neo4j.NewDriverWithContext(cfg.Uri, auth)
	if err != nil {
		return nil, fmt.Errorf("无法创建 Neo4j 驱动: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx) // 如果验证失败，需要关闭已创建的驱动以释放资源。
		return nil, fmt.Errorf("无法连接到 Neo4j 数据库: %w", err)
	}

	log.Println("✅ 成功连接到 Neo4j!")
	return &Neo4jClient{Driver: driver, Config: cfg}, nil
}

// Close 安全地关闭与 Neo4j 的连接。
func (c *Neo4jClient) Close(ctx context.Context) {
	if err := c.Driver.Close(ctx); err != nil {
		log.Printf("关闭 Neo4j 驱动失败: %v", err)
	}
}

// ExecuteWrite 在一个自动管理的写事务中执行工作函数。
func (c *Neo4jClient) ExecuteWrite(ctx context.Context, work neo4j.ManagedTransactionWork) (interface{}, error) {
	session := c.Driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.Config.Database, AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, work)
	if err != nil {
		return nil, fmt.Errorf("执行 Neo4j 写事务失败: %w", err)
	}
	return result, nil
}

// ExecuteRead 在一个自动管理的读事务中执行工作函数。
// 结果必须在 work 内部读取完毕，会话关闭后游标不可用。
func (c *Neo4jClient) ExecuteRead(ctx context.Context, work neo4j.ManagedTransactionWork) (interface{}, error) {
	session := c.Driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.Config.Database, AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, work)
	if err != nil {
		return nil, fmt.Errorf("执行 Neo4j 读事务失败: %w", err)
	}
	return result, nil
}
