// mcp_server 把分发、审核和语音检索作为 MCP 工具暴露给外部 Agent 宿主。
//
// STDIO transport (default)
//
//	go run ./backend/go/cmd/mcp_server -config config.yaml
//
// SSE transport on port 8085
//
//	go run ./backend/go/cmd/mcp_server -transport=sse -port=8085
//
// StreamableHTTP transport on port 9000
//
//	go run ./backend/go/cmd/mcp_server -transport=httpstream -port=9000
package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"Steward/backend/go/internal/app"
	"Steward/backend/go/internal/config"
	"Steward/backend/go/internal/mcp"
	"Steward/backend/go/internal/review"

	"github.com/mark3labs/mcp-go/server"
)

func main() {
	configPath := flag.String("config", "config.yaml", "配置文件路径")
	transport := flag.String("transport", "stdio", "Transport method: stdio, sse, or httpstream")
	port := flag.String("port", "8085", "Port for HTTP-based transports (sse, httpstream)")
	identity := flag.String("identity", "mcp", "工具调用者身份, 用作审核人和语音检索的查看者")
	flag.Parse()

	ctx := context.Background()

	// 1. 加载配置。stdio 模式下 stdout 是协议通道，日志改写到 stderr。
	rt, err := app.Bootstrap(ctx, *configPath, "mcp_server", func(cfg *config.AppConfig) {
		if *transport == "stdio" {
			cfg.Logger.Stderr = true
		}
	})
	if err != nil {
		log.Fatalf("failed to bootstrap: %v", err)
	}
	defer rt.Close()
	appLogger := rt.Log

	// 2. 初始化分发器、审核服务和语音检索
	notifier, err := rt.Notifier(nil)
	if err != nil {
		appLogger.Fatal(fmt.Sprintf("Failed to create notifier: %v", err))
	}
	gen, err := rt.Generator(ctx)
	if err != nil {
		appLogger.Fatal(fmt.Sprintf("Failed to create LLM client: %v", err))
	}
	disp, err := rt.Dispatcher(ctx, gen, notifier)
	if err != nil {
		appLogger.Fatal(fmt.Sprintf("Failed to create dispatcher: %v", err))
	}
	opts := mcp.Options{
		Dispatcher: disp,
		Review:     review.New(rt.Store, notifier, appLogger.WithField("component", "review")),
		Identity:   *identity,
		Version:    rt.Config.App.Version,
		Logger:     appLogger,
	}
	pipeline, err := rt.Voice(ctx, gen)
	if err != nil {
		appLogger.Fatal(fmt.Sprintf("Failed to create voice pipeline: %v", err))
	}
	if pipeline != nil {
		opts.Voice = pipeline
	}
	s := mcp.NewServer(opts).MCPServer()

	// 3. 按传输方式启动
	switch *transport {
	case "sse":
		appLogger.Infof("Starting Steward MCP server with SSE transport on port %s", *port)
		if err := server.NewSSEServer(s).Start(":" + *port); err != nil {
			appLogger.Fatal(fmt.Sprintf("SSE server error: %v", err))
		}
	case "httpstream":
		appLogger.Infof("Starting Steward MCP server with StreamableHTTP transport on port %s", *port)
		if err := server.NewStreamableHTTPServer(s).Start(":" + *port); err != nil {
			appLogger.Fatal(fmt.Sprintf("HTTP server error: %v", err))
		}
	case "stdio":
		appLogger.Info("Starting Steward MCP server with STDIO transport")
		if err := server.ServeStdio(s); err != nil {
			appLogger.Fatal(fmt.Sprintf("STDIO server error: %v", err))
		}
	default:
		appLogger.Fatal(fmt.Sprintf("Unknown transport: %s. Use stdio, sse, or httpstream", *transport))
	}
}
