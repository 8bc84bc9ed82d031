// Package ingest 从 Kafka 的 inbound_requests 主题读取外部系统投递的请求并交给分发器。
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"Steward/backend/go/internal/dispatcher"
	"Steward/backend/go/internal/models"
	"Steward/backend/go/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// MessageReader 是 *kafka.Reader 中消费者用到的部分。
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Dispatcher 把请求变成任务。
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatcher.Request) (*dispatcher.DispatchResult, error)
}

// InboundRequest 是 inbound_requests 主题上的消息体。
// Body 可以是 HTML (邮件、网页表单转发)，分发前会转换为 Markdown。
type InboundRequest struct {
	Body        string            `json:"body"`
	Source      string            `json:"source"`
	SourceID    string            `json:"source_id"`
	RequestedBy string            `json:"requested_by"`
	Context     map[string]string `json:"context,omitempty"`
	ReplyTo     models.ReplyTo    `json:"reply_to"`
}

// Consumer 消费入站请求。
type Consumer struct {
	reader     MessageReader
	dispatcher Dispatcher
	log        *logger.Logger
}

// NewConsumer 创建消费者。
func NewConsumer(reader MessageReader, d Dispatcher, log *logger.Logger) *Consumer {
	if log == nil {
		log = logger.Discard()
	}
	return &Consumer{reader: reader, dispatcher: d, log: log}
}

// Run 循环读取消息直到 ctx 结束。
// 无法解析或正文为空的消息会被记录并提交，避免阻塞分区；分发失败的消息不提交，等待重新投递。
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info("入站请求消费者已启动")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("入站请求消费者已停止")
				return ctx.Err()
			}
			c.log.WithError(err).Error("读取 Kafka 消息失败")
			continue
		}

		log := c.log.WithFields(map[string]interface{}{
			"topic":     msg.Topic,
			"partition": msg.Partition,
			"offset":    msg.Offset,
		})
		if err := c.Handle(ctx, msg); err != nil {
			if !errors.Is(err, errSkip) {
				log.WithError(err).Error("处理入站请求失败")
				continue
			}
			log.WithError(err).Warn("丢弃入站请求")
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			log.WithError(err).Error("提交 Kafka 位移失败")
		}
	}
}

// errSkip 标记不值得重试的消息。
var errSkip = errors.New("ingest: message skipped")

// Handle 解析一条消息并分发。
func (c *Consumer) Handle(ctx context.Context, msg kafka.Message) error {
	var req InboundRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		return fmt.Errorf("%w: 消息不是合法 JSON: %v", errSkip, err)
	}
	body := dispatcher.NormalizeMessage(req.Body)
	if body == "" {
		return fmt.Errorf("%w: 正文为空", errSkip)
	}
	if req.Source == "" {
		req.Source = "kafka"
	}
	if req.SourceID == "" {
		req.SourceID = fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
	}

	res, err := c.dispatcher.Dispatch(ctx, dispatcher.Request{
		Message:     body,
		Source:      req.Source,
		SourceID:    req.SourceID,
		RequestedBy: req.RequestedBy,
		Context:     req.Context,
		ReplyTo:     req.ReplyTo,
	})
	if err != nil {
		if errors.Is(err, dispatcher.ErrEmptyMessage) {
			return fmt.Errorf("%w: %v", errSkip, err)
		}
		return err
	}
	c.log.WithTask(res.Task.ID, res.Agent.ID).Infof("入站请求 %s 已分发", req.SourceID)
	return nil
}

// Close 关闭底层 reader。
func (c *Consumer) Close() error {
	return c.reader.Close()
}
