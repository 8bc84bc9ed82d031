package kafka

import (
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// EnsureTopics 连接到第一个 broker，创建缺失的主题。
func EnsureTopics(brokers []string, topics ...string) error {
	if len(brokers) == 0 {
		return fmt.Errorf("未配置 Kafka brokers")
	}
	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("kafka 初始化连接失败: %w", err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		return fmt.Errorf("无法读取 Kafka 分区信息: %w", err)
	}
	existingTopics := make(map[string]struct{})
	for _, p := range partitions {
		existingTopics[p.Topic] = struct{}{}
	}

	var topicsToCreate []kafka.TopicConfig
	for _, topicName := range topics {
		if _, exists := existingTopics[topicName]; !exists {
			log.Printf("主题 '%s' 不存在，准备创建...", topicName)
			topicsToCreate = append(topicsToCreate, kafka.TopicConfig{
				Topic:             topicName,
				NumPartitions:     1,
				ReplicationFactor: 1,
			})
		}
	}
	if len(topicsToCreate) > 0 {
		if err := conn.CreateTopics(topicsToCreate...); err != nil {
			return fmt.Errorf("自动创建 Kafka 主题失败: %w", err)
		}
		log.Printf("成功创建 %d 个 Kafka 主题。", len(topicsToCreate))
	}
	return nil
}

// NewWriter 为单个主题创建 writer。
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, // 同一任务的事件落在同一分区，保证顺序
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
	}
}

// NewReader 为单个主题创建带消费者组的 reader。
func NewReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
		MaxAttempts: 10,
		Dialer: &kafka.Dialer{
			Timeout: 10 * time.Second,
		},
	})
}
