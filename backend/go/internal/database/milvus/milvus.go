package milvus

import (
	"context"
	"fmt"
	"log"

	"Steward/backend/go/internal/config"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

// NewClient 创建 Milvus 客户端。
func NewClient(ctx context.Context, cfg config.MilvusConfig) (client.Client, error) {
	c, err := client.NewClient(ctx, client.Config{Address: cfg.Address})
	if err != nil {
		return nil, fmt.Errorf("无法连接到 Milvus: %w", err)
	}
	log.Println("✅ 成功连接到 Milvus!")
	return c, nil
}

// VoiceNoteSchema 返回语音笔记向量集合的默认 Schema。
// 标量字段 owner/visibility/shared_with 用于过滤表达式。
func VoiceNoteSchema(dim int) config.SchemaConfig {
	return config.SchemaConfig{
		CollectionName: "voice_notes",
		Description:    "voice note transcript embeddings",
		VectorField:    "embedding",
		Fields: []config.FieldConfig{
			{Name: "note_id", DataType: "VarChar", IsPrimaryKey: true, MaxLength: 64},
			{Name: "owner", DataType: "VarChar", MaxLength: 128},
			{Name: "visibility", DataType: "VarChar", MaxLength: 16},
			{Name: "shared_with", DataType: "VarChar", MaxLength: 1024},
			{Name: "embedding", DataType: "FloatVector", Dim: dim},
		},
		Index: config.IndexConfig{
			FieldName:  "embedding",
			IndexType:  "HNSW",
			MetricType: string(entity.COSINE),
			Params:     map[string]interface{}{"M": 16, "efConstruction": 128},
		},
	}
}

// EnsureCollection 确保集合存在、建好索引并加载到内存。
func EnsureCollection(ctx context.Context, c client.Client, schemaCfg config.SchemaConfig) error {
	collName := schemaCfg.CollectionName
	exists, err := c.HasCollection(ctx, collName)
	if err != nil {
		return fmt.Errorf("检查集合是否存在时出错: %w", err)
	}
	if !exists {
		schema := entity.NewSchema().
			WithName(collName).
			WithDescription(schemaCfg.Description)
		for _, fieldCfg := range schemaCfg.Fields {
			field, err := buildField(fieldCfg)
			if err != nil {
				return err
			}
			schema = schema.WithField(field)
		}

		if err := c.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("创建集合失败: %w", err)
		}
		idx, err := buildIndexFromConfig(schemaCfg.Index)
		if err != nil {
			return err
		}
		if err := c.CreateIndex(ctx, collName, schemaCfg.Index.FieldName, idx, false); err != nil {
			return fmt.Errorf("为字段 '%s' 创建索引失败: %w", schemaCfg.Index.FieldName, err)
		}
		log.Printf("✅ 已创建集合 '%s'", collName)
	}

	if err := c.LoadCollection(ctx, collName, false); err != nil {
		return fmt.Errorf("加载 Milvus 集合 '%s' 失败: %w", collName, err)
	}
	return nil
}

func buildField(fieldCfg config.FieldConfig) (*entity.Field, error) {
	field := entity.NewField().WithName(fieldCfg.Name)
	if fieldCfg.IsPrimaryKey {
		field = field.WithIsPrimaryKey(true)
	}
	if fieldCfg.IsAutoID {
		field = field.WithIsAutoID(true)
	}
	switch fieldCfg.DataType {
	case "Int64":
		field = field.WithDataType(entity.FieldTypeInt64)
	case "VarChar":
		field = field.WithDataType(entity.FieldTypeVarChar).WithMaxLength(int64(fieldCfg.MaxLength))
	case "FloatVector":
		field = field.WithDataType(entity.FieldTypeFloatVector).WithDim(int64(fieldCfg.Dim))
	case "Bool":
		field = field.WithDataType(entity.FieldTypeBool)
	default:
		return nil, fmt.Errorf("不支持的数据类型: %s", fieldCfg.DataType)
	}
	return field, nil
}

// buildIndexFromConfig 从配置构建索引实体。
func buildIndexFromConfig(indexCfg config.IndexConfig) (entity.Index, error) {
	metricType := entity.MetricType(indexCfg.MetricType)
	switch indexCfg.IndexType {
	case "IVF_FLAT":
		return entity.NewIndexIvfFlat(metricType, intParam(indexCfg.Params, "nlist", 128))
	case "HNSW":
		return entity.NewIndexHNSW(metricType,
			intParam(indexCfg.Params, "M", 8),
			intParam(indexCfg.Params, "efConstruction", 96))
	case "AUTOINDEX":
		return entity.NewIndexAUTOINDEX(metricType)
	default:
		return nil, fmt.Errorf("不支持的索引类型: %s", indexCfg.IndexType)
	}
}

// intParam 兼容 YAML 解析出的 int 和 float64。
func intParam(params map[string]interface{}, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}
