package voice

import (
	"context"
	"fmt"

	"Steward/backend/go/internal/database/neo4j"
	"Steward/backend/go/internal/models"

	neo4jdriver "github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jMentionGraph 记录 (VoiceNote)-[:MENTIONS]->(Person) 关系。
type Neo4jMentionGraph struct {
	client *neo4j.Neo4jClient
}

func NewNeo4jMentionGraph(client *neo4j.Neo4jClient) *Neo4jMentionGraph {
	return &Neo4jMentionGraph{client: client}
}

// LinkMentions 为笔记提及的每个人建立关系。重复执行是幂等的。
func (g *Neo4jMentionGraph) LinkMentions(ctx context.Context, note *models.VoiceNote) error {
	_, err := g.client.ExecuteWrite(ctx, func(tx neo4jdriver.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			MERGE (n:VoiceNote {id: $note_id})
			SET n.owner = $owner, n.recorded_at = $recorded_at
			WITH n
			UNWIND $people AS name
			MERGE (p:Person {name: name})
			MERGE (n)-[:MENTIONS]->(p)`,
			map[string]any{
				"note_id":     note.ID,
				"owner":       note.RecordedBy,
				"recorded_at": note.RecordedAt.Unix(),
				"people":      note.MentionedPeople,
			})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("关联提及失败: %w", err)
	}
	return nil
}

// NotesMentioning 返回提及某人的笔记 ID，按录制时间倒序。
func (g *Neo4jMentionGraph) NotesMentioning(ctx context.Context, person string, limit int) ([]string, error) {
	out, err := g.client.ExecuteRead(ctx, func(tx neo4jdriver.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (n:VoiceNote)-[:MENTIONS]->(p:Person {name: $name})
			RETURN n.id AS id ORDER BY n.recorded_at DESC LIMIT $limit`,
			map[string]any{"name": person, "limit": limit})
		if err != nil {
			return nil, err
		}
		var ids []string
		for res.Next(ctx) {
			if id, ok := res.Record().Get("id"); ok {
				if s, ok := id.(string); ok {
					ids = append(ids, s)
				}
			}
		}
		return ids, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("查询提及失败: %w", err)
	}
	ids, _ := out.([]string)
	return ids, nil
}
