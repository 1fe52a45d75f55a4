package store

import (
	"context"
	"encoding/binary"
	"math"
	"time"
)

// HistoryItem is one turn of an agent's deliberation history (prompt
// context it saw, or action it emitted), optionally embedded for
// similarity recall.
type HistoryItem struct {
	ID        int64
	AgentID   string
	Role      string // system | user | assistant
	Content   string
	Embedding []float32
	Tokens    int
	CreatedAt time.Time
}

// AppendHistory records one turn of an agent's history. Embedding may be
// nil when no embedder is configured; RecallHistory then falls back to
// recency ordering.
func (s *Store) AppendHistory(ctx context.Context, agentID, role, content string, embedding []float32, tokens int) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_history (agent_id, role, content, embedding, tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		agentID, role, content, encodeEmbedding(embedding), tokens, now)
	return err
}

// RecentHistory returns the last n history items for an agent, oldest
// first (ready to feed straight into a prompt).
func (s *Store) RecentHistory(ctx context.Context, agentID string, n int) ([]HistoryItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, role, content, embedding, tokens, created_at
		FROM agent_history WHERE agent_id = ? ORDER BY id DESC LIMIT ?`, agentID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items, err := scanHistory(rows)
	if err != nil {
		return nil, err
	}
	// Reverse to oldest-first.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

// RecallHistory returns the top-k history items most similar to
// queryEmbedding by cosine similarity. When queryEmbedding is nil (no
// embedder configured) it falls back to the k most recent items.
func (s *Store) RecallHistory(ctx context.Context, agentID string, queryEmbedding []float32, k int) ([]HistoryItem, error) {
	if len(queryEmbedding) == 0 {
		return s.RecentHistory(ctx, agentID, k)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, role, content, embedding, tokens, created_at
		FROM agent_history WHERE agent_id = ? AND embedding IS NOT NULL ORDER BY id DESC LIMIT 500`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	candidates, err := scanHistory(rows)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return s.RecentHistory(ctx, agentID, k)
	}

	type scored struct {
		item  HistoryItem
		score float64
	}
	scoredItems := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		scoredItems = append(scoredItems, scored{item: c, score: cosineSimilarity(queryEmbedding, c.Embedding)})
	}
	// Simple selection sort for top-k; candidate set is capped at 500.
	for i := 0; i < k && i < len(scoredItems); i++ {
		best := i
		for j := i + 1; j < len(scoredItems); j++ {
			if scoredItems[j].score > scoredItems[best].score {
				best = j
			}
		}
		scoredItems[i], scoredItems[best] = scoredItems[best], scoredItems[i]
	}
	if k > len(scoredItems) {
		k = len(scoredItems)
	}
	out := make([]HistoryItem, k)
	for i := 0; i < k; i++ {
		out[i] = scoredItems[i].item
	}
	return out, nil
}

func scanHistory(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]HistoryItem, error) {
	var out []HistoryItem
	for rows.Next() {
		var h HistoryItem
		var createdAt string
		var embBlob []byte
		if err := rows.Scan(&h.ID, &h.AgentID, &h.Role, &h.Content, &embBlob, &h.Tokens, &createdAt); err != nil {
			return nil, err
		}
		h.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		h.Embedding = decodeEmbedding(embBlob)
		out = append(out, h)
	}
	return out, rows.Err()
}

func encodeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	if len(buf) == 0 {
		return nil
	}
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
