package store

import (
	"context"
	"encoding/binary"
	"math"
	"sort"
	"time"

	"github.com/arashkay/JackTheButler-sub003/internal/domain"
)

// KnowledgeStore implements domain.KnowledgeStore. Embeddings are stored as
// little-endian float32 blobs and ranked by cosine similarity on a full
// table scan; grounded on the teacher's vector store, minus the keyword/RRF
// fusion and MMR re-ranking the Butler's knowledge base doesn't need.
type KnowledgeStore struct{ db *DB }

func NewKnowledgeStore(db *DB) *KnowledgeStore { return &KnowledgeStore{db: db} }

const knowledgeColumns = "id, title, content, embedding, created_at, updated_at"

func scanKnowledge(row interface{ Scan(...any) error }) (*domain.KnowledgeEntry, error) {
	var e domain.KnowledgeEntry
	var embBlob []byte
	var createdAt, updatedAt string
	if err := row.Scan(&e.ID, &e.Title, &e.Content, &embBlob, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	e.Embedding = bytesToFloat32(embBlob)
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &e, nil
}

func (s *KnowledgeStore) Get(ctx context.Context, id string) (*domain.KnowledgeEntry, error) {
	row := s.db.conn.QueryRowContext(ctx, "SELECT "+knowledgeColumns+" FROM knowledge_entries WHERE id = ?", id)
	e, err := scanKnowledge(row)
	if err != nil {
		return nil, noRowsToNotFound("KnowledgeStore.Get", err)
	}
	return e, nil
}

func (s *KnowledgeStore) Upsert(ctx context.Context, e *domain.KnowledgeEntry) error {
	if e.ID == "" {
		e.ID = domain.NewID(domain.PrefixKnowledge)
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	_, err := s.db.conn.ExecContext(ctx,
		`INSERT INTO knowledge_entries (id, title, content, embedding, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			embedding = excluded.embedding,
			updated_at = excluded.updated_at`,
		e.ID, e.Title, e.Content, float32ToBytes(e.Embedding),
		e.CreatedAt.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return domain.WrapError("KnowledgeStore.Upsert", domain.KindConflict, err, "")
	}
	return nil
}

func (s *KnowledgeStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.conn.ExecContext(ctx, "DELETE FROM knowledge_entries WHERE id = ?", id)
	if err != nil {
		return domain.WrapError("KnowledgeStore.Delete", domain.KindTransient, err, "")
	}
	return rowsAffectedOrNotFound(res, "KnowledgeStore.Delete")
}

// Search ranks every entry with a stored embedding by cosine similarity to
// query and returns the topK, highest first.
func (s *KnowledgeStore) Search(ctx context.Context, query []float32, topK int) ([]domain.KnowledgeMatch, error) {
	rows, err := s.db.conn.QueryContext(ctx,
		"SELECT "+knowledgeColumns+" FROM knowledge_entries WHERE embedding IS NOT NULL")
	if err != nil {
		return nil, domain.WrapError("KnowledgeStore.Search", domain.KindTransient, err, "")
	}
	defer rows.Close()

	var matches []domain.KnowledgeMatch
	for rows.Next() {
		e, err := scanKnowledge(rows)
		if err != nil {
			return nil, domain.WrapError("KnowledgeStore.Search", domain.KindFatal, err, "scan")
		}
		sim := cosineSimilarity(query, e.Embedding)
		if sim <= 0 {
			continue
		}
		matches = append(matches, domain.KnowledgeMatch{Entry: *e, Score: float64(sim)})
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError("KnowledgeStore.Search", domain.KindFatal, err, "")
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// cosineSimilarity computes dot(a,b) / (||a|| * ||b||), returning 0 for
// mismatched lengths, empty vectors, or a NaN/Inf result.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	denom := float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB)))
	if denom == 0 {
		return 0
	}
	result := dot / denom
	if math.IsNaN(float64(result)) || math.IsInf(float64(result), 0) {
		return 0
	}
	return result
}

// float32ToBytes converts a float32 slice to little-endian bytes for BLOB storage.
func float32ToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32 converts little-endian bytes back to a float32 slice.
func bytesToFloat32(b []byte) []float32 {
	if len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
