package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"github.com/sj48695/langchain-example/internal/models"
)

type threadMessage struct {
	bun.BaseModel `bun:"table:thread_messages,alias:tm"`

	ID         int64     `bun:"id,pk,autoincrement"`
	ThreadID   string    `bun:"thread_id,notnull"`
	Seq        int       `bun:"seq,notnull"`
	Role       string    `bun:"role,notnull"`
	Content    string    `bun:"content,notnull"`
	ToolCalls  string    `bun:"tool_calls,notnull"`
	ToolCallID string    `bun:"tool_call_id,notnull"`
	Name       string    `bun:"name,notnull"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
}

// BunSaver stores transcripts in the thread_messages table. It runs on the
// Postgres and SQLite dialects.
type BunSaver struct {
	db *bun.DB
}

func NewBunSaver(db *bun.DB) *BunSaver {
	return &BunSaver{db: db}
}

// Init creates the table and its (thread_id, seq) index.
func (s *BunSaver) Init(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().Model((*threadMessage)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create thread_messages: %w", err)
	}
	_, err := s.db.NewCreateIndex().
		Model((*threadMessage)(nil)).
		Index("thread_messages_thread_seq_idx").
		Unique().
		IfNotExists().
		Column("thread_id", "seq").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create thread_messages index: %w", err)
	}
	return nil
}

func (s *BunSaver) Append(ctx context.Context, threadID string, msgs ...models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	now := time.Now().UTC()

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := s.lockThread(ctx, tx, threadID); err != nil {
			return err
		}

		var last int
		err := tx.NewSelect().
			Model((*threadMessage)(nil)).
			ColumnExpr("COALESCE(MAX(seq), 0)").
			Where("thread_id = ?", threadID).
			Scan(ctx, &last)
		if err != nil {
			return fmt.Errorf("failed to read last seq: %w", err)
		}

		rows := make([]threadMessage, len(msgs))
		for i, m := range msgs {
			calls := ""
			if len(m.ToolCalls) > 0 {
				b, err := json.Marshal(m.ToolCalls)
				if err != nil {
					return fmt.Errorf("failed to encode tool calls: %w", err)
				}
				calls = string(b)
			}
			rows[i] = threadMessage{
				ThreadID:   threadID,
				Seq:        last + i + 1,
				Role:       string(m.Role),
				Content:    m.Content,
				ToolCalls:  calls,
				ToolCallID: m.ToolCallID,
				Name:       m.Name,
				CreatedAt:  now,
			}
		}
		if _, err := tx.NewInsert().Model(&rows).Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert messages: %w", err)
		}
		return nil
	})
}

// lockThread serializes appends to one thread until tx ends. SQLite runs on a
// single connection and needs no lock.
func (s *BunSaver) lockThread(ctx context.Context, tx bun.Tx, threadID string) error {
	if s.db.Dialect().Name() != dialect.PG {
		return nil
	}
	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext(?))", threadID); err != nil {
		return fmt.Errorf("failed to lock thread %s: %w", threadID, err)
	}
	return nil
}

func (s *BunSaver) Transcript(ctx context.Context, threadID string) ([]models.Message, error) {
	var rows []threadMessage
	err := s.db.NewSelect().
		Model(&rows).
		Where("thread_id = ?", threadID).
		Order("seq ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load thread %s: %w", threadID, err)
	}

	out := make([]models.Message, len(rows))
	for i, r := range rows {
		out[i] = models.Message{
			Role:       models.Role(r.Role),
			Content:    r.Content,
			ToolCallID: r.ToolCallID,
			Name:       r.Name,
		}
		if r.ToolCalls != "" {
			if err := json.Unmarshal([]byte(r.ToolCalls), &out[i].ToolCalls); err != nil {
				return nil, fmt.Errorf("failed to decode tool calls of %s#%d: %w", threadID, r.Seq, err)
			}
		}
	}
	return out, nil
}

func (s *BunSaver) Threads(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.NewSelect().
		Model((*threadMessage)(nil)).
		Distinct().
		Column("thread_id").
		Order("thread_id ASC").
		Scan(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	return ids, nil
}

func (s *BunSaver) Delete(ctx context.Context, threadID string) error {
	_, err := s.db.NewDelete().
		Model((*threadMessage)(nil)).
		Where("thread_id = ?", threadID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete thread %s: %w", threadID, err)
	}
	return nil
}
