package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/vietddude/logsync/internal/core/domain"
	"github.com/vietddude/logsync/internal/infra/storage"
)

// MessageRepo implements storage.MessageRepository over SQL.
type MessageRepo struct {
	db *DB
}

// NewMessageRepo creates a new SQL message repository.
func NewMessageRepo(db *DB) *MessageRepo {
	return &MessageRepo{db: db}
}

type messageRow struct {
	Channel     string `db:"channel"`
	ID          string `db:"id"`
	BlockNumber uint64 `db:"block_number"`
	LogIndex    uint64 `db:"log_index"`
	TxHash      string `db:"tx_hash"`
	Sender      string `db:"sender"`
	DisplayName string `db:"display_name"`
	Content     string `db:"content"`
	Timestamp   int64  `db:"ts"`
}

func toRow(channel string, m domain.Message) messageRow {
	return messageRow{
		Channel:     channel,
		ID:          m.ID,
		BlockNumber: m.BlockNumber,
		LogIndex:    m.LogIndex,
		TxHash:      m.TxHash,
		Sender:      m.Sender,
		DisplayName: m.DisplayName,
		Content:     m.Content,
		Timestamp:   m.Timestamp.Unix(),
	}
}

func (r *messageRow) toDomain() domain.Message {
	return domain.Message{
		ID:          r.ID,
		Channel:     r.Channel,
		BlockNumber: r.BlockNumber,
		LogIndex:    r.LogIndex,
		TxHash:      r.TxHash,
		Sender:      r.Sender,
		DisplayName: r.DisplayName,
		Content:     r.Content,
		Timestamp:   time.Unix(r.Timestamp, 0).UTC(),
	}
}

const messageColumns = `channel, id, block_number, log_index, tx_hash, sender, display_name, content, ts`

// Upsert saves messages in one transaction and reports how many were new.
func (r *MessageRepo) Upsert(ctx context.Context, channel string, msgs []domain.Message) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}
	channel = domain.NormalizeChannel(channel)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	insert, err := tx.PrepareNamedContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (:channel, :id, :block_number, :log_index, :tx_hash, :sender, :display_name, :content, :ts)
		ON CONFLICT (channel, id) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer insert.Close()

	update, err := tx.PrepareNamedContext(ctx, `
		UPDATE messages SET
			block_number = :block_number,
			log_index = :log_index,
			tx_hash = :tx_hash,
			sender = :sender,
			display_name = :display_name,
			content = :content,
			ts = :ts
		WHERE channel = :channel AND id = :id
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare update: %w", err)
	}
	defer update.Close()

	added := 0
	for _, m := range msgs {
		row := toRow(channel, m)
		res, err := insert.ExecContext(ctx, row)
		if err != nil {
			return 0, fmt.Errorf("failed to insert message %s: %w", m.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		if n > 0 {
			added++
			continue
		}
		if _, err := update.ExecContext(ctx, row); err != nil {
			return 0, fmt.Errorf("failed to update message %s: %w", m.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit messages: %w", err)
	}
	return added, nil
}

// Query returns the most recent messages in ascending order.
func (r *MessageRepo) Query(ctx context.Context, channel string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return r.All(ctx, channel)
	}

	query := r.db.Rebind(`
		SELECT ` + messageColumns + ` FROM messages
		WHERE channel = ?
		ORDER BY block_number DESC, log_index DESC
		LIMIT ?
	`)

	var rows []messageRow
	if err := r.db.SelectContext(ctx, &rows, query, domain.NormalizeChannel(channel), limit); err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}

	out := make([]domain.Message, len(rows))
	for i := range rows {
		out[len(rows)-1-i] = rows[i].toDomain()
	}
	return out, nil
}

// All returns every message of a channel in ascending order.
func (r *MessageRepo) All(ctx context.Context, channel string) ([]domain.Message, error) {
	query := r.db.Rebind(`
		SELECT ` + messageColumns + ` FROM messages
		WHERE channel = ?
		ORDER BY block_number ASC, log_index ASC
	`)

	var rows []messageRow
	if err := r.db.SelectContext(ctx, &rows, query, domain.NormalizeChannel(channel)); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	out := make([]domain.Message, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	storage.SortMessages(out)
	return out, nil
}

// Count returns the number of stored messages of a channel.
func (r *MessageRepo) Count(ctx context.Context, channel string) (int, error) {
	var count int
	query := r.db.Rebind(`SELECT COUNT(*) FROM messages WHERE channel = ?`)
	if err := r.db.GetContext(ctx, &count, query, domain.NormalizeChannel(channel)); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// DeleteChannel removes every message of a channel.
func (r *MessageRepo) DeleteChannel(ctx context.Context, channel string) error {
	query := r.db.Rebind(`DELETE FROM messages WHERE channel = ?`)
	if _, err := r.db.ExecContext(ctx, query, domain.NormalizeChannel(channel)); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return nil
}

// DeleteAll removes every message.
func (r *MessageRepo) DeleteAll(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM messages`); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return nil
}
