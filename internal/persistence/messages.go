package persistence

import (
	"context"
	"sort"

	"github.com/thathunky/gryag/internal/model"
	"github.com/thathunky/gryag/internal/vecmath"
)

// MessageStore persists the Message log and serves the live-history and
// search queries the context assembler and hybrid retrieval depend on.
type MessageStore struct {
	pool DBPool
}

func NewMessageStore(pool DBPool) *MessageStore {
	return &MessageStore{pool: pool}
}

// Append inserts msg and returns its assigned id. Tried up to 3 times on
// transient failure. FTS indexing is automatic via the
// generated tsv column, so no separate write is needed in the same
// transaction.
func (s *MessageStore) Append(ctx context.Context, msg model.Message) (int64, error) {
	var id int64
	err := withRetry(ctx, func() error {
 row := s.pool.QueryRow(ctx, `
 INSERT INTO messages (chat_id, thread_id, user_id, role, text, media_json,
 embedding_json, ts, telegram_msg_id, addressed, reply_to_msg_id)
 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
 RETURNING id`,
 msg.ChatID, msg.ThreadID, msg.UserID, string(msg.Role), msg.Text, msg.MediaJSON,
 msg.EmbeddingJSON, msg.TS, msg.TelegramMsgID, msg.Addressed, msg.ReplyToMsgID,
 )
 return row.Scan(&id)
	})
	return id, err
}

// BackfillEmbedding sets the embedding for a previously inserted message.
func (s *MessageStore) BackfillEmbedding(ctx context.Context, id int64, vec []float32) error {
	j, err := encodeVector(vec)
	if err != nil {
 return err
	}
	return withRetry(ctx, func() error {
 _, err := s.pool.Exec(ctx, `UPDATE messages SET embedding_json=$1 WHERE id=$2`, j, id)
 return err
	})
}

// Recent returns the newest n messages for (chat_id, thread_id), reordered
// oldest-to-newest (chronological) for direct use as context turns.
func (s *MessageStore) Recent(ctx context.Context, chatID int64, threadID *int64, n int) ([]model.Message, error) {
	if n <= 0 {
 return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
 SELECT id, chat_id, thread_id, user_id, role, text, media_json, embedding_json,
 ts, telegram_msg_id, addressed, reply_to_msg_id
 FROM messages
 WHERE chat_id=$1 AND thread_id IS NOT DISTINCT FROM $2
 ORDER BY ts DESC, id DESC
 LIMIT $3`, chatID, threadID, n)
	if err != nil {
 return nil, err
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
 var m model.Message
 var role string
 if err := rows.Scan(&m.ID, &m.ChatID, &m.ThreadID, &m.UserID, &role, &m.Text, &m.MediaJSON,
 &m.EmbeddingJSON, &m.TS, &m.TelegramMsgID, &m.Addressed, &m.ReplyToMsgID); err != nil {
 return nil, err
 }
 m.Role = model.Role(role)
 out = append(out, m)
	}
	if err := rows.Err(); err != nil {
 return nil, err
	}
	// reverse: newest-first -> chronological
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
 out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// GetByID fetches a single message by its Telegram message id within a
// chat, used for reply-to injection: a stored ReplyToMsgID is a Telegram
// message id (see Message.ReplyToMsgID), not the messages.id primary key,
// so the lookup has to go through telegram_msg_id rather than id.
func (s *MessageStore) GetByID(ctx context.Context, chatID, telegramMsgID int64) (model.Message, bool, error) {
	row := s.pool.QueryRow(ctx, `
 SELECT id, chat_id, thread_id, user_id, role, text, media_json, embedding_json,
 ts, telegram_msg_id, addressed, reply_to_msg_id
 FROM messages WHERE chat_id=$1 AND telegram_msg_id=$2`, chatID, telegramMsgID)
	var m model.Message
	var role string
	if err := row.Scan(&m.ID, &m.ChatID, &m.ThreadID, &m.UserID, &role, &m.Text, &m.MediaJSON,
 &m.EmbeddingJSON, &m.TS, &m.TelegramMsgID, &m.Addressed, &m.ReplyToMsgID); err != nil {
 return model.Message{}, false, nil
	}
	m.Role = model.Role(role)
	return m, true, nil
}

// ScoredMessage pairs a message with a similarity or rank score.
type ScoredMessage struct {
	Message model.Message
	Score float64
}

// SemanticSearch fetches up to maxSearchCandidates messages with non-null
// embeddings, scores them in-process by cosine similarity against
// queryVec, and returns the top k with score > 0.
func (s *MessageStore) SemanticSearch(ctx context.Context, chatID int64, threadID *int64, queryVec []float32, k, maxCandidates int) ([]ScoredMessage, error) {
	if maxCandidates <= 0 {
 maxCandidates = 500
	}
	rows, err := s.pool.Query(ctx, `
 SELECT id, chat_id, thread_id, user_id, role, text, media_json, embedding_json,
 ts, telegram_msg_id, addressed, reply_to_msg_id
 FROM messages
 WHERE chat_id=$1 AND thread_id IS NOT DISTINCT FROM $2 AND embedding_json <> ''
 ORDER BY ts DESC
 LIMIT $3`, chatID, threadID, maxCandidates)
	if err != nil {
 return nil, err
	}
	defer rows.Close()

	var scored []ScoredMessage
	for rows.Next() {
 var m model.Message
 var role string
 if err := rows.Scan(&m.ID, &m.ChatID, &m.ThreadID, &m.UserID, &role, &m.Text, &m.MediaJSON,
 &m.EmbeddingJSON, &m.TS, &m.TelegramMsgID, &m.Addressed, &m.ReplyToMsgID); err != nil {
 return nil, err
 }
 m.Role = model.Role(role)
 vec, err := decodeVector(m.EmbeddingJSON)
 if err != nil || len(vec) == 0 {
 continue
 }
 score := vecmath.Cosine(queryVec, vec)
 if score > 0 {
 scored = append(scored, ScoredMessage{Message: m, Score: score})
 }
	}
	if err := rows.Err(); err != nil {
 return nil, err
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if k > 0 && len(scored) > k {
 scored = scored[:k]
	}
	return scored, nil
}

// FTSSearch runs a ranked full-text match against the tokens, normalizing
// rank into (0,1].
func (s *MessageStore) FTSSearch(ctx context.Context, chatID int64, threadID *int64, tokens []string, k int) ([]ScoredMessage, error) {
	if len(tokens) == 0 {
 return nil, nil
	}
	query := joinOR(tokens)
	if k <= 0 {
 k = 10
	}
	rows, err := s.pool.Query(ctx, `
 SELECT id, chat_id, thread_id, user_id, role, text, media_json, embedding_json,
 ts, telegram_msg_id, addressed, reply_to_msg_id,
 ts_rank(tsv, plainto_tsquery('simple', $3)) AS rank
 FROM messages
 WHERE chat_id=$1 AND thread_id IS NOT DISTINCT FROM $2
 AND tsv @@ plainto_tsquery('simple', $3)
 ORDER BY rank DESC
 LIMIT $4`, chatID, threadID, query, k)
	if err != nil {
 return nil, err
	}
	defer rows.Close()

	var out []ScoredMessage
	var maxRank float64
	type raw struct {
 m model.Message
 rank float64
	}
	var raws []raw
	for rows.Next() {
 var m model.Message
 var role string
 var rank float64
 if err := rows.Scan(&m.ID, &m.ChatID, &m.ThreadID, &m.UserID, &role, &m.Text, &m.MediaJSON,
 &m.EmbeddingJSON, &m.TS, &m.TelegramMsgID, &m.Addressed, &m.ReplyToMsgID, &rank); err != nil {
 return nil, err
 }
 m.Role = model.Role(role)
 if rank > maxRank {
 maxRank = rank
 }
 raws = append(raws, raw{m: m, rank: rank})
	}
	if err := rows.Err(); err != nil {
 return nil, err
	}
	if maxRank <= 0 {
 maxRank = 1
	}
	for _, r := range raws {
 out = append(out, ScoredMessage{Message: r.m, Score: r.rank / maxRank})
	}
	return out, nil
}

// SenderMessageCounts returns, for a chat, how many messages each user_id
// has sent, used to weight hybrid-retrieval results by how active a
// sender has historically been in the chat.
func (s *MessageStore) SenderMessageCounts(ctx context.Context, chatID int64) (map[int64]int64, error) {
	rows, err := s.pool.Query(ctx, `
 SELECT user_id, COUNT(*) FROM messages
 WHERE chat_id=$1 AND user_id IS NOT NULL
 GROUP BY user_id`, chatID)
	if err != nil {
 return nil, err
	}
	defer rows.Close()
	out := map[int64]int64{}
	for rows.Next() {
 var uid int64
 var n int64
 if err := rows.Scan(&uid, &n); err != nil {
 return nil, err
 }
 out[uid] = n
	}
	return out, rows.Err()
}

// CountByChat returns the number of stored messages for a chat, for the
// chat-memory "view" admin command.
func (s *MessageStore) CountByChat(ctx context.Context, chatID int64) (int64, error) {
	var n int64
	row := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE chat_id=$1`, chatID)
	err := row.Scan(&n)
	return n, err
}

// DeleteByChat removes every stored message for a chat, for the
// chat-memory "reset" admin command. Returns the number of rows removed.
func (s *MessageStore) DeleteByChat(ctx context.Context, chatID int64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE chat_id=$1`, chatID)
	if err != nil {
 return 0, err
	}
	return tag.RowsAffected(), nil
}

func joinOR(tokens []string) string {
	out := ""
	for i, t := range tokens {
 if i > 0 {
 out += " OR "
 }
 out += t
	}
	return out
}

// PruneOlderThan deletes messages older than cutoff in batches of
// batchSize, returning the total number removed. Used by the retention
// background loop.
func (s *MessageStore) PruneOlderThan(ctx context.Context, cutoffTS int64, batchSize int) (int64, error) {
	if batchSize <= 0 {
 batchSize = 500
	}
	var total int64
	for {
 tag, err := s.pool.Exec(ctx, `
 DELETE FROM messages WHERE id IN (
 SELECT id FROM messages WHERE ts < $1 ORDER BY id LIMIT $2
 )`, cutoffTS, batchSize)
 if err != nil {
 return total, err
 }
 n := tag.RowsAffected()
 total += n
 if n < int64(batchSize) {
 break
 }
	}
	return total, nil
}
