package persistence

import (
	"context"
	"time"
)

// QuotaStore is the persistent fallback backend for the rate/quota
// limiters when the shared cache is absent or failing.
type QuotaStore struct {
	pool DBPool
}

func NewQuotaStore(pool DBPool) *QuotaStore {
	return &QuotaStore{pool: pool}
}

// IncrementWindow upserts (user_id, feature, window_start) and returns the
// post-increment count.
func (s *QuotaStore) IncrementWindow(ctx context.Context, userID int64, feature string, windowStart int64) (int64, error) {
	var count int64
	err := withRetry(ctx, func() error {
 row := s.pool.QueryRow(ctx, `
 INSERT INTO rate_limits (user_id, feature, window_start, count)
 VALUES ($1,$2,$3,1)
 ON CONFLICT (user_id, feature, window_start) DO UPDATE SET count = rate_limits.count + 1
 RETURNING count`, userID, feature, windowStart)
 return row.Scan(&count)
	})
	return count, err
}

// WindowCount reads the current count without incrementing.
func (s *QuotaStore) WindowCount(ctx context.Context, userID int64, feature string, windowStart int64) (int64, error) {
	var count int64
	row := s.pool.QueryRow(ctx, `
 SELECT count FROM rate_limits WHERE user_id=$1 AND feature=$2 AND window_start=$3`,
 userID, feature, windowStart)
	err := row.Scan(&count)
	if err != nil {
 return 0, nil //nolint:nilerr // no row means zero count
	}
	return count, nil
}

func (s *QuotaStore) ResetWindow(ctx context.Context, userID int64, feature string, windowStart int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM rate_limits WHERE user_id=$1 AND feature=$2 AND window_start=$3`,
 userID, feature, windowStart)
	return err
}

func (s *QuotaStore) ResetAllWindows(ctx context.Context, userID int64, feature string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM rate_limits WHERE user_id=$1 AND feature=$2`, userID, feature)
	return err
}

// LastUsed returns the last-used timestamp for a feature cooldown, or
// false if none recorded.
func (s *QuotaStore) LastUsed(ctx context.Context, userID int64, feature string) (int64, bool, error) {
	var ts int64
	row := s.pool.QueryRow(ctx, `SELECT last_used FROM feature_cooldowns WHERE user_id=$1 AND feature=$2`,
 userID, feature)
	if err := row.Scan(&ts); err != nil {
 return 0, false, nil //nolint:nilerr
	}
	return ts, true, nil
}

func (s *QuotaStore) SetLastUsed(ctx context.Context, userID int64, feature string, ts int64) error {
	return withRetry(ctx, func() error {
 _, err := s.pool.Exec(ctx, `
 INSERT INTO feature_cooldowns (user_id, feature, last_used) VALUES ($1,$2,$3)
 ON CONFLICT (user_id, feature) DO UPDATE SET last_used=$3`, userID, feature, ts)
 return err
	})
}

// IncrementImageQuota upserts the daily image counter for (user, chat,
// UTC date) and returns the post-increment count.
func (s *QuotaStore) IncrementImageQuota(ctx context.Context, userID, chatID int64, day string) (int64, error) {
	var count int64
	err := withRetry(ctx, func() error {
 row := s.pool.QueryRow(ctx, `
 INSERT INTO image_quotas (user_id, chat_id, day, count)
 VALUES ($1,$2,$3,1)
 ON CONFLICT (user_id, chat_id, day) DO UPDATE SET count = image_quotas.count + 1
 RETURNING count`, userID, chatID, day)
 return row.Scan(&count)
	})
	return count, err
}

func (s *QuotaStore) ImageQuotaCount(ctx context.Context, userID, chatID int64, day string) (int64, error) {
	var count int64
	row := s.pool.QueryRow(ctx, `SELECT count FROM image_quotas WHERE user_id=$1 AND chat_id=$2 AND day=$3`,
 userID, chatID, day)
	if err := row.Scan(&count); err != nil {
 return 0, nil //nolint:nilerr
	}
	return count, nil
}

// UTCDay formats t as the image-quota day key.
func UTCDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
