package ratelimit

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/thathunky/gryag/internal/persistence"
)

func newTestLimiter(t *testing.T, mock pgxmock.PgxPoolIface, admins map[int64]struct{}, fixedNow time.Time) *Limiter {
	t.Helper()
	l := New(nil, persistence.NewQuotaStore(mock), admins, 600*time.Second)
	l.now = func() time.Time { return fixedNow }
	return l
}

// per_user_per_hour = 2, three requests
// in the same window -> first two allowed, third blocked with retry_after>0.
func TestCheckAndIncrement_BlocksAfterLimitWithinWindow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Unix(1_700_000_000, 0)
	l := newTestLimiter(t, mock, nil, now)

	insertRe := regexp.QuoteMeta("INSERT INTO rate_limits")
	mock.ExpectQuery(insertRe).WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(1)))
	mock.ExpectQuery(insertRe).WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(2)))
	mock.ExpectQuery(insertRe).WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(3)))

	d1, err := l.CheckAndIncrement(context.Background(), 99, "chat", 2)
	require.NoError(t, err)
	require.True(t, d1.Allowed)

	d2, err := l.CheckAndIncrement(context.Background(), 99, "chat", 2)
	require.NoError(t, err)
	require.True(t, d2.Allowed)

	d3, err := l.CheckAndIncrement(context.Background(), 99, "chat", 2)
	require.NoError(t, err)
	require.False(t, d3.Allowed)
	require.Greater(t, d3.RetryAfter, time.Duration(0))

	require.NoError(t, mock.ExpectationsWereMet())
}

// Admin bypass always allows regardless of state, and
// never touches the database.
func TestCheckAndIncrement_AdminBypassNeverQueries(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Unix(1_700_000_000, 0)
	l := newTestLimiter(t, mock, map[int64]struct{}{7: {}}, now)

	d, err := l.CheckAndIncrement(context.Background(), 7, "chat", 1)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.NoError(t, mock.ExpectationsWereMet()) // no expectations set, none consumed
}

// Window reset: a later window starts at count 0.
func TestCheckAndIncrement_WindowReset(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	t1 := time.Unix(1_700_000_000, 0)
	t2 := t1.Add(2 * time.Hour)

	l := New(nil, persistence.NewQuotaStore(mock), nil, 600*time.Second)

	insertRe := regexp.QuoteMeta("INSERT INTO rate_limits")
	mock.ExpectQuery(insertRe).WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(1)))
	l.now = func() time.Time { return t1 }
	d1, err := l.CheckAndIncrement(context.Background(), 1, "f", 1)
	require.NoError(t, err)
	require.True(t, d1.Allowed)

	mock.ExpectQuery(insertRe).WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(1)))
	l.now = func() time.Time { return t2 }
	d2, err := l.CheckAndIncrement(context.Background(), 1, "f", 1)
	require.NoError(t, err)
	require.True(t, d2.Allowed)

	require.NoError(t, mock.ExpectationsWereMet())
}

// Exactly one throttle notice per suppression window.
func TestShouldNotify_SuppressesWithinWindow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Unix(1_700_000_000, 0)
	l := newTestLimiter(t, mock, nil, now)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT last_used FROM feature_cooldowns")).
		WillReturnRows(pgxmock.NewRows([]string{"last_used"})) // empty result set -> no row
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO feature_cooldowns")).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	first, err := l.ShouldNotify(context.Background(), 1, "weather")
	require.NoError(t, err)
	require.True(t, first)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT last_used FROM feature_cooldowns")).
		WillReturnRows(pgxmock.NewRows([]string{"last_used"}).AddRow(now.Unix()))

	second, err := l.ShouldNotify(context.Background(), 1, "weather")
	require.NoError(t, err)
	require.False(t, second)

	require.NoError(t, mock.ExpectationsWereMet())
}
