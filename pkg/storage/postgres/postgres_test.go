package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/platinummonkey/linkstats/pkg/analytics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStatStore(t *testing.T) (*StatStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewStatStore(SingleDB(db), time.UTC), mock
}

func mustDay(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := analytics.ParseDay(s)
	require.NoError(t, err)
	return d
}

func TestStatStore_ListSubjects(t *testing.T) {
	store, mock := newMockStatStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM link_pages ORDER BY id")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(7).AddRow(42))

	ids, err := store.ListSubjects(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 7, 42}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatStore_ListSubjects_Error(t *testing.T) {
	store, mock := newMockStatStore(t)

	mock.ExpectQuery("SELECT id FROM link_pages").WillReturnError(errors.New("connection reset"))

	_, err := store.ListSubjects(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list link pages")
}

func TestStatStore_HistoricalViews(t *testing.T) {
	store, mock := newMockStatStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(SUM(view_count), 0)")).
		WithArgs(int64(7), "2026-10-15").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(100))

	total, err := store.HistoricalViews(context.Background(), 7, mustDay(t, "2026-10-15"))
	require.NoError(t, err)
	assert.Equal(t, int64(100), total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatStore_HistoricalViews_ExcludesToday(t *testing.T) {
	store, mock := newMockStatStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("AND stat_date < $2::date")).
		WithArgs(int64(7), "2026-10-15").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(0))

	_, err := store.HistoricalViews(context.Background(), 7, mustDay(t, "2026-10-15"))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatStore_UpsertDailyViews(t *testing.T) {
	store, mock := newMockStatStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO link_page_daily_views")).
		WithArgs(int64(7), "2026-10-15", int64(20)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpsertDailyViews(context.Background(), 7, mustDay(t, "2026-10-15"), 20)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatStore_UpsertDailyViews_IsSingleAtomicStatement(t *testing.T) {
	store, mock := newMockStatStore(t)

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (link_page_id, stat_date) DO UPDATE SET view_count = EXCLUDED.view_count")).
		WithArgs(int64(3), "2026-10-15", int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, store.UpsertDailyViews(context.Background(), 3, mustDay(t, "2026-10-15"), 5))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatStore_UpsertDailyViews_Error(t *testing.T) {
	store, mock := newMockStatStore(t)

	mock.ExpectExec("INSERT INTO link_page_daily_views").WillReturnError(errors.New("deadlock detected"))

	err := store.UpsertDailyViews(context.Background(), 3, mustDay(t, "2026-10-15"), 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadlock detected")
}

func TestStatStore_RollupDailyClicks(t *testing.T) {
	store, mock := newMockStatStore(t)

	start := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO link_page_daily_link_clicks")).
		WithArgs("2026-10-14", start, start.AddDate(0, 0, 1)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	rows, err := store.RollupDailyClicks(context.Background(), mustDay(t, "2026-10-14"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatStore_RollupDailyClicks_UsesLocation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	tokyo := time.FixedZone("JST", 9*3600)
	store := NewStatStore(SingleDB(db), tokyo)

	start := time.Date(2026, 10, 13, 15, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO link_page_daily_link_clicks").
		WithArgs("2026-10-14", start, start.Add(24*time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err = store.RollupDailyClicks(context.Background(), mustDay(t, "2026-10-14"))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatStore_DeleteBefore(t *testing.T) {
	store, mock := newMockStatStore(t)
	cutoff := mustDay(t, "2026-07-17")

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM link_page_daily_views WHERE stat_date < $1::date")).
		WithArgs("2026-07-17").
		WillReturnResult(sqlmock.NewResult(0, 12))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM link_page_daily_link_clicks WHERE stat_date < $1::date")).
		WithArgs("2026-07-17").
		WillReturnError(errors.New("lock timeout"))

	views, err := store.DeleteViewsBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(12), views)

	_, err = store.DeleteClicksBefore(context.Background(), cutoff)
	assert.EqualError(t, err, "lock timeout")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatStore_DailyViews(t *testing.T) {
	store, mock := newMockStatStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM link_page_daily_views")).
		WithArgs(int64(7), "2026-10-01", "2026-10-15").
		WillReturnRows(sqlmock.NewRows([]string{"stat_date", "view_count"}).
			AddRow("2026-10-10", 4).
			AddRow("2026-10-12", 6))

	stats, err := store.DailyViews(context.Background(), 7, mustDay(t, "2026-10-01"), mustDay(t, "2026-10-15"))
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, analytics.DailyStat{SubjectID: 7, StatDate: mustDay(t, "2026-10-10"), Date: "2026-10-10", Count: 4}, stats[0])
	assert.Equal(t, int64(6), stats[1].Count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatStore_DailyViews_Empty(t *testing.T) {
	store, mock := newMockStatStore(t)

	mock.ExpectQuery("FROM link_page_daily_views").
		WillReturnRows(sqlmock.NewRows([]string{"stat_date", "view_count"}))

	stats, err := store.DailyViews(context.Background(), 7, mustDay(t, "2026-10-01"), mustDay(t, "2026-10-15"))
	require.NoError(t, err)
	assert.NotNil(t, stats)
	assert.Empty(t, stats)
}

func TestStatStore_DailyClicks(t *testing.T) {
	store, mock := newMockStatStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM link_page_daily_link_clicks")).
		WithArgs(int64(7), "2026-10-01", "2026-10-15").
		WillReturnRows(sqlmock.NewRows([]string{"stat_date", "link_url", "click_count"}).
			AddRow("2026-10-11", "https://b.test", 5).
			AddRow("2026-10-11", "https://a.test", 1))

	clicks, err := store.DailyClicks(context.Background(), 7, mustDay(t, "2026-10-01"), mustDay(t, "2026-10-15"))
	require.NoError(t, err)
	require.Len(t, clicks, 2)
	assert.Equal(t, "https://b.test", clicks[0].LinkURL)
	assert.Equal(t, int64(5), clicks[0].Count)
	assert.Equal(t, mustDay(t, "2026-10-11"), clicks[1].StatDate)
	assert.NoError(t, mock.ExpectationsWereMet())
}
