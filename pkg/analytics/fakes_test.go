package analytics

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// memStore is an in-memory stand-in for the Postgres stat store and the
// counter backend. It mirrors their semantics: missing counters read as
// zero, and upserts replace.
type memStore struct {
	mu sync.Mutex

	subjects []int64
	listErr  error
	counters map[int64]int64
	views    map[int64]map[time.Time]int64
	clicks   map[int64]map[time.Time]int64

	failCounter    map[int64]error
	failHistorical map[int64]error
	failUpsert     map[int64]error
	failPrune      error

	upserts int
}

func newMemStore() *memStore {
	return &memStore{
		counters:       make(map[int64]int64),
		views:          make(map[int64]map[time.Time]int64),
		clicks:         make(map[int64]map[time.Time]int64),
		failCounter:    make(map[int64]error),
		failHistorical: make(map[int64]error),
		failUpsert:     make(map[int64]error),
	}
}

func (m *memStore) ListSubjects(ctx context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]int64(nil), m.subjects...), nil
}

func (m *memStore) CurrentTotal(ctx context.Context, id int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failCounter[id]; err != nil {
		return 0, err
	}
	return m.counters[id], nil
}

func (m *memStore) Increment(ctx context.Context, id int64, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[id] += delta
	return m.counters[id], nil
}

func (m *memStore) HistoricalViews(ctx context.Context, id int64, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failHistorical[id]; err != nil {
		return 0, err
	}
	var sum int64
	for day, n := range m.views[id] {
		if day.Before(before) {
			sum += n
		}
	}
	return sum, nil
}

func (m *memStore) UpsertDailyViews(ctx context.Context, id int64, day time.Time, count int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failUpsert[id]; err != nil {
		return err
	}
	if m.views[id] == nil {
		m.views[id] = make(map[time.Time]int64)
	}
	m.views[id][day] = count
	m.upserts++
	return nil
}

func (m *memStore) setView(id int64, day time.Time, count int64) {
	if m.views[id] == nil {
		m.views[id] = make(map[time.Time]int64)
	}
	m.views[id][day] = count
}

func (m *memStore) rowCount(id int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.views[id])
}

func (m *memStore) deleteBefore(rows map[int64]map[time.Time]int64, cutoff time.Time) int64 {
	var deleted int64
	for _, days := range rows {
		for day := range days {
			if day.Before(cutoff) {
				delete(days, day)
				deleted++
			}
		}
	}
	return deleted
}

func (m *memStore) DeleteViewsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteBefore(m.views, cutoff), nil
}

func (m *memStore) DeleteClicksBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPrune != nil {
		return 0, m.failPrune
	}
	return m.deleteBefore(m.clicks, cutoff), nil
}

func (m *memStore) DailyViews(ctx context.Context, id int64, from, to time.Time) ([]DailyStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []DailyStat
	for day, n := range m.views[id] {
		if !day.Before(from) && !day.After(to) {
			out = append(out, DailyStat{SubjectID: id, StatDate: day, Date: FormatDay(day), Count: n})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StatDate.Before(out[j].StatDate) })
	return out, nil
}

func (m *memStore) DailyClicks(ctx context.Context, id int64, from, to time.Time) ([]DailyLinkClick, error) {
	return nil, errors.New("not implemented")
}

type memClickSink struct {
	events []ClickEvent
	err    error
}

func (s *memClickSink) InsertClick(ctx context.Context, event ClickEvent) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

type rollupFunc func(ctx context.Context, day time.Time) (int64, error)

func (f rollupFunc) RollupDailyClicks(ctx context.Context, day time.Time) (int64, error) {
	return f(ctx, day)
}

type clickReader struct {
	rows []DailyLinkClick
	from time.Time
	to   time.Time
}

func (r *clickReader) DailyViews(ctx context.Context, id int64, from, to time.Time) ([]DailyStat, error) {
	return nil, nil
}

func (r *clickReader) DailyClicks(ctx context.Context, id int64, from, to time.Time) ([]DailyLinkClick, error) {
	r.from, r.to = from, to
	return r.rows, nil
}

func day(s string) time.Time {
	d, err := ParseDay(s)
	if err != nil {
		panic(err)
	}
	return d
}
