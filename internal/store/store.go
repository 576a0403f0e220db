// Package store is the SQL-backed item bank: item parameters, response
// aggregates, exposure counts and completed-session outcomes. It runs on
// Postgres (lib/pq) or on an embedded SQLite file (modernc.org/sqlite).
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/mohammad-safakhou/catengine/internal/recalibration"
	"github.com/mohammad-safakhou/catengine/models"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// Tables names the relations the store reads and writes. ChangeLog may be empty
// to disable change logging.
type Tables struct {
	Items     string
	StatsView string
	Exposure  string
	Sessions  string
	Responses string
	ChangeLog string
}

// DefaultTables matches the bundled schema.
func DefaultTables() Tables {
	return Tables{
		Items:     "items",
		StatsView: "irt_item_stats",
		Exposure:  "item_exposure",
		Sessions:  "exam_sessions",
		Responses: "responses",
		ChangeLog: "irt_param_changes",
	}
}

func (t Tables) withDefaults() Tables {
	d := DefaultTables()
	if t.Items == "" {
		t.Items = d.Items
	}
	if t.StatsView == "" {
		t.StatsView = d.StatsView
	}
	if t.Exposure == "" {
		t.Exposure = d.Exposure
	}
	if t.Sessions == "" {
		t.Sessions = d.Sessions
	}
	if t.Responses == "" {
		t.Responses = d.Responses
	}
	return t
}

func (t Tables) validate() error {
	for _, name := range []string{t.Items, t.StatsView, t.Exposure, t.Sessions, t.Responses} {
		if !identRe.MatchString(name) {
			return fmt.Errorf("invalid table name %q", name)
		}
	}
	if t.ChangeLog != "" && !identRe.MatchString(t.ChangeLog) {
		return fmt.Errorf("invalid table name %q", t.ChangeLog)
	}
	return nil
}

type Options struct {
	Driver string
	// DSN is the Postgres URL or the SQLite file path.
	DSN    string
	Tables Tables
}

type Store struct {
	DB     *sql.DB
	driver string
	tables Tables
	now    func() time.Time
}

// Open connects and pings. SQLite databases get the bundled schema applied;
// Postgres schemas are managed with Migrate.
func Open(ctx context.Context, opts Options) (*Store, error) {
	driver := strings.ToLower(opts.Driver)
	if driver == "" {
		driver = DriverPostgres
	}
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported store driver: %s", opts.Driver)
	}
	db, err := sql.Open(driver, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// a single connection keeps writes serialized on the file
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	s, err := New(db, driver, opts.Tables)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if driver == DriverSQLite {
		if err := s.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// New wraps an existing handle.
func New(db *sql.DB, driver string, tables Tables) (*Store, error) {
	tables = tables.withDefaults()
	if err := tables.validate(); err != nil {
		return nil, err
	}
	return &Store{DB: db, driver: driver, tables: tables, now: time.Now}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

// EnsureSchema applies the embedded SQLite schema. It is idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s.driver != DriverSQLite {
		return fmt.Errorf("ensure schema: only supported for sqlite, use migrations for %s", s.driver)
	}
	if _, err := s.DB.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("apply sqlite schema: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders as $n for Postgres.
func (s *Store) rebind(q string) string {
	if s.driver != DriverPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// UpsertItem inserts or replaces an item's parameters.
func (s *Store) UpsertItem(ctx context.Context, it models.Item) error {
	q := s.rebind(fmt.Sprintf(`INSERT INTO %s (question_id, a, b, c, topic) VALUES (?, ?, ?, ?, ?)
ON CONFLICT (question_id) DO UPDATE SET a = excluded.a, b = excluded.b, c = excluded.c, topic = excluded.topic`, s.tables.Items))
	var topic sql.NullString
	if it.Topic != "" {
		topic = sql.NullString{String: it.Topic, Valid: true}
	}
	if _, err := s.DB.ExecContext(ctx, q, it.ID.String(), it.A, it.B, it.C, topic); err != nil {
		return fmt.Errorf("upsert item %s: %w", it.ID, err)
	}
	return nil
}

// ListItems returns the whole bank ordered by id.
func (s *Store) ListItems(ctx context.Context) ([]models.Item, error) {
	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`SELECT question_id, a, b, c, topic FROM %s ORDER BY question_id`, s.tables.Items))
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()
	var out []models.Item
	for rows.Next() {
		var (
			id    string
			it    models.Item
			topic sql.NullString
		)
		if err := rows.Scan(&id, &it.A, &it.B, &it.C, &topic); err != nil {
			return nil, err
		}
		it.ID = models.ItemID(id)
		it.Topic = topic.String
		out = append(out, it)
	}
	return out, rows.Err()
}

// FetchItemStats reads the aggregate view. Views without an n_responses column
// are supported; NULL parameters come back as NaN so the runner skips them.
func (s *Store) FetchItemStats(ctx context.Context) ([]recalibration.ItemStat, error) {
	withCounts := true
	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`SELECT question_id, a, b, c, correct_rate, n_responses FROM %s`, s.tables.StatsView))
	if err != nil {
		withCounts = false
		rows, err = s.DB.QueryContext(ctx, fmt.Sprintf(`SELECT question_id, a, b, c, correct_rate FROM %s`, s.tables.StatsView))
		if err != nil {
			return nil, fmt.Errorf("fetch item stats: %w", err)
		}
	}
	defer rows.Close()
	var out []recalibration.ItemStat
	for rows.Next() {
		var (
			id         sql.NullString
			a, b, c, r sql.NullFloat64
			n          sql.NullInt64
		)
		dest := []interface{}{&id, &a, &b, &c, &r}
		if withCounts {
			dest = append(dest, &n)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan item stat: %w", err)
		}
		st := recalibration.ItemStat{
			ItemID:      models.ItemID(id.String),
			A:           nullFloat(a),
			B:           nullFloat(b),
			C:           nullFloat(c),
			CorrectRate: nullFloat(r),
		}
		if n.Valid {
			v := int(n.Int64)
			st.Responses = &v
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func nullFloat(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

// PersistItemParams upserts the new parameters and, when a change-log table is
// configured, records old and new values under runID in the same transaction.
func (s *Store) PersistItemParams(ctx context.Context, runID string, u recalibration.ParamUpdate) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var oldA, oldB, oldC sql.NullFloat64
	err = tx.QueryRowContext(ctx, s.rebind(fmt.Sprintf(`SELECT a, b, c FROM %s WHERE question_id = ?`, s.tables.Items)), u.ItemID.String()).
		Scan(&oldA, &oldB, &oldC)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read item %s: %w", u.ItemID, err)
	}

	upsert := s.rebind(fmt.Sprintf(`INSERT INTO %s (question_id, a, b, c) VALUES (?, ?, ?, ?)
ON CONFLICT (question_id) DO UPDATE SET a = excluded.a, b = excluded.b, c = excluded.c`, s.tables.Items))
	if _, err := tx.ExecContext(ctx, upsert, u.ItemID.String(), u.A, u.B, u.C); err != nil {
		return fmt.Errorf("upsert item %s: %w", u.ItemID, err)
	}

	if s.tables.ChangeLog != "" {
		var n sql.NullInt64
		if u.Responses != nil {
			n = sql.NullInt64{Int64: int64(*u.Responses), Valid: true}
		}
		logQ := s.rebind(fmt.Sprintf(`INSERT INTO %s (run_id, changed_at, question_id, old_a, old_b, old_c, new_a, new_b, new_c, n_responses)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.tables.ChangeLog))
		if _, err := tx.ExecContext(ctx, logQ, runID, s.now().Unix(), u.ItemID.String(), oldA, oldB, oldC, u.A, u.B, u.C, n); err != nil {
			return fmt.Errorf("log change for %s: %w", u.ItemID, err)
		}
	}
	return tx.Commit()
}

// ParamChange is one change-log row.
type ParamChange struct {
	RunID     string
	ItemID    models.ItemID
	ChangedAt time.Time
	OldB      *float64
	NewB      float64
}

// ListParamChanges returns change-log rows for a run, oldest first.
func (s *Store) ListParamChanges(ctx context.Context, runID string) ([]ParamChange, error) {
	if s.tables.ChangeLog == "" {
		return nil, nil
	}
	rows, err := s.DB.QueryContext(ctx, s.rebind(fmt.Sprintf(`SELECT run_id, question_id, changed_at, old_b, new_b FROM %s WHERE run_id = ? ORDER BY id`, s.tables.ChangeLog)), runID)
	if err != nil {
		return nil, fmt.Errorf("list param changes: %w", err)
	}
	defer rows.Close()
	var out []ParamChange
	for rows.Next() {
		var (
			pc      ParamChange
			id      string
			changed int64
			oldB    sql.NullFloat64
		)
		if err := rows.Scan(&pc.RunID, &id, &changed, &oldB, &pc.NewB); err != nil {
			return nil, err
		}
		pc.ItemID = models.ItemID(id)
		pc.ChangedAt = time.Unix(changed, 0).UTC()
		if oldB.Valid {
			v := oldB.Float64
			pc.OldB = &v
		}
		out = append(out, pc)
	}
	return out, rows.Err()
}

// RecordExposure logs that an item was shown in a session.
func (s *Store) RecordExposure(ctx context.Context, sessionID, userID, examID string, itemID models.ItemID) error {
	q := s.rebind(fmt.Sprintf(`INSERT INTO %s (session_id, user_id, exam_id, question_id, exposed_at) VALUES (?, ?, ?, ?, ?)`, s.tables.Exposure))
	if _, err := s.DB.ExecContext(ctx, q, sessionID, userID, examID, itemID.String(), s.now().Unix()); err != nil {
		return fmt.Errorf("record exposure: %w", err)
	}
	return nil
}

// OverexposedItemIDs returns items shown at least maxCount times within window.
func (s *Store) OverexposedItemIDs(ctx context.Context, maxCount int, window time.Duration) (map[models.ItemID]struct{}, error) {
	out := map[models.ItemID]struct{}{}
	if maxCount <= 0 || window <= 0 {
		return out, nil
	}
	cutoff := s.now().Add(-window).Unix()
	q := s.rebind(fmt.Sprintf(`SELECT question_id FROM %s WHERE exposed_at >= ? GROUP BY question_id HAVING COUNT(*) >= ?`, s.tables.Exposure))
	rows, err := s.DB.QueryContext(ctx, q, cutoff, maxCount)
	if err != nil {
		return out, fmt.Errorf("overexposed items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return out, err
		}
		out[models.ItemID(id)] = struct{}{}
	}
	return out, rows.Err()
}

// RecordResponse stores one scored answer; the stats view aggregates these.
func (s *Store) RecordResponse(ctx context.Context, sessionID string, itemID models.ItemID, correct bool, at time.Time) error {
	q := s.rebind(fmt.Sprintf(`INSERT INTO %s (session_id, question_id, is_correct, answered_at) VALUES (?, ?, ?, ?)`, s.tables.Responses))
	if _, err := s.DB.ExecContext(ctx, q, sessionID, itemID.String(), correct, at.Unix()); err != nil {
		return fmt.Errorf("record response: %w", err)
	}
	return nil
}

// InitialTheta returns the ability from the user's latest completed session of
// the exam, or 0 when there is none.
func (s *Store) InitialTheta(ctx context.Context, userID, examID string) (float64, error) {
	q := s.rebind(fmt.Sprintf(`SELECT theta FROM %s WHERE user_id = ? AND exam_id = ? ORDER BY completed_at DESC LIMIT 1`, s.tables.Sessions))
	var theta float64
	err := s.DB.QueryRowContext(ctx, q, userID, examID).Scan(&theta)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("initial theta: %w", err)
	}
	return theta, nil
}

// RecordCompletion upserts a finished session's outcome.
func (s *Store) RecordCompletion(ctx context.Context, c models.Completion) error {
	q := s.rebind(fmt.Sprintf(`INSERT INTO %s (session_id, user_id, exam_id, theta, se, scaled_score, answered_count, completed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (session_id) DO UPDATE SET theta = excluded.theta, se = excluded.se, scaled_score = excluded.scaled_score,
answered_count = excluded.answered_count, completed_at = excluded.completed_at`, s.tables.Sessions))
	at := c.CompletedAt
	if at.IsZero() {
		at = s.now()
	}
	if _, err := s.DB.ExecContext(ctx, q, c.SessionID, c.UserID, c.ExamID, c.Theta, c.SE, c.ScaledScore, c.Answered, at.Unix()); err != nil {
		return fmt.Errorf("record completion %s: %w", c.SessionID, err)
	}
	return nil
}
