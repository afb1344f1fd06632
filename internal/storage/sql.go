package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"medtrack/internal/medication"
	logx "medtrack/pkg/logx"
)

// dialect captures what differs between the SQL backends.
type dialect struct {
	name string
	// dbAssignsID means Create omits an empty id and reads it back.
	dbAssignsID bool
	timeArg     func(time.Time) any
	boolArg     func(bool) any
}

func (d dialect) rebind(q string) string {
	if d.name != "postgres" {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 16)
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d dialect) nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return d.timeArg(*t)
}

// pool holds connection pool limits. Zero values leave database/sql defaults.
type pool struct {
	maxOpen, maxIdle   int
	idleTime, lifetime time.Duration
}

// openSQL connects, applies pool limits, runs setup statements and the
// embedded migration. The *sql.DB is closed on any failure.
func openSQL(ctx context.Context, driver, dsn string, d dialect, p pool, setup []string, migration string, log logx.Logger) (*sqlStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(p.maxOpen)
	db.SetMaxIdleConns(p.maxIdle)
	db.SetConnMaxIdleTime(p.idleTime)
	db.SetConnMaxLifetime(p.lifetime)

	st := &sqlStore{db: db, d: d, log: log, now: time.Now}
	if err := st.prepare(ctx, setup, migration); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqlStore) prepare(ctx context.Context, setup []string, migration string) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%s ping: %w", s.d.name, err)
	}
	for _, stmt := range setup {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			s.log.Warn("setup statement failed", logx.String("stmt", stmt), logx.Err(err))
		}
	}
	return s.migrate(ctx, migrationsFS, migration)
}

// sqlStore implements Store over database/sql.
type sqlStore struct {
	db  *sql.DB
	d   dialect
	log logx.Logger
	now func() time.Time
}

const medColumns = `id, email, name, dosage, frequency, start_datetime, quantity, quantity_left,
	notes, taken_today, last_taken, last_notification_sent, created_at, updated_at`

func (s *sqlStore) selectCols() string {
	if s.d.name == "postgres" {
		return strings.Replace(medColumns, "id,", "id::text,", 1)
	}
	return medColumns
}

func (s *sqlStore) idWhere() string {
	if s.d.name == "postgres" {
		return "id::text = ?"
	}
	return "id = ?"
}

func (s *sqlStore) migrate(ctx context.Context, fsys fs.FS, name string) error {
	b, err := fs.ReadFile(fsys, name)
	if err != nil {
		return err
	}
	for _, stmt := range splitStatements(string(b)) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
	}
	return nil
}

// splitStatements splits a migration file on semicolons that end a line.
func splitStatements(src string) []string {
	var out []string
	var cur strings.Builder
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		cur.WriteString(line)
		cur.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			if stmt := strings.TrimSpace(cur.String()); stmt != "" {
				out = append(out, stmt)
			}
			cur.Reset()
		}
	}
	if stmt := strings.TrimSpace(cur.String()); stmt != "" {
		out = append(out, stmt)
	}
	return out
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	return s.db.PingContext(ctx)
}

func (s *sqlStore) List(ctx context.Context) ([]medication.Medication, error) {
	return s.query(ctx, `SELECT `+s.selectCols()+` FROM medications ORDER BY id`)
}

func (s *sqlStore) ListSchedulable(ctx context.Context) ([]medication.Medication, error) {
	return s.query(ctx, `SELECT `+s.selectCols()+` FROM medications
		WHERE start_datetime IS NOT NULL
		  AND frequency IS NOT NULL AND frequency <> ''
		  AND email IS NOT NULL AND email <> ''
		ORDER BY id`)
}

func (s *sqlStore) query(ctx context.Context, q string, args ...any) ([]medication.Medication, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, s.d.rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []medication.Medication
	for rows.Next() {
		m, err := scanMedication(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *sqlStore) Get(ctx context.Context, id string) (medication.Medication, error) {
	if s == nil || s.db == nil {
		return medication.Medication{}, ErrDisabled
	}
	row := s.db.QueryRowContext(ctx,
		s.d.rebind(`SELECT `+s.selectCols()+` FROM medications WHERE `+s.idWhere()), id)
	m, err := scanMedication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return medication.Medication{}, ErrNotFound
	}
	return m, err
}

func (s *sqlStore) Create(ctx context.Context, m medication.Medication) (medication.Medication, error) {
	if s == nil || s.db == nil {
		return medication.Medication{}, ErrDisabled
	}
	gen := newID
	if s.d.dbAssignsID {
		gen = func() string { return "" }
	}
	m, err := prepareNew(m, s.now(), gen)
	if err != nil {
		return medication.Medication{}, err
	}

	cols := []string{"email", "name", "dosage", "frequency", "start_datetime", "quantity", "quantity_left",
		"notes", "taken_today", "last_taken", "last_notification_sent", "created_at", "updated_at"}
	args := []any{
		nullStr(m.Email), m.Name, nullStr(m.Dosage), nullStr(m.Frequency), s.d.nullTime(m.StartAt),
		nullInt(m.Quantity), m.QuantityLeft, nullStr(m.Notes), s.d.boolArg(m.TakenToday),
		s.d.nullTime(m.LastTakenAt), s.d.nullTime(m.LastNotificationSentAt),
		s.d.timeArg(m.CreatedAt), s.d.timeArg(m.UpdatedAt),
	}
	if m.ID != "" {
		cols = append([]string{"id"}, cols...)
		args = append([]any{m.ID}, args...)
	}
	q := `INSERT INTO medications(` + strings.Join(cols, ", ") + `) VALUES(` +
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + `)`

	if s.d.dbAssignsID {
		var id string
		if err := s.db.QueryRowContext(ctx, s.d.rebind(q+` RETURNING id::text`), args...).Scan(&id); err != nil {
			return medication.Medication{}, err
		}
		m.ID = id
		return m, nil
	}
	if _, err := s.db.ExecContext(ctx, s.d.rebind(q), args...); err != nil {
		return medication.Medication{}, err
	}
	return m, nil
}

func (s *sqlStore) Update(ctx context.Context, id string, e Edit) (medication.Medication, error) {
	if s == nil || s.db == nil {
		return medication.Medication{}, ErrDisabled
	}
	if err := e.validate(); err != nil {
		return medication.Medication{}, err
	}
	var left any
	if e.QuantityLeft != nil {
		left = *e.QuantityLeft
	}
	res, err := s.db.ExecContext(ctx, s.d.rebind(`UPDATE medications
		SET email = ?, name = ?, dosage = ?, frequency = ?, start_datetime = ?, quantity = ?,
		    quantity_left = COALESCE(CAST(? AS INTEGER), quantity_left), notes = ?, updated_at = ?
		WHERE `+s.idWhere()),
		nullStr(e.Email), e.Name, nullStr(e.Dosage), nullStr(e.Frequency), s.d.nullTime(e.StartAt),
		nullInt(e.Quantity), left, nullStr(e.Notes), s.d.timeArg(s.now()), id)
	if err != nil {
		return medication.Medication{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return medication.Medication{}, ErrNotFound
	}
	return s.Get(ctx, id)
}

func (s *sqlStore) SetQuantityLeft(ctx context.Context, id string, n int) (medication.Medication, error) {
	if s == nil || s.db == nil {
		return medication.Medication{}, ErrDisabled
	}
	if err := validateQuantityLeft(n); err != nil {
		return medication.Medication{}, err
	}
	res, err := s.db.ExecContext(ctx, s.d.rebind(`UPDATE medications
		SET quantity_left = ?, updated_at = ?
		WHERE `+s.idWhere()),
		n, s.d.timeArg(s.now()), id)
	if err != nil {
		return medication.Medication{}, err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return medication.Medication{}, ErrNotFound
	}
	return s.Get(ctx, id)
}

func (s *sqlStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	res, err := s.db.ExecContext(ctx, s.d.rebind(`DELETE FROM medications WHERE `+s.idWhere()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlStore) CommitDose(ctx context.Context, id string, expected, next int, sentAt time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	if err := validateCommit(expected, next); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, s.d.rebind(`UPDATE medications
		SET quantity_left = ?, last_notification_sent = ?, updated_at = ?
		WHERE `+s.idWhere()+` AND COALESCE(quantity_left, 0) = ?`),
		next, s.d.timeArg(sentAt), s.d.timeArg(s.now()), id, expected)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *sqlStore) MarkTaken(ctx context.Context, id string, taken bool, at time.Time) (medication.Medication, error) {
	if s == nil || s.db == nil {
		return medication.Medication{}, ErrDisabled
	}
	var (
		res sql.Result
		err error
	)
	if taken {
		res, err = s.db.ExecContext(ctx, s.d.rebind(`UPDATE medications
			SET taken_today = ?, last_taken = ?,
			    quantity_left = CASE WHEN quantity_left > 0 THEN quantity_left - 1 ELSE COALESCE(quantity_left, 0) END,
			    updated_at = ?
			WHERE `+s.idWhere()),
			s.d.boolArg(true), s.d.timeArg(at), s.d.timeArg(s.now()), id)
	} else {
		res, err = s.db.ExecContext(ctx, s.d.rebind(`UPDATE medications
			SET taken_today = ?, updated_at = ?
			WHERE `+s.idWhere()),
			s.d.boolArg(false), s.d.timeArg(s.now()), id)
	}
	if err != nil {
		return medication.Medication{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return medication.Medication{}, ErrNotFound
	}
	return s.Get(ctx, id)
}

func (s *sqlStore) AppendDoseLog(ctx context.Context, e DoseLogEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.d.rebind(
		`INSERT INTO dose_log(medication_id, at, outcome, quantity_left, err) VALUES(?,?,?,?,?)`),
		e.MedicationID, s.d.timeArg(e.At), e.Outcome, e.QuantityLeft, nullStr(e.Error))
	return err
}

func (s *sqlStore) RecentDoseLog(ctx context.Context, id string, limit int) ([]DoseLogEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.d.rebind(
		`SELECT medication_id, at, outcome, quantity_left, err FROM dose_log
		 WHERE medication_id = ? ORDER BY id DESC LIMIT ?`), id, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DoseLogEntry
	for rows.Next() {
		var (
			e   DoseLogEntry
			at  nullTime
			msg sql.NullString
		)
		if err := rows.Scan(&e.MedicationID, &at, &e.Outcome, &e.QuantityLeft, &msg); err != nil {
			return nil, err
		}
		e.At = at.Time
		e.Error = msg.String
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMedication(r rowScanner) (medication.Medication, error) {
	var (
		m                               medication.Medication
		email, dosage, frequency, notes sql.NullString
		quantity, quantityLeft          sql.NullInt64
		taken                           sql.NullBool
		start, lastTaken, lastSent      nullTime
		created, updated                nullTime
	)
	if err := r.Scan(&m.ID, &email, &m.Name, &dosage, &frequency, &start, &quantity, &quantityLeft,
		&notes, &taken, &lastTaken, &lastSent, &created, &updated); err != nil {
		return medication.Medication{}, err
	}
	m.Email = email.String
	m.Dosage = dosage.String
	m.Frequency = frequency.String
	m.Notes = notes.String
	m.StartAt = start.ptr()
	if quantity.Valid {
		q := int(quantity.Int64)
		m.Quantity = &q
	}
	if quantityLeft.Valid && quantityLeft.Int64 > 0 {
		m.QuantityLeft = int(quantityLeft.Int64)
	}
	m.TakenToday = taken.Valid && taken.Bool
	m.LastTakenAt = lastTaken.ptr()
	m.LastNotificationSentAt = lastSent.ptr()
	m.CreatedAt = created.Time
	m.UpdatedAt = updated.Time
	return m, nil
}

// nullTime scans timestamps from either backend: time.Time from postgres,
// text from sqlite, unix seconds from hand-edited rows.
type nullTime struct {
	Time  time.Time
	Valid bool
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
}

func (t *nullTime) Scan(src any) error {
	*t = nullTime{}
	switch v := src.(type) {
	case nil:
		return nil
	case time.Time:
		t.Time, t.Valid = v, true
		return nil
	case int64:
		t.Time, t.Valid = time.Unix(v, 0).UTC(), true
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	default:
		return fmt.Errorf("storage: cannot scan %T into time", src)
	}
}

func (t *nullTime) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if v, err := time.Parse(layout, s); err == nil {
			t.Time, t.Valid = v, true
			return nil
		}
	}
	return fmt.Errorf("storage: unrecognized time %q", s)
}

func (t nullTime) ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}
