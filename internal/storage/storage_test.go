package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medtrack/internal/medication"
	logx "medtrack/pkg/logx"
)

var t0 = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func backends(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			st, err := Open(Config{Driver: "memory"}, logx.Nop())
			require.NoError(t, err)
			return st
		},
		"file": func(t *testing.T) Store {
			st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "medtrack.db")}, logx.Nop())
			require.NoError(t, err)
			return st
		},
		"sqlite": func(t *testing.T) Store {
			st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "medtrack.db")}, logx.Nop())
			require.NoError(t, err)
			return st
		},
	}
}

func seed(t *testing.T, st Store, m medication.Medication) medication.Medication {
	t.Helper()
	out, err := st.Create(context.Background(), m)
	require.NoError(t, err)
	return out
}

func schedulable(name string, qty int) medication.Medication {
	return medication.Medication{
		Name:         name,
		Dosage:       "10mg",
		Frequency:    "Every 6 hours",
		StartAt:      medication.TimePtr(t0),
		Email:        "pat@example.com",
		Quantity:     medication.IntPtr(qty),
		QuantityLeft: qty,
	}
}

func TestStoreCRUD(t *testing.T) {
	t.Parallel()
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := open(t)
			defer st.Close()

			m := seed(t, st, schedulable("Ibuprofen", 10))
			require.NotEmpty(t, m.ID)
			assert.Equal(t, 10, m.QuantityLeft)

			got, err := st.Get(ctx, m.ID)
			require.NoError(t, err)
			assert.Equal(t, "Ibuprofen", got.Name)
			assert.Equal(t, "Every 6 hours", got.Frequency)
			require.NotNil(t, got.StartAt)
			assert.True(t, got.StartAt.Equal(t0))
			require.NotNil(t, got.Quantity)
			assert.Equal(t, 10, *got.Quantity)
			assert.Nil(t, got.LastNotificationSentAt)

			require.NoError(t, st.Delete(ctx, m.ID))
			_, err = st.Get(ctx, m.ID)
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, st.Delete(ctx, m.ID), ErrNotFound)
		})
	}
}

func TestStoreCreateValidates(t *testing.T) {
	t.Parallel()
	st := newMemory(logx.Nop())
	_, err := st.Create(context.Background(), medication.Medication{})
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = st.Create(context.Background(), medication.Medication{Name: "x", QuantityLeft: -1})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestCreateKeepsExplicitZeroSupply(t *testing.T) {
	t.Parallel()
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := open(t)
			defer st.Close()

			m := seed(t, st, medication.Medication{Name: "x", Quantity: medication.IntPtr(30)})
			assert.Equal(t, 0, m.QuantityLeft)
			got, err := st.Get(ctx, m.ID)
			require.NoError(t, err)
			assert.Equal(t, 0, got.QuantityLeft)
			require.NotNil(t, got.Quantity)
			assert.Equal(t, 30, *got.Quantity)
		})
	}
}

func TestUpdate(t *testing.T) {
	t.Parallel()
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := open(t)
			defer st.Close()

			m := seed(t, st, schedulable("Ibuprofen", 10))
			ok, err := st.CommitDose(ctx, m.ID, 10, 9, t0)
			require.NoError(t, err)
			require.True(t, ok)
			_, err = st.MarkTaken(ctx, m.ID, true, t0)
			require.NoError(t, err)

			start := t0.Add(time.Hour)
			got, err := st.Update(ctx, m.ID, Edit{
				Name:      "Ibuprofen forte",
				Dosage:    "400mg",
				Frequency: "Every 8 hours",
				StartAt:   &start,
				Email:     "sam@example.com",
				Quantity:  medication.IntPtr(20),
				Notes:     "with food",
			})
			require.NoError(t, err)
			assert.Equal(t, "Ibuprofen forte", got.Name)
			assert.Equal(t, "400mg", got.Dosage)
			assert.Equal(t, "Every 8 hours", got.Frequency)
			assert.Equal(t, "sam@example.com", got.Email)
			assert.Equal(t, "with food", got.Notes)
			require.NotNil(t, got.StartAt)
			assert.True(t, got.StartAt.Equal(start))
			require.NotNil(t, got.Quantity)
			assert.Equal(t, 20, *got.Quantity)
			// Supply and scheduler state survive an edit without quantity_left.
			assert.Equal(t, 8, got.QuantityLeft)
			assert.True(t, got.TakenToday)
			require.NotNil(t, got.LastNotificationSentAt)
			assert.True(t, got.LastNotificationSentAt.Equal(t0))

			got, err = st.Update(ctx, m.ID, Edit{Name: "Ibuprofen", QuantityLeft: medication.IntPtr(0)})
			require.NoError(t, err)
			assert.Equal(t, 0, got.QuantityLeft)
			assert.Nil(t, got.StartAt)
			assert.Nil(t, got.Quantity)
			assert.False(t, got.Schedulable())

			_, err = st.Update(ctx, m.ID, Edit{})
			assert.ErrorIs(t, err, ErrInvalid)
			_, err = st.Update(ctx, m.ID, Edit{Name: "x", QuantityLeft: medication.IntPtr(-1)})
			assert.ErrorIs(t, err, ErrInvalid)
			_, err = st.Update(ctx, "missing", Edit{Name: "x"})
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestSetQuantityLeft(t *testing.T) {
	t.Parallel()
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := open(t)
			defer st.Close()

			m := seed(t, st, schedulable("Statin", 0))
			got, err := st.SetQuantityLeft(ctx, m.ID, 30)
			require.NoError(t, err)
			assert.Equal(t, 30, got.QuantityLeft)
			assert.Equal(t, "Statin", got.Name)

			// A commit computed against the pre-refill supply loses.
			ok, err := st.CommitDose(ctx, m.ID, 0, 0, t0)
			require.NoError(t, err)
			assert.False(t, ok)
			got, err = st.Get(ctx, m.ID)
			require.NoError(t, err)
			assert.Equal(t, 30, got.QuantityLeft)
			assert.Nil(t, got.LastNotificationSentAt)

			got, err = st.SetQuantityLeft(ctx, m.ID, 0)
			require.NoError(t, err)
			assert.Equal(t, 0, got.QuantityLeft)

			_, err = st.SetQuantityLeft(ctx, m.ID, -1)
			assert.ErrorIs(t, err, ErrInvalid)
			_, err = st.SetQuantityLeft(ctx, "missing", 5)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestListSchedulableFilters(t *testing.T) {
	t.Parallel()
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := open(t)
			defer st.Close()

			keep := seed(t, st, schedulable("Keep", 3))
			noStart := schedulable("NoStart", 3)
			noStart.StartAt = nil
			seed(t, st, noStart)
			noEmail := schedulable("NoEmail", 3)
			noEmail.Email = ""
			seed(t, st, noEmail)
			noFreq := schedulable("NoFreq", 3)
			noFreq.Frequency = ""
			seed(t, st, noFreq)

			all, err := st.List(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 4)

			got, err := st.ListSchedulable(ctx)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, keep.ID, got[0].ID)
		})
	}
}

func TestCommitDoseCompareAndSet(t *testing.T) {
	t.Parallel()
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := open(t)
			defer st.Close()

			m := seed(t, st, schedulable("Amoxicillin", 2))
			sent := t0.Add(6*time.Hour + time.Minute)

			ok, err := st.CommitDose(ctx, m.ID, 2, 1, sent)
			require.NoError(t, err)
			require.True(t, ok)

			got, err := st.Get(ctx, m.ID)
			require.NoError(t, err)
			assert.Equal(t, 1, got.QuantityLeft)
			require.NotNil(t, got.LastNotificationSentAt)
			assert.True(t, got.LastNotificationSentAt.Equal(sent))

			// Stale expectation changes nothing.
			ok, err = st.CommitDose(ctx, m.ID, 2, 1, sent.Add(time.Hour))
			require.NoError(t, err)
			assert.False(t, ok)
			got, err = st.Get(ctx, m.ID)
			require.NoError(t, err)
			assert.Equal(t, 1, got.QuantityLeft)
			assert.True(t, got.LastNotificationSentAt.Equal(sent))

			// A deleted row is a conflict, not an error.
			require.NoError(t, st.Delete(ctx, m.ID))
			ok, err = st.CommitDose(ctx, m.ID, 1, 0, sent)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestCommitDoseRejectsInvalid(t *testing.T) {
	t.Parallel()
	st := newMemory(logx.Nop())
	m := seed(t, st, schedulable("x", 1))
	_, err := st.CommitDose(context.Background(), m.ID, 1, -1, t0)
	assert.ErrorIs(t, err, ErrInvalidCommit)
	_, err = st.CommitDose(context.Background(), m.ID, 1, 2, t0)
	assert.ErrorIs(t, err, ErrInvalidCommit)
}

func TestCommitDoseConcurrentSingleWinner(t *testing.T) {
	t.Parallel()
	st := newMemory(logx.Nop())
	m := seed(t, st, schedulable("x", 5))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := st.CommitDose(context.Background(), m.ID, 5, 4, t0)
			if err == nil && ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestMarkTaken(t *testing.T) {
	t.Parallel()
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := open(t)
			defer st.Close()

			m := seed(t, st, schedulable("Vitamin D", 1))
			at := t0.Add(time.Hour)

			got, err := st.MarkTaken(ctx, m.ID, true, at)
			require.NoError(t, err)
			assert.True(t, got.TakenToday)
			assert.Equal(t, 0, got.QuantityLeft)
			require.NotNil(t, got.LastTakenAt)
			assert.True(t, got.LastTakenAt.Equal(at))
			assert.Nil(t, got.LastNotificationSentAt)

			// Floors at zero.
			got, err = st.MarkTaken(ctx, m.ID, true, at.Add(time.Hour))
			require.NoError(t, err)
			assert.Equal(t, 0, got.QuantityLeft)

			got, err = st.MarkTaken(ctx, m.ID, false, at)
			require.NoError(t, err)
			assert.False(t, got.TakenToday)
			require.NotNil(t, got.LastTakenAt)

			_, err = st.MarkTaken(ctx, "missing", true, at)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestDoseLog(t *testing.T) {
	t.Parallel()
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := open(t)
			defer st.Close()

			for i, outcome := range []string{"committed", "send_failed", "committed"} {
				require.NoError(t, st.AppendDoseLog(ctx, DoseLogEntry{
					MedicationID: "m1",
					At:           t0.Add(time.Duration(i) * time.Minute),
					Outcome:      outcome,
					QuantityLeft: 3 - i,
				}))
			}
			require.NoError(t, st.AppendDoseLog(ctx, DoseLogEntry{MedicationID: "m2", At: t0, Outcome: "committed"}))

			got, err := st.RecentDoseLog(ctx, "m1", 2)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "committed", got[0].Outcome)
			assert.Equal(t, 1, got[0].QuantityLeft)
			assert.True(t, got[0].At.Equal(t0.Add(2*time.Minute)))
			assert.Equal(t, "send_failed", got[1].Outcome)
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "meds.db")

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	m := seed(t, st, schedulable("Metformin", 4))
	ok, err := st.CommitDose(ctx, m.ID, 4, 3, t0)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, st.AppendDoseLog(ctx, DoseLogEntry{MedicationID: m.ID, At: t0, Outcome: "committed", QuantityLeft: 3}))
	require.NoError(t, st.Close())

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	got, err := st.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.QuantityLeft)
	require.NotNil(t, got.LastNotificationSentAt)
	assert.True(t, got.LastNotificationSentAt.Equal(t0))

	log, err := st.RecentDoseLog(ctx, m.ID, 10)
	require.NoError(t, err)
	assert.Len(t, log, 1)
}

func TestOpenDrivers(t *testing.T) {
	t.Parallel()

	st, err := Open(Config{}, logx.Nop())
	require.NoError(t, err)
	assert.Nil(t, st)

	_, err = Open(Config{Driver: "bogus"}, logx.Nop())
	assert.Error(t, err)

	_, err = Open(Config{Driver: "file"}, logx.Nop())
	assert.Error(t, err)

	_, err = Open(Config{Driver: "postgres"}, logx.Nop())
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	t.Parallel()
	q := `UPDATE m SET a = ?, b = ? WHERE id = ?`
	assert.Equal(t, q, sqliteDialect.rebind(q))
	assert.Equal(t, `UPDATE m SET a = $1, b = $2 WHERE id = $3`, postgresDialect.rebind(q))
}

func TestNullTimeScan(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		src   any
		valid bool
		want  time.Time
	}{
		{"nil", nil, false, time.Time{}},
		{"time", t0, true, t0},
		{"rfc3339", "2025-03-01T08:00:00Z", true, t0},
		{"sqlite default", []byte("2025-03-01 08:00:00+00:00"), true, t0},
		{"naive", "2025-03-01 08:00:00", true, t0},
		{"unix", t0.Unix(), true, t0},
		{"empty", "", false, time.Time{}},
	}
	for _, tc := range cases {
		var nt nullTime
		require.NoError(t, nt.Scan(tc.src), tc.name)
		assert.Equal(t, tc.valid, nt.Valid, tc.name)
		if tc.valid {
			assert.True(t, nt.Time.Equal(tc.want), "%s: got %v", tc.name, nt.Time)
		}
	}

	var nt nullTime
	assert.Error(t, nt.Scan("yesterday"))
	assert.Error(t, nt.Scan(3.14))
}

func TestSplitStatements(t *testing.T) {
	t.Parallel()
	src := "-- header\nCREATE TABLE a (\n  x INT\n);\n\nCREATE INDEX i ON a(x);\n"
	got := splitStatements(src)
	require.Len(t, got, 2)
	assert.Equal(t, "CREATE TABLE a (\n  x INT\n);", got[0])
	assert.Equal(t, "CREATE INDEX i ON a(x);", got[1])
}
