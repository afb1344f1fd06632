package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medtrack/internal/medication"
	"medtrack/internal/notifier"
	"medtrack/internal/reminder"
	"medtrack/internal/storage"
	logx "medtrack/pkg/logx"
)

var now = time.Date(2025, 3, 1, 14, 2, 0, 0, time.UTC)

type recordingSender struct {
	mu   sync.Mutex
	sent []notifier.Reminder
	err  error
}

func (s *recordingSender) Send(ctx context.Context, target string, r notifier.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, r)
	return nil
}

type fakeScheduler struct {
	active bool
	err    error
	runs   int
}

func (f *fakeScheduler) Active() bool                { return f.active }
func (f *fakeScheduler) Snapshot() reminder.Snapshot { return reminder.Snapshot{Active: f.active, Tick: "@every 1m"} }
func (f *fakeScheduler) RunOnce(ctx context.Context) (reminder.TickReport, error) {
	f.runs++
	return reminder.TickReport{Evaluated: 1}, f.err
}

type fixture struct {
	ts     *httptest.Server
	store  storage.Store
	sender *recordingSender
	sched  *fakeScheduler
}

func newFixture(t *testing.T, token string) *fixture {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "memory"}, logx.Nop())
	require.NoError(t, err)
	f := &fixture{store: st, sender: &recordingSender{}, sched: &fakeScheduler{active: true}}
	f.ts = httptest.NewServer(NewRouter(Options{
		Store:     st,
		Sender:    f.sender,
		Scheduler: f.sched,
		Log:       logx.Nop(),
		Location:  time.UTC,
		Now:       func() time.Time { return now },
		Token:     token,
	}))
	t.Cleanup(func() {
		f.ts.Close()
		_ = st.Close()
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func (f *fixture) seed(t *testing.T, m medication.Medication) medication.Medication {
	t.Helper()
	out, err := f.store.Create(context.Background(), m)
	require.NoError(t, err)
	return out
}

func sixHourly() medication.Medication {
	return medication.Medication{
		Name:         "Ibuprofen",
		Dosage:       "200mg",
		Frequency:    "Every 6 hours",
		StartAt:      medication.TimePtr(time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)),
		Email:        "pat@example.com",
		Quantity:     medication.IntPtr(10),
		QuantityLeft: 10,
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")

	st, body := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, st)
	assert.Contains(t, string(body), `"status":"ok"`)

	st, body = f.do(t, http.MethodGet, "/health/db", nil)
	require.Equal(t, http.StatusOK, st)
	assert.Contains(t, string(body), `"database":"connected"`)
}

func TestCreateAndGetMedication(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")

	st, body := f.do(t, http.MethodPost, "/medications", map[string]any{
		"name":           "Amoxicillin",
		"dosage":         "500mg",
		"frequency":      "Three times daily",
		"start_datetime": "2025-03-01T08:00",
		"email":          "pat@example.com",
		"quantity":       21,
	})
	require.Equal(t, http.StatusCreated, st, string(body))

	var created medicationResponse
	require.NoError(t, json.Unmarshal(body, &created))
	require.NotEmpty(t, created.ID)
	assert.Equal(t, 21, created.QuantityLeft)
	require.NotNil(t, created.StartAt)
	assert.True(t, created.StartAt.Equal(time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)))

	st, body = f.do(t, http.MethodGet, "/medications/"+created.ID, nil)
	require.Equal(t, http.StatusOK, st)
	assert.Contains(t, string(body), `"name":"Amoxicillin"`)

	st, body = f.do(t, http.MethodGet, "/medications", nil)
	require.Equal(t, http.StatusOK, st)
	var list []medicationResponse
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list, 1)

	st, _ = f.do(t, http.MethodDelete, "/medications/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, st)
	st, _ = f.do(t, http.MethodGet, "/medications/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, st)
}

func TestCreateMedicationKeepsExplicitZeroSupply(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")

	st, body := f.do(t, http.MethodPost, "/medications", map[string]any{
		"name":          "Statin",
		"quantity":      30,
		"quantity_left": 0,
	})
	require.Equal(t, http.StatusCreated, st, string(body))
	var created medicationResponse
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, 0, created.QuantityLeft)

	stored, err := f.store.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.QuantityLeft)
	require.NotNil(t, stored.Quantity)
	assert.Equal(t, 30, *stored.Quantity)
}

func TestUpdateMedication(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")
	m := f.seed(t, sixHourly())
	_, err := f.store.MarkTaken(context.Background(), m.ID, true, now)
	require.NoError(t, err)

	st, body := f.do(t, http.MethodPut, "/medications/"+m.ID, map[string]any{
		"name":           "Ibuprofen",
		"dosage":         "400mg",
		"frequency":      "Every 8 hours",
		"start_datetime": "2025-03-02T09:00",
		"email":          "sam@example.com",
		"quantity":       20,
		"notes":          "with food",
	})
	require.Equal(t, http.StatusOK, st, string(body))
	var got medicationResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "400mg", got.Dosage)
	assert.Equal(t, "Every 8 hours", got.Frequency)
	assert.Equal(t, "sam@example.com", got.Email)
	assert.Equal(t, "with food", got.Notes)
	require.NotNil(t, got.StartAt)
	assert.True(t, got.StartAt.Equal(time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC)))
	require.NotNil(t, got.Quantity)
	assert.Equal(t, 20, *got.Quantity)
	assert.Equal(t, 9, got.QuantityLeft, "absent quantity_left keeps the supply")
	assert.True(t, got.TakenToday)

	st, body = f.do(t, http.MethodPut, "/medications/"+m.ID, map[string]any{"name": "Ibuprofen", "quantity_left": 4})
	require.Equal(t, http.StatusOK, st, string(body))
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, 4, got.QuantityLeft)

	st, _ = f.do(t, http.MethodPut, "/medications/"+m.ID, map[string]any{"dosage": "1"})
	assert.Equal(t, http.StatusBadRequest, st)
	st, _ = f.do(t, http.MethodPut, "/medications/"+m.ID, map[string]any{"name": "x", "start_datetime": "soon"})
	assert.Equal(t, http.StatusBadRequest, st)
	st, _ = f.do(t, http.MethodPut, "/medications/nope", map[string]any{"name": "x"})
	assert.Equal(t, http.StatusNotFound, st)
}

func TestSetQuantity(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")
	m := sixHourly()
	m.QuantityLeft = 0
	m = f.seed(t, m)

	st, body := f.do(t, http.MethodPatch, "/medications/"+m.ID+"/quantity", map[string]any{"quantity_left": 30})
	require.Equal(t, http.StatusOK, st, string(body))
	var got medicationResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, 30, got.QuantityLeft)
	assert.Equal(t, "Ibuprofen", got.Name)

	st, _ = f.do(t, http.MethodPatch, "/medications/"+m.ID+"/quantity", map[string]any{"quantity_left": -1})
	assert.Equal(t, http.StatusBadRequest, st)
	st, _ = f.do(t, http.MethodPatch, "/medications/"+m.ID+"/quantity", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, st)
	st, _ = f.do(t, http.MethodPatch, "/medications/nope/quantity", map[string]any{"quantity_left": 5})
	assert.Equal(t, http.StatusNotFound, st)
}

func TestCreateMedicationRejects(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")

	st, _ := f.do(t, http.MethodPost, "/medications", map[string]any{"dosage": "1"})
	assert.Equal(t, http.StatusBadRequest, st)

	st, _ = f.do(t, http.MethodPost, "/medications", map[string]any{"name": "x", "start_datetime": "soon"})
	assert.Equal(t, http.StatusBadRequest, st)

	st, _ = f.do(t, http.MethodPost, "/medications", map[string]any{"name": "x", "colour": "red"})
	assert.Equal(t, http.StatusBadRequest, st)
}

func TestSchedule(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")
	m := f.seed(t, sixHourly())

	st, body := f.do(t, http.MethodGet, "/medications/"+m.ID+"/schedule?count=3", nil)
	require.Equal(t, http.StatusOK, st, string(body))
	var got scheduleResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, int64(6*time.Hour/time.Millisecond), got.IntervalMS)
	assert.Equal(t, 6.0, got.IntervalHours)
	require.Len(t, got.NextDoses, 3)
	assert.True(t, got.NextDoses[0].Equal(time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC)))

	st, _ = f.do(t, http.MethodGet, "/medications/"+m.ID+"/schedule?count=0", nil)
	assert.Equal(t, http.StatusBadRequest, st)

	noStart := sixHourly()
	noStart.StartAt = nil
	ns := f.seed(t, noStart)
	st, body = f.do(t, http.MethodGet, "/medications/"+ns.ID+"/schedule", nil)
	require.Equal(t, http.StatusOK, st)
	assert.Contains(t, string(body), `"next_doses":[]`)
}

func TestNotificationStatus(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")
	m := f.seed(t, sixHourly())
	ok, err := f.store.CommitDose(context.Background(), m.ID, 10, 9, now.Add(-2*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	st, body := f.do(t, http.MethodGet, "/medications/"+m.ID+"/notification-status", nil)
	require.Equal(t, http.StatusOK, st, string(body))

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, true, got["scheduler_active"])
	assert.Equal(t, float64(2), got["minutes_since_last_notification"])
	assert.Equal(t, float64(9), got["quantity_left"])
	assert.Equal(t, "every_6_hours", got["frequency_kind"])
}

func TestMarkTaken(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")
	m := f.seed(t, sixHourly())

	st, body := f.do(t, http.MethodPatch, "/medications/"+m.ID+"/taken", map[string]any{"taken": true})
	require.Equal(t, http.StatusOK, st, string(body))
	var got medicationResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.True(t, got.TakenToday)
	assert.Equal(t, 9, got.QuantityLeft)
	assert.Nil(t, got.LastNotificationSent)

	st, _ = f.do(t, http.MethodPatch, "/medications/"+m.ID+"/taken", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, st)

	st, _ = f.do(t, http.MethodPatch, "/medications/nope/taken", map[string]any{"taken": true})
	assert.Equal(t, http.StatusNotFound, st)
}

func TestTestNotification(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")
	m := f.seed(t, sixHourly())

	st, body := f.do(t, http.MethodPost, "/medications/"+m.ID+"/test-notification", nil)
	require.Equal(t, http.StatusOK, st, string(body))
	require.Len(t, f.sender.sent, 1)
	assert.True(t, f.sender.sent[0].Test)

	// Inventory and the scheduler timestamp are untouched.
	got, err := f.store.Get(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.QuantityLeft)
	assert.Nil(t, got.LastNotificationSentAt)

	f.sender.err = notifier.ErrUnsupportedTarget
	st, _ = f.do(t, http.MethodPost, "/medications/"+m.ID+"/test-notification", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, st)

	noEmail := sixHourly()
	noEmail.Email = ""
	ne := f.seed(t, noEmail)
	st, _ = f.do(t, http.MethodPost, "/medications/"+ne.ID+"/test-notification", nil)
	assert.Equal(t, http.StatusBadRequest, st)
}

func TestDoseLogEndpoint(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")
	require.NoError(t, f.store.AppendDoseLog(context.Background(), storage.DoseLogEntry{MedicationID: "m1", At: now, Outcome: "committed", QuantityLeft: 4}))

	st, body := f.do(t, http.MethodGet, "/medications/m1/doses?limit=5", nil)
	require.Equal(t, http.StatusOK, st)
	var got []storage.DoseLogEntry
	require.NoError(t, json.Unmarshal(body, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "committed", got[0].Outcome)

	st, body = f.do(t, http.MethodGet, "/medications/other/doses", nil)
	require.Equal(t, http.StatusOK, st)
	assert.JSONEq(t, `[]`, string(body))
}

func TestSchedulerEndpoints(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")

	st, body := f.do(t, http.MethodGet, "/scheduler", nil)
	require.Equal(t, http.StatusOK, st)
	assert.Contains(t, string(body), `"active":true`)

	st, _ = f.do(t, http.MethodPost, "/scheduler/tick", nil)
	assert.Equal(t, http.StatusOK, st)
	assert.Equal(t, 1, f.sched.runs)

	f.sched.err = reminder.ErrTickInProgress
	st, _ = f.do(t, http.MethodPost, "/scheduler/tick", nil)
	assert.Equal(t, http.StatusConflict, st)
}

func TestBearerToken(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "s3cret")

	st, _ := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, st)

	st, _ = f.do(t, http.MethodGet, "/medications", nil)
	assert.Equal(t, http.StatusUnauthorized, st)

	st, _ = f.do(t, http.MethodGet, "/medications?token=s3cret", nil)
	assert.Equal(t, http.StatusOK, st)

	req, err := http.NewRequest(http.MethodGet, f.ts.URL+"/medications", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestFailMapsErrors(t *testing.T) {
	t.Parallel()
	h := &handlers{log: logx.Nop()}
	cases := []struct {
		err  error
		want int
	}{
		{storage.ErrNotFound, http.StatusNotFound},
		{errors.Join(storage.ErrInvalid, errors.New("x")), http.StatusBadRequest},
		{storage.ErrDisabled, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		h.fail(rec, httptest.NewRequest(http.MethodGet, "/", nil), tc.err)
		assert.Equal(t, tc.want, rec.Code, tc.err.Error())
	}
}
