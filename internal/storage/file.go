package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"medtrack/internal/medication"
	logx "medtrack/pkg/logx"
)

// fileBacking persists a memStore.
//
// Files:
//   - <prefix>.medications.json (full snapshot, replaced atomically)
//   - <prefix>.doses.jsonl      (append-only dose journal)
type fileBacking struct {
	snapshotPath string
	journal      *os.File
}

// medRecord is the on-disk shape of a medication.
type medRecord struct {
	ID                   string     `json:"id"`
	Name                 string     `json:"name"`
	Dosage               string     `json:"dosage,omitempty"`
	Notes                string     `json:"notes,omitempty"`
	Frequency            string     `json:"frequency,omitempty"`
	StartAt              *time.Time `json:"start_datetime,omitempty"`
	Email                string     `json:"email,omitempty"`
	Quantity             *int       `json:"quantity,omitempty"`
	QuantityLeft         int        `json:"quantity_left"`
	LastNotificationSent *time.Time `json:"last_notification_sent,omitempty"`
	TakenToday           bool       `json:"taken_today"`
	LastTaken            *time.Time `json:"last_taken,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

func toRecord(m medication.Medication) medRecord {
	return medRecord{
		ID: m.ID, Name: m.Name, Dosage: m.Dosage, Notes: m.Notes, Frequency: m.Frequency,
		StartAt: m.StartAt, Email: m.Email, Quantity: m.Quantity, QuantityLeft: m.QuantityLeft,
		LastNotificationSent: m.LastNotificationSentAt, TakenToday: m.TakenToday, LastTaken: m.LastTakenAt,
		CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt,
	}
}

func (r medRecord) medication() medication.Medication {
	return medication.Medication{
		ID: r.ID, Name: r.Name, Dosage: r.Dosage, Notes: r.Notes, Frequency: r.Frequency,
		StartAt: r.StartAt, Email: r.Email, Quantity: r.Quantity, QuantityLeft: r.QuantityLeft,
		LastNotificationSentAt: r.LastNotificationSent, TakenToday: r.TakenToday, LastTakenAt: r.LastTaken,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".medications.json"
	journalPath := prefix + ".doses.jsonl"

	s := newMemory(log)
	if err := loadSnapshot(snapPath, s.meds); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := replayDoseJournal(journalPath, s.doses); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.disk = &fileBacking{snapshotPath: snapPath, journal: jf}
	s.log.Debug("file store opened", logx.String("snapshot", snapPath), logx.Int("medications", len(s.meds)))
	return s, nil
}

func (b *fileBacking) close() error {
	if b.journal == nil {
		return nil
	}
	err := b.journal.Close()
	b.journal = nil
	return err
}

func (b *fileBacking) appendDose(e DoseLogEntry) error {
	if b.journal == nil {
		return errors.New("dose journal closed")
	}
	return json.NewEncoder(b.journal).Encode(e)
}

func (b *fileBacking) writeSnapshot(meds map[string]medication.Medication) error {
	recs := make([]medRecord, 0, len(meds))
	for _, m := range meds {
		recs = append(recs, toRecord(m))
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })

	tmp := b.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(recs); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, b.snapshotPath)
}

func loadSnapshot(path string, out map[string]medication.Medication) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var recs []medRecord
	if err := json.NewDecoder(f).Decode(&recs); err != nil {
		return err
	}
	for _, r := range recs {
		if r.ID == "" {
			continue
		}
		out[r.ID] = r.medication()
	}
	return nil
}

func replayDoseJournal(path string, out map[string][]DoseLogEntry) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		var e DoseLogEntry
		if err := json.Unmarshal(s.Bytes(), &e); err != nil {
			continue
		}
		if e.MedicationID == "" {
			continue
		}
		out[e.MedicationID] = append(out[e.MedicationID], e)
	}
	return s.Err()
}
