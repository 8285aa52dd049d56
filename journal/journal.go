// Package journal records job status changes, slot activity transitions and
// limit rejections in SQLite, for after-the-fact inspection of a run.
package journal

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/twitter/tollgate/domain"
	"github.com/twitter/tollgate/limits"
	"github.com/twitter/tollgate/slots"
)

type Journal struct {
	db *sql.DB
	// Inserts are serialized so seq follows call order.
	mu sync.Mutex
}

// Open creates or opens the journal at path. ":memory:" keeps it in memory.
func Open(path string) (*Journal, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, errors.Wrap(err, "creating journal directory")
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "opening journal %s", path)
	}
	// single writer; also keeps one :memory: database for the pool's lifetime
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrating journal")
	}
	log.WithField("path", path).Info("Opened journal")
	return j, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS job_events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		job_id TEXT NOT NULL,
		from_status TEXT NOT NULL,
		to_status TEXT NOT NULL,
		slot TEXT,
		at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS transitions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		slot TEXT NOT NULL,
		agent TEXT NOT NULL,
		from_activity TEXT NOT NULL,
		to_activity TEXT NOT NULL,
		job_id TEXT,
		at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rejections (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		job_id TEXT NOT NULL,
		limit_name TEXT NOT NULL,
		weight REAL NOT NULL,
		usage REAL NOT NULL,
		capacity REAL,
		at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_job_events_job_id ON job_events(job_id);
	CREATE INDEX IF NOT EXISTS idx_rejections_limit ON rejections(limit_name);
	`
	_, err := j.db.Exec(schema)
	return err
}

func (j *Journal) exec(query string, args ...interface{}) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err := j.db.Exec(query, args...)
	return err
}

func (j *Journal) RecordJobEvent(ev domain.JobEvent) error {
	err := j.exec(`INSERT INTO job_events (id, job_id, from_status, to_status, slot, at) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), ev.JobID, ev.From.String(), ev.To.String(), string(ev.Slot), ev.Time.UTC())
	return errors.Wrapf(err, "recording event for job %s", ev.JobID)
}

func (j *Journal) RecordTransition(t slots.Transition) error {
	err := j.exec(`INSERT INTO transitions (id, slot, agent, from_activity, to_activity, job_id, at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), string(t.Slot), t.Slot.Agent(), t.From.String(), t.To.String(), t.JobID, t.Time.UTC())
	return errors.Wrapf(err, "recording transition of %s", t.Slot)
}

func (j *Journal) RecordRejection(r limits.Rejection) error {
	// SQLite has no infinity; unlimited is stored as NULL.
	var capacity interface{} = r.Capacity
	if limits.IsUnlimited(r.Capacity) {
		capacity = nil
	}
	err := j.exec(`INSERT INTO rejections (id, job_id, limit_name, weight, usage, capacity, at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), r.JobID, r.Limit, r.Weight, r.Usage, capacity, r.Time.UTC())
	return errors.Wrapf(err, "recording rejection of job %s", r.JobID)
}

// Logs rather than returns errors, for use as an observer.
func logged(what string, err error) {
	if err != nil {
		log.WithFields(log.Fields{"record": what, "err": err}).Error("Failed to write journal")
	}
}

func (j *Journal) ObserveJobEvent(ev domain.JobEvent)    { logged("job event", j.RecordJobEvent(ev)) }
func (j *Journal) ObserveTransition(t slots.Transition) { logged("transition", j.RecordTransition(t)) }
func (j *Journal) ObserveRejection(r limits.Rejection)  { logged("rejection", j.RecordRejection(r)) }

// RejectionsByLimit counts rejection records per limit name.
func (j *Journal) RejectionsByLimit() (map[string]int, error) {
	rows, err := j.db.Query(`SELECT limit_name, COUNT(*) FROM rejections GROUP BY limit_name`)
	if err != nil {
		return nil, errors.Wrap(err, "querying rejections")
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, errors.Wrap(err, "scanning rejections")
		}
		out[name] = n
	}
	return out, rows.Err()
}

// PeakBusy replays the activity transitions and returns the most slots that
// were Busy at once.
func (j *Journal) PeakBusy() (int, error) {
	rows, err := j.db.Query(`SELECT to_activity FROM transitions ORDER BY seq`)
	if err != nil {
		return 0, errors.Wrap(err, "querying transitions")
	}
	defer rows.Close()
	busy, peak := 0, 0
	for rows.Next() {
		var to string
		if err := rows.Scan(&to); err != nil {
			return 0, errors.Wrap(err, "scanning transitions")
		}
		if to == slots.Busy.String() {
			busy++
		} else {
			busy--
		}
		if busy > peak {
			peak = busy
		}
	}
	return peak, rows.Err()
}

// JobHistory returns a job's events in the order they happened.
func (j *Journal) JobHistory(jobID string) ([]domain.JobEvent, error) {
	rows, err := j.db.Query(`SELECT from_status, to_status, slot, at FROM job_events WHERE job_id = ? ORDER BY seq`, jobID)
	if err != nil {
		return nil, errors.Wrapf(err, "querying history of %s", jobID)
	}
	defer rows.Close()
	out := []domain.JobEvent{}
	for rows.Next() {
		var from, to, slot string
		var at time.Time
		if err := rows.Scan(&from, &to, &slot, &at); err != nil {
			return nil, errors.Wrap(err, "scanning job events")
		}
		out = append(out, domain.JobEvent{
			JobID: jobID,
			From:  parseStatus(from),
			To:    parseStatus(to),
			Slot:  slots.SlotId(slot),
			Time:  at,
		})
	}
	return out, rows.Err()
}

func parseStatus(s string) domain.Status {
	for st := domain.Idle; st <= domain.Removed; st++ {
		if st.String() == s {
			return st
		}
	}
	return domain.Status(-1)
}
