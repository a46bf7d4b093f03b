package ledger

import (
	"context"
	"database/sql"
	"time"

	"github.com/httprunner/DevicePool/internal/sqlitex"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const testRunsTable = "test_runs"

// SQLiteSink stores rows in the test_runs table next to the inventory.
type SQLiteSink struct {
	db     *sql.DB
	ownsDB bool
}

// OpenSQLiteSink opens path (default location when empty) and prepares the table.
func OpenSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sqlitex.Open(path)
	if err != nil {
		return nil, err
	}
	sink, err := NewSQLiteSink(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	sink.ownsDB = true
	return sink, nil
}

// NewSQLiteSink uses an existing handle, typically the inventory's.
func NewSQLiteSink(db *sql.DB) (*SQLiteSink, error) {
	if db == nil {
		return nil, errors.New("ledger: sqlite db is nil")
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS test_runs (
		id TEXT PRIMARY KEY,
		testsetid INTEGER NOT NULL,
		device INTEGER NOT NULL,
		device_name TEXT NOT NULL,
		sessionid TEXT,
		script TEXT NOT NULL,
		status TEXT NOT NULL,
		remarks TEXT,
		machine TEXT,
		starttime DATETIME NOT NULL,
		endtime DATETIME
	);`); err != nil {
		return nil, errors.Wrap(err, "ledger: init test_runs failed")
	}
	// added after the first release of the table
	if err := sqlitex.EnsureColumn(db, testRunsTable, "host_uuid", "TEXT"); err != nil {
		return nil, err
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_test_runs_testset ON test_runs(testsetid);`); err != nil {
		return nil, errors.Wrap(err, "ledger: init test_runs index failed")
	}
	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Name() string { return "sqlite" }

func (s *SQLiteSink) Create(ctx context.Context, run *TestRun) error {
	query := `INSERT INTO test_runs (id, testsetid, device, device_name, sessionid, script, status, remarks, machine, host_uuid, starttime, endtime)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	args := []any{run.ID, run.TestSetID, run.DeviceID, run.DeviceName, run.SessionID, run.Script,
		run.Status, run.Remarks, run.Machine, run.HostUUID, run.StartTime.UTC(), nullableTime(run.EndTime)}
	log.Debug().Str("sql", sqlitex.FormatSQLForLog(query, args...)).Msg("ledger insert")
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(err, "ledger: insert test run failed")
	}
	return nil
}

// Update writes the terminal state. Only a running row can be updated, so a
// row transitions out of running exactly once.
func (s *SQLiteSink) Update(ctx context.Context, run *TestRun) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE test_runs SET status = ?, remarks = ?, endtime = ? WHERE id = ? AND status = ?`,
		run.Status, run.Remarks, nullableTime(run.EndTime), run.ID, StatusRunning)
	if err != nil {
		return errors.Wrapf(err, "ledger: update test run %s failed", run.ID)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "ledger: read affected rows failed")
	}
	if affected == 0 {
		return errors.Wrapf(ErrAlreadyClosed, "run_id=%s not running", run.ID)
	}
	return nil
}

// Get loads a row by id.
func (s *SQLiteSink) Get(ctx context.Context, id string) (*TestRun, error) {
	var (
		run     TestRun
		session sql.NullString
		remarks sql.NullString
		machine sql.NullString
		host    sql.NullString
		end     sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, testsetid, device, device_name, sessionid, script, status, remarks, machine, host_uuid, starttime, endtime
		FROM test_runs WHERE id = ?`, id).
		Scan(&run.ID, &run.TestSetID, &run.DeviceID, &run.DeviceName, &session, &run.Script,
			&run.Status, &remarks, &machine, &host, &run.StartTime, &end)
	if err != nil {
		return nil, errors.Wrapf(err, "ledger: load test run %s failed", id)
	}
	run.SessionID = session.String
	run.Remarks = remarks.String
	run.Machine = machine.String
	run.HostUUID = host.String
	if end.Valid {
		t := end.Time
		run.EndTime = &t
	}
	return &run, nil
}

func (s *SQLiteSink) Close() error {
	if s == nil || s.db == nil || !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
