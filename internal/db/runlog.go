package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RunRecord is one entry of the append-only run log.
type RunRecord struct {
	Id         int64
	RunType    string
	StartId    string
	Successful bool
	RunDate    time.Time
}

// Mark appends a run log entry and returns its id. An empty startId is stored
// as null.
func (s Store) Mark(ctx context.Context, runType, startId string, success bool) (int64, error) {
	var start any
	if startId != "" {
		start = startId
	}
	successful := 0
	if success {
		successful = 1
	}

	res, err := s.db.ExecContext(
		ctx,
		"insert into update_history (run_type, start_id, successful, run_date) values (?, ?, ?, ?)",
		runType, start, successful, s.time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("mark %s: %w", runType, err)
	}
	return res.LastInsertId()
}

// StartType and CompleteType name the two entries bracketing a run.
func StartType(runType string) string    { return runType + "_start" }
func CompleteType(runType string) string { return runType + "_complete" }

// LastStart returns when the latest run of runType that completed
// successfully was started. A start entry belongs to the first complete entry
// of the same run type written after it.
func (s Store) LastStart(ctx context.Context, runType string) (time.Time, bool, error) {
	var runDate sql.NullInt64
	err := s.db.QueryRowContext(
		ctx,
		`select max(s.run_date) from update_history s
where s.run_type = ? and s.successful = 1
and (
    select c.successful from update_history c
    where c.run_type = ? and c.id > s.id
    order by c.id limit 1
) = 1`,
		StartType(runType), CompleteType(runType),
	).Scan(&runDate)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("last start %s: %w", runType, err)
	}
	if !runDate.Valid {
		return time.Time{}, false, nil
	}
	return time.Unix(runDate.Int64, 0).In(s.time.Location()), true, nil
}

// History lists the newest run log entries first, an empty runType lists all.
func (s Store) History(ctx context.Context, runType string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(
		ctx,
		`select id, run_type, start_id, successful, run_date from update_history
where (? = '' or run_type = ? or run_type like ? || '\_%' escape '\')
order by id desc limit ?`,
		runType, runType, runType, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("run history: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var r RunRecord
		var startId sql.NullString
		var successful int64
		var runDate int64
		err := rows.Scan(&r.Id, &r.RunType, &startId, &successful, &runDate)
		if err != nil {
			return nil, err
		}
		r.StartId = startId.String
		r.Successful = successful != 0
		r.RunDate = time.Unix(runDate, 0).In(s.time.Location())
		records = append(records, r)
	}
	return records, rows.Err()
}
