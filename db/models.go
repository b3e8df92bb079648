package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"cmt-fetcher/models"
)

// Run statuses
const (
	StatusCreated    = "created"
	StatusInProgress = "in_progress"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

const dateLayout = "2006-01-02"

// Run is one catalog retrieval stored in the database
type Run struct {
	ID             int64
	QueryURL       string
	StartDate      string // YYYY-MM-DD
	EndDate        string
	Status         string // "created", "in_progress", "done", "failed"
	SolutionsCount int
	PagesCount     int
	SheetName      sql.NullString
	ObjectURL      sql.NullString
	LastError      sql.NullString
}

// CreateRun creates a new run in the created state
func (db *DB) CreateRun(ctx context.Context, queryURL string, start, end time.Time) (*Run, error) {
	run := Run{
		QueryURL:  queryURL,
		StartDate: start.Format(dateLayout),
		EndDate:   end.Format(dateLayout),
		Status:    StatusCreated,
	}

	err := db.conn.QueryRowContext(ctx, db.rebind(`
		INSERT INTO runs (query_url, start_date, end_date, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`), run.QueryURL, run.StartDate, run.EndDate, run.Status).Scan(&run.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	return &run, nil
}

// UpdateRunStatus updates the status of a run
func (db *DB) UpdateRunStatus(ctx context.Context, runID int64, status string) error {
	_, err := db.conn.ExecContext(ctx, db.rebind(`
		UPDATE runs
		SET status = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2
	`), status, runID)
	return err
}

// MarkRunFailed sets the failed status and records the error text
func (db *DB) MarkRunFailed(ctx context.Context, runID int64, reason string) error {
	_, err := db.conn.ExecContext(ctx, db.rebind(`
		UPDATE runs
		SET status = $1, last_error = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $3
	`), StatusFailed, reason, runID)
	return err
}

// UpdateRunSheetName updates the sheet name for a run
func (db *DB) UpdateRunSheetName(ctx context.Context, runID int64, sheetName string) error {
	_, err := db.conn.ExecContext(ctx, db.rebind(`
		UPDATE runs
		SET sheet_name = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2
	`), sheetName, runID)
	return err
}

// UpdateRunObjectURL records where the export of a run was uploaded
func (db *DB) UpdateRunObjectURL(ctx context.Context, runID int64, objectURL string) error {
	_, err := db.conn.ExecContext(ctx, db.rebind(`
		UPDATE runs
		SET object_url = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2
	`), objectURL, runID)
	return err
}

// SaveResult stores the header lines and solutions of a run in one
// transaction, keeping their order, and updates the run counts.
func (db *DB) SaveResult(ctx context.Context, runID int64, result *models.Result) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	headerStmt, err := tx.PrepareContext(ctx, db.rebind(`
		INSERT INTO run_header_lines (run_id, line_no, line)
		VALUES ($1, $2, $3)
	`))
	if err != nil {
		return fmt.Errorf("failed to prepare header statement: %w", err)
	}
	defer headerStmt.Close()

	for i, line := range result.Header {
		if _, err := headerStmt.ExecContext(ctx, runID, i+1, line); err != nil {
			return fmt.Errorf("failed to insert header line %d: %w", i+1, err)
		}
	}

	solutionStmt, err := tx.PrepareContext(ctx, db.rebind(`
		INSERT INTO solutions (run_id, row_no, lon, lat, depth, mrr, mtt, mpp, mrt, mrp, mtp, iexp, coord_x, coord_y, name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`))
	if err != nil {
		return fmt.Errorf("failed to prepare solution statement: %w", err)
	}
	defer solutionStmt.Close()

	for i, s := range result.Solutions {
		args := append([]interface{}{runID, i + 1}, s.Values()...)
		if _, err := solutionStmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to insert solution (runID=%d, row=%d): %w", runID, i+1, err)
		}
	}

	if _, err := tx.ExecContext(ctx, db.rebind(`
		UPDATE runs
		SET solutions_count = $1, pages_count = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $3
	`), len(result.Solutions), result.Pages, runID); err != nil {
		return fmt.Errorf("failed to update run counts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetRunByID retrieves a run by ID
func (db *DB) GetRunByID(ctx context.Context, runID int64) (*Run, error) {
	var run Run
	err := db.conn.QueryRowContext(ctx, db.rebind(`
		SELECT id, query_url, start_date, end_date, status, solutions_count, pages_count, sheet_name, object_url, last_error
		FROM runs
		WHERE id = $1
	`), runID).Scan(
		&run.ID, &run.QueryURL, &run.StartDate, &run.EndDate, &run.Status,
		&run.SolutionsCount, &run.PagesCount, &run.SheetName, &run.ObjectURL, &run.LastError,
	)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListHeader returns the header lines of a run in their original order
func (db *DB) ListHeader(ctx context.Context, runID int64) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, db.rebind(`
		SELECT line FROM run_header_lines
		WHERE run_id = $1
		ORDER BY line_no
	`), runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// ListSolutions returns the solutions of a run in fetch order
func (db *DB) ListSolutions(ctx context.Context, runID int64) ([]models.Solution, error) {
	rows, err := db.conn.QueryContext(ctx, db.rebind(`
		SELECT lon, lat, depth, mrr, mtt, mpp, mrt, mrp, mtp, iexp, coord_x, coord_y, name
		FROM solutions
		WHERE run_id = $1
		ORDER BY row_no
	`), runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.Solution
	for rows.Next() {
		var s models.Solution
		if err := rows.Scan(
			&s.Lon, &s.Lat, &s.Depth,
			&s.Mrr, &s.Mtt, &s.Mpp, &s.Mrt, &s.Mrp, &s.Mtp,
			&s.Exp, &s.CoordX, &s.CoordY, &s.Name,
		); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// LoadResult reassembles the stored result of a run
func (db *DB) LoadResult(ctx context.Context, runID int64) (*models.Result, error) {
	run, err := db.GetRunByID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run %d: %w", runID, err)
	}
	header, err := db.ListHeader(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load header of run %d: %w", runID, err)
	}
	solutions, err := db.ListSolutions(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load solutions of run %d: %w", runID, err)
	}
	return &models.Result{Header: header, Solutions: solutions, Pages: run.PagesCount}, nil
}
