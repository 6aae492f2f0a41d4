package assignments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("assignment not found")

const dateLayout = "20060102"

// Assignment binds a vehicle to a block for one service date.
type Assignment struct {
	BlockID     string
	ServiceDate time.Time
	VehicleID   string
	LastUpdated time.Time
}

// dateKey stores service dates by calendar day so the time zone of the
// caller's time.Time does not matter.
func dateKey(t time.Time) string {
	return t.Format(dateLayout)
}

// Save inserts or replaces the assignment for its block and date.
func (s *Store) Save(ctx context.Context, a Assignment) error {
	return s.save(ctx, s.DB, a)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) save(ctx context.Context, db execer, a Assignment) error {
	if a.BlockID == "" || a.VehicleID == "" {
		return fmt.Errorf("assignment needs a block and a vehicle: %+v", a)
	}
	updated := a.LastUpdated
	if updated.IsZero() {
		updated = s.clock.Now()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO assignments (block_id, assignment_date, vehicle_id, last_updated)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (block_id, assignment_date)
		DO UPDATE SET vehicle_id = excluded.vehicle_id, last_updated = excluded.last_updated`,
		a.BlockID, dateKey(a.ServiceDate), a.VehicleID, updated.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save assignment for block %q: %w", a.BlockID, err)
	}
	return nil
}

// SaveAll saves every assignment in one transaction.
func (s *Store) SaveAll(ctx context.Context, list []Assignment) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	for _, a := range list {
		if err := s.save(ctx, tx, a); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit assignments: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAssignment(row scanner) (Assignment, error) {
	var (
		a       Assignment
		date    string
		updated int64
	)
	if err := row.Scan(&a.BlockID, &date, &a.VehicleID, &updated); err != nil {
		return Assignment{}, err
	}
	d, err := time.Parse(dateLayout, date)
	if err != nil {
		return Assignment{}, fmt.Errorf("bad assignment date %q: %w", date, err)
	}
	a.ServiceDate = d
	a.LastUpdated = time.UnixMilli(updated)
	return a, nil
}

func (s *Store) queryOne(ctx context.Context, query string, args ...any) (Assignment, error) {
	a, err := scanAssignment(s.DB.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Assignment{}, ErrNotFound
	}
	return a, err
}

func (s *Store) Get(ctx context.Context, blockID string, serviceDate time.Time) (Assignment, error) {
	return s.queryOne(ctx, `
		SELECT block_id, assignment_date, vehicle_id, last_updated
		FROM assignments WHERE block_id = ? AND assignment_date = ?`,
		blockID, dateKey(serviceDate))
}

// GetForVehicle returns the most recently updated assignment of a vehicle
// on a date.
func (s *Store) GetForVehicle(ctx context.Context, vehicleID string, serviceDate time.Time) (Assignment, error) {
	return s.queryOne(ctx, `
		SELECT block_id, assignment_date, vehicle_id, last_updated
		FROM assignments WHERE vehicle_id = ? AND assignment_date = ?
		ORDER BY last_updated DESC LIMIT 1`,
		vehicleID, dateKey(serviceDate))
}

func (s *Store) GetAll(ctx context.Context, serviceDate time.Time) ([]Assignment, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT block_id, assignment_date, vehicle_id, last_updated
		FROM assignments WHERE assignment_date = ?
		ORDER BY block_id`, dateKey(serviceDate))
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) Delete(ctx context.Context, blockID string, serviceDate time.Time) error {
	_, err := s.DB.ExecContext(ctx,
		`DELETE FROM assignments WHERE block_id = ? AND assignment_date = ?`,
		blockID, dateKey(serviceDate))
	if err != nil {
		return fmt.Errorf("failed to delete assignment for block %q: %w", blockID, err)
	}
	return nil
}

func (s *Store) DeleteAll(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM assignments`); err != nil {
		return fmt.Errorf("failed to delete assignments: %w", err)
	}
	return nil
}

// DeleteAllExceptDate drops every assignment not on serviceDate and reports
// how many rows went.
func (s *Store) DeleteAllExceptDate(ctx context.Context, serviceDate time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM assignments WHERE assignment_date != ?`, dateKey(serviceDate))
	if err != nil {
		return 0, fmt.Errorf("failed to prune assignments: %w", err)
	}
	return res.RowsAffected()
}

// DeleteBefore drops assignments for service dates earlier than serviceDate.
func (s *Store) DeleteBefore(ctx context.Context, serviceDate time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM assignments WHERE assignment_date < ?`, dateKey(serviceDate))
	if err != nil {
		return 0, fmt.Errorf("failed to prune assignments: %w", err)
	}
	return res.RowsAffected()
}

// BlockForVehicle returns the block a vehicle is assigned on serviceDate, or
// "" when it has none.
func (s *Store) BlockForVehicle(ctx context.Context, vehicleID string, serviceDate time.Time) (string, error) {
	a, err := s.GetForVehicle(ctx, vehicleID, serviceDate)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return a.BlockID, nil
}
