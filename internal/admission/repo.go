package admission

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Repository persists attendance records in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const recordColumns = `id, subject_id, ticket_id, status, method, biometric_score, verified, annotation, marked_at, created_at`

func scanRecord(row interface{ Scan(...any) error }) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.SubjectID, &rec.TicketID, &rec.Status, &rec.Method,
		&rec.BiometricScore, &rec.Verified, &rec.Annotation, &rec.MarkedAt, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

// Insert writes a record and bumps the owning ticket's accepted count in one
// transaction. The (subject_id, ticket_id) unique index decides races: the
// losing insert comes back as ErrDuplicateAdmission with the winning record.
func (r *Repository) Insert(ctx context.Context, rec Record) (Record, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		INSERT INTO attendance_records
			(id, subject_id, ticket_id, status, method, biometric_score, verified, annotation, marked_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,'',$8)
		RETURNING created_at
	`, rec.ID, rec.SubjectID, rec.TicketID, rec.Status, rec.Method, rec.BiometricScore, rec.Verified, rec.MarkedAt)
	if err := row.Scan(&rec.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if existing, ferr := r.Find(ctx, rec.SubjectID, rec.TicketID); ferr == nil && existing != nil {
				return Record{}, &DuplicateError{Existing: *existing}
			}
			return Record{}, ErrDuplicateAdmission
		}
		return Record{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE session_tickets SET accepted_count = accepted_count + 1, updated_at = NOW()
		WHERE id = $1
	`, rec.TicketID); err != nil {
		return Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Find returns the record for a (subject, ticket) pair, or nil.
func (r *Repository) Find(ctx context.Context, subjectID, ticketID string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM attendance_records
		WHERE subject_id = $1 AND ticket_id = $2
	`, subjectID, ticketID)
	rec, err := scanRecord(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Get returns a single record by id.
func (r *Repository) Get(ctx context.Context, id string) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM attendance_records WHERE id = $1
	`, id)
	return scanRecord(row)
}

// Update applies a reviewer revision.
func (r *Repository) Update(ctx context.Context, id string, status *Status, annotation *string) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE attendance_records SET
			status     = COALESCE($2, status),
			annotation = COALESCE($3, annotation)
		WHERE id = $1
		RETURNING `+recordColumns+`
	`, id, status, annotation)
	return scanRecord(row)
}

// Delete removes a record and returns the accepted-count slot to the ticket.
func (r *Repository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var ticketID string
	row := tx.QueryRowContext(ctx, `DELETE FROM attendance_records WHERE id = $1 RETURNING ticket_id`, id)
	if err := row.Scan(&ticketID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE session_tickets SET accepted_count = accepted_count - 1, updated_at = NOW()
		WHERE id = $1
	`, ticketID); err != nil {
		return err
	}
	return tx.Commit()
}

// List returns records with basic filters, newest first.
func (r *Repository) List(ctx context.Context, subjectID, ticketID string, limit, offset int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + recordColumns + ` FROM attendance_records`
	args := []any{}
	clauses := []string{}
	if subjectID != "" {
		args = append(args, subjectID)
		clauses = append(clauses, fmt.Sprintf("subject_id = $%d", len(args)))
	}
	if ticketID != "" {
		args = append(args, ticketID)
		clauses = append(clauses, fmt.Sprintf("ticket_id = $%d", len(args)))
	}
	for i, clause := range clauses {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}
	query += fmt.Sprintf(" ORDER BY marked_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}
