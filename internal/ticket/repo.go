package ticket

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Repository persists tickets in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const ticketColumns = `id, owner_id, subject, description, location, schedule_start, schedule_end,
	token, expires_at, is_active, capacity, accepted_count, created_at, updated_at`

func scanTicket(row interface{ Scan(...any) error }) (Ticket, error) {
	var t Ticket
	err := row.Scan(&t.ID, &t.OwnerID, &t.Subject, &t.Description, &t.Location,
		&t.ScheduleStart, &t.ScheduleEnd, &t.Token, &t.ExpiresAt, &t.IsActive,
		&t.Capacity, &t.AcceptedCount, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Ticket{}, ErrNotFound
	}
	return t, err
}

// Insert writes a new ticket. A token collision (unique index) is retried
// once with a fresh token before giving up.
func (r *Repository) Insert(ctx context.Context, t Ticket) (Ticket, error) {
	for attempt := 0; ; attempt++ {
		row := r.db.QueryRowContext(ctx, `
			INSERT INTO session_tickets
				(id, owner_id, subject, description, location, schedule_start, schedule_end,
				 token, expires_at, is_active, capacity, accepted_count)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,0)
			RETURNING `+ticketColumns+`
		`, t.ID, t.OwnerID, t.Subject, t.Description, t.Location, t.ScheduleStart, t.ScheduleEnd,
			t.Token, t.ExpiresAt, t.IsActive, t.Capacity)
		out, err := scanTicket(row)
		if isUniqueViolation(err) && attempt == 0 {
			t.Token = NewToken()
			continue
		}
		return out, err
	}
}

// Get returns a single ticket by id.
func (r *Repository) Get(ctx context.Context, id string) (Ticket, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+ticketColumns+` FROM session_tickets WHERE id = $1
	`, id)
	return scanTicket(row)
}

// UpdateToken rotates the bearer token, leaving everything else untouched.
func (r *Repository) UpdateToken(ctx context.Context, id, token string) (Ticket, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE session_tickets SET token = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+ticketColumns+`
	`, id, token)
	return scanTicket(row)
}

// Update applies a patch of non-schedule fields.
func (r *Repository) Update(ctx context.Context, id string, p Patch) (Ticket, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE session_tickets SET
			subject     = COALESCE($2, subject),
			description = COALESCE($3, description),
			location    = COALESCE($4, location),
			capacity    = COALESCE($5, capacity),
			updated_at  = NOW()
		WHERE id = $1
		RETURNING `+ticketColumns+`
	`, id, p.Subject, p.Description, p.Location, p.Capacity)
	return scanTicket(row)
}

// Delete removes the ticket; attendance records go with it via ON DELETE CASCADE.
func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM session_tickets WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetActive flips the manual revocation flag. Idempotent.
func (r *Repository) SetActive(ctx context.Context, id string, active bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE session_tickets SET is_active = $2, updated_at = NOW() WHERE id = $1
	`, id, active)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateExpired flags tickets past expiry as inactive. Hygiene only;
// Admissible rejects them regardless of whether this ran.
func (r *Repository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE session_tickets SET is_active = FALSE, updated_at = NOW()
		WHERE is_active AND expires_at < $1
	`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// isUniqueViolation reports whether err is a Postgres unique constraint error.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
