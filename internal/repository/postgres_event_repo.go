package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/organizer/internal/model"
)

// PostgresEventRepo はPostgreSQLを使用したイベントリポジトリ。
type PostgresEventRepo struct {
	db *sql.DB
}

// NewPostgresEventRepo はPostgresEventRepoを生成する。
func NewPostgresEventRepo(db *sql.DB) *PostgresEventRepo {
	return &PostgresEventRepo{db: db}
}

// Create はイベントを作成し、採番されたIDを設定する。
func (r *PostgresEventRepo) Create(ctx context.Context, e *model.Event) error {
	date, err := time.Parse(model.DateLayout, e.Date)
	if err != nil {
		return fmt.Errorf("failed to parse event date: %w", err)
	}

	var maxAttendees sql.NullInt64
	if e.MaxAttendees != nil {
		maxAttendees = sql.NullInt64{Int64: int64(*e.MaxAttendees), Valid: true}
	}

	err = r.db.QueryRowContext(ctx,
		`INSERT INTO events (name, location, date, description, created_at, updated_at,
		                     organizer_id, organizer_name, organizer_email, organizer_phone,
		                     status, attendees, max_attendees)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING id`,
		e.Name, e.Location, date, e.Description, e.CreatedAt, e.UpdatedAt,
		e.OrganizerID, e.OrganizerName, nullString(e.OrganizerEmail), nullString(e.OrganizerPhone),
		e.Status, e.Attendees, maxAttendees,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}
	return nil
}

// ListByOrganizer は主催者のイベントをcreated_at降順で返す。
func (r *PostgresEventRepo) ListByOrganizer(ctx context.Context, organizerID string) ([]model.Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, location, date, description, created_at, updated_at,
		        organizer_id, organizer_name, organizer_email, organizer_phone,
		        status, attendees, max_attendees
		 FROM events
		 WHERE organizer_id = $1
		 ORDER BY created_at DESC, id`,
		organizerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []model.Event{}
	for rows.Next() {
		var (
			e            model.Event
			date         time.Time
			email, phone sql.NullString
			maxAttendees sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.Name, &e.Location, &date, &e.Description, &e.CreatedAt, &e.UpdatedAt,
			&e.OrganizerID, &e.OrganizerName, &email, &phone,
			&e.Status, &e.Attendees, &maxAttendees); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Date = date.Format(model.DateLayout)
		e.OrganizerEmail = email.String
		e.OrganizerPhone = phone.String
		if maxAttendees.Valid {
			n := int(maxAttendees.Int64)
			e.MaxAttendees = &n
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}

// DeleteByID は指定IDのイベントを削除する。存在しない場合もエラーにしない。
func (r *PostgresEventRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM events WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	return nil
}

// compile-time interface check
var _ EventRepository = (*PostgresEventRepo)(nil)
