package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/secfiles/filevault/internal/common"
	"github.com/secfiles/filevault/internal/dbx"
	"github.com/secfiles/filevault/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, event *models.AuditEvent) error {
	detail, err := json.Marshal(event.Detail)
	if err != nil {
		return fmt.Errorf("marshal detail: %w", err)
	}

	var actor sql.NullString
	if event.ActorID != "" {
		actor = sql.NullString{String: event.ActorID, Valid: true}
	}

	query := `
		INSERT INTO audit_events (id, category, severity, actor_id, subject_type,
			subject_id, action, detail, client_addr, incident, resolution, resolution_note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	res, err := r.db.ExecContext(ctx, query,
		event.ID, event.Category, event.Severity, actor, event.SubjectType,
		event.SubjectID, event.Action, detail, event.ClientAddr, event.Incident,
		event.Resolution, event.ResolutionNote)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
	return nil
}

const eventColumns = `id, category, severity, actor_id, subject_type, subject_id,
	action, detail, client_addr, incident, resolution, resolution_note, created_at`

func (r *PostgresRepository) List(ctx context.Context, f Filter) ([]*models.AuditEvent, error) {
	var conds []string
	var args []any

	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, cond+"$"+strconv.Itoa(len(args)))
	}

	if f.Category != "" {
		add("category=", f.Category)
	}
	if f.Severity != "" {
		add("severity=", f.Severity)
	}
	if f.ActorID != "" {
		add("actor_id=", f.ActorID)
	}
	if f.IncidentOnly {
		conds = append(conds, "incident")
	}
	if !f.From.IsZero() {
		add("created_at >= ", f.From)
	}
	if !f.To.IsZero() {
		add("created_at < ", f.To)
	}

	query := `SELECT ` + eventColumns + ` FROM audit_events`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select events: %w", err)
	}
	defer rows.Close()

	var result []*models.AuditEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.AuditEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM audit_events WHERE id=$1`

	e, err := scanEvent(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("failed to select event: %w", err)
	}
	return e, nil
}

func (r *PostgresRepository) UpdateResolution(ctx context.Context, id string, state models.ResolutionState, note string) error {
	query := `
		UPDATE audit_events SET resolution=$1, resolution_note=$2
		WHERE id=$3 AND incident
	`
	res, err := r.db.ExecContext(ctx, query, state, note, id)
	if err != nil {
		return fmt.Errorf("failed to update resolution: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n != 1 {
		return common.ErrorNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*models.AuditEvent, error) {
	var e models.AuditEvent
	var actor sql.NullString
	var detail []byte
	err := row.Scan(&e.ID, &e.Category, &e.Severity, &actor, &e.SubjectType, &e.SubjectID,
		&e.Action, &detail, &e.ClientAddr, &e.Incident, &e.Resolution, &e.ResolutionNote,
		&e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.ActorID = actor.String
	if len(detail) > 0 {
		if err := json.Unmarshal(detail, &e.Detail); err != nil {
			return nil, fmt.Errorf("unmarshal detail: %w", err)
		}
	}
	return &e, nil
}
