package audit

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/secfiles/filevault/internal/common"
	"github.com/secfiles/filevault/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func eventRows(e *models.AuditEvent, detail string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "category", "severity", "actor_id", "subject_type", "subject_id",
		"action", "detail", "client_addr", "incident", "resolution", "resolution_note", "created_at",
	}).AddRow(e.ID, e.Category, e.Severity, e.ActorID, e.SubjectType, e.SubjectID,
		e.Action, []byte(detail), e.ClientAddr, e.Incident, e.Resolution, e.ResolutionNote,
		time.Now())
}

func TestInsert_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^\s*INSERT\s+INTO\s+audit_events\b`
	mock.ExpectExec(q).
		WithArgs("e1", "security", "critical", "u1", "file",
			"f1", "file.quarantined", []byte(`{"threat":"Eicar"}`), "", true,
			"open", "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Insert(context.Background(), &models.AuditEvent{
		ID:          "e1",
		Category:    models.AuditSecurity,
		Severity:    models.SeverityCritical,
		ActorID:     "u1",
		SubjectType: "file",
		SubjectID:   "f1",
		Action:      "file.quarantined",
		Detail:      map[string]any{"threat": "Eicar"},
		Incident:    true,
		Resolution:  models.ResolutionOpen,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInsert_NullActorForSystemEvents(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^\s*INSERT\s+INTO\s+audit_events\b`).
		WithArgs("e2", "system", "critical", nil, "",
			"", "audit.sink_failure", []byte(`null`), "", true,
			"open", "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Insert(context.Background(), &models.AuditEvent{
		ID:         "e2",
		Category:   models.AuditSystem,
		Severity:   models.SeverityCritical,
		Action:     "audit.sink_failure",
		Incident:   true,
		Resolution: models.ResolutionOpen,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestInsert_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^\s*INSERT\s+INTO\s+audit_events\b`).
		WillReturnError(errors.New("db down"))

	err := repo.Insert(context.Background(), &models.AuditEvent{ID: "e1", Resolution: models.ResolutionNone})
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestList_NoFilter(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	e := &models.AuditEvent{ID: "e1", Category: models.AuditFile, Severity: models.SeverityLow,
		Action: "file.uploaded", Resolution: models.ResolutionNone}
	mock.ExpectQuery(`(?s)^SELECT\s+.*\s+FROM\s+audit_events\s+ORDER\s+BY\s+created_at\s+DESC$`).
		WillReturnRows(eventRows(e, `{"name":"doc.pdf"}`))

	got, err := repo.List(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Detail["name"] != "doc.pdf" {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestList_ComposedFilter(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	e := &models.AuditEvent{ID: "e1", Category: models.AuditSecurity, Severity: models.SeverityCritical,
		ActorID: "u1", Action: "file.quarantined", Incident: true, Resolution: models.ResolutionOpen}
	q := `(?s)^SELECT\s+.*\s+FROM\s+audit_events\s+WHERE\s+category=\$1\s+AND\s+actor_id=\$2\s+AND\s+incident\s+ORDER\s+BY\s+created_at\s+DESC\s+LIMIT\s+\$3$`
	mock.ExpectQuery(q).
		WithArgs("security", "u1", 10).
		WillReturnRows(eventRows(e, `{}`))

	got, err := repo.List(context.Background(), Filter{
		Category:     models.AuditSecurity,
		ActorID:      "u1",
		IncidentOnly: true,
		Limit:        10,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || !got[0].Incident {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestGetByID_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^SELECT\s+.*\s+FROM\s+audit_events\s+WHERE\s+id=\$1$`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want ErrorNotFound, got %v", err)
	}
}

func TestUpdateResolution_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^\s*UPDATE\s+audit_events\s+SET\s+resolution=\$1,\s*resolution_note=\$2\s+WHERE\s+id=\$3\s+AND\s+incident`
	mock.ExpectExec(q).
		WithArgs("resolved", "false positive", "e1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateResolution(context.Background(), "e1", models.ResolutionResolved, "false positive")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUpdateResolution_NonIncident(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^\s*UPDATE\s+audit_events\s+SET\s+resolution=`).
		WithArgs("resolved", "", "e1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateResolution(context.Background(), "e1", models.ResolutionResolved, "")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want ErrorNotFound, got %v", err)
	}
}
