package services

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/secfiles/filevault/internal/common"
	"github.com/secfiles/filevault/internal/dbx"
	"github.com/secfiles/filevault/internal/server/models"
	auditrepo "github.com/secfiles/filevault/internal/server/repositories/audit"
	"github.com/secfiles/filevault/internal/server/repositories/files"
	"github.com/secfiles/filevault/internal/server/repositories/shares"
	"github.com/secfiles/filevault/internal/server/scan"
)

// fakeRepoManager hands out in-memory repositories regardless of the DBTX
// it is given, so services can be exercised without a database.
type fakeRepoManager struct {
	files  *fakeFilesRepo
	shares *fakeSharesRepo
	audit  *fakeAuditRepo
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{
		files:  &fakeFilesRepo{items: map[string]*models.StoredFile{}},
		shares: &fakeSharesRepo{items: map[string]*models.ShareGrant{}},
		audit:  &fakeAuditRepo{},
	}
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Files(dbx.DBTX) files.Repository              { return m.files }
func (m *fakeRepoManager) Shares(dbx.DBTX) shares.Repository            { return m.shares }
func (m *fakeRepoManager) Audit(dbx.DBTX) auditrepo.Repository          { return m.audit }

type fakeFilesRepo struct {
	mu    sync.Mutex
	items map[string]*models.StoredFile

	createErr error
	// createHook runs inside Create before the result is decided, so tests
	// can cancel the caller's context mid-commit.
	createHook func()
}

func (r *fakeFilesRepo) Create(_ context.Context, file *models.StoredFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createHook != nil {
		r.createHook()
	}
	if r.createErr != nil {
		return r.createErr
	}
	cp := *file
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now()
	}
	r.items[file.ID] = &cp
	return nil
}

func (r *fakeFilesRepo) GetByID(_ context.Context, id string) (*models.StoredFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.items[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *f
	return &cp, nil
}

func (r *fakeFilesRepo) UpdateStatus(_ context.Context, id string, from, to models.FileStatus, threatLabel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.items[id]
	if !ok {
		return common.ErrorNotFound
	}
	if f.Status != from || !from.CanTransition(to) {
		return common.ErrInvalidTransition
	}
	f.Status = to
	f.ThreatLabel = threatLabel
	f.UpdatedAt = time.Now()
	return nil
}

func (r *fakeFilesRepo) SoftDelete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.items[id]
	if !ok {
		return common.ErrorNotFound
	}
	now := time.Now()
	f.Status = models.FileStatusDeleted
	f.DeletedAt = &now
	return nil
}

func (r *fakeFilesRepo) RecordAccess(_ context.Context, id string, actorID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.items[id]
	if !ok {
		return common.ErrorNotFound
	}
	now := time.Now()
	f.DownloadCount++
	f.LastAccessAt = &now
	f.LastAccessBy = actorID
	return nil
}

func (r *fakeFilesRepo) ListByOwner(_ context.Context, ownerID string) ([]*models.StoredFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.StoredFile
	for _, f := range r.items {
		if f.OwnerID == ownerID && f.Status != models.FileStatusDeleted {
			cp := *f
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeFilesRepo) ListPendingOlderThan(_ context.Context, cutoff time.Time) ([]*models.StoredFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.StoredFile
	for _, f := range r.items {
		if f.Status == models.FileStatusPending && f.UpdatedAt.Before(cutoff) {
			cp := *f
			out = append(out, &cp)
		}
	}
	return out, nil
}

// age backdates a stored file so the pending sweep treats it as stale.
func (r *fakeFilesRepo) age(id string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.items[id]; ok {
		f.UpdatedAt = f.UpdatedAt.Add(-d)
	}
}

type fakeSharesRepo struct {
	mu    sync.Mutex
	items map[string]*models.ShareGrant
}

func (r *fakeSharesRepo) Create(_ context.Context, grant *models.ShareGrant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *grant
	cp.CreatedAt = time.Now()
	r.items[grant.Token] = &cp
	return nil
}

func (r *fakeSharesRepo) GetByToken(_ context.Context, token string) (*models.ShareGrant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.items[token]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *g
	return &cp, nil
}

// Consume mirrors the conditional single-row update: check and increment
// under one lock, so concurrent callers serialize exactly as in Postgres.
func (r *fakeSharesRepo) Consume(_ context.Context, token string) (*models.ShareGrant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.items[token]
	if !ok {
		return nil, common.ErrGrantNotConsumable
	}
	if !g.Usable(nowFunc()) {
		return nil, common.ErrGrantNotConsumable
	}
	g.DownloadCount++
	now := time.Now()
	g.LastAccessAt = &now
	cp := *g
	return &cp, nil
}

func (r *fakeSharesRepo) Revoke(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.items[token]
	if !ok {
		return common.ErrorNotFound
	}
	if g.Active {
		g.Active = false
		now := time.Now()
		g.RevokedAt = &now
	}
	return nil
}

func (r *fakeSharesRepo) DeactivateByFile(_ context.Context, fileID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, g := range r.items {
		if g.FileID == fileID && g.Active {
			g.Active = false
			g.RevokedAt = &now
		}
	}
	return nil
}

func (r *fakeSharesRepo) ListByFile(_ context.Context, fileID string) ([]*models.ShareGrant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ShareGrant
	for _, g := range r.items {
		if g.FileID == fileID {
			cp := *g
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeAuditRepo struct {
	mu     sync.Mutex
	events []*models.AuditEvent

	// failInserts makes the next N Insert calls fail.
	failInserts int
}

func (r *fakeAuditRepo) Insert(_ context.Context, event *models.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failInserts > 0 {
		r.failInserts--
		return common.ErrorInternal
	}
	cp := *event
	cp.CreatedAt = time.Now()
	r.events = append(r.events, &cp)
	return nil
}

func (r *fakeAuditRepo) List(_ context.Context, f auditrepo.Filter) ([]*models.AuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AuditEvent
	for _, e := range r.events {
		if f.Category != "" && e.Category != f.Category {
			continue
		}
		if f.IncidentOnly && !e.Incident {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeAuditRepo) GetByID(_ context.Context, id string) (*models.AuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.ID == id {
			cp := *e
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *fakeAuditRepo) UpdateResolution(_ context.Context, id string, state models.ResolutionState, note string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.ID == id {
			e.Resolution = state
			e.ResolutionNote = note
			return nil
		}
	}
	return common.ErrorNotFound
}

// actions returns the recorded action names in order.
func (r *fakeAuditRepo) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Action)
	}
	return out
}

func (r *fakeAuditRepo) countAction(action string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Action == action {
			n++
		}
	}
	return n
}

type fakeBlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte

	putErr error
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{blobs: map[string][]byte{}}
}

func (s *fakeBlobStore) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.blobs[key] = cp
	return nil
}

func (s *fakeBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[key]
	if !ok {
		return nil, common.ErrStorageFailure
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (s *fakeBlobStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, key)
	return nil
}

func filterIncidents() auditrepo.Filter {
	return auditrepo.Filter{IncidentOnly: true}
}

// scriptedScanner returns the queued verdicts in order and repeats the
// last one when the script runs out.
type scriptedScanner struct {
	mu       sync.Mutex
	verdicts []scan.Verdict
	calls    int
}

func (s *scriptedScanner) Scan(_ context.Context, _ []byte) (scan.Verdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.verdicts) {
		i = len(s.verdicts) - 1
	}
	s.calls++
	return s.verdicts[i], nil
}
