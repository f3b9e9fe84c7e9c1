package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secfiles/filevault/internal/common"
	"github.com/secfiles/filevault/internal/server/models"
	"github.com/secfiles/filevault/internal/server/scan"
	"github.com/secfiles/filevault/internal/server/validation"
)

type shareFixture struct {
	files  *FileService
	shares *ShareService
	repos  *fakeRepoManager
	blobs  *fakeBlobStore
	owner  Actor
	file   *models.StoredFile
	data   []byte
}

func newShareFixture(t *testing.T) *shareFixture {
	t.Helper()
	repos := newFakeRepoManager()
	blobs := newFakeBlobStore()
	logger := testLogger()
	cfg := testConfig()
	audit := NewAuditService(nil, repos, logger)
	scanner := &scriptedScanner{verdicts: []scan.Verdict{{Status: scan.StatusClean}}}
	fileSvc := NewFileService(nil, repos, validation.NewValidator(validation.Limits{}),
		scanner, blobs, audit, logger, cfg)
	shareSvc := NewShareService(nil, repos, fileSvc, audit, logger, cfg)

	owner := Actor{ID: "alice"}
	data := pngContent()
	file, err := fileSvc.Upload(context.Background(), owner, "doc.png", "image/png", data, int64(len(data)))
	require.NoError(t, err)

	return &shareFixture{
		files:  fileSvc,
		shares: shareSvc,
		repos:  repos,
		blobs:  blobs,
		owner:  owner,
		file:   file,
		data:   data,
	}
}

func denialReason(t *testing.T, err error) models.DenialReason {
	t.Helper()
	var d *DenialError
	require.ErrorAs(t, err, &d)
	// anonymous handlers must be able to collapse every denial to the
	// generic message
	require.ErrorIs(t, err, common.ErrShareUnavailable)
	return d.Reason
}

func TestIssueValidatesPolicy(t *testing.T) {
	fx := newShareFixture(t)
	ctx := context.Background()
	good := SharePolicy{ExpiresIn: time.Hour, MaxDownloads: 3, AllowDownload: true}

	tests := []struct {
		name   string
		actor  Actor
		fileID string
		policy SharePolicy
		want   error
	}{
		{"not owner", Actor{ID: "mallory"}, fx.file.ID, good, common.ErrorForbidden},
		{"unknown file", fx.owner, "nope", good, common.ErrorNotFound},
		{"zero expiry", fx.owner, fx.file.ID,
			SharePolicy{MaxDownloads: 3, AllowDownload: true}, common.ErrorValidation},
		{"expiry beyond max", fx.owner, fx.file.ID,
			SharePolicy{ExpiresIn: 365 * 24 * time.Hour, MaxDownloads: 3, AllowDownload: true}, common.ErrorValidation},
		{"zero downloads", fx.owner, fx.file.ID,
			SharePolicy{ExpiresIn: time.Hour, AllowDownload: true}, common.ErrorValidation},
		{"downloads beyond max", fx.owner, fx.file.ID,
			SharePolicy{ExpiresIn: time.Hour, MaxDownloads: 10_000, AllowDownload: true}, common.ErrorValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fx.shares.Issue(ctx, tt.actor, tt.fileID, tt.policy)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	grant, err := fx.shares.Issue(ctx, fx.owner, fx.file.ID, good)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(grant.Token), 40)
	assert.True(t, grant.Active)
	assert.False(t, grant.PasswordProtected())
}

func TestIssueRefusesNonCleanFile(t *testing.T) {
	fx := newShareFixture(t)
	ctx := context.Background()

	quarantined := &models.StoredFile{
		ID: "q1", OwnerID: fx.owner.ID, Status: models.FileStatusQuarantined,
	}
	require.NoError(t, fx.repos.files.Create(ctx, quarantined))

	_, err := fx.shares.Issue(ctx, fx.owner, "q1",
		SharePolicy{ExpiresIn: time.Hour, MaxDownloads: 1, AllowDownload: true})
	assert.ErrorIs(t, err, common.ErrorValidation)
}

func TestAccessConsumesUntilExhausted(t *testing.T) {
	fx := newShareFixture(t)
	ctx := context.Background()

	grant, err := fx.shares.Issue(ctx, fx.owner, fx.file.ID,
		SharePolicy{ExpiresIn: 24 * time.Hour, MaxDownloads: 3, AllowDownload: true})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		payload, err := fx.shares.Access(ctx, grant.Token, "", "203.0.113.7")
		require.NoError(t, err)
		assert.Equal(t, fx.data, payload.Data)
		assert.Equal(t, "doc.png", payload.Name)
	}

	_, err = fx.shares.Access(ctx, grant.Token, "", "203.0.113.7")
	assert.Equal(t, models.DenialExhausted, denialReason(t, err))

	got, err := fx.repos.shares.GetByToken(ctx, grant.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.DownloadCount)
}

func TestAccessDeniedAfterExpiry(t *testing.T) {
	fx := newShareFixture(t)
	ctx := context.Background()

	grant, err := fx.shares.Issue(ctx, fx.owner, fx.file.ID,
		SharePolicy{ExpiresIn: time.Hour, MaxDownloads: 5, AllowDownload: true})
	require.NoError(t, err)

	_, err = fx.shares.Access(ctx, grant.Token, "", "")
	require.NoError(t, err)

	orig := nowFunc
	nowFunc = func() time.Time { return time.Now().Add(2 * time.Hour) }
	defer func() { nowFunc = orig }()

	_, err = fx.shares.Access(ctx, grant.Token, "", "")
	assert.Equal(t, models.DenialExpired, denialReason(t, err))
	assert.GreaterOrEqual(t, fx.repos.audit.countAction("share.denied"), 1)
}

func TestAccessPasswordProtected(t *testing.T) {
	fx := newShareFixture(t)
	ctx := context.Background()

	grant, err := fx.shares.Issue(ctx, fx.owner, fx.file.ID,
		SharePolicy{ExpiresIn: time.Hour, MaxDownloads: 5, AllowDownload: true, Password: "hunter2"})
	require.NoError(t, err)
	assert.True(t, grant.PasswordProtected())
	assert.NotContains(t, string(grant.PasswordVerifier), "hunter2")

	_, err = fx.shares.Access(ctx, grant.Token, "wrong", "198.51.100.9")
	assert.Equal(t, models.DenialBadPassword, denialReason(t, err))

	_, err = fx.shares.Access(ctx, grant.Token, "", "198.51.100.9")
	assert.Equal(t, models.DenialBadPassword, denialReason(t, err))

	payload, err := fx.shares.Access(ctx, grant.Token, "hunter2", "198.51.100.9")
	require.NoError(t, err)
	assert.Equal(t, fx.data, payload.Data)

	// a failed attempt never consumes a download
	got, err := fx.repos.shares.GetByToken(ctx, grant.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.DownloadCount)
	assert.Equal(t, 2, fx.repos.audit.countAction("share.denied"))
}

func TestAccessDownloadDisabled(t *testing.T) {
	fx := newShareFixture(t)
	ctx := context.Background()

	grant, err := fx.shares.Issue(ctx, fx.owner, fx.file.ID,
		SharePolicy{ExpiresIn: time.Hour, MaxDownloads: 1})
	require.NoError(t, err)

	_, err = fx.shares.Access(ctx, grant.Token, "", "")
	assert.Equal(t, models.DenialDownloadDisabled, denialReason(t, err))
}

func TestAccessUnknownToken(t *testing.T) {
	fx := newShareFixture(t)

	_, err := fx.shares.Access(context.Background(), "no-such-token", "", "192.0.2.1")
	assert.ErrorIs(t, err, common.ErrShareUnavailable)

	var d *DenialError
	assert.False(t, errors.As(err, &d), "unknown tokens must not leak a reason")
	assert.Equal(t, 1, fx.repos.audit.countAction("share.denied"))
}

func TestRevokeIsIdempotent(t *testing.T) {
	fx := newShareFixture(t)
	ctx := context.Background()

	grant, err := fx.shares.Issue(ctx, fx.owner, fx.file.ID,
		SharePolicy{ExpiresIn: time.Hour, MaxDownloads: 5, AllowDownload: true})
	require.NoError(t, err)

	assert.ErrorIs(t, fx.shares.Revoke(ctx, Actor{ID: "mallory"}, grant.Token), common.ErrorForbidden)

	require.NoError(t, fx.shares.Revoke(ctx, fx.owner, grant.Token))
	first, err := fx.repos.shares.GetByToken(ctx, grant.Token)
	require.NoError(t, err)
	require.NotNil(t, first.RevokedAt)

	require.NoError(t, fx.shares.Revoke(ctx, fx.owner, grant.Token))
	second, err := fx.repos.shares.GetByToken(ctx, grant.Token)
	require.NoError(t, err)
	assert.Equal(t, first.RevokedAt, second.RevokedAt)

	_, err = fx.shares.Access(ctx, grant.Token, "", "")
	assert.Equal(t, models.DenialRevoked, denialReason(t, err))
}

func TestConcurrentAccessNeverOversells(t *testing.T) {
	fx := newShareFixture(t)
	ctx := context.Background()

	grant, err := fx.shares.Issue(ctx, fx.owner, fx.file.ID,
		SharePolicy{ExpiresIn: time.Hour, MaxDownloads: 1, AllowDownload: true})
	require.NoError(t, err)

	const callers = 16
	var wg sync.WaitGroup
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fx.shares.Access(ctx, grant.Token, "", "")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	ok := 0
	for err := range results {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, common.ErrShareUnavailable)
		}
	}
	assert.Equal(t, 1, ok)

	got, err := fx.repos.shares.GetByToken(ctx, grant.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.DownloadCount)
}

func TestListForFile(t *testing.T) {
	fx := newShareFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := fx.shares.Issue(ctx, fx.owner, fx.file.ID,
			SharePolicy{ExpiresIn: time.Hour, MaxDownloads: 1, AllowDownload: true})
		require.NoError(t, err)
	}

	grants, err := fx.shares.ListForFile(ctx, fx.owner, fx.file.ID)
	require.NoError(t, err)
	assert.Len(t, grants, 3)

	_, err = fx.shares.ListForFile(ctx, Actor{ID: "mallory"}, fx.file.ID)
	assert.ErrorIs(t, err, common.ErrorForbidden)
}
