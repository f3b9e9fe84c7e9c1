package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/secfiles/filevault/internal/common"
	"github.com/secfiles/filevault/internal/server/models"
	auditrepo "github.com/secfiles/filevault/internal/server/repositories/audit"
	"github.com/secfiles/filevault/internal/server/services"
	"github.com/secfiles/filevault/internal/timex"
)

type fileView struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	ContentType   string     `json:"content_type"`
	Size          int64      `json:"size"`
	Status        string     `json:"status"`
	ThreatLabel   string     `json:"threat_label,omitempty"`
	DownloadCount int64      `json:"download_count"`
	CreatedAt     time.Time  `json:"created_at"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty"`
}

func toFileView(f *models.StoredFile) fileView {
	return fileView{
		ID:            f.ID,
		Name:          f.Name,
		ContentType:   f.ContentType,
		Size:          f.Size,
		Status:        string(f.Status),
		ThreatLabel:   f.ThreatLabel,
		DownloadCount: f.DownloadCount,
		CreatedAt:     f.CreatedAt,
		DeletedAt:     f.DeletedAt,
	}
}

type grantView struct {
	Token             string     `json:"token"`
	FileID            string     `json:"file_id"`
	ExpiresAt         time.Time  `json:"expires_at"`
	MaxDownloads      int64      `json:"max_downloads"`
	DownloadCount     int64      `json:"download_count"`
	AllowDownload     bool       `json:"allow_download"`
	Active            bool       `json:"active"`
	PasswordProtected bool       `json:"password_protected"`
	CreatedAt         time.Time  `json:"created_at"`
	RevokedAt         *time.Time `json:"revoked_at,omitempty"`
}

func toGrantView(g *models.ShareGrant) grantView {
	return grantView{
		Token:             g.Token,
		FileID:            g.FileID,
		ExpiresAt:         g.ExpiresAt,
		MaxDownloads:      g.MaxDownloads,
		DownloadCount:     g.DownloadCount,
		AllowDownload:     g.AllowDownload,
		Active:            g.Active,
		PasswordProtected: g.PasswordProtected(),
		CreatedAt:         g.CreatedAt,
		RevokedAt:         g.RevokedAt,
	}
}

type auditView struct {
	ID             string         `json:"id"`
	Category       string         `json:"category"`
	Severity       string         `json:"severity"`
	ActorID        string         `json:"actor_id,omitempty"`
	SubjectType    string         `json:"subject_type,omitempty"`
	SubjectID      string         `json:"subject_id,omitempty"`
	Action         string         `json:"action"`
	Detail         map[string]any `json:"detail,omitempty"`
	ClientAddr     string         `json:"client_addr,omitempty"`
	Incident       bool           `json:"incident"`
	Resolution     string         `json:"resolution"`
	ResolutionNote string         `json:"resolution_note,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

func toAuditView(e *models.AuditEvent) auditView {
	return auditView{
		ID:             e.ID,
		Category:       string(e.Category),
		Severity:       string(e.Severity),
		ActorID:        e.ActorID,
		SubjectType:    e.SubjectType,
		SubjectID:      e.SubjectID,
		Action:         e.Action,
		Detail:         e.Detail,
		ClientAddr:     e.ClientAddr,
		Incident:       e.Incident,
		Resolution:     string(e.Resolution),
		ResolutionNote: e.ResolutionNote,
		CreatedAt:      e.CreatedAt,
	}
}

// writeError maps service errors onto HTTP statuses. Share denials are
// deliberately collapsed to one generic 410 body; the precise reason lives
// only in the audit trail.
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, common.ErrShareUnavailable):
		c.JSON(http.StatusGone, gin.H{"error": "link unavailable"})
	case errors.Is(err, common.ErrThreatDetected):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "threat detected"})
	case errors.Is(err, common.ErrScanUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "screening unavailable"})
	case errors.Is(err, common.ErrorValidation), errors.Is(err, common.ErrInvalidTransition):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, common.ErrorUnauthorized), errors.Is(err, common.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case errors.Is(err, common.ErrorForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, common.ErrorNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		s.logger.Error(c.Request.Context(), "internal error", "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (s *Server) uploadFile(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file provided"})
		return
	}

	f, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read file"})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read file"})
		return
	}

	contentType := c.PostForm("content_type")
	if contentType == "" {
		contentType = header.Header.Get("Content-Type")
	}

	file, err := s.files.Upload(c.Request.Context(), currentActor(c),
		header.Filename, contentType, data, header.Size)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, toFileView(file))
	case errors.Is(err, common.ErrThreatDetected):
		c.JSON(http.StatusUnprocessableEntity, toFileView(file))
	case errors.Is(err, common.ErrScanUnavailable):
		// stored but not yet screened; the client may poll the status
		c.JSON(http.StatusAccepted, toFileView(file))
	default:
		s.writeError(c, err)
	}
}

func (s *Server) listFiles(c *gin.Context) {
	files, err := s.files.List(c.Request.Context(), currentActor(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	views := make([]fileView, 0, len(files))
	for _, f := range files {
		views = append(views, toFileView(f))
	}
	c.JSON(http.StatusOK, views)
}

func (s *Server) getFile(c *gin.Context) {
	file, err := s.files.Get(c.Request.Context(), currentActor(c), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toFileView(file))
}

func (s *Server) fileStatus(c *gin.Context) {
	status, err := s.files.Status(c.Request.Context(), currentActor(c), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(status)})
}

func (s *Server) downloadFile(c *gin.Context) {
	file, data, err := s.files.Download(c.Request.Context(), currentActor(c), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+file.Name+`"`)
	c.Data(http.StatusOK, file.ContentType, data)
}

func (s *Server) deleteFile(c *gin.Context) {
	if err := s.files.Delete(c.Request.Context(), currentActor(c), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type issueShareRequest struct {
	ExpiresIn     timex.Duration `json:"expires_in"`
	MaxDownloads  int64          `json:"max_downloads"`
	Password      string         `json:"password"`
	AllowDownload bool           `json:"allow_download"`
}

func (s *Server) issueShare(c *gin.Context) {
	var req issueShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	grant, err := s.shares.Issue(c.Request.Context(), currentActor(c), c.Param("id"),
		services.SharePolicy{
			ExpiresIn:     req.ExpiresIn.Duration,
			MaxDownloads:  req.MaxDownloads,
			Password:      req.Password,
			AllowDownload: req.AllowDownload,
		})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toGrantView(grant))
}

func (s *Server) listShares(c *gin.Context) {
	grants, err := s.shares.ListForFile(c.Request.Context(), currentActor(c), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	views := make([]grantView, 0, len(grants))
	for _, g := range grants {
		views = append(views, toGrantView(g))
	}
	c.JSON(http.StatusOK, views)
}

func (s *Server) revokeShare(c *gin.Context) {
	if err := s.shares.Revoke(c.Request.Context(), currentActor(c), c.Param("token")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) accessShare(c *gin.Context) {
	password := c.GetHeader("X-Share-Password")
	if password == "" {
		password = c.Query("password")
	}

	payload, err := s.shares.Access(c.Request.Context(), c.Param("token"), password, c.ClientIP())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+payload.Name+`"`)
	c.Data(http.StatusOK, payload.ContentType, payload.Data)
}

func (s *Server) listAudit(c *gin.Context) {
	f := auditrepo.Filter{
		Category: models.AuditCategory(c.Query("category")),
		Severity: models.AuditSeverity(c.Query("severity")),
		ActorID:  c.Query("actor_id"),
	}
	f.IncidentOnly = c.Query("incident") == "true"
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		f.Limit = limit
	}

	events, err := s.audit.List(c.Request.Context(), currentActor(c), f)
	if err != nil {
		s.writeError(c, err)
		return
	}
	views := make([]auditView, 0, len(events))
	for _, e := range events {
		views = append(views, toAuditView(e))
	}
	c.JSON(http.StatusOK, views)
}

type resolveRequest struct {
	State string `json:"state"`
	Note  string `json:"note"`
}

func (s *Server) resolveIncident(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	err := s.audit.Resolve(c.Request.Context(), currentActor(c), c.Param("id"),
		models.ResolutionState(req.State), req.Note)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
