package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"hearsafe/api/internal/archive"
	"hearsafe/api/internal/auth"
	"hearsafe/api/internal/authpw"
	"hearsafe/api/internal/config"
	"hearsafe/api/internal/email"
	"hearsafe/api/internal/export"
	"hearsafe/api/internal/rbac"
	"hearsafe/api/internal/search"
	"hearsafe/api/internal/snapshot"
	"hearsafe/api/internal/store"
	"hearsafe/api/internal/survey"
	"hearsafe/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

// CreateSurveyInput carries the fields a surveyor fills in when starting a
// new survey; everything else begins empty.
type CreateSurveyInput struct {
	SiteName   string `json:"siteName"`
	ClientName string `json:"clientName"`
	Address    string `json:"address"`
	SurveyDate string `json:"surveyDate"`
	Surveyor   string `json:"surveyor"`
}

// recordCategories maps URL category segments onto the aggregate's
// path-keyed stores.
var recordCategories = map[string]struct{}{
	"noise-sources":   {},
	"measurements":    {},
	"controls":        {},
	"hearing-devices": {},
	"hearing-issued":  {},
	"exposures":       {},
	"comment":         {},
}

type dataStore interface {
	GetUserByID(context.Context, string) (store.User, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	ListSurveys(context.Context) ([]store.SurveyRecord, error)
	GetSurveyRecord(context.Context, string) (store.SurveyRecord, error)
	GetSurvey(context.Context, string) (survey.Survey, error)
	InsertSurvey(context.Context, survey.Survey) error
	UpdateSurvey(context.Context, survey.Survey, string) error
	DeleteSurvey(context.Context, string) error
	SummaryCounts(context.Context) (int, int, int, error)
	InsertExport(context.Context, store.ExportRecord) error
	ListExports(context.Context, string) ([]store.ExportRecord, error)
	Ping(ctx context.Context) error
}

// SessionBackend is satisfied by both the Redis store and the Postgres
// fallback, so refresh sessions survive a missing Redis.
type SessionBackend interface {
	SaveRefreshSession(context.Context, string, store.User, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
}

type snapshotService interface {
	EnsureSurveyRepo(agg survey.Survey, author string) error
	CommitAggregate(agg survey.Survey, author, message string) (snapshot.CommitInfo, error)
	History(surveyID string, limit int) ([]snapshot.CommitInfo, error)
	GetAggregateByHash(surveyID, hash string) (survey.Survey, error)
	CreateTag(surveyID, hash, name string) error
}

type searchIndex interface {
	Search(q search.Query) search.Response
	IndexSurvey(record search.SurveyRecord)
	DeleteSurvey(id string)
}

type exporter interface {
	Export(agg survey.Survey, format export.Format) (*export.Result, error)
}

type reportArchive interface {
	PutReport(ctx context.Context, surveyID, filename, contentType string, data []byte) (string, error)
	GetReport(ctx context.Context, key string) ([]byte, string, error)
	ListReports(ctx context.Context, surveyID string) ([]archive.Object, error)
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  SessionBackend
	snapshots snapshotService
	search    searchIndex
	exporter  exporter
	archive   reportArchive
	email     *email.Service
	authpw    *authpw.Service

	dirtyMu sync.Mutex
	dirty   map[string]string // surveyID -> last author
}

func New(cfg config.Config, dataStore *store.PostgresStore, sessions SessionBackend, snapshots *snapshot.Service, searchSvc *search.Service, exportSvc *export.Service, archiveSvc *archive.Service, emailSvc *email.Service, authSvc *authpw.Service) *Service {
	svc := &Service{
		cfg:       cfg,
		store:     dataStore,
		sessions:  sessions,
		snapshots: snapshots,
		search:    searchSvc,
		exporter:  exportSvc,
		email:     emailSvc,
		authpw:    authSvc,
		dirty:     make(map[string]string),
	}
	// A nil *archive.Service stored in the interface would not compare
	// equal to nil, so only assign when the archive is configured.
	if archiveSvc != nil {
		svc.archive = archiveSvc
	}
	return svc
}

// Bootstrap seeds a demo survey on an empty database so a fresh install has
// something to look at.
func (s *Service) Bootstrap(ctx context.Context) error {
	surveys, err := s.store.ListSurveys(ctx)
	if err != nil {
		return err
	}
	if len(surveys) > 0 {
		return nil
	}

	agg := survey.New(util.NewID("srv"), "HearSafe")
	agg.Reference = strings.ToUpper(util.ShortID("ns"))
	agg.SiteName = "Riverside Works"
	agg.ClientName = "Acme Fabrication Ltd"
	agg.Address = "14 Wharf Road, Leeds"
	agg.SurveyDate = time.Now().Format("2006-01-02")
	agg.Surveyor = "Demo Surveyor"
	agg.Equipment = []survey.Equipment{
		{ID: util.NewID("eq"), Type: survey.EquipmentSLM, Name: "NTi XL2", Serial: "A4411", Class: "1", CertificateNo: "CAL-9031"},
		{ID: util.NewID("eq"), Type: survey.EquipmentCalibrator, Name: "B&K 4231", Serial: "C1208", OutputLevel: 94, Frequency: 1000},
	}
	agg.Areas = []survey.AreaNode{
		{Name: "Press Shop", SubAreas: []survey.AreaNode{{Name: "Stamping Line"}}},
		{Name: "Assembly"},
	}
	agg.NoiseSources = agg.NoiseSources.Set(survey.MainPath(0), []survey.NoiseSource{
		{ID: util.NewID("src"), Name: "Hydraulic press", Notes: "impact noise on stroke"},
	})
	agg.MeasurementsByArea = agg.MeasurementsByArea.Set(survey.SubPath(0, 0), []survey.Measurement{
		{ID: util.NewID("mes"), EquipmentID: agg.Equipment[0].ID, Position: "operator ear", LAeq: 91.2, LCPeak: 118.4, Duration: 15},
	})
	agg.Comments = agg.Comments.Set(survey.MainPath(0), "mandatory hearing protection zone")

	if err := s.store.InsertSurvey(ctx, agg); err != nil {
		return err
	}
	if err := s.snapshots.EnsureSurveyRepo(agg, agg.Surveyor); err != nil {
		return err
	}
	s.indexSurvey(agg)
	return nil
}

// AuthPasswordService exposes the email/password auth service to HTTP
// handlers. It may be nil when auth is not configured.
func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

// SMTPConfigured reports whether outbound email works; handlers use it for
// the dev token bypass.
func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

func (s *Service) EmailService() *email.Service {
	return s.email
}

func (s *Service) AppBaseURL() string {
	return s.cfg.AppBaseURL
}

// CreateSession issues an access/refresh token pair for an authenticated
// user.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// pair is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// ListSurveys returns the listing rows, newest first.
func (s *Service) ListSurveys(ctx context.Context) ([]store.SurveyRecord, error) {
	return s.store.ListSurveys(ctx)
}

func (s *Service) Summary(ctx context.Context) (map[string]any, error) {
	total, drafts, completed, err := s.store.SummaryCounts(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"total":     total,
		"drafts":    drafts,
		"completed": completed,
	}, nil
}

func (s *Service) GetSurvey(ctx context.Context, surveyID string) (survey.Survey, error) {
	return s.store.GetSurvey(ctx, surveyID)
}

func (s *Service) CreateSurvey(ctx context.Context, input CreateSurveyInput, createdBy string) (survey.Survey, error) {
	if strings.TrimSpace(input.SiteName) == "" {
		return survey.Survey{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "siteName is required", nil)
	}

	agg := survey.New(util.NewID("srv"), createdBy)
	agg.Reference = strings.ToUpper(util.ShortID("ns"))
	agg.SiteName = strings.TrimSpace(input.SiteName)
	agg.ClientName = strings.TrimSpace(input.ClientName)
	agg.Address = strings.TrimSpace(input.Address)
	agg.SurveyDate = strings.TrimSpace(input.SurveyDate)
	agg.Surveyor = strings.TrimSpace(input.Surveyor)
	if agg.Surveyor == "" {
		agg.Surveyor = createdBy
	}

	if err := s.store.InsertSurvey(ctx, agg); err != nil {
		return survey.Survey{}, err
	}
	if err := s.snapshots.EnsureSurveyRepo(agg, createdBy); err != nil {
		return survey.Survey{}, err
	}
	s.indexSurvey(agg)
	return agg, nil
}

// PatchSurvey shallow-merges a partial update into the aggregate. Status is
// never patchable; completion and reopening are explicit operations.
func (s *Service) PatchSurvey(ctx context.Context, surveyID string, patch survey.Patch, actor string) (survey.Survey, error) {
	agg, err := s.store.GetSurvey(ctx, surveyID)
	if err != nil {
		return survey.Survey{}, err
	}
	if agg.ReadOnly() {
		return survey.Survey{}, errSurveyLocked()
	}

	patch.Status = nil
	next := survey.ApplyPatch(agg, patch)
	if patch.Areas != nil {
		next = survey.ReconcileAll(next)
	}
	return next, s.persist(ctx, next, actor)
}

func (s *Service) DeleteSurvey(ctx context.Context, surveyID string) error {
	if err := s.store.DeleteSurvey(ctx, surveyID); err != nil {
		return err
	}
	s.search.DeleteSurvey(surveyID)
	return nil
}

// AddArea appends an area under parent (nil parent adds a main area).
func (s *Service) AddArea(ctx context.Context, surveyID string, parent *survey.AreaPath, name, actor string) (survey.Survey, error) {
	if strings.TrimSpace(name) == "" {
		return survey.Survey{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	return s.mutateTree(ctx, surveyID, actor, func(tree []survey.AreaNode) ([]survey.AreaNode, bool) {
		return survey.AddArea(tree, parent, strings.TrimSpace(name))
	})
}

func (s *Service) RenameArea(ctx context.Context, surveyID string, p survey.AreaPath, name, actor string) (survey.Survey, error) {
	if strings.TrimSpace(name) == "" {
		return survey.Survey{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	return s.mutateTree(ctx, surveyID, actor, func(tree []survey.AreaNode) ([]survey.AreaNode, bool) {
		return survey.RenameArea(tree, p, strings.TrimSpace(name))
	})
}

func (s *Service) RemoveArea(ctx context.Context, surveyID string, p survey.AreaPath, actor string) (survey.Survey, error) {
	return s.mutateTree(ctx, surveyID, actor, func(tree []survey.AreaNode) ([]survey.AreaNode, bool) {
		return survey.RemoveArea(tree, p)
	})
}

func (s *Service) MoveArea(ctx context.Context, surveyID string, p survey.AreaPath, newIndex int, actor string) (survey.Survey, error) {
	return s.mutateTree(ctx, surveyID, actor, func(tree []survey.AreaNode) ([]survey.AreaNode, bool) {
		return survey.MoveArea(tree, p, newIndex)
	})
}

// MarkAreaCompleted tolerates a path that no longer resolves: the area may
// have been deleted while the completion action was in flight, and the
// stale action is simply dropped.
func (s *Service) MarkAreaCompleted(ctx context.Context, surveyID string, p survey.AreaPath, actor string) (survey.Survey, error) {
	agg, err := s.store.GetSurvey(ctx, surveyID)
	if err != nil {
		return survey.Survey{}, err
	}
	if agg.ReadOnly() {
		return survey.Survey{}, errSurveyLocked()
	}
	agg.Areas = survey.MarkCompleted(agg.Areas, p)
	return agg, s.persist(ctx, agg, actor)
}

func (s *Service) mutateTree(ctx context.Context, surveyID, actor string, mutate func([]survey.AreaNode) ([]survey.AreaNode, bool)) (survey.Survey, error) {
	agg, err := s.store.GetSurvey(ctx, surveyID)
	if err != nil {
		return survey.Survey{}, err
	}
	if agg.ReadOnly() {
		return survey.Survey{}, errSurveyLocked()
	}

	tree, ok := mutate(agg.Areas)
	if !ok {
		return survey.Survey{}, domainError(http.StatusUnprocessableEntity, "INVALID_AREA_PATH", "area path does not resolve", nil)
	}
	agg.Areas = tree
	agg = survey.ReconcileAll(agg)
	return agg, s.persist(ctx, agg, actor)
}

// SetAreaRecords replaces one category's records for one area. The raw
// payload is decoded against the category's record shape so a malformed
// body fails before anything is stored.
func (s *Service) SetAreaRecords(ctx context.Context, surveyID, category string, p survey.AreaPath, raw json.RawMessage, actor string) (survey.Survey, error) {
	if _, ok := recordCategories[category]; !ok {
		return survey.Survey{}, domainError(http.StatusNotFound, "UNKNOWN_CATEGORY", fmt.Sprintf("unknown record category %q", category), nil)
	}

	agg, err := s.store.GetSurvey(ctx, surveyID)
	if err != nil {
		return survey.Survey{}, err
	}
	if agg.ReadOnly() {
		return survey.Survey{}, errSurveyLocked()
	}
	if _, ok := survey.NodeAt(agg.Areas, p); !ok {
		return survey.Survey{}, domainError(http.StatusUnprocessableEntity, "INVALID_AREA_PATH", "area path does not resolve", nil)
	}

	switch category {
	case "noise-sources":
		var records []survey.NoiseSource
		if err := json.Unmarshal(raw, &records); err != nil {
			return survey.Survey{}, errBadRecords(err)
		}
		agg.NoiseSources = agg.NoiseSources.Set(p, records)
	case "measurements":
		var records []survey.Measurement
		if err := json.Unmarshal(raw, &records); err != nil {
			return survey.Survey{}, errBadRecords(err)
		}
		agg.MeasurementsByArea = agg.MeasurementsByArea.Set(p, records)
	case "controls":
		var record survey.Controls
		if err := json.Unmarshal(raw, &record); err != nil {
			return survey.Survey{}, errBadRecords(err)
		}
		agg.ControlsByArea = agg.ControlsByArea.Set(p, record)
	case "hearing-devices":
		var records []survey.HearingDevice
		if err := json.Unmarshal(raw, &records); err != nil {
			return survey.Survey{}, errBadRecords(err)
		}
		agg.HearingProtectionDevices = agg.HearingProtectionDevices.Set(p, records)
	case "hearing-issued":
		var record survey.IssuedStatus
		if err := json.Unmarshal(raw, &record); err != nil {
			return survey.Survey{}, errBadRecords(err)
		}
		agg.HearingIssuedStatus = agg.HearingIssuedStatus.Set(p, record)
	case "exposures":
		var records []survey.Exposure
		if err := json.Unmarshal(raw, &records); err != nil {
			return survey.Survey{}, errBadRecords(err)
		}
		agg.ExposuresByArea = agg.ExposuresByArea.Set(p, records)
	case "comment":
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			return survey.Survey{}, errBadRecords(err)
		}
		if value == "" {
			agg.Comments = agg.Comments.Delete(p)
		} else {
			agg.Comments = agg.Comments.Set(p, value)
		}
	}

	return agg, s.persist(ctx, agg, actor)
}

func (s *Service) AddEquipment(ctx context.Context, surveyID string, item survey.Equipment, actor string) (survey.Survey, error) {
	if strings.TrimSpace(item.Name) == "" {
		return survey.Survey{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	agg, err := s.store.GetSurvey(ctx, surveyID)
	if err != nil {
		return survey.Survey{}, err
	}
	if agg.ReadOnly() {
		return survey.Survey{}, errSurveyLocked()
	}
	if item.ID == "" {
		item.ID = util.NewID("eq")
	}
	if item.Type == "" {
		item.Type = survey.EquipmentSLM
	}
	agg.Equipment = append(append([]survey.Equipment{}, agg.Equipment...), item)
	return agg, s.persist(ctx, agg, actor)
}

func (s *Service) UpdateEquipment(ctx context.Context, surveyID string, item survey.Equipment, actor string) (survey.Survey, error) {
	agg, err := s.store.GetSurvey(ctx, surveyID)
	if err != nil {
		return survey.Survey{}, err
	}
	if agg.ReadOnly() {
		return survey.Survey{}, errSurveyLocked()
	}

	index := -1
	for i, existing := range agg.Equipment {
		if existing.ID == item.ID {
			index = i
			break
		}
	}
	if index < 0 {
		return survey.Survey{}, domainError(http.StatusNotFound, "NOT_FOUND", "equipment not found", nil)
	}
	next := append([]survey.Equipment{}, agg.Equipment...)
	next[index] = item
	agg.Equipment = next
	return agg, s.persist(ctx, agg, actor)
}

// RemoveEquipment deletes an instrument and clears dangling references to
// it from measurement and exposure records.
func (s *Service) RemoveEquipment(ctx context.Context, surveyID, equipmentID, actor string) (survey.Survey, error) {
	agg, err := s.store.GetSurvey(ctx, surveyID)
	if err != nil {
		return survey.Survey{}, err
	}
	if agg.ReadOnly() {
		return survey.Survey{}, errSurveyLocked()
	}

	next, ok := survey.RemoveEquipment(agg, equipmentID)
	if !ok {
		return survey.Survey{}, domainError(http.StatusNotFound, "NOT_FOUND", "equipment not found", nil)
	}
	return next, s.persist(ctx, next, actor)
}

// CompleteSurvey locks the survey, snapshots it, tags the snapshot, and
// notifies the owner.
func (s *Service) CompleteSurvey(ctx context.Context, surveyID, actor string) (survey.Survey, error) {
	agg, err := s.store.GetSurvey(ctx, surveyID)
	if err != nil {
		return survey.Survey{}, err
	}
	if agg.Status == survey.StatusCompleted {
		return survey.Survey{}, domainError(http.StatusConflict, "ALREADY_COMPLETED", "Survey is already completed", nil)
	}

	agg.Status = survey.StatusCompleted
	if err := s.store.UpdateSurvey(ctx, agg, actor); err != nil {
		return survey.Survey{}, err
	}
	s.clearDirty(surveyID)

	info, err := s.snapshots.CommitAggregate(agg, actor, "Complete survey")
	if err != nil {
		return survey.Survey{}, err
	}
	if err := s.snapshots.CreateTag(surveyID, info.Hash, "completed"); err != nil {
		log.Printf("snapshot: tag completed %s: %v", surveyID, err)
	}

	s.indexSurvey(agg)
	s.notifyCompleted(agg)
	return agg, nil
}

// ReopenSurvey unlocks a completed survey. Callers gate this on the admin
// action.
func (s *Service) ReopenSurvey(ctx context.Context, surveyID, actor string) (survey.Survey, error) {
	agg, err := s.store.GetSurvey(ctx, surveyID)
	if err != nil {
		return survey.Survey{}, err
	}
	if agg.Status != survey.StatusCompleted {
		return survey.Survey{}, domainError(http.StatusConflict, "NOT_COMPLETED", "Survey is not completed", nil)
	}

	agg.Status = survey.StatusDraft
	if err := s.store.UpdateSurvey(ctx, agg, actor); err != nil {
		return survey.Survey{}, err
	}
	if _, err := s.snapshots.CommitAggregate(agg, actor, "Reopen survey"); err != nil {
		log.Printf("snapshot: reopen commit %s: %v", surveyID, err)
	}
	s.indexSurvey(agg)
	return agg, nil
}

func (s *Service) History(surveyID string, limit int) ([]snapshot.CommitInfo, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.snapshots.History(surveyID, limit)
}

func (s *Service) Revision(surveyID, hash string) (survey.Survey, error) {
	return s.snapshots.GetAggregateByHash(surveyID, hash)
}

// ExportSurvey renders the survey (current state, or a named revision) to
// PDF or DOCX. When the archive is configured, the generated report is also
// stored and recorded.
func (s *Service) ExportSurvey(ctx context.Context, surveyID, revision string, format export.Format, actor string) (*export.Result, error) {
	var agg survey.Survey
	var err error
	if revision == "" {
		agg, err = s.store.GetSurvey(ctx, surveyID)
	} else {
		agg, err = s.snapshots.GetAggregateByHash(surveyID, revision)
	}
	if err != nil {
		return nil, err
	}

	result, err := s.exporter.Export(agg, format)
	if err != nil {
		return nil, err
	}

	if s.archive != nil {
		key, archiveErr := s.archive.PutReport(ctx, surveyID, result.Filename, result.MimeType, result.Data)
		if archiveErr != nil {
			log.Printf("archive: store report for %s: %v", surveyID, archiveErr)
			return result, nil
		}
		if err := s.store.InsertExport(ctx, store.ExportRecord{
			ID:        util.NewID("exp"),
			SurveyID:  surveyID,
			Format:    string(format),
			ObjectKey: key,
			Size:      int64(len(result.Data)),
			CreatedBy: actor,
		}); err != nil {
			log.Printf("store: record export for %s: %v", surveyID, err)
		}
	}
	return result, nil
}

// SurveyExports pairs the export records kept in Postgres with the
// objects still present in the report archive.
type SurveyExports struct {
	Records  []store.ExportRecord `json:"records"`
	Archived []archive.Object     `json:"archived"`
}

func (s *Service) ListSurveyExports(ctx context.Context, surveyID string) (*SurveyExports, error) {
	records, err := s.store.ListExports(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	out := &SurveyExports{Records: records, Archived: []archive.Object{}}
	if s.archive != nil {
		objects, err := s.archive.ListReports(ctx, surveyID)
		if err != nil {
			log.Printf("archive: list reports for %s: %v", surveyID, err)
		} else {
			out.Archived = objects
		}
	}
	return out, nil
}

// ArchivedReport fetches a previously generated report from the archive.
func (s *Service) ArchivedReport(ctx context.Context, key string) ([]byte, string, error) {
	if s.archive == nil {
		return nil, "", domainError(http.StatusNotFound, "ARCHIVE_DISABLED", "Report archive is not configured", nil)
	}
	return s.archive.GetReport(ctx, key)
}

func (s *Service) Search(q search.Query) search.Response {
	return s.search.Search(q)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// StartAutosave commits dirty aggregates to the snapshot history on a fixed
// interval, so edit history granularity is bounded without a git commit per
// keystroke. It returns immediately; the loop stops when ctx is done.
func (s *Service) StartAutosave(ctx context.Context) {
	interval := s.cfg.AutosaveInterval
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.flushDirty(context.Background())
				return
			case <-ticker.C:
				s.flushDirty(ctx)
			}
		}
	}()
}

func (s *Service) flushDirty(ctx context.Context) {
	s.dirtyMu.Lock()
	pending := s.dirty
	s.dirty = make(map[string]string)
	s.dirtyMu.Unlock()

	for surveyID, author := range pending {
		agg, err := s.store.GetSurvey(ctx, surveyID)
		if err != nil {
			continue
		}
		if _, err := s.snapshots.CommitAggregate(agg, author, "Autosave"); err != nil {
			log.Printf("snapshot: autosave %s: %v", surveyID, err)
		}
	}
}

// persist writes the aggregate through to Postgres, marks it for the next
// autosave snapshot, and refreshes the search index.
func (s *Service) persist(ctx context.Context, agg survey.Survey, actor string) error {
	if err := s.store.UpdateSurvey(ctx, agg, actor); err != nil {
		return err
	}
	s.markDirty(agg.ID, actor)
	s.indexSurvey(agg)
	return nil
}

func (s *Service) markDirty(surveyID, actor string) {
	s.dirtyMu.Lock()
	s.dirty[surveyID] = actor
	s.dirtyMu.Unlock()
}

func (s *Service) clearDirty(surveyID string) {
	s.dirtyMu.Lock()
	delete(s.dirty, surveyID)
	s.dirtyMu.Unlock()
}

func (s *Service) indexSurvey(agg survey.Survey) {
	s.search.IndexSurvey(search.SurveyRecord{
		ID:         agg.ID,
		Reference:  agg.Reference,
		SiteName:   agg.SiteName,
		ClientName: agg.ClientName,
		Surveyor:   agg.Surveyor,
		Status:     agg.Status,
		Notes:      agg.Notes,
	})
}

// notifyCompleted emails the survey owner. Failures are logged, never
// surfaced; completion must not depend on SMTP.
func (s *Service) notifyCompleted(agg survey.Survey) {
	if !s.SMTPConfigured() || agg.CreatedBy == "" {
		return
	}
	owner, err := s.store.GetUserByID(context.Background(), agg.CreatedBy)
	if err != nil || owner.Email == "" {
		return
	}
	surveyURL := fmt.Sprintf("%s/surveys/%s", strings.TrimRight(s.cfg.AppBaseURL, "/"), agg.ID)
	go func() {
		if err := s.email.SendSurveyCompletedEmail(owner.Email, owner.DisplayName, agg.SiteName, agg.Reference, surveyURL); err != nil {
			log.Printf("email: survey completed notification: %v", err)
		}
	}()
}

func errSurveyLocked() *DomainError {
	return domainError(http.StatusConflict, "SURVEY_LOCKED", "Completed surveys are read-only", nil)
}

func errBadRecords(err error) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "records do not match the category shape", err.Error())
}
