package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"hearsafe/api/internal/archive"
	"hearsafe/api/internal/auth"
	"hearsafe/api/internal/config"
	"hearsafe/api/internal/export"
	"hearsafe/api/internal/search"
	"hearsafe/api/internal/snapshot"
	"hearsafe/api/internal/store"
	"hearsafe/api/internal/survey"
)

type fakeStore struct {
	surveys map[string]survey.Survey
	users   map[string]store.User
	exports []store.ExportRecord

	updateSurveyFn func(context.Context, survey.Survey, string) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		surveys: make(map[string]survey.Survey),
		users:   make(map[string]store.User),
	}
}

func (f *fakeStore) GetUserByID(_ context.Context, userID string) (store.User, error) {
	user, ok := f.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}
func (f *fakeStore) RevokeAccessToken(context.Context, string, time.Time) error { return nil }
func (f *fakeStore) IsAccessTokenRevoked(context.Context, string) (bool, error) {
	return false, nil
}
func (f *fakeStore) ListSurveys(context.Context) ([]store.SurveyRecord, error) {
	records := make([]store.SurveyRecord, 0, len(f.surveys))
	for _, agg := range f.surveys {
		records = append(records, store.SurveyRecord{ID: agg.ID, SiteName: agg.SiteName, Status: agg.Status})
	}
	return records, nil
}
func (f *fakeStore) GetSurveyRecord(_ context.Context, surveyID string) (store.SurveyRecord, error) {
	agg, ok := f.surveys[surveyID]
	if !ok {
		return store.SurveyRecord{}, sql.ErrNoRows
	}
	return store.SurveyRecord{ID: agg.ID, SiteName: agg.SiteName, Status: agg.Status}, nil
}
func (f *fakeStore) GetSurvey(_ context.Context, surveyID string) (survey.Survey, error) {
	agg, ok := f.surveys[surveyID]
	if !ok {
		return survey.Survey{}, sql.ErrNoRows
	}
	return agg, nil
}
func (f *fakeStore) InsertSurvey(_ context.Context, agg survey.Survey) error {
	f.surveys[agg.ID] = agg
	return nil
}
func (f *fakeStore) UpdateSurvey(ctx context.Context, agg survey.Survey, updatedBy string) error {
	if f.updateSurveyFn != nil {
		return f.updateSurveyFn(ctx, agg, updatedBy)
	}
	if _, ok := f.surveys[agg.ID]; !ok {
		return sql.ErrNoRows
	}
	f.surveys[agg.ID] = agg
	return nil
}
func (f *fakeStore) DeleteSurvey(_ context.Context, surveyID string) error {
	delete(f.surveys, surveyID)
	return nil
}
func (f *fakeStore) SummaryCounts(context.Context) (int, int, int, error) {
	total := len(f.surveys)
	drafts := 0
	for _, agg := range f.surveys {
		if agg.Status == survey.StatusDraft {
			drafts++
		}
	}
	return total, drafts, total - drafts, nil
}
func (f *fakeStore) InsertExport(_ context.Context, record store.ExportRecord) error {
	f.exports = append(f.exports, record)
	return nil
}
func (f *fakeStore) ListExports(context.Context, string) ([]store.ExportRecord, error) {
	return f.exports, nil
}
func (f *fakeStore) Ping(context.Context) error { return nil }

type fakeSessions struct {
	saved   map[string]store.User
	revoked []string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{saved: make(map[string]store.User)}
}

func (f *fakeSessions) SaveRefreshSession(_ context.Context, tokenHash string, user store.User, _ time.Time) error {
	f.saved[tokenHash] = user
	return nil
}
func (f *fakeSessions) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	user, ok := f.saved[tokenHash]
	if !ok {
		return store.User{}, errors.New("refresh session not found")
	}
	return user, nil
}
func (f *fakeSessions) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	delete(f.saved, tokenHash)
	f.revoked = append(f.revoked, tokenHash)
	return nil
}

type fakeSnapshots struct {
	commits []string
	tags    []string

	getByHashFn func(surveyID, hash string) (survey.Survey, error)
}

func (f *fakeSnapshots) EnsureSurveyRepo(survey.Survey, string) error { return nil }
func (f *fakeSnapshots) CommitAggregate(_ survey.Survey, _ string, message string) (snapshot.CommitInfo, error) {
	f.commits = append(f.commits, message)
	return snapshot.CommitInfo{Hash: "abc1234"}, nil
}
func (f *fakeSnapshots) History(string, int) ([]snapshot.CommitInfo, error) { return nil, nil }
func (f *fakeSnapshots) GetAggregateByHash(surveyID, hash string) (survey.Survey, error) {
	if f.getByHashFn != nil {
		return f.getByHashFn(surveyID, hash)
	}
	return survey.Survey{}, errors.New("no revision")
}
func (f *fakeSnapshots) CreateTag(_, _, name string) error {
	f.tags = append(f.tags, name)
	return nil
}

type fakeSearch struct {
	indexed []search.SurveyRecord
	deleted []string
}

func (f *fakeSearch) Search(search.Query) search.Response { return search.Response{} }
func (f *fakeSearch) IndexSurvey(record search.SurveyRecord) {
	f.indexed = append(f.indexed, record)
}
func (f *fakeSearch) DeleteSurvey(id string) { f.deleted = append(f.deleted, id) }

type fakeExporter struct {
	exported []survey.Survey
}

func (f *fakeExporter) Export(agg survey.Survey, format export.Format) (*export.Result, error) {
	f.exported = append(f.exported, agg)
	return &export.Result{Data: []byte("report"), Filename: "report.pdf", MimeType: "application/pdf"}, nil
}

type fakeArchive struct {
	objects map[string][]archive.Object
	stored  []string
}

func (f *fakeArchive) PutReport(_ context.Context, surveyID, filename, contentType string, data []byte) (string, error) {
	key := surveyID + "/" + filename
	f.stored = append(f.stored, key)
	return key, nil
}

func (f *fakeArchive) GetReport(context.Context, string) ([]byte, string, error) {
	return []byte("report"), "application/pdf", nil
}

func (f *fakeArchive) ListReports(_ context.Context, surveyID string) ([]archive.Object, error) {
	return f.objects[surveyID], nil
}

func newTestService(fs *fakeStore) (*Service, *fakeSnapshots, *fakeSearch) {
	snapshots := &fakeSnapshots{}
	searchIdx := &fakeSearch{}
	svc := &Service{
		cfg: config.Config{
			JWTSecret:  "test-secret",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 30 * 24 * time.Hour,
		},
		store:     fs,
		sessions:  newFakeSessions(),
		snapshots: snapshots,
		search:    searchIdx,
		exporter:  &fakeExporter{},
		dirty:     make(map[string]string),
	}
	return svc, snapshots, searchIdx
}

func seedSurvey(fs *fakeStore) survey.Survey {
	agg := survey.New("srv_1", "usr_1")
	agg.SiteName = "Riverside Works"
	agg.Areas = []survey.AreaNode{
		{Name: "Press Shop", SubAreas: []survey.AreaNode{{Name: "Stamping Line"}}},
		{Name: "Assembly"},
	}
	agg.Comments = agg.Comments.Set(survey.MainPath(1), "quiet area")
	fs.surveys[agg.ID] = agg
	return agg
}

func TestRemoveAreaDropsShiftedStoreEntries(t *testing.T) {
	fs := newFakeStore()
	seedSurvey(fs)
	svc, _, _ := newTestService(fs)

	next, err := svc.RemoveArea(context.Background(), "srv_1", survey.MainPath(1), "usr_1")
	if err != nil {
		t.Fatalf("RemoveArea() error = %v", err)
	}
	if len(next.Areas) != 1 {
		t.Fatalf("expected 1 main area after removal, got %d", len(next.Areas))
	}
	if got := next.Comments.Get(survey.MainPath(1)); got != "" {
		t.Errorf("dangling comment survived removal: %q", got)
	}
	if fs.surveys["srv_1"].Comments.Get(survey.MainPath(1)) != "" {
		t.Error("persisted aggregate still carries the dangling entry")
	}
}

func TestAddAreaRejectsUnresolvableParent(t *testing.T) {
	fs := newFakeStore()
	seedSurvey(fs)
	svc, _, _ := newTestService(fs)

	parent := survey.MainPath(9)
	_, err := svc.AddArea(context.Background(), "srv_1", &parent, "Paint Booth", "usr_1")

	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "INVALID_AREA_PATH" {
		t.Fatalf("expected INVALID_AREA_PATH, got %v", err)
	}
}

func TestMarkAreaCompletedToleratesStalePath(t *testing.T) {
	fs := newFakeStore()
	seedSurvey(fs)
	svc, _, _ := newTestService(fs)

	next, err := svc.MarkAreaCompleted(context.Background(), "srv_1", survey.SubSubPath(5, 5, 5), "usr_1")
	if err != nil {
		t.Fatalf("stale completion should be dropped silently, got %v", err)
	}
	if next.Areas[0].DetailsCompleted || next.Areas[1].DetailsCompleted {
		t.Error("no area should have been marked")
	}
}

func TestPatchLockedSurveyRejected(t *testing.T) {
	fs := newFakeStore()
	agg := seedSurvey(fs)
	agg.Status = survey.StatusCompleted
	fs.surveys[agg.ID] = agg
	svc, _, _ := newTestService(fs)

	name := "New Name"
	_, err := svc.PatchSurvey(context.Background(), "srv_1", survey.Patch{SiteName: &name}, "usr_1")

	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "SURVEY_LOCKED" {
		t.Fatalf("expected SURVEY_LOCKED, got %v", err)
	}
}

func TestPatchCannotChangeStatus(t *testing.T) {
	fs := newFakeStore()
	seedSurvey(fs)
	svc, _, _ := newTestService(fs)

	status := survey.StatusCompleted
	next, err := svc.PatchSurvey(context.Background(), "srv_1", survey.Patch{Status: &status}, "usr_1")
	if err != nil {
		t.Fatalf("PatchSurvey() error = %v", err)
	}
	if next.Status != survey.StatusDraft {
		t.Errorf("patch changed status to %q; completion must go through CompleteSurvey", next.Status)
	}
}

func TestSetAreaRecordsRoutesCategories(t *testing.T) {
	fs := newFakeStore()
	seedSurvey(fs)
	svc, _, _ := newTestService(fs)
	ctx := context.Background()
	path := survey.SubPath(0, 0)

	raw, _ := json.Marshal([]survey.Measurement{
		{ID: "m1", Position: "operator ear", LAeq: 92.1, LCPeak: 120.3, Duration: 15},
	})
	next, err := svc.SetAreaRecords(ctx, "srv_1", "measurements", path, raw, "usr_1")
	if err != nil {
		t.Fatalf("SetAreaRecords() error = %v", err)
	}
	records := next.MeasurementsByArea.Get(path)
	if len(records) != 1 || records[0].LAeq != 92.1 {
		t.Fatalf("measurements not stored: %+v", records)
	}

	if _, err := svc.SetAreaRecords(ctx, "srv_1", "widgets", path, raw, "usr_1"); err == nil {
		t.Error("unknown category accepted")
	}

	if _, err := svc.SetAreaRecords(ctx, "srv_1", "controls", path, raw, "usr_1"); err == nil {
		t.Error("list payload accepted for a single-record category")
	}

	badPath := survey.MainPath(7)
	if _, err := svc.SetAreaRecords(ctx, "srv_1", "measurements", badPath, raw, "usr_1"); err == nil {
		t.Error("unresolvable path accepted")
	}
}

func TestSetAreaRecordsEmptyCommentDeletesEntry(t *testing.T) {
	fs := newFakeStore()
	seedSurvey(fs)
	svc, _, _ := newTestService(fs)

	next, err := svc.SetAreaRecords(context.Background(), "srv_1", "comment", survey.MainPath(1), json.RawMessage(`""`), "usr_1")
	if err != nil {
		t.Fatalf("SetAreaRecords() error = %v", err)
	}
	if _, ok := next.Comments[survey.Canonical(survey.MainPath(1))]; ok {
		t.Error("empty comment should remove the store entry")
	}
}

func TestRemoveEquipmentScrubsReferences(t *testing.T) {
	fs := newFakeStore()
	agg := seedSurvey(fs)
	agg.Equipment = []survey.Equipment{{ID: "eq_1", Type: survey.EquipmentSLM, Name: "NTi XL2"}}
	agg.MeasurementsByArea = agg.MeasurementsByArea.Set(survey.MainPath(0), []survey.Measurement{
		{ID: "m1", EquipmentID: "eq_1", Position: "centre", LAeq: 88},
	})
	fs.surveys[agg.ID] = agg
	svc, _, _ := newTestService(fs)

	next, err := svc.RemoveEquipment(context.Background(), "srv_1", "eq_1", "usr_1")
	if err != nil {
		t.Fatalf("RemoveEquipment() error = %v", err)
	}
	if len(next.Equipment) != 0 {
		t.Fatalf("equipment not removed: %+v", next.Equipment)
	}
	if got := next.MeasurementsByArea.Get(survey.MainPath(0))[0].EquipmentID; got != "" {
		t.Errorf("measurement still references removed equipment: %q", got)
	}

	if _, err := svc.RemoveEquipment(context.Background(), "srv_1", "eq_missing", "usr_1"); err == nil {
		t.Error("unknown equipment accepted")
	}
}

func TestCompleteSurveyTagsSnapshotAndLocks(t *testing.T) {
	fs := newFakeStore()
	seedSurvey(fs)
	svc, snapshots, searchIdx := newTestService(fs)
	ctx := context.Background()

	next, err := svc.CompleteSurvey(ctx, "srv_1", "usr_1")
	if err != nil {
		t.Fatalf("CompleteSurvey() error = %v", err)
	}
	if next.Status != survey.StatusCompleted {
		t.Fatalf("status = %q, want COMPLETED", next.Status)
	}
	if len(snapshots.commits) != 1 || snapshots.commits[0] != "Complete survey" {
		t.Errorf("unexpected snapshot commits: %v", snapshots.commits)
	}
	if len(snapshots.tags) != 1 || snapshots.tags[0] != "completed" {
		t.Errorf("completion snapshot not tagged: %v", snapshots.tags)
	}
	if len(searchIdx.indexed) == 0 || searchIdx.indexed[len(searchIdx.indexed)-1].Status != survey.StatusCompleted {
		t.Error("completed survey not reindexed")
	}

	if _, err := svc.CompleteSurvey(ctx, "srv_1", "usr_1"); err == nil {
		t.Error("second completion accepted")
	}

	name := "x"
	if _, err := svc.PatchSurvey(ctx, "srv_1", survey.Patch{SiteName: &name}, "usr_1"); err == nil {
		t.Error("completed survey accepted a patch")
	}
}

func TestReopenRequiresCompleted(t *testing.T) {
	fs := newFakeStore()
	seedSurvey(fs)
	svc, _, _ := newTestService(fs)
	ctx := context.Background()

	if _, err := svc.ReopenSurvey(ctx, "srv_1", "usr_1"); err == nil {
		t.Fatal("reopening a draft accepted")
	}

	if _, err := svc.CompleteSurvey(ctx, "srv_1", "usr_1"); err != nil {
		t.Fatalf("CompleteSurvey() error = %v", err)
	}
	next, err := svc.ReopenSurvey(ctx, "srv_1", "usr_1")
	if err != nil {
		t.Fatalf("ReopenSurvey() error = %v", err)
	}
	if next.Status != survey.StatusDraft {
		t.Errorf("status = %q, want DRAFT", next.Status)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	fs := newFakeStore()
	fs.users["usr_1"] = store.User{ID: "usr_1", DisplayName: "Avery", Role: "surveyor"}
	svc, _, _ := newTestService(fs)
	sessions := svc.sessions.(*fakeSessions)
	ctx := context.Background()

	first, err := svc.CreateSession(ctx, "usr_1")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if len(sessions.saved) != 1 {
		t.Fatalf("expected 1 saved refresh session, got %d", len(sessions.saved))
	}

	second, err := svc.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Error("refresh token was not rotated")
	}
	if _, ok := sessions.saved[auth.HashToken(first.RefreshToken)]; ok {
		t.Error("old refresh session not revoked")
	}

	if _, err := svc.Refresh(ctx, first.RefreshToken); err == nil {
		t.Error("revoked refresh token accepted")
	}
}

func TestExportUsesRequestedRevision(t *testing.T) {
	fs := newFakeStore()
	seedSurvey(fs)
	svc, snapshots, _ := newTestService(fs)
	exporterFake := svc.exporter.(*fakeExporter)

	snapshots.getByHashFn = func(surveyID, hash string) (survey.Survey, error) {
		agg := survey.New(surveyID, "usr_1")
		agg.SiteName = "Historic Name"
		return agg, nil
	}

	result, err := svc.ExportSurvey(context.Background(), "srv_1", "abc1234", export.FormatPDF, "usr_1")
	if err != nil {
		t.Fatalf("ExportSurvey() error = %v", err)
	}
	if result.MimeType != "application/pdf" {
		t.Errorf("unexpected mime type %q", result.MimeType)
	}
	if len(exporterFake.exported) != 1 || exporterFake.exported[0].SiteName != "Historic Name" {
		t.Errorf("export did not use the requested revision: %+v", exporterFake.exported)
	}
}

func TestAutosaveFlushCommitsDirtySurveys(t *testing.T) {
	fs := newFakeStore()
	seedSurvey(fs)
	svc, snapshots, _ := newTestService(fs)

	name := "Renamed Site"
	if _, err := svc.PatchSurvey(context.Background(), "srv_1", survey.Patch{SiteName: &name}, "usr_1"); err != nil {
		t.Fatalf("PatchSurvey() error = %v", err)
	}

	svc.flushDirty(context.Background())
	if len(snapshots.commits) != 1 || snapshots.commits[0] != "Autosave" {
		t.Fatalf("expected one autosave commit, got %v", snapshots.commits)
	}

	// A second flush with nothing dirty commits nothing.
	svc.flushDirty(context.Background())
	if len(snapshots.commits) != 1 {
		t.Errorf("flush with clean state committed: %v", snapshots.commits)
	}
}

func TestListSurveyExportsIncludesArchivedObjects(t *testing.T) {
	fs := newFakeStore()
	seedSurvey(fs)
	svc, _, _ := newTestService(fs)
	ctx := context.Background()

	// No archive configured: records only, archived stays an empty list.
	exports, err := svc.ListSurveyExports(ctx, "srv_1")
	if err != nil {
		t.Fatalf("ListSurveyExports() error = %v", err)
	}
	if exports.Archived == nil || len(exports.Archived) != 0 {
		t.Fatalf("expected empty archived list without an archive, got %+v", exports.Archived)
	}

	svc.archive = &fakeArchive{objects: map[string][]archive.Object{}}
	if _, err := svc.ExportSurvey(ctx, "srv_1", "", export.FormatPDF, "usr_1"); err != nil {
		t.Fatalf("ExportSurvey() error = %v", err)
	}
	if len(fs.exports) != 1 {
		t.Fatalf("expected one export record, got %d", len(fs.exports))
	}

	svc.archive.(*fakeArchive).objects["srv_1"] = []archive.Object{
		{Key: "srv_1/report.pdf", Size: 6, ContentType: "application/pdf"},
	}
	exports, err = svc.ListSurveyExports(ctx, "srv_1")
	if err != nil {
		t.Fatalf("ListSurveyExports() error = %v", err)
	}
	if len(exports.Records) != 1 {
		t.Errorf("expected the export record, got %+v", exports.Records)
	}
	if len(exports.Archived) != 1 || exports.Archived[0].Key != "srv_1/report.pdf" {
		t.Errorf("archived objects missing from listing: %+v", exports.Archived)
	}
}
