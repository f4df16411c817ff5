package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"hearsafe/api/internal/survey"
)

func baselineSurvey() survey.Survey {
	agg := survey.New("srv_1", "Avery")
	agg.SiteName = "Riverside Works"
	agg.ClientName = "Acme Fabrication"
	agg.Areas = []survey.AreaNode{
		{Name: "Press Shop", SubAreas: []survey.AreaNode{{Name: "Stamping Line"}}},
	}
	return agg
}

func TestSurveyRepoLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	agg := baselineSurvey()
	if err := svc.EnsureSurveyRepo(agg, "Avery"); err != nil {
		t.Fatalf("EnsureSurveyRepo() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "srv_1")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}

	// Second ensure is a no-op.
	if err := svc.EnsureSurveyRepo(agg, "Avery"); err != nil {
		t.Fatalf("EnsureSurveyRepo() repeat error = %v", err)
	}

	updated := agg
	updated.Notes = "PPE signage missing at press 4"
	commit, err := svc.CommitAggregate(updated, "Avery", "Autosave")
	if err != nil {
		t.Fatalf("CommitAggregate() error = %v", err)
	}
	if commit.Hash == "" {
		t.Fatal("expected commit hash")
	}

	history, err := svc.History("srv_1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(history))
	}

	revision, err := svc.GetAggregateByHash("srv_1", commit.Hash)
	if err != nil {
		t.Fatalf("GetAggregateByHash() error = %v", err)
	}
	if revision.Notes != "PPE signage missing at press 4" {
		t.Fatalf("unexpected revision content: %+v", revision)
	}
	if len(revision.Areas) != 1 || revision.Areas[0].Name != "Press Shop" {
		t.Fatalf("area tree lost in revision: %+v", revision.Areas)
	}
}

func TestRevisionPreservesPathKeyedRecords(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	agg := baselineSurvey()
	agg.Comments = agg.Comments.Set(survey.SubPath(0, 0), "hearing zone")
	if err := svc.EnsureSurveyRepo(agg, "Avery"); err != nil {
		t.Fatalf("EnsureSurveyRepo() error = %v", err)
	}

	updated := agg
	updated.Comments = updated.Comments.Set(survey.MainPath(0), "main area note")
	commit, err := svc.CommitAggregate(updated, "Avery", "Add comment")
	if err != nil {
		t.Fatalf("CommitAggregate() error = %v", err)
	}

	revision, err := svc.GetAggregateByHash("srv_1", commit.Hash)
	if err != nil {
		t.Fatalf("GetAggregateByHash() error = %v", err)
	}
	if revision.Comments.Get(survey.SubPath(0, 0)) != "hearing zone" {
		t.Fatal("sub-area comment lost across revision round-trip")
	}
	if revision.Comments.Get(survey.MainPath(0)) != "main area note" {
		t.Fatal("main-area comment lost across revision round-trip")
	}
}

func TestCreateTag(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	agg := baselineSurvey()
	if err := svc.EnsureSurveyRepo(agg, "Avery"); err != nil {
		t.Fatalf("EnsureSurveyRepo() error = %v", err)
	}
	completed := agg
	completed.Status = survey.StatusCompleted
	commit, err := svc.CommitAggregate(completed, "Avery", "Complete survey")
	if err != nil {
		t.Fatalf("CommitAggregate() error = %v", err)
	}

	if err := svc.CreateTag("srv_1", commit.Hash, "completed"); err != nil {
		t.Fatalf("CreateTag() error = %v", err)
	}
	// Tagging the same revision twice must not fail.
	if err := svc.CreateTag("srv_1", commit.Hash, "completed"); err != nil {
		t.Fatalf("CreateTag() repeat error = %v", err)
	}
}

func TestConcurrentCommits(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	agg := baselineSurvey()
	if err := svc.EnsureSurveyRepo(agg, "Avery"); err != nil {
		t.Fatalf("EnsureSurveyRepo() error = %v", err)
	}

	const writers = 12
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			next := agg
			next.Notes = fmt.Sprintf("note-%02d", idx)
			if _, err := svc.CommitAggregate(next, "Avery", fmt.Sprintf("Autosave %02d", idx)); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			t.Fatalf("CommitAggregate() concurrent error = %v", err)
		}
	}

	history, err := svc.History("srv_1", 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) < writers+1 {
		t.Fatalf("expected at least %d commits in history, got %d", writers+1, len(history))
	}

	head, err := svc.GetAggregateByHash("srv_1", history[0].Hash)
	if err != nil {
		t.Fatalf("GetAggregateByHash() error = %v", err)
	}
	if !strings.HasPrefix(head.Notes, "note-") {
		t.Fatalf("unexpected head content after concurrent commits: %+v", head)
	}
}
