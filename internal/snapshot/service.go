// Package snapshot keeps a git-backed revision history of survey
// aggregates. Each survey gets its own repository under the base
// directory, and every save commits the full aggregate as survey.json.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"hearsafe/api/internal/survey"
)

type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// EnsureSurveyRepo initializes the repository for a survey with a
// baseline commit. Calling it again for an existing survey is a no-op.
func (s *Service) EnsureSurveyRepo(agg survey.Survey, author string) error {
	lock := s.surveyLock(agg.ID)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(agg.ID)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create repo dir: %w", err)
	}

	repo, err := git.PlainInit(path, false)
	if err != nil {
		return fmt.Errorf("init repo: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	if err := writeAggregate(path, agg); err != nil {
		return err
	}
	if _, err := worktree.Add("survey.json"); err != nil {
		return fmt.Errorf("git add baseline: %w", err)
	}
	hash, err := worktree.Commit("Create survey", &git.CommitOptions{
		Author: signature(author),
	})
	if err != nil {
		return fmt.Errorf("commit baseline: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
		return fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return fmt.Errorf("set HEAD to main: %w", err)
	}
	return nil
}

// CommitAggregate records the current aggregate state as a new revision.
func (s *Service) CommitAggregate(agg survey.Survey, author, message string) (CommitInfo, error) {
	lock := s.surveyLock(agg.ID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(agg.ID))
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open repo: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}

	if err := writeAggregate(worktree.Filesystem.Root(), agg); err != nil {
		return CommitInfo{}, err
	}
	if _, err := worktree.Add("survey.json"); err != nil {
		return CommitInfo{}, fmt.Errorf("git add survey.json: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: signature(author),
	})
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit survey: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// History lists revisions newest first, up to limit (0 means all).
func (s *Service) History(surveyID string, limit int) ([]CommitInfo, error) {
	lock := s.surveyLock(surveyID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(surveyID))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return nil, fmt.Errorf("resolve main: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// GetAggregateByHash loads the aggregate as it was at a given revision.
// Short hashes are resolved against the repository.
func (s *Service) GetAggregateByHash(surveyID, hash string) (survey.Survey, error) {
	lock := s.surveyLock(surveyID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(surveyID))
	if err != nil {
		return survey.Survey{}, fmt.Errorf("open repo: %w", err)
	}

	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return survey.Survey{}, err
	}
	commitObj, err := repo.CommitObject(resolvedHash)
	if err != nil {
		return survey.Survey{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	return readAggregateFromCommit(commitObj)
}

// CreateTag names a revision, used to mark the completion snapshot.
func (s *Service) CreateTag(surveyID, hash, name string) error {
	lock := s.surveyLock(surveyID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(surveyID))
	if err != nil {
		return fmt.Errorf("open repo: %w", err)
	}
	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return err
	}

	_, err = repo.CreateTag(name, resolvedHash, &git.CreateTagOptions{
		Tagger: &object.Signature{
			Name:  "HearSafe",
			Email: "hearsafe@localhost",
			When:  time.Now(),
		},
		Message: name,
	})
	if err != nil && !errors.Is(err, git.ErrTagExists) {
		return fmt.Errorf("create tag: %w", err)
	}
	return nil
}

func (s *Service) repoPath(surveyID string) string {
	return filepath.Join(s.baseDir, surveyID)
}

func (s *Service) surveyLock(surveyID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[surveyID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[surveyID] = lock
	return lock
}

func writeAggregate(dir string, agg survey.Survey) error {
	payload, err := json.MarshalIndent(agg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal survey: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "survey.json"), append(payload, '\n'), 0o644); err != nil {
		return fmt.Errorf("write survey.json: %w", err)
	}
	return nil
}

func readAggregateFromCommit(commitObj *object.Commit) (survey.Survey, error) {
	file, err := commitObj.File("survey.json")
	if err != nil {
		return survey.Survey{}, fmt.Errorf("load survey.json from commit: %w", err)
	}
	reader, err := file.Reader()
	if err != nil {
		return survey.Survey{}, fmt.Errorf("open survey reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return survey.Survey{}, fmt.Errorf("read survey bytes: %w", err)
	}

	var agg survey.Survey
	if err := json.Unmarshal(raw, &agg); err != nil {
		return survey.Survey{}, fmt.Errorf("decode commit survey: %w", err)
	}
	return agg, nil
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func signature(author string) *object.Signature {
	return &object.Signature{
		Name:  author,
		Email: fmt.Sprintf("%s@local.hearsafe.dev", sanitizeEmail(author)),
		When:  time.Now(),
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
