package results

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quailyquaily/nightshift/db/models"
	"github.com/quailyquaily/nightshift/internal/fsutil"
	"github.com/quailyquaily/nightshift/internal/pathutil"
	"github.com/quailyquaily/nightshift/queue"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Result struct {
	ID                    int64     `json:"result_id"`
	TaskID                int64     `json:"task_id"`
	Output                string    `json:"output"`
	FilesModified         []string  `json:"files_modified"`
	CommandsExecuted      []string  `json:"commands_executed"`
	ProcessingTimeSeconds int       `json:"processing_time_seconds"`
	GitCommitSHA          string    `json:"git_commit_sha"`
	GitPRURL              string    `json:"git_pr_url"`
	GitBranch             string    `json:"git_branch"`
	WorkspacePath         string    `json:"workspace_path"`
	CreatedAt             time.Time `json:"created_at"`
}

type SaveInput struct {
	TaskID                int64
	Output                string
	FilesModified         []string
	CommandsExecuted      []string
	ProcessingTimeSeconds int
	GitBranch             string
	WorkspacePath         string
}

// Store persists results in the shared database and mirrors every row to a
// JSON file named task_<task>_<result>.json under Dir.
type Store struct {
	db  *queue.Store
	dir string
	now func() time.Time
	log *slog.Logger
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

func New(db *queue.Store, dir string, opts ...Option) *Store {
	s := &Store{
		db:  db,
		dir: pathutil.ExpandHomePath(dir),
		now: time.Now,
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) Save(ctx context.Context, in SaveInput) (*Result, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("nil result store")
	}
	if in.TaskID <= 0 {
		return nil, fmt.Errorf("invalid task id: %d", in.TaskID)
	}
	var row models.Result
	err := s.db.Write(ctx, func(tx *gorm.DB) error {
		secs := in.ProcessingTimeSeconds
		row = models.Result{
			TaskID:                in.TaskID,
			Output:                &in.Output,
			FilesModified:         datatypes.JSONSlice[string](nonNil(in.FilesModified)),
			CommandsExecuted:      datatypes.JSONSlice[string](nonNil(in.CommandsExecuted)),
			ProcessingTimeSeconds: &secs,
			GitBranch:             optional(in.GitBranch),
			WorkspacePath:         optional(in.WorkspacePath),
			CreatedAt:             s.now().UnixMilli(),
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return nil, fmt.Errorf("save result: %w", err)
	}
	res := rowToResult(row)
	s.writeSnapshot(res)
	s.log.Info("result_saved", "task_id", res.TaskID, "result_id", res.ID)
	return &res, nil
}

// Get returns nil when the id does not exist.
func (s *Store) Get(ctx context.Context, id int64) (*Result, error) {
	var row models.Result
	if err := s.db.DB().WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	res := rowToResult(row)
	return &res, nil
}

func (s *Store) ForTask(ctx context.Context, taskID int64) ([]Result, error) {
	var rows []models.Result
	err := s.db.DB().WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("created_at DESC, id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(rows))
	for _, r := range rows {
		out = append(out, rowToResult(r))
	}
	return out, nil
}

// UpdateCommitInfo backfills git details after the commit step. Empty values
// leave the column untouched. A missing result yields (nil, nil).
func (s *Store) UpdateCommitInfo(ctx context.Context, resultID int64, sha, prURL, branch string) (*Result, error) {
	changes := map[string]any{}
	if v := strings.TrimSpace(sha); v != "" {
		changes["git_commit_sha"] = v
	}
	if v := strings.TrimSpace(prURL); v != "" {
		changes["git_pr_url"] = v
	}
	if v := strings.TrimSpace(branch); v != "" {
		changes["git_branch"] = v
	}

	var out *Result
	err := s.db.Write(ctx, func(tx *gorm.DB) error {
		out = nil
		var row models.Result
		if err := tx.First(&row, "id = ?", resultID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if len(changes) > 0 {
			if err := tx.Model(&models.Result{}).Where("id = ?", resultID).Updates(changes).Error; err != nil {
				return err
			}
			if err := tx.First(&row, "id = ?", resultID).Error; err != nil {
				return err
			}
		}
		res := rowToResult(row)
		out = &res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update commit info: %w", err)
	}
	if out != nil && len(changes) > 0 {
		s.writeSnapshot(*out)
	}
	return out, nil
}

func (s *Store) SnapshotPath(taskID, resultID int64) string {
	return filepath.Join(s.dir, fmt.Sprintf("task_%d_%d.json", taskID, resultID))
}

func (s *Store) writeSnapshot(res Result) {
	if strings.TrimSpace(s.dir) == "" {
		return
	}
	if err := fsutil.WriteJSONAtomic(s.SnapshotPath(res.TaskID, res.ID), res, 0o644); err != nil {
		s.log.Warn("result_snapshot_error", "task_id", res.TaskID, "result_id", res.ID, "error", err.Error())
	}
}

// ReadSnapshot loads the JSON mirror of a result.
func (s *Store) ReadSnapshot(taskID, resultID int64) (*Result, error) {
	var res Result
	ok, err := fsutil.ReadJSON(s.SnapshotPath(taskID, resultID), &res)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, os.ErrNotExist
	}
	return &res, nil
}

func rowToResult(r models.Result) Result {
	res := Result{
		ID:               r.ID,
		TaskID:           r.TaskID,
		Output:           deref(r.Output),
		FilesModified:    nonNil([]string(r.FilesModified)),
		CommandsExecuted: nonNil([]string(r.CommandsExecuted)),
		GitCommitSHA:     deref(r.GitCommitSHA),
		GitPRURL:         deref(r.GitPRURL),
		GitBranch:        deref(r.GitBranch),
		WorkspacePath:    deref(r.WorkspacePath),
		CreatedAt:        time.UnixMilli(r.CreatedAt),
	}
	if r.ProcessingTimeSeconds != nil {
		res.ProcessingTimeSeconds = *r.ProcessingTimeSeconds
	}
	return res
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
