package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/oursky/experiment-runner/pkg/experiments"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

//go:embed schema/*.sql
var schemaFS embed.FS

const experimentColumns = `e.id, e.user_id, e.name, e.code, e.created_at, e.updated_at,
	COALESCE((SELECT j.status FROM jobs j WHERE j.experiment_id = e.id ORDER BY j.id DESC LIMIT 1), '') AS status`

type SQLStore struct {
	logger *zap.Logger
	db     *sqlx.DB
}

func NewSQLStore(logger *zap.Logger, driver string, dsn string, maxOpenConns int) (*SQLStore, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)
	if driver != "sqlite3" {
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	s := &SQLStore{
		logger: logger.Named("store"),
		db:     db,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) Migrate(ctx context.Context) error {
	schema, err := schemaFS.ReadFile("schema/" + s.db.DriverName() + ".sql")
	if err != nil {
		return fmt.Errorf("no schema for driver %s: %w", s.db.DriverName(), err)
	}
	if _, err := s.db.ExecContext(ctx, string(schema)); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	s.logger.Info("schema applied", zap.String("driver", s.db.DriverName()))
	return nil
}

func (s *SQLStore) Start(ctx context.Context, g *errgroup.Group) error {
	g.Go(func() error {
		<-ctx.Done()
		return s.db.Close()
	})
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// forUpdate locks selected rows where the database supports it; sqlite
// serialises writers on its own.
func (s *SQLStore) forUpdate() string {
	if s.db.DriverName() == "postgres" {
		return " FOR UPDATE"
	}
	return ""
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *SQLStore) CreateRunner(ctx context.Context, name string, accessKey string) (*experiments.Runner, error) {
	r := &experiments.Runner{
		Name:      name,
		AccessKey: accessKey,
		CreatedAt: time.Now().UTC(),
	}
	err := s.db.QueryRowxContext(ctx,
		s.db.Rebind("INSERT INTO runners (name, access_key, created_at) VALUES (?, ?, ?) RETURNING id"),
		r.Name, r.AccessKey, r.CreatedAt,
	).Scan(&r.ID)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *SQLStore) GetRunner(ctx context.Context, id int64) (*experiments.Runner, error) {
	var r experiments.Runner
	err := s.db.GetContext(ctx, &r, s.db.Rebind("SELECT * FROM runners WHERE id = ?"), id)
	if err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

func (s *SQLStore) FindRunnerByAccessKey(ctx context.Context, accessKey string) (*experiments.Runner, error) {
	var r experiments.Runner
	err := s.db.GetContext(ctx, &r, s.db.Rebind("SELECT * FROM runners WHERE access_key = ?"), accessKey)
	if err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

func (s *SQLStore) ListRunners(ctx context.Context) ([]experiments.Runner, error) {
	var runners []experiments.Runner
	if err := s.db.SelectContext(ctx, &runners, "SELECT * FROM runners ORDER BY id"); err != nil {
		return nil, err
	}
	return runners, nil
}

func (s *SQLStore) ListExperiments(ctx context.Context, userID string, page Page) ([]experiments.Experiment, int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, s.db.Rebind("SELECT COUNT(*) FROM experiments WHERE user_id = ?"), userID)
	if err != nil {
		return nil, 0, err
	}

	var list []experiments.Experiment
	err = s.db.SelectContext(ctx, &list, s.db.Rebind(
		"SELECT "+experimentColumns+" FROM experiments e WHERE e.user_id = ? ORDER BY e.id DESC LIMIT ? OFFSET ?"),
		userID, page.PerPage, page.offset(),
	)
	if err != nil {
		return nil, 0, err
	}
	return list, totalPages(count, page.PerPage), nil
}

func (s *SQLStore) GetExperiment(ctx context.Context, userID string, id int64) (*experiments.Experiment, error) {
	var e experiments.Experiment
	err := s.db.GetContext(ctx, &e, s.db.Rebind(
		"SELECT "+experimentColumns+" FROM experiments e WHERE e.user_id = ? AND e.id = ?"),
		userID, id,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

func (s *SQLStore) CreateExperiment(ctx context.Context, userID string, name string, code string) (*experiments.Experiment, error) {
	now := time.Now().UTC()
	e := &experiments.Experiment{
		UserID:    userID,
		Name:      name,
		Code:      code,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.db.QueryRowxContext(ctx,
		s.db.Rebind("INSERT INTO experiments (user_id, name, code, created_at, updated_at) VALUES (?, ?, ?, ?, ?) RETURNING id"),
		e.UserID, e.Name, e.Code, e.CreatedAt, e.UpdatedAt,
	).Scan(&e.ID)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *SQLStore) UpdateExperiment(ctx context.Context, userID string, id int64, update ExperimentUpdate) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		"UPDATE experiments SET name = COALESCE(?, name), code = COALESCE(?, code), updated_at = ? WHERE user_id = ? AND id = ?"),
		update.Name, update.Code, time.Now().UTC(), userID, id,
	)
	return err
}

func (s *SQLStore) DeleteExperiment(ctx context.Context, userID string, id int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM experiments WHERE user_id = ? AND id = ?"), userID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM jobs WHERE experiment_id = ?"), id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) CreateJob(ctx context.Context, job *experiments.Job) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var experimentID int64
	err = tx.GetContext(ctx, &experimentID, tx.Rebind("SELECT id FROM experiments WHERE id = ?"+s.forUpdate()), job.ExperimentID)
	if err != nil {
		return notFound(err)
	}

	var latest experiments.Job
	err = tx.GetContext(ctx, &latest, tx.Rebind("SELECT * FROM jobs WHERE experiment_id = ? ORDER BY id DESC LIMIT 1"), job.ExperimentID)
	switch {
	case err == nil:
		if err := experiments.CheckRerun(&latest); err != nil {
			return err
		}
	case !errors.Is(err, sql.ErrNoRows):
		return err
	}

	err = tx.QueryRowxContext(ctx, tx.Rebind(
		"INSERT INTO jobs (experiment_id, runner_id, code, status, output, error, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id"),
		job.ExperimentID, job.RunnerID, job.Code, job.Status, job.Output, job.Error, job.CreatedAt.UTC(), job.UpdatedAt.UTC(),
	).Scan(&job.ID)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) GetJob(ctx context.Context, id int64) (*experiments.Job, error) {
	var j experiments.Job
	if err := s.db.GetContext(ctx, &j, s.db.Rebind("SELECT * FROM jobs WHERE id = ?"), id); err != nil {
		return nil, notFound(err)
	}
	return &j, nil
}

func (s *SQLStore) ListJobs(ctx context.Context, experimentID int64) ([]experiments.Job, error) {
	var jobs []experiments.Job
	err := s.db.SelectContext(ctx, &jobs, s.db.Rebind("SELECT * FROM jobs WHERE experiment_id = ? ORDER BY id DESC"), experimentID)
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (s *SQLStore) RecentJobs(ctx context.Context, limit int) ([]experiments.Job, error) {
	var jobs []experiments.Job
	err := s.db.SelectContext(ctx, &jobs, s.db.Rebind("SELECT * FROM jobs ORDER BY id DESC LIMIT ?"), limit)
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (s *SQLStore) UpdateJob(ctx context.Context, id int64, updater func(*experiments.Job) error) (*experiments.Job, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var job experiments.Job
	if err := tx.GetContext(ctx, &job, tx.Rebind("SELECT * FROM jobs WHERE id = ?"+s.forUpdate()), id); err != nil {
		return nil, notFound(err)
	}

	if err := updater(&job); err != nil {
		return nil, err
	}
	job.UpdatedAt = time.Now().UTC()

	_, err = tx.ExecContext(ctx, tx.Rebind(
		"UPDATE jobs SET status = ?, output = ?, error = ?, updated_at = ? WHERE id = ?"),
		job.Status, job.Output, job.Error, job.UpdatedAt, job.ID,
	)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &job, nil
}
