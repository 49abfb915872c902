package skill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists skills and versions in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSkillSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSkillSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS skills (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			tags TEXT[] NOT NULL DEFAULT '{}',
			visibility TEXT NOT NULL DEFAULT 'private',
			avatar TEXT NOT NULL DEFAULT '',
			deleted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_skills_owner ON skills (owner_id);`,
		`CREATE INDEX IF NOT EXISTS idx_skills_visibility ON skills (visibility) WHERE NOT deleted;`,
		`CREATE TABLE IF NOT EXISTS skill_versions (
			id TEXT PRIMARY KEY,
			skill_id TEXT NOT NULL REFERENCES skills(id) ON DELETE CASCADE,
			version INT NOT NULL,
			content TEXT NOT NULL,
			created_by TEXT NOT NULL DEFAULT '',
			parent_version_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (skill_id, version)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init skill schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, in CreateInput) (Skill, Version, error) {
	sk := Skill{
		ID:          uuid.NewString(),
		OwnerID:     in.OwnerID,
		Name:        in.Name,
		Description: in.Description,
		Tags:        append([]string(nil), in.Tags...),
		Visibility:  EnsureVisibility(in.Visibility),
		Avatar:      in.Avatar,
		CreatedAt:   time.Now().UTC(),
	}
	v := Version{
		ID:        uuid.NewString(),
		SkillID:   sk.ID,
		Version:   1,
		Content:   in.Content,
		CreatedBy: in.OwnerID,
		CreatedAt: sk.CreatedAt,
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Skill{}, Version{}, fmt.Errorf("begin create skill: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO skills (id, owner_id, name, description, tags, visibility, avatar, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sk.ID, sk.OwnerID, sk.Name, sk.Description, sk.Tags, string(sk.Visibility), sk.Avatar, sk.CreatedAt,
	)
	if err != nil {
		return Skill{}, Version{}, fmt.Errorf("insert skill: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO skill_versions (id, skill_id, version, content, created_by, parent_version_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, '', $6)`,
		v.ID, v.SkillID, v.Version, v.Content, v.CreatedBy, v.CreatedAt,
	)
	if err != nil {
		return Skill{}, Version{}, fmt.Errorf("insert skill version: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Skill{}, Version{}, fmt.Errorf("commit create skill: %w", err)
	}
	return sk, v, nil
}

const skillColumns = `id, owner_id, name, description, tags, visibility, avatar, deleted, created_at`

func scanSkill(row pgx.Row) (Skill, error) {
	var sk Skill
	err := row.Scan(&sk.ID, &sk.OwnerID, &sk.Name, &sk.Description, &sk.Tags, &sk.Visibility, &sk.Avatar, &sk.Deleted, &sk.CreatedAt)
	return sk, err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Skill, error) {
	sk, err := scanSkill(s.pool.QueryRow(ctx,
		`SELECT `+skillColumns+` FROM skills WHERE id=$1 AND NOT deleted`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Skill{}, ErrNotFound
	}
	if err != nil {
		return Skill{}, fmt.Errorf("get skill: %w", err)
	}
	return sk, nil
}

func (s *PostgresStore) UpdateMetadata(ctx context.Context, id string, upd MetadataUpdate) (Skill, error) {
	sk, err := scanSkill(s.pool.QueryRow(ctx,
		`UPDATE skills SET
			description = COALESCE($2, description),
			tags = COALESCE($3, tags),
			visibility = COALESCE($4, visibility),
			avatar = COALESCE($5, avatar)
		 WHERE id=$1 AND NOT deleted
		 RETURNING `+skillColumns,
		id, upd.Description, upd.Tags, (*string)(upd.Visibility), upd.Avatar))
	if errors.Is(err, pgx.ErrNoRows) {
		return Skill{}, ErrNotFound
	}
	if err != nil {
		return Skill{}, fmt.Errorf("update skill metadata: %w", err)
	}
	return sk, nil
}

func (s *PostgresStore) SoftDelete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE skills SET deleted=TRUE WHERE id=$1 AND NOT deleted`, id)
	if err != nil {
		return fmt.Errorf("soft delete skill: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const versionColumns = `id, skill_id, version, content, created_by, parent_version_id, created_at`

func scanVersion(row pgx.Row) (Version, error) {
	var v Version
	err := row.Scan(&v.ID, &v.SkillID, &v.Version, &v.Content, &v.CreatedBy, &v.ParentVersionID, &v.CreatedAt)
	return v, err
}

func (s *PostgresStore) LatestVersion(ctx context.Context, skillID string) (Version, error) {
	v, err := scanVersion(s.pool.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM skill_versions WHERE skill_id=$1 ORDER BY version DESC LIMIT 1`, skillID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Version{}, ErrVersionNotFound
	}
	if err != nil {
		return Version{}, fmt.Errorf("latest skill version: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) GetVersion(ctx context.Context, skillID string, number int) (Version, error) {
	v, err := scanVersion(s.pool.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM skill_versions WHERE skill_id=$1 AND version=$2`, skillID, number))
	if errors.Is(err, pgx.ErrNoRows) {
		return Version{}, ErrVersionNotFound
	}
	if err != nil {
		return Version{}, fmt.Errorf("get skill version: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) CreateVersion(ctx context.Context, skillID, content, createdBy, parentVersionID string) (Version, error) {
	if _, err := s.Get(ctx, skillID); err != nil {
		return Version{}, err
	}
	latest, err := s.LatestVersion(ctx, skillID)
	if err != nil {
		return Version{}, err
	}
	if parentVersionID == "" {
		parentVersionID = latest.ID
	}
	v := Version{
		ID:              uuid.NewString(),
		SkillID:         skillID,
		Version:         latest.Version + 1,
		Content:         content,
		CreatedBy:       createdBy,
		ParentVersionID: parentVersionID,
		CreatedAt:       time.Now().UTC(),
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO skill_versions (id, skill_id, version, content, created_by, parent_version_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		v.ID, v.SkillID, v.Version, v.Content, v.CreatedBy, v.ParentVersionID, v.CreatedAt,
	)
	if err != nil {
		return Version{}, fmt.Errorf("insert skill version: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) ListVersions(ctx context.Context, skillID string) ([]Version, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+versionColumns+` FROM skill_versions WHERE skill_id=$1 ORDER BY version ASC`, skillID)
	if err != nil {
		return nil, fmt.Errorf("list skill versions: %w", err)
	}
	defer rows.Close()

	var out []Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan skill version: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

func (s *PostgresStore) ListVisible(ctx context.Context, userID string) ([]Skill, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+skillColumns+` FROM skills
		 WHERE NOT deleted AND (owner_id=$1 OR visibility='public')
		 ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list visible skills: %w", err)
	}
	defer rows.Close()

	var out []Skill
	for rows.Next() {
		sk, err := scanSkill(rows)
		if err != nil {
			return nil, fmt.Errorf("scan skill: %w", err)
		}
		out = append(out, sk)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Summaries(ctx context.Context, userID string) ([]Summary, error) {
	skills, err := s.ListVisible(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(skills))
	for _, sk := range skills {
		out = append(out, summarize(sk))
	}
	return out, nil
}

func (s *PostgresStore) Search(ctx context.Context, userID, query string) ([]Skill, error) {
	skills, err := s.ListVisible(ctx, userID)
	if err != nil {
		return nil, err
	}
	var out []Skill
	for _, sk := range skills {
		if matchesQuery(sk, query) {
			out = append(out, sk)
		}
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
