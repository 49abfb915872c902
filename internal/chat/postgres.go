package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists conversations, turns, and suggestions in PostgreSQL.
// The unique indexes on (conversation_id, skill_id) and
// (conversation_id, turn_id) close the read-then-write race on idempotent
// suggestion inserts.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initChatSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initChatSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_user_created ON conversations (user_id, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS turns (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			skill_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_turns_conversation_created ON turns (conversation_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS skill_suggestions (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			skill_id TEXT NOT NULL,
			turn_id TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (conversation_id, skill_id)
		);`,
		`CREATE TABLE IF NOT EXISTS skill_draft_suggestions (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			turn_id TEXT NOT NULL DEFAULT '',
			goal TEXT NOT NULL,
			constraints TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			created_skill_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (conversation_id, turn_id)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init chat schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateConversation(ctx context.Context, userID, title string) (Conversation, error) {
	c := Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (id, user_id, title, created_at) VALUES ($1, $2, $3, $4)`,
		c.ID, c.UserID, c.Title, c.CreatedAt,
	)
	if err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	var c Conversation
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, title, created_at FROM conversations WHERE id=$1`, id,
	).Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListConversations(ctx context.Context, userID string, limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, title, created_at FROM conversations
		 WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteConversation(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateTurn(ctx context.Context, turn Turn) (Turn, error) {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO turns (id, conversation_id, role, content, skill_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		turn.ID, turn.ConversationID, string(turn.Role), turn.Content, turn.SkillID, turn.CreatedAt,
	)
	if err != nil {
		return Turn{}, fmt.Errorf("create turn: %w", err)
	}
	return turn, nil
}

func (s *PostgresStore) GetTurn(ctx context.Context, id string) (Turn, error) {
	var t Turn
	err := s.pool.QueryRow(ctx,
		`SELECT id, conversation_id, role, content, skill_id, created_at FROM turns WHERE id=$1`, id,
	).Scan(&t.ID, &t.ConversationID, &t.Role, &t.Content, &t.SkillID, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Turn{}, ErrNotFound
	}
	if err != nil {
		return Turn{}, fmt.Errorf("get turn: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) ListTurns(ctx context.Context, conversationID string, limit, offset int) ([]Turn, error) {
	if limit <= 0 {
		limit = defaultTurnLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, role, content, skill_id, created_at FROM turns
		 WHERE conversation_id=$1 ORDER BY created_at ASC LIMIT $2 OFFSET $3`,
		conversationID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.ConversationID, &t.Role, &t.Content, &t.SkillID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateTurnContent(ctx context.Context, id, content string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE turns SET content=$2 WHERE id=$1`, id, content)
	if err != nil {
		return fmt.Errorf("update turn content: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListSuggestions(ctx context.Context, conversationID string, status SuggestionStatus) ([]Suggestion, error) {
	query := `SELECT id, conversation_id, skill_id, turn_id, reason, status, created_at
		 FROM skill_suggestions WHERE conversation_id=$1`
	args := []any{conversationID}
	if status != "" {
		query += ` AND status=$2`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list suggestions: %w", err)
	}
	defer rows.Close()

	var out []Suggestion
	for rows.Next() {
		var sg Suggestion
		if err := rows.Scan(&sg.ID, &sg.ConversationID, &sg.SkillID, &sg.TurnID, &sg.Reason, &sg.Status, &sg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan suggestion: %w", err)
		}
		out = append(out, sg)
	}
	return out, rows.Err()
}

func (s *PostgresStore) HasRejectedSuggestion(ctx context.Context, conversationID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM skill_suggestions WHERE conversation_id=$1 AND status=$2)`,
		conversationID, string(StatusRejected),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check suggestion rejection: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) UpsertSuggestion(ctx context.Context, sg Suggestion) (Suggestion, error) {
	if sg.ID == "" {
		sg.ID = uuid.NewString()
	}
	if sg.CreatedAt.IsZero() {
		sg.CreatedAt = time.Now().UTC()
	}
	var out Suggestion
	err := s.pool.QueryRow(ctx,
		`INSERT INTO skill_suggestions (id, conversation_id, skill_id, turn_id, reason, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (conversation_id, skill_id) DO UPDATE
		 SET reason = CASE WHEN skill_suggestions.reason = '' THEN excluded.reason ELSE skill_suggestions.reason END
		 RETURNING id, conversation_id, skill_id, turn_id, reason, status, created_at`,
		sg.ID, sg.ConversationID, sg.SkillID, sg.TurnID, sg.Reason, string(StatusPending), sg.CreatedAt,
	).Scan(&out.ID, &out.ConversationID, &out.SkillID, &out.TurnID, &out.Reason, &out.Status, &out.CreatedAt)
	if err != nil {
		return Suggestion{}, fmt.Errorf("upsert suggestion: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetSuggestion(ctx context.Context, id string) (Suggestion, error) {
	var sg Suggestion
	err := s.pool.QueryRow(ctx,
		`SELECT id, conversation_id, skill_id, turn_id, reason, status, created_at
		 FROM skill_suggestions WHERE id=$1`, id,
	).Scan(&sg.ID, &sg.ConversationID, &sg.SkillID, &sg.TurnID, &sg.Reason, &sg.Status, &sg.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Suggestion{}, ErrNotFound
	}
	if err != nil {
		return Suggestion{}, fmt.Errorf("get suggestion: %w", err)
	}
	return sg, nil
}

func (s *PostgresStore) UpdateSuggestionStatus(ctx context.Context, id string, status SuggestionStatus) (Suggestion, error) {
	var sg Suggestion
	err := s.pool.QueryRow(ctx,
		`UPDATE skill_suggestions SET status=$2 WHERE id=$1 AND status=$3
		 RETURNING id, conversation_id, skill_id, turn_id, reason, status, created_at`,
		id, string(status), string(StatusPending),
	).Scan(&sg.ID, &sg.ConversationID, &sg.SkillID, &sg.TurnID, &sg.Reason, &sg.Status, &sg.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either missing or already resolved; distinguish for the caller.
		if _, getErr := s.GetSuggestion(ctx, id); getErr != nil {
			return Suggestion{}, getErr
		}
		return Suggestion{}, ErrConflict
	}
	if err != nil {
		return Suggestion{}, fmt.Errorf("update suggestion status: %w", err)
	}
	return sg, nil
}

func (s *PostgresStore) ListDraftSuggestions(ctx context.Context, conversationID string, status SuggestionStatus) ([]DraftSuggestion, error) {
	query := `SELECT id, conversation_id, turn_id, goal, constraints, reason, status, created_skill_id, created_at
		 FROM skill_draft_suggestions WHERE conversation_id=$1`
	args := []any{conversationID}
	if status != "" {
		query += ` AND status=$2`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list draft suggestions: %w", err)
	}
	defer rows.Close()

	var out []DraftSuggestion
	for rows.Next() {
		var d DraftSuggestion
		if err := rows.Scan(&d.ID, &d.ConversationID, &d.TurnID, &d.Goal, &d.Constraints, &d.Reason, &d.Status, &d.CreatedSkillID, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan draft suggestion: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) HasRejectedDraft(ctx context.Context, conversationID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM skill_draft_suggestions WHERE conversation_id=$1 AND status=$2)`,
		conversationID, string(StatusRejected),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check draft rejection: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) UpsertDraftSuggestion(ctx context.Context, d DraftSuggestion) (DraftSuggestion, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	var out DraftSuggestion
	err := s.pool.QueryRow(ctx,
		`INSERT INTO skill_draft_suggestions (id, conversation_id, turn_id, goal, constraints, reason, status, created_skill_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, '', $8)
		 ON CONFLICT (conversation_id, turn_id) DO UPDATE
		 SET reason = CASE WHEN skill_draft_suggestions.reason = '' THEN excluded.reason ELSE skill_draft_suggestions.reason END
		 RETURNING id, conversation_id, turn_id, goal, constraints, reason, status, created_skill_id, created_at`,
		d.ID, d.ConversationID, d.TurnID, d.Goal, d.Constraints, d.Reason, string(StatusPending), d.CreatedAt,
	).Scan(&out.ID, &out.ConversationID, &out.TurnID, &out.Goal, &out.Constraints, &out.Reason, &out.Status, &out.CreatedSkillID, &out.CreatedAt)
	if err != nil {
		return DraftSuggestion{}, fmt.Errorf("upsert draft suggestion: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetDraftSuggestion(ctx context.Context, id string) (DraftSuggestion, error) {
	var d DraftSuggestion
	err := s.pool.QueryRow(ctx,
		`SELECT id, conversation_id, turn_id, goal, constraints, reason, status, created_skill_id, created_at
		 FROM skill_draft_suggestions WHERE id=$1`, id,
	).Scan(&d.ID, &d.ConversationID, &d.TurnID, &d.Goal, &d.Constraints, &d.Reason, &d.Status, &d.CreatedSkillID, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return DraftSuggestion{}, ErrNotFound
	}
	if err != nil {
		return DraftSuggestion{}, fmt.Errorf("get draft suggestion: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) UpdateDraftStatus(ctx context.Context, id string, status SuggestionStatus, createdSkillID string) (DraftSuggestion, error) {
	var d DraftSuggestion
	err := s.pool.QueryRow(ctx,
		`UPDATE skill_draft_suggestions
		 SET status=$2,
		     created_skill_id = CASE WHEN $4 <> '' THEN $4 ELSE created_skill_id END
		 WHERE id=$1 AND status=$3
		 RETURNING id, conversation_id, turn_id, goal, constraints, reason, status, created_skill_id, created_at`,
		id, string(status), string(StatusPending), createdSkillID,
	).Scan(&d.ID, &d.ConversationID, &d.TurnID, &d.Goal, &d.Constraints, &d.Reason, &d.Status, &d.CreatedSkillID, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := s.GetDraftSuggestion(ctx, id); getErr != nil {
			return DraftSuggestion{}, getErr
		}
		return DraftSuggestion{}, ErrConflict
	}
	if err != nil {
		return DraftSuggestion{}, fmt.Errorf("update draft status: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
