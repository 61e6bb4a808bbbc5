package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"groundwrite/api/internal/essay"
)

// ErrOutlineExists is returned by CreateOutline for a duplicate id.
var ErrOutlineExists = errors.New("outline already exists")

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) CreateOutline(ctx context.Context, outline essay.Outline) error {
	request, err := json.Marshal(outline.Request)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin outline tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO outlines (id, session_id, owner_id, thesis, retrieved_chunk_count, request, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, outline.ID, outline.SessionID, outline.OwnerID, outline.Thesis, outline.RetrievedChunkCount, request, outline.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", ErrOutlineExists, outline.ID)
		}
		return fmt.Errorf("insert outline: %w", err)
	}
	for i, p := range outline.Paragraphs {
		body, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode paragraph %d: %w", i, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO outline_paragraphs (outline_id, idx, state, body, updated_at)
			VALUES ($1, $2, $3, $4, $5)
		`, outline.ID, i, string(p.ExpansionState), body, p.UpdatedAt); err != nil {
			return fmt.Errorf("insert paragraph %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit outline: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetOutline(ctx context.Context, outlineID string) (essay.Outline, error) {
	var (
		outline essay.Outline
		request []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, owner_id, thesis, retrieved_chunk_count, request, created_at
		FROM outlines WHERE id = $1
	`, outlineID).Scan(&outline.ID, &outline.SessionID, &outline.OwnerID, &outline.Thesis, &outline.RetrievedChunkCount, &request, &outline.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return essay.Outline{}, outlineNotFound(outlineID)
	}
	if err != nil {
		return essay.Outline{}, fmt.Errorf("get outline: %w", err)
	}
	if err := json.Unmarshal(request, &outline.Request); err != nil {
		return essay.Outline{}, fmt.Errorf("decode request: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT body FROM outline_paragraphs WHERE outline_id = $1 ORDER BY idx`, outlineID)
	if err != nil {
		return essay.Outline{}, fmt.Errorf("list paragraphs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return essay.Outline{}, fmt.Errorf("scan paragraph: %w", err)
		}
		var p essay.Paragraph
		if err := json.Unmarshal(body, &p); err != nil {
			return essay.Outline{}, fmt.Errorf("decode paragraph: %w", err)
		}
		outline.Paragraphs = append(outline.Paragraphs, p)
	}
	if err := rows.Err(); err != nil {
		return essay.Outline{}, fmt.Errorf("iterate paragraphs: %w", err)
	}
	return outline, nil
}

// BeginExpansion locks the paragraph row so two callers can never both move
// it to expanding.
func (s *PostgresStore) BeginExpansion(ctx context.Context, outlineID string, index int, now, staleBefore time.Time) (essay.Paragraph, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return essay.Paragraph{}, fmt.Errorf("begin expansion tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		body      []byte
		state     string
		updatedAt time.Time
	)
	err = tx.QueryRowContext(ctx, `
		SELECT body, state, updated_at FROM outline_paragraphs
		WHERE outline_id = $1 AND idx = $2
		FOR UPDATE
	`, outlineID, index).Scan(&body, &state, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return essay.Paragraph{}, s.missing(ctx, outlineID, index)
	}
	if err != nil {
		return essay.Paragraph{}, fmt.Errorf("lock paragraph: %w", err)
	}
	if essay.ExpansionState(state) == essay.StateExpanding && updatedAt.After(staleBefore) {
		return essay.Paragraph{}, essay.ErrExpansionInProgress
	}
	var prior essay.Paragraph
	if err := json.Unmarshal(body, &prior); err != nil {
		return essay.Paragraph{}, fmt.Errorf("decode paragraph: %w", err)
	}

	marked := prior
	marked.ExpansionState = essay.StateExpanding
	marked.UpdatedAt = now
	markedBody, err := json.Marshal(marked)
	if err != nil {
		return essay.Paragraph{}, fmt.Errorf("encode paragraph: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE outline_paragraphs SET state = $3, body = $4, updated_at = $5
		WHERE outline_id = $1 AND idx = $2
	`, outlineID, index, string(essay.StateExpanding), markedBody, now); err != nil {
		return essay.Paragraph{}, fmt.Errorf("mark expanding: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return essay.Paragraph{}, fmt.Errorf("commit expansion: %w", err)
	}
	return prior, nil
}

// SettleExpansion only writes while the row still carries the Expanding mark
// stamped at claimedAt.
func (s *PostgresStore) SettleExpansion(ctx context.Context, outlineID string, index int, claimedAt time.Time, paragraph essay.Paragraph) error {
	body, err := json.Marshal(paragraph)
	if err != nil {
		return fmt.Errorf("encode paragraph: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE outline_paragraphs SET state = $3, body = $4, updated_at = $5
		WHERE outline_id = $1 AND idx = $2 AND state = $6 AND updated_at = $7
	`, outlineID, index, string(paragraph.ExpansionState), body, paragraph.UpdatedAt, string(essay.StateExpanding), claimedAt)
	if err != nil {
		return fmt.Errorf("update paragraph: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if err := s.paragraphExists(ctx, outlineID, index); err != nil {
		return err
	}
	return essay.ErrExpansionSuperseded
}

func (s *PostgresStore) SetEdit(ctx context.Context, outlineID string, index int, text string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO paragraph_edits (outline_id, idx, body)
		VALUES ($1, $2, $3)
		ON CONFLICT (outline_id, idx) DO UPDATE SET body = EXCLUDED.body, updated_at = NOW()
	`, outlineID, index, text)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return s.missing(ctx, outlineID, index)
		}
		return fmt.Errorf("save edit: %w", err)
	}
	return nil
}

func (s *PostgresStore) ClearEdit(ctx context.Context, outlineID string, index int) error {
	if err := s.paragraphExists(ctx, outlineID, index); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM paragraph_edits WHERE outline_id = $1 AND idx = $2`, outlineID, index); err != nil {
		return fmt.Errorf("clear edit: %w", err)
	}
	return nil
}

func (s *PostgresStore) Edits(ctx context.Context, outlineID string) (map[int]string, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM outlines WHERE id = $1)`, outlineID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check outline: %w", err)
	}
	if !exists {
		return nil, outlineNotFound(outlineID)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT idx, body FROM paragraph_edits WHERE outline_id = $1`, outlineID)
	if err != nil {
		return nil, fmt.Errorf("list edits: %w", err)
	}
	defer rows.Close()
	edits := make(map[int]string)
	for rows.Next() {
		var (
			idx  int
			body string
		)
		if err := rows.Scan(&idx, &body); err != nil {
			return nil, fmt.Errorf("scan edit: %w", err)
		}
		edits[idx] = body
	}
	return edits, rows.Err()
}

func (s *PostgresStore) paragraphExists(ctx context.Context, outlineID string, index int) error {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM outline_paragraphs WHERE outline_id = $1 AND idx = $2)`, outlineID, index).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check paragraph: %w", err)
	}
	if !exists {
		return s.missing(ctx, outlineID, index)
	}
	return nil
}

// missing tells an unknown outline apart from an out-of-range index.
func (s *PostgresStore) missing(ctx context.Context, outlineID string, index int) error {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM outlines WHERE id = $1)`, outlineID).Scan(&exists); err != nil {
		return fmt.Errorf("check outline: %w", err)
	}
	if !exists {
		return outlineNotFound(outlineID)
	}
	return paragraphNotFound(outlineID, index)
}
