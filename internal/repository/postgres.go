package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/cloo-solutions/resolvekb/internal/domain"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores the knowledge base relationally, one row per
// incident with a pgvector embedding. Save replaces the whole set in a
// single transaction.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Load(ctx context.Context) (*domain.KnowledgeBase, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	kb, err := loadKnowledgeBase(ctx, tx)
	if err != nil {
		return nil, err
	}
	return kb, tx.Commit(ctx)
}

func loadKnowledgeBase(ctx context.Context, db dbtx) (*domain.KnowledgeBase, error) {
	var version int64
	var lastUpdated *time.Time
	err := db.QueryRow(ctx, `SELECT version, last_updated FROM kb_meta WHERE id = 1`).Scan(&version, &lastUpdated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read knowledge base metadata: %w", err)
	}

	kb := &domain.KnowledgeBase{Version: version, Entries: []*domain.Incident{}}
	if lastUpdated != nil {
		kb.LastUpdated = lastUpdated.UTC()
	}

	rows, err := db.Query(ctx,
		`SELECT number, short_description, description, category, priority, resolution_notes,
		        embedding, sys_created_on, resolved_at, sys_updated_on, source
		 FROM kb_incidents ORDER BY ordinal`)
	if err != nil {
		return nil, fmt.Errorf("failed to read incidents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var inc domain.Incident
		var category, priority, source string
		var embedding pgvector.Vector
		var created, resolved, updated *time.Time
		if err := rows.Scan(&inc.ID, &inc.ShortDescription, &inc.Description, &category, &priority,
			&inc.ResolutionNotes, &embedding, &created, &resolved, &updated, &source); err != nil {
			return nil, fmt.Errorf("failed to scan incident: %w", err)
		}
		inc.Category = domain.NormalizeCategory(category)
		inc.Priority = domain.Priority(priority)
		inc.Embedding = embedding.Slice()
		inc.CreatedAt = timeOrZero(created)
		inc.ResolvedAt = timeOrZero(resolved)
		inc.UpdatedAt = timeOrZero(updated)
		inc.Source = domain.IncidentSource(source)
		kb.Entries = append(kb.Entries, &inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read incidents: %w", err)
	}

	if err := domain.ValidateKnowledgeBase(kb); err != nil {
		return nil, &CorruptError{Source: "postgres:kb_incidents", Err: err}
	}
	return kb, nil
}

func (r *PostgresRepository) Save(ctx context.Context, kb *domain.KnowledgeBase) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := saveKnowledgeBase(ctx, tx, kb); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit knowledge base: %w", err)
	}
	return nil
}

func saveKnowledgeBase(ctx context.Context, tx pgx.Tx, kb *domain.KnowledgeBase) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO kb_meta (id, version, last_updated) VALUES (1, $1, $2)
		 ON CONFLICT (id) DO UPDATE SET version = EXCLUDED.version, last_updated = EXCLUDED.last_updated`,
		kb.Version, nullableTime(kb.LastUpdated),
	)
	if err != nil {
		return fmt.Errorf("failed to write knowledge base metadata: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM kb_incidents`); err != nil {
		return fmt.Errorf("failed to clear incidents: %w", err)
	}

	batch := &pgx.Batch{}
	for i, e := range kb.Entries {
		batch.Queue(
			`INSERT INTO kb_incidents
				(number, ordinal, short_description, description, category, priority, resolution_notes,
				 embedding, sys_created_on, resolved_at, sys_updated_on, source)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			e.ID,
			i,
			e.ShortDescription,
			e.Description,
			string(e.Category),
			string(e.Priority),
			e.ResolutionNotes,
			pgvector.NewVector(e.Embedding),
			nullableTime(e.CreatedAt),
			nullableTime(e.ResolvedAt),
			nullableTime(e.UpdatedAt),
			string(e.Source),
		)
	}
	if batch.Len() == 0 {
		return nil
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to write incidents: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}
