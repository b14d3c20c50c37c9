package quotation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"quoteflow/pagination"
)

var (
	ErrNotFound  = errors.New("quotation: not found")
	ErrDuplicate = errors.New("quotation: id already exists")
)

// Repository is the server-side store behind the REST API. The engine never
// talks to it directly; it backs the stub server and the in-process remote.
type Repository interface {
	List(ctx context.Context, filter Filter, cursor, pageSize int) ([]Quotation, int, error)
	Get(ctx context.Context, id string) (Quotation, error)
	Patch(ctx context.Context, id string, patch Patch) (Quotation, error)
	Create(ctx context.Context, q Quotation) (Quotation, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const schemaSQL = `
	CREATE TABLE IF NOT EXISTS quotations (
		id           TEXT PRIMARY KEY,
		seq          BIGSERIAL,
		client       TEXT NOT NULL,
		amount       NUMERIC NOT NULL CHECK (amount >= 0),
		status       TEXT NOT NULL CHECK (status IN ('Pending', 'Approved', 'Rejected')),
		last_updated TIMESTAMPTZ NOT NULL,
		description  TEXT NOT NULL DEFAULT '',
		comments     JSONB NOT NULL DEFAULT '[]'::jsonb,
		history      JSONB NOT NULL DEFAULT '[]'::jsonb
	)
`

const selectColumns = `id, client, amount::text, status, last_updated, description, comments, history`

func (r *PGRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("quotation: create schema: %w", err)
	}
	return nil
}

func (r *PGRepository) Create(ctx context.Context, q Quotation) (Quotation, error) {
	if q.Status == "" {
		q.Status = StatusPending
	}
	comments, history, err := encodeThreads(q)
	if err != nil {
		return Quotation{}, err
	}

	const insertSQL = `
		INSERT INTO quotations (id, client, amount, status, last_updated, description, comments, history)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7::jsonb, $8::jsonb)
		RETURNING ` + selectColumns

	created, err := scanQuotation(r.pool.QueryRow(ctx, insertSQL,
		q.ID, q.Client, q.Amount.String(), q.Status, q.LastUpdated.UTC(), q.Description, comments, history))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Quotation{}, ErrDuplicate
		}
		return Quotation{}, fmt.Errorf("quotation: create: %w", err)
	}
	return created, nil
}

func (r *PGRepository) List(ctx context.Context, filter Filter, cursor, pageSize int) ([]Quotation, int, error) {
	cursor, pageSize = pagination.Normalize(cursor, pageSize, pagination.DefaultPageSize, pagination.MaxPageSize)
	filter = filter.Normalized()

	where := []string{"1=1"}
	args := []any{}

	if filter.Status != "" {
		where = append(where, fmt.Sprintf("status=$%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.Query != "" {
		n := len(args) + 1
		where = append(where, fmt.Sprintf("(id ILIKE $%d OR client ILIKE $%d OR description ILIKE $%d)", n, n, n))
		args = append(args, "%"+likeEscaper.Replace(filter.Query)+"%")
	}
	whereClause := " WHERE " + strings.Join(where, " AND ")

	offset, limit := pagination.Window(cursor, pageSize)
	query := fmt.Sprintf(`SELECT %s FROM quotations%s ORDER BY seq ASC LIMIT %d OFFSET %d`, selectColumns, whereClause, limit, offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("quotation: query list: %w", err)
	}
	defer rows.Close()

	list := []Quotation{}
	for rows.Next() {
		q, err := scanQuotation(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, q)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("quotation: iterate list: %w", err)
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM quotations"+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("quotation: count list: %w", err)
	}

	return list, total, nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (Quotation, error) {
	q, err := scanQuotation(r.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM quotations WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Quotation{}, ErrNotFound
		}
		return Quotation{}, fmt.Errorf("quotation: get %s: %w", id, err)
	}
	return q, nil
}

// Patch merges the patch into the locked row and writes the result back in one
// transaction.
func (r *PGRepository) Patch(ctx context.Context, id string, patch Patch) (Quotation, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Quotation{}, fmt.Errorf("quotation: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := scanQuotation(tx.QueryRow(ctx, `SELECT `+selectColumns+` FROM quotations WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Quotation{}, ErrNotFound
		}
		return Quotation{}, fmt.Errorf("quotation: lock %s: %w", id, err)
	}

	merged := patch.Apply(current)
	comments, history, err := encodeThreads(merged)
	if err != nil {
		return Quotation{}, err
	}

	const updateSQL = `
		UPDATE quotations
		SET client=$2, amount=$3::numeric, status=$4, last_updated=$5, description=$6,
		    comments=$7::jsonb, history=$8::jsonb
		WHERE id=$1
		RETURNING ` + selectColumns

	updated, err := scanQuotation(tx.QueryRow(ctx, updateSQL,
		id, merged.Client, merged.Amount.String(), merged.Status, merged.LastUpdated.UTC(), merged.Description, comments, history))
	if err != nil {
		return Quotation{}, fmt.Errorf("quotation: update %s: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Quotation{}, fmt.Errorf("quotation: commit patch: %w", err)
	}
	return updated, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func encodeThreads(q Quotation) (string, string, error) {
	comments := q.Comments
	if comments == nil {
		comments = []Comment{}
	}
	history := q.History
	if history == nil {
		history = []HistoryEntry{}
	}
	c, err := json.Marshal(comments)
	if err != nil {
		return "", "", fmt.Errorf("quotation: encode comments: %w", err)
	}
	h, err := json.Marshal(history)
	if err != nil {
		return "", "", fmt.Errorf("quotation: encode history: %w", err)
	}
	return string(c), string(h), nil
}

func scanQuotation(row pgx.Row) (Quotation, error) {
	var (
		q           Quotation
		amount      string
		lastUpdated time.Time
		comments    []byte
		history     []byte
	)
	if err := row.Scan(&q.ID, &q.Client, &amount, &q.Status, &lastUpdated, &q.Description, &comments, &history); err != nil {
		return Quotation{}, err
	}

	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Quotation{}, fmt.Errorf("quotation: decode amount %q: %w", amount, err)
	}
	q.Amount = d
	q.LastUpdated = lastUpdated.UTC()
	if err := json.Unmarshal(comments, &q.Comments); err != nil {
		return Quotation{}, fmt.Errorf("quotation: decode comments: %w", err)
	}
	if err := json.Unmarshal(history, &q.History); err != nil {
		return Quotation{}, fmt.Errorf("quotation: decode history: %w", err)
	}
	return q, nil
}
