package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/gofulcrum/internal/errs"
	"github.com/and161185/gofulcrum/internal/model"
	"github.com/and161185/gofulcrum/internal/repository"
)

// EntityRepo implements repository.Store using one table per entity kind.
type EntityRepo struct {
	db   *DB
	q    Querier
	inTx bool
}

var _ repository.Store = (*EntityRepo)(nil)

// NewEntityRepo constructs an entity repository over the pool.
func NewEntityRepo(db *DB) *EntityRepo { return &EntityRepo{db: db, q: db.Pool} }

const baseColumns = "id, created_at, updated_at, fetched_at, removed, payload, attrs"

func schemaFor(kind model.Kind) (model.Schema, error) {
	s, ok := model.SchemaOf(kind)
	if !ok {
		return model.Schema{}, fmt.Errorf("unknown kind %q", kind)
	}
	return s, nil
}

func selectColumns(kind model.Kind) string {
	cols := baseColumns
	for _, c := range model.ParentColumns(kind) {
		cols += ", " + c
	}
	return cols
}

// Get selects one row by id.
func (r *EntityRepo) Get(ctx context.Context, kind model.Kind, id string, includeRemoved bool) (*model.Entity, error) {
	s, err := schemaFor(kind)
	if err != nil {
		return nil, err
	}
	q := "SELECT " + selectColumns(kind) + " FROM " + s.Table + " WHERE id=$1"
	if !includeRemoved {
		q += " AND NOT removed"
	}
	e, err := scanEntity(kind, r.q.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	return e, err
}

// upsertSQL builds the insert-or-update statement for kind.
func upsertSQL(kind model.Kind, s model.Schema) string {
	parents := model.ParentColumns(kind)
	cols := []string{"id", "created_at", "updated_at", "fetched_at", "payload", "attrs"}
	vals := []string{"$1", "COALESCE($2::timestamptz, now())", "COALESCE($3::timestamptz, now())", "now()", "$4", "$5"}
	sets := []string{
		"created_at=COALESCE($2::timestamptz, " + s.Table + ".created_at)",
		"updated_at=EXCLUDED.updated_at",
		"fetched_at=EXCLUDED.fetched_at",
		"payload=EXCLUDED.payload",
		"attrs=EXCLUDED.attrs",
	}
	for i, c := range parents {
		cols = append(cols, c)
		vals = append(vals, fmt.Sprintf("$%d", 6+i))
		sets = append(sets, c+"=EXCLUDED."+c)
	}
	return "INSERT INTO " + s.Table + " (" + strings.Join(cols, ", ") + ") VALUES (" +
		strings.Join(vals, ", ") + ") ON CONFLICT (id) DO UPDATE SET " + strings.Join(sets, ", ") +
		" RETURNING " + selectColumns(kind)
}

// Upsert inserts the entity or updates the existing row; removed is preserved.
func (r *EntityRepo) Upsert(ctx context.Context, e *model.Entity) (*model.Entity, error) {
	if e == nil || e.ID == "" {
		return nil, fmt.Errorf("upsert: %w: empty id", errs.ErrInvalidPayload)
	}
	s, err := schemaFor(e.Kind)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("upsert %s %s: encode payload: %w", e.Kind, e.ID, err)
	}
	attrs := make(map[string]any, len(e.Attrs))
	for k, v := range e.Attrs {
		if !model.IsParentColumn(e.Kind, k) {
			attrs[k] = v
		}
	}
	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("upsert %s %s: encode attrs: %w", e.Kind, e.ID, err)
	}

	args := []any{e.ID, nullTime(e.CreatedAt), nullTime(e.UpdatedAt), payload, attrsJSON}
	for _, c := range model.ParentColumns(e.Kind) {
		args = append(args, nullString(e.Str(c)))
	}
	return scanEntity(e.Kind, r.q.QueryRow(ctx, upsertSQL(e.Kind, s), args...))
}

// Query lists rows matching q ordered by updated_at, id.
func (r *EntityRepo) Query(ctx context.Context, kind model.Kind, q model.Query) ([]*model.Entity, error) {
	s, err := schemaFor(kind)
	if err != nil {
		return nil, err
	}
	where, args, err := whereClause(kind, q)
	if err != nil {
		return nil, err
	}
	sql := "SELECT " + selectColumns(kind) + " FROM " + s.Table + where + " ORDER BY updated_at ASC, id ASC"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		sql += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Entity
	for rows.Next() {
		e, err := scanEntity(kind, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns the number of rows matching q, ignoring paging.
func (r *EntityRepo) Count(ctx context.Context, kind model.Kind, q model.Query) (int, error) {
	s, err := schemaFor(kind)
	if err != nil {
		return 0, err
	}
	where, args, err := whereClause(kind, q)
	if err != nil {
		return 0, err
	}
	var n int
	if err := r.q.QueryRow(ctx, "SELECT COUNT(*) FROM "+s.Table+where, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func whereClause(kind model.Kind, q model.Query) (string, []any, error) {
	s, _ := model.SchemaOf(kind)
	var (
		conds []string
		args  []any
	)
	if !q.IncludeRemoved {
		conds = append(conds, "NOT removed")
	}
	for _, p := range q.Predicates {
		switch p.Op {
		case model.OpEq, model.OpGte, model.OpLt:
		default:
			return "", nil, fmt.Errorf("unsupported op %q", p.Op)
		}
		var lhs string
		switch {
		case model.IsBaseColumn(p.Column) || model.IsParentColumn(kind, p.Column):
			lhs = p.Column
		case contains(s.Columns, p.Column):
			if p.Op != model.OpEq {
				return "", nil, fmt.Errorf("unsupported op %q on %s", p.Op, p.Column)
			}
			lhs = "attrs->>'" + p.Column + "'"
		default:
			return "", nil, fmt.Errorf("unknown column %q for %s", p.Column, kind)
		}
		v := p.Value
		if lhs != p.Column {
			v = fmt.Sprint(v)
		}
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("%s %s $%d", lhs, p.Op, len(args)))
	}
	if len(conds) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

// CascadeRemove marks the row and its transitive children removed.
func (r *EntityRepo) CascadeRemove(ctx context.Context, kind model.Kind, id string) error {
	return r.WithinTx(ctx, func(repo repository.EntityRepository) error {
		tx := repo.(*EntityRepo)
		n, err := tx.cascade(ctx, kind, "id", []string{id}, true)
		if err != nil {
			return err
		}
		if n == 0 {
			return errs.ErrNotFound
		}
		return nil
	})
}

// CascadeRestore checks guarding ancestors and clears removed on the row
// and its transitive children.
func (r *EntityRepo) CascadeRestore(ctx context.Context, kind model.Kind, id string) error {
	return r.WithinTx(ctx, func(repo repository.EntityRepository) error {
		tx := repo.(*EntityRepo)
		e, err := tx.Get(ctx, kind, id, true)
		if err != nil {
			return err
		}
		if err := repository.CheckAncestors(ctx, tx, e); err != nil {
			return err
		}
		_, err = tx.cascade(ctx, kind, "id", []string{id}, false)
		return err
	})
}

// cascade updates rows of kind whose column is in ids and recurses into children.
func (r *EntityRepo) cascade(ctx context.Context, kind model.Kind, column string, ids []string, removed bool) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	s, err := schemaFor(kind)
	if err != nil {
		return 0, err
	}
	sql := "UPDATE " + s.Table + " SET removed=$2, updated_at=now() WHERE " + column + " = ANY($1) RETURNING id"
	rows, err := r.q.Query(ctx, sql, ids, removed)
	if err != nil {
		return 0, err
	}
	var touched []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		touched = append(touched, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	for _, child := range model.Children(kind) {
		if _, err := r.cascade(ctx, child.Kind, child.Column, touched, removed); err != nil {
			return 0, err
		}
	}
	return len(touched), nil
}

// WithinTx runs fn inside a transaction; an error from fn rolls it back.
func (r *EntityRepo) WithinTx(ctx context.Context, fn func(repo repository.EntityRepository) error) (err error) {
	if r.inTx {
		return fn(r)
	}
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()
	return fn(&EntityRepo{db: r.db, q: tx, inTx: true})
}

// Ping checks the pool.
func (r *EntityRepo) Ping(ctx context.Context) error { return r.db.Pool.Ping(ctx) }

// Close closes the pool.
func (r *EntityRepo) Close() { r.db.Close() }

func scanEntity(kind model.Kind, row pgx.Row) (*model.Entity, error) {
	parents := model.ParentColumns(kind)
	var (
		e         = &model.Entity{Kind: kind}
		fetchedAt *time.Time
		payload   []byte
		attrs     []byte
		refs      = make([]*string, len(parents))
	)
	dest := []any{&e.ID, &e.CreatedAt, &e.UpdatedAt, &fetchedAt, &e.Removed, &payload, &attrs}
	for i := range refs {
		dest = append(dest, &refs[i])
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if fetchedAt != nil {
		e.FetchedAt = *fetchedAt
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return nil, fmt.Errorf("decode payload of %s %s: %w", kind, e.ID, err)
		}
	}
	e.Attrs = map[string]any{}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &e.Attrs); err != nil {
			return nil, fmt.Errorf("decode attrs of %s %s: %w", kind, e.ID, err)
		}
	}
	for i, c := range parents {
		if refs[i] != nil {
			e.Attrs[c] = *refs[i]
		}
	}
	return e, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
