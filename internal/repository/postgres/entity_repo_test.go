package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/gofulcrum/internal/errs"
	"github.com/and161185/gofulcrum/internal/model"
	"github.com/and161185/gofulcrum/internal/repository"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

var (
	formCols   = []string{"id", "created_at", "updated_at", "fetched_at", "removed", "payload", "attrs"}
	recordCols = append(append([]string{}, formCols...), "form_id", "project_id")
	ts         = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

func strp(s string) *string { return &s }

func formRow(id string, removed bool) *pgxmock.Rows {
	fetched := ts
	return pgxmock.NewRows(formCols).
		AddRow(id, ts, ts, &fetched, removed, []byte(`{"id":"`+id+`"}`), []byte(`{"name":"Trees"}`))
}

func recordRow(id, formID string, removed bool) *pgxmock.Rows {
	fetched := ts
	return pgxmock.NewRows(recordCols).
		AddRow(id, ts, ts, &fetched, removed, []byte(`{"id":"`+id+`"}`), []byte(`{"status":"open"}`), strp(formID), (*string)(nil))
}

func idRows(ids ...string) *pgxmock.Rows {
	rows := pgxmock.NewRows([]string{"id"})
	for _, id := range ids {
		rows.AddRow(id)
	}
	return rows
}

func TestEntityRepo_Get_OK(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewEntityRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM fulcrum_record WHERE id=$1 AND NOT removed`)).
		WithArgs("r1").
		WillReturnRows(recordRow("r1", "f1", false))

	e, err := r.Get(context.Background(), model.KindRecord, "r1", false)
	require.NoError(t, err)
	require.Equal(t, "r1", e.ID)
	require.Equal(t, ts, e.FetchedAt)
	require.Equal(t, "f1", e.Str("form_id"))
	require.Equal(t, "open", e.Str("status"))
	_, hasProject := e.Attrs["project_id"]
	require.False(t, hasProject)
	require.Equal(t, "r1", e.Payload["id"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEntityRepo_Get_NotFound(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewEntityRepo(db)

	mock.ExpectQuery(`FROM fulcrum_form WHERE id=\$1`).
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	_, err := r.Get(context.Background(), model.KindForm, "nope", true)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestEntityRepo_Upsert_SplitsParentColumns(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewEntityRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO fulcrum_record (id, created_at, updated_at, fetched_at, payload, attrs, form_id, project_id)`)).
		WithArgs("r1", pgxmock.AnyArg(), pgxmock.AnyArg(), []byte(`{"id":"r1"}`), []byte(`{"status":"open"}`), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(recordRow("r1", "f1", false))

	got, err := r.Upsert(context.Background(), &model.Entity{
		Kind:    model.KindRecord,
		ID:      "r1",
		Payload: map[string]any{"id": "r1"},
		Attrs:   map[string]any{"form_id": "f1", "status": "open"},
	})
	require.NoError(t, err)
	require.Equal(t, "f1", got.Str("form_id"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEntityRepo_Upsert_DoesNotTouchRemoved(t *testing.T) {
	sql := upsertSQL(model.KindForm, model.Schema{Table: "fulcrum_form"})
	require.NotContains(t, sql, "removed=")
	require.Contains(t, sql, "ON CONFLICT (id) DO UPDATE")
}

func TestEntityRepo_Upsert_EmptyID(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	_, err := NewEntityRepo(db).Upsert(context.Background(), &model.Entity{Kind: model.KindForm})
	require.ErrorIs(t, err, errs.ErrInvalidPayload)
}

func TestEntityRepo_Query_BuildsPredicates(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewEntityRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM fulcrum_record WHERE NOT removed AND form_id = $1 AND attrs->>'status' = $2 AND updated_at >= $3 ORDER BY updated_at ASC, id ASC LIMIT $4 OFFSET $5`)).
		WithArgs("f1", "open", ts, 10, 5).
		WillReturnRows(recordRow("r1", "f1", false))

	got, err := r.Query(context.Background(), model.KindRecord, model.Query{
		Predicates: []model.Predicate{
			model.Eq("form_id", "f1"),
			model.Eq("status", "open"),
			model.Since("updated_at", ts),
		},
		Limit:  10,
		Offset: 5,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEntityRepo_Query_UnknownColumn(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	_, err := NewEntityRepo(db).Query(context.Background(), model.KindForm, model.Query{
		Predicates: []model.Predicate{model.Eq("colour", "red")},
	})
	require.Error(t, err)
}

func TestEntityRepo_Count(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewEntityRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM fulcrum_form WHERE NOT removed`)).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))

	n, err := r.Count(context.Background(), model.KindForm, model.Query{})
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestEntityRepo_CascadeRemove_Record(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewEntityRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE fulcrum_record SET removed=$2, updated_at=now() WHERE id = ANY($1) RETURNING id`)).
		WithArgs([]string{"r1"}, true).
		WillReturnRows(idRows("r1"))
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE fulcrum_value SET removed=$2, updated_at=now() WHERE record_id = ANY($1)`)).
		WithArgs([]string{"r1"}, true).
		WillReturnRows(idRows("r1_fl1", "r1_fl2"))
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE fulcrum_media SET removed=$2, updated_at=now() WHERE record_id = ANY($1)`)).
		WithArgs([]string{"r1"}, true).
		WillReturnRows(idRows())
	mock.ExpectCommit()

	require.NoError(t, r.CascadeRemove(context.Background(), model.KindRecord, "r1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEntityRepo_CascadeRemove_NotFound(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewEntityRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE fulcrum_project`).
		WithArgs([]string{"p9"}, true).
		WillReturnRows(idRows())
	mock.ExpectRollback()

	err := r.CascadeRemove(context.Background(), model.KindProject, "p9")
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEntityRepo_CascadeRestore_BlockedByForm(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewEntityRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM fulcrum_record WHERE id=\$1`).
		WithArgs("r1").
		WillReturnRows(recordRow("r1", "f1", true))
	mock.ExpectQuery(`FROM fulcrum_form WHERE id=\$1`).
		WithArgs("f1").
		WillReturnRows(formRow("f1", true))
	mock.ExpectRollback()

	err := r.CascadeRestore(context.Background(), model.KindRecord, "r1")
	var are *errs.AncestorRemovedError
	require.True(t, errors.As(err, &are))
	require.Equal(t, "f1", are.AncestorID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEntityRepo_CascadeRestore_OK(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewEntityRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM fulcrum_form WHERE id=\$1`).
		WithArgs("f1").
		WillReturnRows(formRow("f1", true))
	mock.ExpectQuery(`UPDATE fulcrum_form`).
		WithArgs([]string{"f1"}, false).
		WillReturnRows(idRows("f1"))
	mock.ExpectQuery(`UPDATE fulcrum_field`).
		WithArgs([]string{"f1"}, false).
		WillReturnRows(idRows())
	mock.ExpectQuery(`UPDATE fulcrum_record`).
		WithArgs([]string{"f1"}, false).
		WillReturnRows(idRows())
	mock.ExpectQuery(`UPDATE fulcrum_media`).
		WithArgs([]string{"f1"}, false).
		WillReturnRows(idRows())
	mock.ExpectCommit()

	require.NoError(t, r.CascadeRestore(context.Background(), model.KindForm, "f1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEntityRepo_WithinTx_Rollback(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewEntityRepo(db)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO fulcrum_form`).
		WithArgs("f1", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(formRow("f1", false))
	mock.ExpectRollback()

	err := r.WithinTx(context.Background(), func(repo repository.EntityRepository) error {
		if _, err := repo.Upsert(context.Background(), &model.Entity{Kind: model.KindForm, ID: "f1"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}
