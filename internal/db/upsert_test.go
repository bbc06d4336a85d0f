package db

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Pool = (pgxmock.PgxPoolIface)(nil)

func dossierConfig() UpsertConfig {
	return UpsertConfig{
		Table:        "prospect_dossiers",
		Columns:      []string{"session_id", "prospect_key", "name"},
		ConflictKeys: []string{"session_id", "prospect_key"},
		Touch:        []string{"updated_at"},
	}
}

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.Background(), nil, dossierConfig(), nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_Validation(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{Table: "t", ConflictKeys: []string{"id"}}, [][]any{{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")

	_, err = BulkUpsert(context.Background(), nil, UpsertConfig{Table: "t", Columns: []string{"id"}}, [][]any{{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cfg := dossierConfig()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TEMP TABLE "_tmp_upsert_prospect_dossiers" (LIKE "prospect_dossiers" INCLUDING DEFAULTS) ON COMMIT DROP`)).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom([]string{"_tmp_upsert_prospect_dossiers"}, cfg.Columns).WillReturnResult(2)
	mock.ExpectExec(regexp.QuoteMeta(MergeSQL(cfg, "_tmp_upsert_prospect_dossiers"))).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := BulkUpsert(context.Background(), mock, cfg, [][]any{
		{"s1", "a_texas", "A"},
		{"s1", "b_texas", "B"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_CopyFailureRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cfg := dossierConfig()
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom([]string{"_tmp_upsert_prospect_dossiers"}, cfg.Columns).WillReturnError(errors.New("copy failed"))
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, cfg, [][]any{{"s1", "a_texas", "A"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "copy into temp table")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeSQL(t *testing.T) {
	got := MergeSQL(dossierConfig(), "_tmp")
	assert.Equal(t,
		`INSERT INTO "prospect_dossiers" ("session_id", "prospect_key", "name", "updated_at") `+
			`SELECT "session_id", "prospect_key", "name", now() FROM "_tmp" `+
			`ON CONFLICT ("session_id", "prospect_key") DO UPDATE SET "name" = EXCLUDED."name", "updated_at" = now()`,
		got)

	onlyKeys := MergeSQL(UpsertConfig{Table: "app.t", Columns: []string{"id"}, ConflictKeys: []string{"id"}}, "_tmp")
	assert.Equal(t, `INSERT INTO "app"."t" ("id") SELECT "id" FROM "_tmp" ON CONFLICT ("id") DO NOTHING`, onlyKeys)
}

func TestSanitizeTable(t *testing.T) {
	assert.Equal(t, `"simple"`, sanitizeTable("simple"))
	assert.Equal(t, `"app"."prospect_dossiers"`, sanitizeTable("app.prospect_dossiers"))
}
