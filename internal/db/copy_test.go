package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var runColumns = []string{"session_id", "stage", "status"}

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.TODO(), nil, "validator_runs", runColumns, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"validator_runs"}, runColumns).WillReturnResult(2)

	rows := [][]any{{"s1", "ExtractorAgent", "queued"}, {"s1", "ResearchAgent", "queued"}}
	n, err := CopyFrom(context.Background(), mock, "validator_runs", runColumns, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_ShortWrite(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"validator_runs"}, runColumns).WillReturnResult(1)

	rows := [][]any{{"s1", "ExtractorAgent", "queued"}, {"s1", "ResearchAgent", "queued"}}
	_, err = CopyFrom(context.Background(), mock, "validator_runs", runColumns, rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wrote 1 of 2")
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"validator_runs"}, runColumns).WillReturnError(fmt.Errorf("copy failed"))

	_, err = CopyFrom(context.Background(), mock, "validator_runs", runColumns, [][]any{{"s1", "ExtractorAgent", "queued"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO validator_runs")
	assert.NoError(t, mock.ExpectationsWereMet())
}
