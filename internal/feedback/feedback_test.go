package feedback

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"ragagent/internal/domain"
)

var fb = domain.Feedback{RunID: "run-1", Metric: "faithfulness", Score: 0.5, Source: "evaluator"}

func TestPostgresSink_Submit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO evaluation_feedback").
		WithArgs(sqlmock.AnyArg(), "run-1", "faithfulness", 0.5, "evaluator", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := NewPostgresSink(db, zap.NewNop())
	require.NoError(t, s.Submit(context.Background(), fb))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSink_SubmitError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO evaluation_feedback").WillReturnError(sql.ErrConnDone)

	err = NewPostgresSink(db, nil).Submit(context.Background(), fb)
	assert.ErrorIs(t, err, domain.ErrFeedback)
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSink_EnsureSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS evaluation_feedback").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, NewPostgresSink(db, nil).EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogSink_Submit(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	require.NoError(t, NewLogSink(zap.New(core)).Submit(context.Background(), fb))
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "feedback", entry.Message)
	assert.Equal(t, "run-1", entry.ContextMap()["run_id"])
	assert.Equal(t, 0.5, entry.ContextMap()["score"])
}

func TestNoneSink(t *testing.T) {
	assert.NoError(t, NoneSink{}.Submit(context.Background(), fb))
}
