package store

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moderation-queue/internal/models"
)

func TestMapPgErr(t *testing.T) {
	assert.NoError(t, mapPgErr(nil))
	assert.ErrorIs(t, mapPgErr(pgx.ErrNoRows), ErrNotFound)
	assert.ErrorIs(t, mapPgErr(fmt.Errorf("scan: %w", pgx.ErrNoRows)), ErrNotFound)

	dup := &pgconn.PgError{Code: "23505", ConstraintName: "videos_video_id_key"}
	err := mapPgErr(dup)
	assert.ErrorIs(t, err, ErrDuplicateKey)
	assert.Contains(t, err.Error(), "videos_video_id_key")

	fk := &pgconn.PgError{Code: "23503"}
	assert.ErrorIs(t, mapPgErr(fk), ErrNotFound)

	other := errors.New("conn closed")
	assert.Equal(t, other, mapPgErr(other))
}

type stubRow struct {
	values []any
}

func (r stubRow) Scan(dest ...any) error {
	for i, d := range dest {
		switch p := d.(type) {
		case *int64:
			*p = r.values[i].(int64)
		case *models.VideoStatus:
			*p = r.values[i].(models.VideoStatus)
		case *pgtype.Text:
			*p = r.values[i].(pgtype.Text)
		case *time.Time:
			*p = r.values[i].(time.Time)
		default:
			return fmt.Errorf("unexpected scan target %T", d)
		}
	}
	return nil
}

func TestScanVideoRejectsUnknownStatus(t *testing.T) {
	now := time.Now()
	row := func(status models.VideoStatus, assigned pgtype.Text) stubRow {
		return stubRow{values: []any{int64(1), int64(42), status, assigned, now, now}}
	}

	v, err := scanVideo(row(models.StatusPending, pgtype.Text{String: "alice", Valid: true}))
	require.NoError(t, err)
	require.NotNil(t, v.AssignedTo)
	assert.Equal(t, "alice", *v.AssignedTo)

	v, err = scanVideo(row(models.StatusSpam, pgtype.Text{}))
	require.NoError(t, err)
	assert.Nil(t, v.AssignedTo)

	_, err = scanVideo(row(models.VideoStatus("escalated"), pgtype.Text{}))
	require.ErrorIs(t, err, ErrUnknownStatus)
	assert.Contains(t, err.Error(), "escalated")
}

func TestCheckStatus(t *testing.T) {
	for _, s := range []models.VideoStatus{models.StatusPending, models.StatusSpam, models.StatusNotSpam} {
		assert.NoError(t, checkStatus(s))
	}
	assert.ErrorIs(t, checkStatus(""), ErrUnknownStatus)
	assert.ErrorIs(t, checkStatus("not_spam"), ErrUnknownStatus)
}
