package catalog

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	caterrs "github.com/livepeer/catalyst-audio/errors"
	"github.com/stretchr/testify/require"
)

var (
	trackQuery      = regexp.QuoteMeta("SELECT id, file_path, codec FROM tracks WHERE id = $1")
	preferenceQuery = regexp.QuoteMeta("SELECT streaming_quality FROM user_preferences WHERE user_id = $1")
)

func TestGetTrack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectQuery(trackQuery).WithArgs("track-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "file_path", "codec"}).AddRow("track-1", "/music/a.flac", "FLAC"))
	mock.ExpectQuery(trackQuery).WithArgs("track-2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "file_path", "codec"}).AddRow("track-2", "/music/b.mp3", nil))

	c := NewPostgresCatalog(db)
	track, err := c.GetTrack(context.Background(), "track-1")
	require.NoError(t, err)
	require.Equal(t, Track{ID: "track-1", FilePath: "/music/a.flac", Codec: "FLAC"}, track)

	track, err = c.GetTrack(context.Background(), "track-2")
	require.NoError(t, err)
	require.Equal(t, "", track.Codec)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTrackNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectQuery(trackQuery).WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "file_path", "codec"}))

	_, err = NewPostgresCatalog(db).GetTrack(context.Background(), "missing")
	require.True(t, caterrs.IsCode(err, caterrs.TrackNotFound))
}

func TestGetTrackDatabaseError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectQuery(trackQuery).WithArgs("track-1").WillReturnError(errors.New("connection reset"))

	_, err = NewPostgresCatalog(db).GetTrack(context.Background(), "track-1")
	require.ErrorContains(t, err, "connection reset")
	require.False(t, caterrs.IsCode(err, caterrs.TrackNotFound))
}

func TestDefaultQuality(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectQuery(preferenceQuery).WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"streaming_quality"}).AddRow("medium"))
	mock.ExpectQuery(preferenceQuery).WithArgs("user-2").
		WillReturnRows(sqlmock.NewRows([]string{"streaming_quality"}))

	c := NewPostgresCatalog(db)
	quality, err := c.DefaultQuality(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, "medium", quality)

	quality, err = c.DefaultQuality(context.Background(), "user-2")
	require.NoError(t, err)
	require.Equal(t, "", quality)
	require.NoError(t, mock.ExpectationsWereMet())
}
