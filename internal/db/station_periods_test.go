package db

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	jan2023 = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	jul2023 = time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC)
	jan2024 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

func TestSaveAndFindStationPeriod(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	want := testStationPeriod("arm", jan2023, timePtr(jul2023))
	require.NoError(t, db.SaveStationPeriod(ctx, want))
	require.NotZero(t, want.ID)

	got, err := db.FindStationPeriod(ctx, "arm", jan2023.Add(48*time.Hour))
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FindStationPeriod mismatch (-want +got):\n%s", diff)
	}

	// valid_to is exclusive
	_, err = db.FindStationPeriod(ctx, "arm", jul2023)
	assert.ErrorIs(t, err, ErrNoStationPeriod)

	_, err = db.FindStationPeriod(ctx, "arm", jan2023.Add(-time.Second))
	assert.ErrorIs(t, err, ErrNoStationPeriod)

	_, err = db.FindStationPeriod(ctx, "other", jan2023.Add(time.Hour))
	assert.ErrorIs(t, err, ErrNoStationPeriod)
}

func TestFindStationPeriod_OpenEnded(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveStationPeriod(ctx, testStationPeriod("arm", jan2023, timePtr(jul2023))))
	open := testStationPeriod("arm", jul2023, nil)
	open.SCCCode = "ar2"
	require.NoError(t, db.SaveStationPeriod(ctx, open))

	got, err := db.FindStationPeriod(ctx, "arm", jan2024.AddDate(5, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, "ar2", got.SCCCode)
	assert.Nil(t, got.ValidTo)
	assert.True(t, got.Covers(jan2024))
	assert.False(t, got.Covers(jan2023))
}

func TestSaveStationPeriod_Overlap(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveStationPeriod(ctx, testStationPeriod("arm", jan2023, timePtr(jan2024))))

	err := db.SaveStationPeriod(ctx, testStationPeriod("arm", jul2023, nil))
	assert.ErrorIs(t, err, ErrPeriodOverlap)

	// adjacent periods do not overlap
	assert.NoError(t, db.SaveStationPeriod(ctx, testStationPeriod("arm", jan2024, nil)))

	// other stations are independent
	assert.NoError(t, db.SaveStationPeriod(ctx, testStationPeriod("lim", jul2023, nil)))
}

func TestSaveStationPeriod_ReplacesSameStart(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	first := testStationPeriod("arm", jan2023, nil)
	require.NoError(t, db.SaveStationPeriod(ctx, first))

	second := testStationPeriod("arm", jan2023, timePtr(jan2024))
	second.ChannelIDs = []int{1, 2}
	require.NoError(t, db.SaveStationPeriod(ctx, second))
	assert.Equal(t, first.ID, second.ID)

	periods, err := db.ListStationPeriods(ctx, "arm")
	require.NoError(t, err)
	require.Len(t, periods, 1)
	assert.Equal(t, []int{1, 2}, periods[0].ChannelIDs)
	require.NotNil(t, periods[0].ValidTo)
	assert.Equal(t, jan2024, *periods[0].ValidTo)
}

func TestSaveStationPeriod_Validation(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(p *StationPeriod)
	}{
		{"missing station", func(p *StationPeriod) { p.StationID = " " }},
		{"missing start", func(p *StationPeriod) { p.ValidFrom = time.Time{} }},
		{"end before start", func(p *StationPeriod) { p.ValidTo = timePtr(jan2023.Add(-time.Hour)) }},
		{"latitude", func(p *StationPeriod) { p.Latitude = 91 }},
		{"longitude", func(p *StationPeriod) { p.Longitude = -181 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testStationPeriod("arm", jan2023, nil)
			tt.mutate(p)
			assert.Error(t, db.SaveStationPeriod(ctx, p))
		})
	}

	periods, err := db.ListStationPeriods(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, periods)
}

func TestListAndDeleteStationPeriods(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveStationPeriod(ctx, testStationPeriod("lim", jan2023, nil)))
	require.NoError(t, db.SaveStationPeriod(ctx, testStationPeriod("arm", jul2023, nil)))
	require.NoError(t, db.SaveStationPeriod(ctx, testStationPeriod("arm", jan2023, timePtr(jul2023))))

	all, err := db.ListStationPeriods(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "arm", all[0].StationID)
	assert.Equal(t, jan2023, all[0].ValidFrom)
	assert.Equal(t, "lim", all[2].StationID)

	n, err := db.DeleteStationPeriods(ctx, "arm")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	all, err = db.ListStationPeriods(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
