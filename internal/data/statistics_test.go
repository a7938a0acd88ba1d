package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dianxiaozhu/gridguard/internal/biz/domain"
)

func TestStatisticsRepo_SaveReplacesSameDay(t *testing.T) {
	ctx := context.Background()
	r, err := NewStatisticsRepo(newTestDB(t))
	require.NoError(t, err)

	require.NoError(t, r.Save(ctx, &domain.GroupDailyStatistics{ChatRoom: "oc_room", Date: "2026-10-18", MessageCount: 3}))
	require.NoError(t, r.Save(ctx, &domain.GroupDailyStatistics{ChatRoom: "oc_room", Date: "2026-10-18", MessageCount: 9, TakeoverCount: 1}))
	score := 4.5
	require.NoError(t, r.Save(ctx, &domain.GroupDailyStatistics{
		ChatRoom:          "oc_room",
		Date:              "2026-10-19",
		MessageCount:      2,
		AvgResponseTime:   1500 * time.Millisecond,
		SatisfactionScore: &score,
	}))

	got, err := r.ListByRoom(ctx, "oc_room", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "2026-10-19", got[0].Date)
	assert.Equal(t, 1500*time.Millisecond, got[0].AvgResponseTime)
	require.NotNil(t, got[0].SatisfactionScore)
	assert.InDelta(t, 4.5, *got[0].SatisfactionScore, 1e-9)

	assert.Equal(t, 9, got[1].MessageCount)
	assert.Equal(t, 1, got[1].TakeoverCount)
	assert.Nil(t, got[1].SatisfactionScore)
}

func TestStatisticsRepo_DeleteBefore(t *testing.T) {
	ctx := context.Background()
	r, err := NewStatisticsRepo(newTestDB(t))
	require.NoError(t, err)

	for _, date := range []string{"2026-07-01", "2026-10-01", "2026-10-19"} {
		require.NoError(t, r.Save(ctx, &domain.GroupDailyStatistics{ChatRoom: "oc_room", Date: date}))
	}

	n, err := r.DeleteBefore(ctx, time.Date(2026, 9, 1, 0, 0, 0, 0, time.Local))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
