package data

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dianxiaozhu/gridguard/internal/biz/domain"
)

func TestNlpRepo_PendingThenSuccess(t *testing.T) {
	ctx := context.Background()
	r, err := NewNlpRepo(newTestDB(t))
	require.NoError(t, err)

	missing, err := r.Latest(ctx, "om_1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, r.Save(ctx, &domain.NlpResult{MessageID: "om_1", Status: domain.NlpPending}))
	got, err := r.Latest(ctx, "om_1")
	require.NoError(t, err)
	assert.Equal(t, domain.NlpPending, got.Status)

	require.NoError(t, r.Save(ctx, &domain.NlpResult{MessageID: "om_1", Status: domain.NlpSuccess, Category: "投诉建议", Confidence: 0.9}))
	got, err = r.Latest(ctx, "om_1")
	require.NoError(t, err)
	assert.Equal(t, domain.NlpSuccess, got.Status)
	assert.Equal(t, "投诉建议", got.Category)
	assert.InDelta(t, 0.9, got.Confidence, 1e-9)
}

func TestNlpRepo_SuccessIsNotOverwrittenByFailure(t *testing.T) {
	ctx := context.Background()
	r, err := NewNlpRepo(newTestDB(t))
	require.NoError(t, err)

	require.NoError(t, r.Save(ctx, &domain.NlpResult{MessageID: "om_2", Status: domain.NlpSuccess, Category: "故障报修", Confidence: 0.8}))
	require.NoError(t, r.Save(ctx, &domain.NlpResult{MessageID: "om_2", Status: domain.NlpFailed}))

	got, err := r.Latest(ctx, "om_2")
	require.NoError(t, err)
	assert.Equal(t, domain.NlpSuccess, got.Status)
	assert.Equal(t, "故障报修", got.Category)

	// A later success replaces the earlier one
	require.NoError(t, r.Save(ctx, &domain.NlpResult{MessageID: "om_2", Status: domain.NlpSuccess, Category: "电费查询", Confidence: 0.7}))
	got, err = r.Latest(ctx, "om_2")
	require.NoError(t, err)
	assert.Equal(t, "电费查询", got.Category)
}
