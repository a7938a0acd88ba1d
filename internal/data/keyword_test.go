package data

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dianxiaozhu/gridguard/internal/biz/domain"
)

func saveKeyword(t *testing.T, r interface {
	Save(context.Context, *domain.KeywordConfig) (int64, error)
}, keyword, scope string, threshold int) int64 {
	t.Helper()
	s, err := domain.ParseKeywordScope(scope)
	require.NoError(t, err)
	id, err := r.Save(context.Background(), &domain.KeywordConfig{
		Keyword:          keyword,
		Scope:            s,
		Active:           true,
		Weight:           1,
		TriggerThreshold: threshold,
	})
	require.NoError(t, err)
	return id
}

func TestKeywordRepo_ListActiveByScope(t *testing.T) {
	ctx := context.Background()
	r, err := NewKeywordRepo(newTestDB(t))
	require.NoError(t, err)

	saveKeyword(t, r, "投诉", "global", 0)
	saveKeyword(t, r, "停电", "local:A1", 0)
	saveKeyword(t, r, "跳闸", "local:B2", 0)
	saveKeyword(t, r, "催缴", "client:server", 0)

	got, err := r.ListActive(ctx, []domain.KeywordScope{
		domain.GlobalScope(),
		{Kind: domain.ScopeLocal, Value: "A1"},
		{Kind: domain.ScopeClient, Value: "server"},
	})
	require.NoError(t, err)

	var words []string
	for _, k := range got {
		words = append(words, k.Keyword)
	}
	assert.Equal(t, []string{"投诉", "停电", "催缴"}, words)
	assert.Equal(t, domain.ScopeLocal, got[1].Scope.Kind)
	assert.Equal(t, "A1", got[1].Scope.Value)
}

func TestKeywordRepo_IncrementHitCount(t *testing.T) {
	ctx := context.Background()
	r, err := NewKeywordRepo(newTestDB(t))
	require.NoError(t, err)

	id := saveKeyword(t, r, "投诉", "global", 0)
	for want := 1; want <= 3; want++ {
		got, err := r.IncrementHitCount(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err = r.IncrementHitCount(ctx, id+100)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestKeywordRepo_ListReachedThreshold(t *testing.T) {
	ctx := context.Background()
	r, err := NewKeywordRepo(newTestDB(t))
	require.NoError(t, err)

	hot := saveKeyword(t, r, "欠费", "client:client", 2)
	defaulted := saveKeyword(t, r, "缴费", "client:client", 0)
	cold := saveKeyword(t, r, "账单", "client:client", 5)
	other := saveKeyword(t, r, "报修", "client:server", 1)

	for _, id := range []int64{hot, hot, defaulted, defaulted, defaulted, cold, other} {
		_, err := r.IncrementHitCount(ctx, id)
		require.NoError(t, err)
	}

	got, err := r.ListReachedThreshold(ctx, domain.SourceClient)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "缴费", got[0].Keyword)
	assert.Equal(t, "欠费", got[1].Keyword)
}

func TestKeywordRepo_SaveUpsertKeepsHitCount(t *testing.T) {
	ctx := context.Background()
	r, err := NewKeywordRepo(newTestDB(t))
	require.NoError(t, err)

	id := saveKeyword(t, r, "投诉", "global", 3)
	_, err = r.IncrementHitCount(ctx, id)
	require.NoError(t, err)

	again := saveKeyword(t, r, "投诉", "global", 4)
	assert.Equal(t, id, again)

	got, err := r.ListActive(ctx, []domain.KeywordScope{domain.GlobalScope()})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].HitCount)
	assert.Equal(t, 4, got[0].TriggerThreshold)
}

func TestKeywordRepo_SaveRequiresKeyword(t *testing.T) {
	r, err := NewKeywordRepo(newTestDB(t))
	require.NoError(t, err)

	_, err = r.Save(context.Background(), &domain.KeywordConfig{Keyword: "  "})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}
