package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stashsense/orchestrator/pkg/models"
)

func TestRecommenderRegistry_ForContext(t *testing.T) {
	reg := NewRecommenderRegistry()
	reg.Register(models.RecommenderDescriptor{
		ID:       "similar-by-tags",
		Contexts: []models.RecContext{models.RecContextSimilarScene},
	}, func(_ context.Context, q models.RecommendationQuery) (models.RecommendationResult, error) {
		return models.RecommendationResult{Scenes: []string{"s1"}, Total: 1}, nil
	})
	reg.Register(models.RecommenderDescriptor{
		ID:       "trending",
		Contexts: []models.RecContext{models.RecContextGlobalFeed},
	}, func(_ context.Context, q models.RecommendationQuery) (models.RecommendationResult, error) {
		return models.RecommendationResult{}, nil
	})

	similar := reg.ForContext(models.RecContextSimilarScene)
	require.Len(t, similar, 1)
	assert.Equal(t, "similar-by-tags", similar[0].ID)
}

func TestRecommenderRegistry_Query(t *testing.T) {
	reg := NewRecommenderRegistry()
	reg.Register(models.RecommenderDescriptor{ID: "trending", Contexts: []models.RecContext{models.RecContextGlobalFeed}},
		func(_ context.Context, q models.RecommendationQuery) (models.RecommendationResult, error) {
			return models.RecommendationResult{Scenes: []string{"a", "b"}, Total: 2, HasMore: false}, nil
		})

	result, found, err := reg.Query(context.Background(), models.RecommendationQuery{RecommenderID: "trending"})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 2, result.Total)

	_, found, err = reg.Query(context.Background(), models.RecommendationQuery{RecommenderID: "missing"})
	require.NoError(t, err)
	assert.False(t, found)
}
