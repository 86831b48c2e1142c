package registry

import (
	"context"

	"github.com/stashsense/orchestrator/pkg/models"
)

// RecommenderHandler executes one recommender query.
type RecommenderHandler func(ctx context.Context, q models.RecommendationQuery) (models.RecommendationResult, error)

type registeredRecommender struct {
	models.RecommenderDescriptor
	Handler RecommenderHandler
}

// RecommenderRegistry holds declared recommenders and resolves which
// apply to a given recommendation context.
type RecommenderRegistry struct {
	recommenders map[string]*registeredRecommender
}

// NewRecommenderRegistry creates an empty registry.
func NewRecommenderRegistry() *RecommenderRegistry {
	return &RecommenderRegistry{recommenders: make(map[string]*registeredRecommender)}
}

// Register adds or replaces a recommender.
func (r *RecommenderRegistry) Register(desc models.RecommenderDescriptor, handler RecommenderHandler) {
	r.recommenders[desc.ID] = &registeredRecommender{RecommenderDescriptor: desc, Handler: handler}
}

// ForContext returns every recommender declaring the given context.
func (r *RecommenderRegistry) ForContext(ctx models.RecContext) []models.RecommenderDescriptor {
	var out []models.RecommenderDescriptor
	for _, rec := range r.recommenders {
		for _, c := range rec.Contexts {
			if c == ctx {
				out = append(out, rec.RecommenderDescriptor)
				break
			}
		}
	}
	return out
}

// Unregister removes a single recommender by id, used when a plugin is removed.
func (r *RecommenderRegistry) Unregister(id string) {
	delete(r.recommenders, id)
}

// Query looks up recommender id in context and runs it.
func (r *RecommenderRegistry) Query(ctx context.Context, q models.RecommendationQuery) (models.RecommendationResult, bool, error) {
	rec, ok := r.recommenders[q.RecommenderID]
	if !ok {
		return models.RecommendationResult{}, false, nil
	}
	res, err := rec.Handler(ctx, q)
	return res, true, err
}
