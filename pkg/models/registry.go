package models

import "time"

// ResultKind describes what shape of result an Action produces.
type ResultKind string

const (
	ResultKindDialog ResultKind = "dialog"
	ResultKindStream ResultKind = "stream"
	ResultKindVoid   ResultKind = "void"
)

// SelectionRule constrains an Action's ContextRule to the caller's current
// selection state.
type SelectionRule string

const (
	SelectionNone   SelectionRule = "none"
	SelectionSingle SelectionRule = "single"
	SelectionMulti  SelectionRule = "multi"
	SelectionPage   SelectionRule = "page"
)

// ContextRule is one matchable context an Action is available in. An empty
// Pages list means "any page". EntityTypes is carried as declared metadata
// only: ActionRegistry.Resolve does not filter on it.
type ContextRule struct {
	Pages       []string      `json:"pages,omitempty"`
	Selection   SelectionRule `json:"selection"`
	EntityTypes []string      `json:"entityTypes,omitempty"`
}

// ActionDescriptor is the declared metadata for one registered action.
type ActionDescriptor struct {
	ID         string        `json:"id"`
	Label      string        `json:"label"`
	Service    string        `json:"service"`
	ResultKind ResultKind    `json:"result_kind"`
	Contexts   []ContextRule `json:"contexts"`
	Controller bool          `json:"controller,omitempty"`
}

// RecContext is one of the closed set of recommender contexts.
type RecContext string

const (
	RecContextGlobalFeed   RecContext = "global_feed"
	RecContextSimilarScene RecContext = "similar_scene"
	RecContextDetailRail   RecContext = "detail_rail"
	RecContextContinueWatching RecContext = "continue_watching"
)

// RecommenderDescriptor is the declared metadata for one registered
// recommender.
type RecommenderDescriptor struct {
	ID                 string       `json:"id"`
	Label              string       `json:"label"`
	Contexts           []RecContext `json:"contexts"`
	SupportsPagination bool         `json:"supports_pagination"`
	ExposesScores      bool         `json:"exposes_scores"`
	NeedsSeedScenes    bool         `json:"needs_seed_scenes"`
	AllowsMultiSeed    bool         `json:"allows_multi_seed"`
}

// RecommendationQuery is the request body for a recommender query.
type RecommendationQuery struct {
	Context       RecContext      `json:"context"`
	RecommenderID string          `json:"recommenderId"`
	Config        map[string]any  `json:"config,omitempty"`
	SeedSceneIDs  []string        `json:"seedSceneIds,omitempty"`
	Limit         int             `json:"limit,omitempty"`
	Offset        int             `json:"offset,omitempty"`
}

// RecommendationResult is the response body for a recommender query.
type RecommendationResult struct {
	Scenes  []string `json:"scenes"`
	Total   int      `json:"total"`
	HasMore bool     `json:"has_more"`
}

// ReadinessState is the outcome of a service's readiness probe.
type ReadinessState string

const (
	ReadinessUnknown     ReadinessState = "unknown"
	ReadinessReady       ReadinessState = "ready"
	ReadinessWaiting     ReadinessState = "waiting"
	ReadinessUnreachable ReadinessState = "unreachable"
	ReadinessLocal       ReadinessState = "local"
)

// ReadinessProbe is the cached result of probing a service's ready_endpoint.
type ReadinessProbe struct {
	State            ReadinessState `json:"state"`
	Detail           string         `json:"detail,omitempty"`
	LastReadySuccess *time.Time     `json:"last_ready_success,omitempty"`
	LastReadyFailure *time.Time     `json:"last_ready_failure,omitempty"`
}

// ServiceDescriptor bundles one plugin's actions under a name with its
// concurrency and readiness-probe configuration.
type ServiceDescriptor struct {
	Name                   string  `json:"name"`
	MaxConcurrency         int     `json:"max_concurrency"`
	ServerURL              string  `json:"server_url,omitempty"`
	ReadyEndpoint          string  `json:"ready_endpoint,omitempty"`
	ReadinessCacheSeconds  int     `json:"readiness_cache_seconds"`
	FailureBackoffSeconds  int     `json:"failure_backoff_seconds"`
}
