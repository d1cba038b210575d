package model

// Profile is the structured startup profile produced by the Extractor stage.
type Profile struct {
	Idea            string        `json:"idea"`
	Problem         string        `json:"problem"`
	Customer        string        `json:"customer"`
	Solution        string        `json:"solution"`
	Differentiation string        `json:"differentiation"`
	Alternatives    string        `json:"alternatives"`
	Validation      string        `json:"validation"`
	Industry        string        `json:"industry"`
	Websites        string        `json:"websites"`
	Assumptions     []string      `json:"assumptions"`
	SearchQueries   []SearchQuery `json:"search_queries"`
}

// SearchQuery is a research query suggested by the Extractor.
type SearchQuery struct {
	Purpose string `json:"purpose"`
	Query   string `json:"query"`
}

// Source is a model-listed reference.
type Source struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// MarketResearch is the Research stage output. Amounts are USD.
type MarketResearch struct {
	TAM         float64  `json:"tam"`
	SAM         float64  `json:"sam"`
	SOM         float64  `json:"som"`
	Methodology string   `json:"methodology"`
	GrowthRate  float64  `json:"growth_rate"`
	Sources     []Source `json:"sources"`
	Confidence  string   `json:"confidence"`
}

// ThreatLevel rates a competitor.
type ThreatLevel string

const (
	ThreatHigh   ThreatLevel = "high"
	ThreatMedium ThreatLevel = "medium"
	ThreatLow    ThreatLevel = "low"
)

// Competitor is one entry of a competitor list.
type Competitor struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Strengths   []string    `json:"strengths"`
	Weaknesses  []string    `json:"weaknesses"`
	ThreatLevel ThreatLevel `json:"threat_level"`
	SourceURL   string      `json:"source_url,omitempty"`
}

// CompetitorAnalysis is the Competitor stage output.
type CompetitorAnalysis struct {
	DirectCompetitors   []Competitor `json:"direct_competitors"`
	IndirectCompetitors []Competitor `json:"indirect_competitors"`
	MarketGaps          []string     `json:"market_gaps"`
	Sources             []Source     `json:"sources"`
}

// Verdict is the three-valued outcome derived from the final score.
type Verdict string

const (
	VerdictGo      Verdict = "go"
	VerdictCaution Verdict = "caution"
	VerdictNoGo    Verdict = "no_go"
)

// FactorStatus labels a clamped factor score.
type FactorStatus string

const (
	FactorStrong   FactorStatus = "strong"
	FactorModerate FactorStatus = "moderate"
	FactorWeak     FactorStatus = "weak"
)

// RawFactor is a factor score as returned by the model. Score is left
// untyped so non-numeric output reaches the scoring layer intact.
type RawFactor struct {
	Name        string `json:"name"`
	Score       any    `json:"score"`
	Description string `json:"description"`
}

// Factor is a clamped and labelled factor score.
type Factor struct {
	Name        string       `json:"name"`
	Score       float64      `json:"score"`
	Description string       `json:"description"`
	Status      FactorStatus `json:"status"`
}

// ScoringDraft is the raw qualitative output of the Scoring stage model call.
type ScoringDraft struct {
	DimensionScores  map[string]any    `json:"dimension_scores"`
	MarketFactors    []RawFactor       `json:"market_factors"`
	ExecutionFactors []RawFactor       `json:"execution_factors"`
	Highlights       []string          `json:"highlights"`
	RedFlags         []string          `json:"red_flags"`
	RisksAssumptions []string          `json:"risks_assumptions"`
	Rationale        map[string]string `json:"rationale,omitempty"`
}

// MatrixDimension is one row of the scores matrix.
type MatrixDimension struct {
	Name   string  `json:"name"`
	Score  float64 `json:"score"`
	Weight float64 `json:"weight"`
}

// ScoresMatrix pairs each dimension with its clamped score and weight.
type ScoresMatrix struct {
	Dimensions      []MatrixDimension `json:"dimensions"`
	OverallWeighted int               `json:"overall_weighted"`
}

// ScoringMetadata records how the final score was derived.
// ClampedDimensions maps each clamped dimension key to the raw value the
// model returned.
type ScoringMetadata struct {
	RawWeightedAverage float64        `json:"raw_weighted_average"`
	BiasCorrection     float64        `json:"bias_correction"`
	ClampedDimensions  map[string]any `json:"clamped_dimensions"`
}

// ScoringResult is the Scoring stage output after the deterministic layer.
type ScoringResult struct {
	OverallScore     int                `json:"overall_score"`
	Verdict          Verdict            `json:"verdict_recommendation"`
	DimensionScores  map[string]float64 `json:"dimension_scores"`
	MarketFactors    []Factor           `json:"market_factors"`
	ExecutionFactors []Factor           `json:"execution_factors"`
	Highlights       []string           `json:"highlights"`
	RedFlags         []string           `json:"red_flags"`
	RisksAssumptions []string           `json:"risks_assumptions"`
	Rationale        map[string]string  `json:"rationale,omitempty"`
	ScoresMatrix     ScoresMatrix       `json:"scores_matrix"`
	Metadata         ScoringMetadata    `json:"scoring_metadata"`
}

// PlanPhase is one phase of the build plan.
type PlanPhase struct {
	Phase int      `json:"phase"`
	Name  string   `json:"name"`
	Tasks []string `json:"tasks"`
}

// Plan is the Planner stage output.
type Plan struct {
	MVPScope  string      `json:"mvp_scope"`
	Phases    []PlanPhase `json:"phases"`
	NextSteps []string    `json:"next_steps"`
}

// InterviewContext carries fields pre-extracted by an upstream interview.
type InterviewContext struct {
	Extracted map[string]string `json:"extracted"`
	Coverage  map[string]string `json:"coverage,omitempty"`
}
