package model

// Stage names one of the seven analysis steps. The string values are the
// names persisted in run records and reported in failed-step lists.
type Stage string

const (
	StageExtractor  Stage = "ExtractorAgent"
	StageResearch   Stage = "ResearchAgent"
	StageCompetitor Stage = "CompetitorAgent"
	StageScoring    Stage = "ScoringAgent"
	StagePlanner    Stage = "MVPAgent"
	StageComposer   Stage = "ComposerAgent"
	StageVerifier   Stage = "VerifierAgent"
)

// Stages lists every stage in display order.
var Stages = []Stage{
	StageExtractor,
	StageResearch,
	StageCompetitor,
	StageScoring,
	StagePlanner,
	StageComposer,
	StageVerifier,
}

// TotalStages is the number of stages in a session.
const TotalStages = 7

// Step returns the 1-based position of the stage, or 0 if unknown.
func (s Stage) Step() int {
	for i, st := range Stages {
		if st == s {
			return i + 1
		}
	}
	return 0
}

// String implements fmt.Stringer.
func (s Stage) String() string { return string(s) }
