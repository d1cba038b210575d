package agents

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/llm"
	llmmocks "github.com/amo-tech-ai/rocket-path-ai-sub000/internal/llm/mocks"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/model"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/pkg/knowledge"
	knowledgemocks "github.com/amo-tech-ai/rocket-path-ai-sub000/pkg/knowledge/mocks"
)

type recorded struct {
	started  bool
	outcome  *model.RunOutcome
	startCnt int
}

type fakeRecorder struct {
	mu   sync.Mutex
	runs map[model.Stage]*recorded
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{runs: map[model.Stage]*recorded{}}
}

func (f *fakeRecorder) get(stage model.Stage) *recorded {
	r, ok := f.runs[stage]
	if !ok {
		r = &recorded{}
		f.runs[stage] = r
	}
	return r
}

func (f *fakeRecorder) Start(_ context.Context, _ string, stage model.Stage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.get(stage)
	r.started = true
	r.startCnt++
}

func (f *fakeRecorder) Complete(_ context.Context, _ string, stage model.Stage, out model.RunOutcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.get(stage).outcome = &out
}

func (f *fakeRecorder) outcome(t *testing.T, stage model.Stage) model.RunOutcome {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[stage]
	require.True(t, ok, "stage %s not recorded", stage)
	require.NotNil(t, r.outcome, "stage %s not completed", stage)
	return *r.outcome
}

func newStages(t *testing.T, opts ...Option) (*Stages, *llmmocks.MockCaller, *fakeRecorder) {
	caller := llmmocks.NewMockCaller(t)
	rec := newFakeRecorder()
	s := New(caller, rec, Config{Model: "test-model", ScoringModel: "test-scoring"}, opts...)
	return s, caller, rec
}

func stageIs(stage model.Stage) any {
	return mock.MatchedBy(func(r llm.Request) bool { return r.Stage == string(stage) })
}

const profileJSON = `{
  "idea": "Marketplace for used lab equipment",
  "problem": "Labs overpay for new equipment",
  "customer": "University labs",
  "solution": "Verified resale marketplace",
  "industry": "Marketplace",
  "websites": "labx.example, https://labswap.example",
  "search_queries": [{"purpose": "demand", "query": "used lab equipment resale"}]
}`

func testProfile() *model.Profile {
	return &model.Profile{
		Idea:     "Marketplace for used lab equipment",
		Industry: "Marketplace",
		Websites: "labx.example",
		SearchQueries: []model.SearchQuery{
			{Purpose: "demand", Query: "used lab equipment resale"},
		},
	}
}

func TestExtract_Success(t *testing.T) {
	s, caller, rec := newStages(t)
	caller.On("Call", mock.Anything, mock.MatchedBy(func(r llm.Request) bool {
		return r.Model == "test-model" &&
			r.System == extractorSystem &&
			strings.Contains(r.User, "lab equipment") &&
			r.Options.Effort == llm.EffortLow &&
			r.Options.Timeout == 30*time.Second &&
			r.Options.Schema != nil &&
			!r.Options.UseSearch
	})).Return(&llm.Response{Text: "```json\n" + profileJSON + "\n```"}, nil).Once()

	p, err := s.Extract(context.Background(), "s1", Input{Text: "I want to sell used lab equipment"})
	require.NoError(t, err)
	assert.Equal(t, "University labs", p.Customer)
	assert.Equal(t, "Marketplace", p.Industry)

	out := rec.outcome(t, model.StageExtractor)
	assert.Equal(t, model.RunStatusOK, out.Status)
	assert.Same(t, p, out.Output)
}

func TestExtract_RefineModeWithInterview(t *testing.T) {
	s, caller, _ := newStages(t)
	caller.On("Call", mock.Anything, mock.MatchedBy(func(r llm.Request) bool {
		return r.System == extractorRefineSystem &&
			strings.HasPrefix(r.User, "Interview fields:\n- customer: labs\n- problem: cost")
	})).Return(&llm.Response{Text: profileJSON}, nil).Once()

	_, err := s.Extract(context.Background(), "s1", Input{
		Text:      "pitch",
		Interview: &model.InterviewContext{Extracted: map[string]string{"problem": "cost", "customer": "labs", "blank": " "}},
	})
	require.NoError(t, err)
}

func TestExtract_IdeaFallsBackToInput(t *testing.T) {
	s, caller, _ := newStages(t)
	caller.On("Call", mock.Anything, mock.Anything).Return(&llm.Response{Text: `{"problem":"x"}`}, nil).Once()

	p, err := s.Extract(context.Background(), "s1", Input{Text: "  raw pitch text  "})
	require.NoError(t, err)
	assert.Equal(t, "raw pitch text", p.Idea)
}

func TestExtract_CallFailureRecordsFailed(t *testing.T) {
	s, caller, rec := newStages(t)
	caller.On("Call", mock.Anything, mock.Anything).
		Return(nil, &llm.CallError{Kind: llm.KindTimeout, Attempts: 3, Err: context.DeadlineExceeded}).Once()

	p, err := s.Extract(context.Background(), "s1", Input{Text: "pitch"})
	require.Error(t, err)
	assert.Nil(t, p)
	assert.True(t, llm.IsTimeout(err))

	out := rec.outcome(t, model.StageExtractor)
	assert.Equal(t, model.RunStatusFailed, out.Status)
	assert.True(t, strings.HasPrefix(out.Error, "timeout: "))
}

func TestExtract_ParseFailureRecordsFailed(t *testing.T) {
	s, caller, rec := newStages(t)
	caller.On("Call", mock.Anything, mock.Anything).Return(&llm.Response{Text: "I cannot help with that."}, nil).Once()

	_, err := s.Extract(context.Background(), "s1", Input{Text: "pitch"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse profile")
	assert.Equal(t, model.RunStatusFailed, rec.outcome(t, model.StageExtractor).Status)
}

func TestResearch_KnowledgeQueryAndCorrections(t *testing.T) {
	kb := knowledgemocks.NewMockClient(t)
	kb.On("Search", mock.Anything, knowledge.SearchRequest{
		Query:      "Marketplace for used lab equipment Marketplace market size TAM SAM SOM growth",
		Filter:     "marketplace",
		MatchCount: 5,
	}).Return([]knowledge.Chunk{{Content: "Lab equipment resale grew 12%", Source: "Report"}}, nil).Once()

	s, caller, rec := newStages(t, WithKnowledge(kb))
	caller.On("Call", mock.Anything, mock.MatchedBy(func(r llm.Request) bool {
		return r.Stage == string(model.StageResearch) &&
			r.Options.UseSearch && r.Options.UseFetch &&
			len(r.Options.ReferenceURLs) == 1 && r.Options.ReferenceURLs[0] == "https://labx.example" &&
			strings.Contains(r.User, "[Report] Lab equipment resale grew 12%") &&
			strings.Contains(r.User, "Curated sources:\n- [")
	})).Return(&llm.Response{
		Text:     `{"tam": 1000, "sam": 2000, "som": 900, "methodology": "bottom up", "sources": [{"title": "Src", "url": "https://src.example"}]}`,
		Grounded: false,
	}, nil).Once()

	m, err := s.Research(context.Background(), "s1", Input{Text: "pitch"}, testProfile())
	require.NoError(t, err)
	assert.Equal(t, 300.0, m.SAM)
	assert.Equal(t, 30.0, m.SOM)

	out := rec.outcome(t, model.StageResearch)
	assert.Equal(t, model.RunStatusPartial, out.Status)
	require.Len(t, out.Citations, 1)
	assert.Equal(t, "https://src.example", out.Citations[0].URL)
}

func TestResearch_GroundedIsOK(t *testing.T) {
	s, caller, rec := newStages(t)
	caller.On("Call", mock.Anything, stageIs(model.StageResearch)).Return(&llm.Response{
		Text:      `{"tam": 1000, "sam": 100, "som": 10, "methodology": "top down"}`,
		Grounded:  true,
		Citations: []model.Citation{{URL: "https://web.example", Source: "web_search"}},
	}, nil).Once()

	m, err := s.Research(context.Background(), "s1", Input{Text: "pitch"}, testProfile())
	require.NoError(t, err)
	assert.Equal(t, 100.0, m.SAM)

	out := rec.outcome(t, model.StageResearch)
	assert.Equal(t, model.RunStatusOK, out.Status)
	assert.Equal(t, "web_search", out.Citations[0].Source)
}

func TestResearch_NilProfileUsesInput(t *testing.T) {
	s, caller, _ := newStages(t)
	caller.On("Call", mock.Anything, mock.MatchedBy(func(r llm.Request) bool {
		return strings.HasPrefix(r.User, "Startup:\nraw pitch about drones") && len(r.Options.ReferenceURLs) == 0
	})).Return(&llm.Response{Text: `{"tam": 1, "sam": 1, "som": 1, "methodology": "m"}`}, nil).Once()

	_, err := s.Research(context.Background(), "s1", Input{Text: "raw pitch about drones"}, nil)
	require.NoError(t, err)
}

func TestResearch_KnowledgeFailureDegrades(t *testing.T) {
	kb := knowledgemocks.NewMockClient(t)
	kb.On("Search", mock.Anything, mock.Anything).Return(nil, eris.New("down")).Once()

	s, caller, _ := newStages(t, WithKnowledge(kb))
	caller.On("Call", mock.Anything, mock.MatchedBy(func(r llm.Request) bool {
		return strings.Contains(r.User, noKnowledge)
	})).Return(&llm.Response{Text: `{"tam": 1, "sam": 1, "som": 1, "methodology": "m"}`}, nil).Once()

	_, err := s.Research(context.Background(), "s1", Input{Text: "pitch"}, testProfile())
	require.NoError(t, err)
}

func TestCompetitors_NormalizesThreats(t *testing.T) {
	s, caller, rec := newStages(t)
	caller.On("Call", mock.Anything, mock.MatchedBy(func(r llm.Request) bool {
		return r.Stage == string(model.StageCompetitor) && r.Options.UseSearch && !r.Options.UseFetch &&
			strings.Contains(r.User, "search?q=used+lab+equipment+resale")
	})).Return(&llm.Response{
		Text: `{"direct_competitors": [
			{"name": "LabX", "threat_level": "HIGH"},
			{"name": "Other", "threat_level": "severe"}
		], "indirect_competitors": [{"name": "eBay", "threat_level": "low"}], "market_gaps": ["trust"]}`,
		Grounded: true,
	}, nil).Once()

	c, err := s.Competitors(context.Background(), "s1", testProfile())
	require.NoError(t, err)
	assert.Equal(t, model.ThreatHigh, c.DirectCompetitors[0].ThreatLevel)
	assert.Equal(t, model.ThreatMedium, c.DirectCompetitors[1].ThreatLevel)
	assert.Equal(t, model.ThreatLow, c.IndirectCompetitors[0].ThreatLevel)
	assert.Equal(t, model.RunStatusOK, rec.outcome(t, model.StageCompetitor).Status)
}

func TestCompetitors_NilProfileFails(t *testing.T) {
	s, _, rec := newStages(t)
	_, err := s.Competitors(context.Background(), "s1", nil)
	require.Error(t, err)
	assert.Equal(t, model.RunStatusFailed, rec.outcome(t, model.StageCompetitor).Status)
}

func TestScore_AppliesDeterministicLayer(t *testing.T) {
	s, caller, rec := newStages(t)
	caller.On("Call", mock.Anything, mock.MatchedBy(func(r llm.Request) bool {
		return r.Model == "test-scoring" && r.Options.Effort == llm.EffortHigh &&
			strings.Contains(r.User, "Market research:\nnot available")
	})).Return(&llm.Response{Text: `{
		"dimension_scores": {"problemClarity": 80, "solutionStrength": 70, "marketSize": 60,
			"competition": 50, "businessModel": 65, "teamFit": 55, "timing": 75},
		"market_factors": [{"name": "Demand", "score": 12}],
		"highlights": ["clear pain"], "red_flags": ["thin margins"]
	}`}, nil).Once()

	res, err := s.Score(context.Background(), "s1", Input{Text: "pitch"}, testProfile(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 66, res.OverallScore)
	assert.Equal(t, model.VerdictCaution, res.Verdict)
	require.Len(t, res.MarketFactors, 1)
	assert.Equal(t, 10.0, res.MarketFactors[0].Score)
	assert.Equal(t, []string{"thin margins"}, res.RedFlags)
	assert.Equal(t, model.RunStatusOK, rec.outcome(t, model.StageScoring).Status)
}

func TestScore_BiasFromConfig(t *testing.T) {
	caller := llmmocks.NewMockCaller(t)
	s := New(caller, newFakeRecorder(), Config{Model: "m", Bias: -10})
	caller.On("Call", mock.Anything, mock.Anything).Return(&llm.Response{Text: `{"dimension_scores": {
		"problemClarity": 80, "solutionStrength": 70, "marketSize": 60,
		"competition": 50, "businessModel": 65, "teamFit": 55, "timing": 75}}`}, nil).Once()

	res, err := s.Score(context.Background(), "s1", Input{Text: "pitch"}, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 56, res.OverallScore)
}

func TestScore_NoDimensionsFails(t *testing.T) {
	s, caller, rec := newStages(t)
	caller.On("Call", mock.Anything, mock.Anything).Return(&llm.Response{Text: `{"highlights": []}`}, nil).Once()

	_, err := s.Score(context.Background(), "s1", Input{Text: "pitch"}, testProfile(), nil, nil)
	require.Error(t, err)
	assert.Equal(t, model.RunStatusFailed, rec.outcome(t, model.StageScoring).Status)
}

func TestPlan_UsesRedFlags(t *testing.T) {
	s, caller, rec := newStages(t)
	caller.On("Call", mock.Anything, mock.MatchedBy(func(r llm.Request) bool {
		return strings.Contains(r.User, "Red flags:\n- thin margins") && r.Options.Timeout == 45*time.Second
	})).Return(&llm.Response{Text: `{"mvp_scope": "listing + escrow", "phases": [{"name": "Build"}, {"phase": 5, "name": "Launch"}], "next_steps": ["a", "b", "c"]}`}, nil).Once()

	plan, err := s.Plan(context.Background(), "s1", testProfile(), &model.ScoringResult{RedFlags: []string{"thin margins"}})
	require.NoError(t, err)
	assert.Equal(t, 1, plan.Phases[0].Phase)
	assert.Equal(t, 5, plan.Phases[1].Phase)
	assert.Equal(t, model.RunStatusOK, rec.outcome(t, model.StagePlanner).Status)
}

func TestPlan_DegradedWithoutScoring(t *testing.T) {
	s, caller, rec := newStages(t)
	caller.On("Call", mock.Anything, mock.MatchedBy(func(r llm.Request) bool {
		return strings.Contains(r.User, "No scoring is available")
	})).Return(&llm.Response{Text: `{"mvp_scope": "x", "next_steps": ["a"]}`}, nil).Once()

	_, err := s.Plan(context.Background(), "s1", testProfile(), nil)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusPartial, rec.outcome(t, model.StagePlanner).Status)
}

func TestPlan_NothingToPlanFrom(t *testing.T) {
	s, _, rec := newStages(t)
	_, err := s.Plan(context.Background(), "s1", nil, nil)
	require.Error(t, err)
	assert.Equal(t, model.RunStatusFailed, rec.outcome(t, model.StagePlanner).Status)
}

func TestSkip_RecordsFailedWithoutStart(t *testing.T) {
	s, _, rec := newStages(t)
	s.Skip(context.Background(), "s1", model.StageComposer, "skipped: insufficient time budget")

	out := rec.outcome(t, model.StageComposer)
	assert.Equal(t, model.RunStatusFailed, out.Status)
	assert.Equal(t, "skipped: insufficient time budget", out.Error)
	assert.False(t, rec.runs[model.StageComposer].started)
}

func TestFormatChunks_Capped(t *testing.T) {
	year := 2024
	chunks := []knowledge.Chunk{
		{Content: strings.Repeat("a", 30), Source: "S1", Year: &year, Confidence: "high"},
		{Content: strings.Repeat("b", 30), Source: "S2"},
	}
	out := formatChunks(chunks, 60)
	assert.True(t, strings.HasPrefix(out, "- [S1, 2024, confidence high] aaa"))
	assert.NotContains(t, out, "bbb")

	first := formatChunks(chunks[:1], 10)
	assert.Equal(t, 10, len([]rune(first)))
}

func TestWebsites(t *testing.T) {
	got := websites(&model.Profile{Websites: "labx.example, https://a.example;none\nhttp://b.example"})
	assert.Equal(t, []string{"https://labx.example", "https://a.example", "http://b.example"}, got)
	assert.Nil(t, websites(nil))
}
