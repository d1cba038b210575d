package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/model"
)

func TestRenderStatus(t *testing.T) {
	score := 64
	out := renderStatus(&model.StatusView{
		SessionID: "sess-42",
		Status:    model.SessionStatusPartial,
		Progress:  85,
		Stages: []model.StageView{
			{Stage: model.StageExtractor, Step: 1, Status: model.RunStatusOK, DurationMS: 2500},
			{Stage: model.StageResearch, Step: 2, Status: model.RunStatusFailed, Error: "timeout"},
		},
		Report: &model.ReportView{Score: &score, Verdict: model.VerdictCaution, Summary: "Needs proof.", Verified: true},
	})

	assert.Contains(t, out, "Session sess-42")
	assert.Contains(t, out, "partial")
	assert.Contains(t, out, "85%")
	assert.Contains(t, out, "(2.5s)")
	assert.Contains(t, out, "timeout")
	assert.Contains(t, out, "64/100 (caution)")
	assert.Contains(t, out, "Needs proof.")
}

func TestRenderStatus_NoReport(t *testing.T) {
	out := renderStatus(&model.StatusView{SessionID: "s", Status: model.SessionStatusFailed, ErrorMessage: "Pipeline crashed: boom"})
	assert.Contains(t, out, "Pipeline crashed: boom")
	assert.NotContains(t, out, "score:")
}

func TestRenderSessionList(t *testing.T) {
	assert.Equal(t, "no sessions\n", renderSessionList(nil))

	out := renderSessionList([]model.Session{{
		ID:        "abc",
		Status:    model.SessionStatusComplete,
		InputText: "A marketplace\nfor used lab equipment",
		CreatedAt: time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
	}})
	assert.Contains(t, out, "abc  2026-03-01 09:30")
	assert.Contains(t, out, "A marketplace for used lab equipment")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
