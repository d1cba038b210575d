package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/model"
)

func TestBroker_DeliversToSessionSubscribers(t *testing.T) {
	b := NewBroker(4)
	ch, cancel := b.Subscribe("s1")
	defer cancel()
	other, cancelOther := b.Subscribe("s2")
	defer cancelOther()

	b.Publish(Event{Type: AgentStarted, SessionID: "s1", Agent: model.StageExtractor, Step: 1})

	e := <-ch
	assert.Equal(t, AgentStarted, e.Type)
	assert.Equal(t, model.TotalStages, e.TotalSteps)
	assert.False(t, e.At.IsZero())
	assert.Empty(t, other)
}

func TestBroker_DropsWhenFull(t *testing.T) {
	b := NewBroker(1)
	ch, cancel := b.Subscribe("s1")
	defer cancel()

	b.Publish(Event{Type: AgentStarted, SessionID: "s1", Step: 1})
	b.Publish(Event{Type: AgentCompleted, SessionID: "s1", Step: 1})

	require.Len(t, ch, 1)
	assert.Equal(t, AgentStarted, (<-ch).Type)
}

func TestBroker_TerminalEventClosesStream(t *testing.T) {
	b := NewBroker(4)
	ch, cancel := b.Subscribe("s1")

	score := 70
	b.Publish(Event{Type: PipelineComplete, SessionID: "s1", Status: model.SessionStatusComplete, Score: &score})

	e, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, 70, *e.Score)
	_, ok = <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, b.Subscribers("s1"))

	cancel() // safe after close
}

func TestBroker_CancelUnsubscribes(t *testing.T) {
	b := NewBroker(4)
	ch, cancel := b.Subscribe("s1")
	assert.Equal(t, 1, b.Subscribers("s1"))

	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, b.Subscribers("s1"))

	b.Publish(Event{Type: AgentStarted, SessionID: "s1"})
}

func TestNop(t *testing.T) {
	var n Notifier = Nop{}
	n.Publish(Event{Type: PipelineFailed})
}
