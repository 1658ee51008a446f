package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-health/compliance-diagnostics/pkg/diagnosis/models"
)

// echoAgent replies to every hypothesis_request with a canned response
// threaded onto the same request.
type echoAgent struct {
	name string
	bus  *Bus
	hyps []*models.Hypothesis
}

func (a *echoAgent) Name() string { return a.name }

func (a *echoAgent) Receive(ctx context.Context, msg *Message) error {
	if msg.Type != MessageHypothesisRequest {
		return nil
	}
	reply := msg.Reply(MessageHypothesisResponse, a.name)
	reply.Hypotheses = a.hyps
	return a.bus.Publish(ctx, reply)
}

type failingAgent struct {
	name string
	bus  *Bus
}

func (a *failingAgent) Name() string { return a.name }

func (a *failingAgent) Receive(ctx context.Context, msg *Message) error {
	reply := msg.ReplyError(a.name, &AgentError{Agent: a.name, Message: "boom", Recoverable: true})
	return a.bus.Publish(ctx, reply)
}

func TestBus_RequestReceivesTargetedReply(t *testing.T) {
	bus := NewBus()
	want := []*models.Hypothesis{{DiseaseID: "OMIM:219700"}}
	specialist := &echoAgent{name: "phenotype", bus: bus, hyps: want}
	bus.Subscribe(specialist)

	req := NewRequest(MessageHypothesisRequest, "engine", "phenotype")
	resp, err := bus.Request(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, MessageHypothesisResponse, resp.Type)
	assert.Equal(t, req.RequestID, resp.RequestID)
	assert.Equal(t, want, resp.Hypotheses)
}

func TestBus_RequestSurfacesAgentErrorAsMessage(t *testing.T) {
	bus := NewBus()
	bus.Subscribe(&failingAgent{name: "genetic", bus: bus})

	req := NewRequest(MessageHypothesisRequest, "engine", "genetic")
	resp, err := bus.Request(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, MessageError, resp.Type)
	require.NotNil(t, resp.Err)
	assert.Equal(t, "genetic", resp.Err.Agent)
	assert.True(t, resp.Err.Recoverable)
}

func TestBus_RequestTimesOutWhenNoSubscriber(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	req := NewRequest(MessageHypothesisRequest, "engine", "nobody")
	_, err := bus.Request(ctx, req)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBus_BroadcastSkipsSender(t *testing.T) {
	bus := NewBus()
	var received []string

	recorder := &recordingAgent{name: "recorder", seen: &received}
	sender := &recordingAgent{name: "sender", seen: &received}
	bus.Subscribe(recorder)
	bus.Subscribe(sender)

	msg := NewRequest(MessageHypothesisRequest, "sender", "")
	require.NoError(t, bus.Publish(context.Background(), msg))

	assert.Equal(t, []string{"recorder"}, received)
}

type recordingAgent struct {
	name string
	seen *[]string
}

func (a *recordingAgent) Name() string { return a.name }

func (a *recordingAgent) Receive(_ context.Context, _ *Message) error {
	*a.seen = append(*a.seen, a.name)
	return nil
}

func TestAgentError_ErrorStringIncludesCause(t *testing.T) {
	err := &AgentError{Agent: "genetic", Message: "lookup failed", Cause: context.DeadlineExceeded}
	assert.Contains(t, err.Error(), "genetic")
	assert.Contains(t, err.Error(), "lookup failed")
	assert.Contains(t, err.Error(), context.DeadlineExceeded.Error())
	assert.ErrorIs(t, err.Unwrap(), context.DeadlineExceeded)
}
