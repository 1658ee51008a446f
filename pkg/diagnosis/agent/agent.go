// Package agent provides the cooperative multi-agent kernel the
// Diagnosis Engine builds on: an abstract Agent interface, a message
// bus threading related messages by request id, and first-class error
// messages so an agent-level failure never needs a panic or a naked
// error return to surface to its peers.
package agent

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/forge-health/compliance-diagnostics/pkg/diagnosis/models"
)

// MessageType enumerates the kinds of messages agents exchange on the
// bus. Errors are a first-class member rather than a side channel, so a
// specialist's failure to produce hypotheses is itself a routable
// message the engine and other agents can react to.
type MessageType string

const (
	MessageHypothesisRequest  MessageType = "hypothesis_request"
	MessageHypothesisResponse MessageType = "hypothesis_response"
	MessageEvaluationRequest  MessageType = "evaluation_request"
	MessageEvaluationResponse MessageType = "evaluation_response"
	MessageError              MessageType = "error"
)

// AgentError carries enough detail for the receiving side to decide
// whether a specialist's failure should sideline it for the rest of the
// session or just drop this one response.
type AgentError struct {
	Agent       string
	Message     string
	Recoverable bool
	Cause       error
}

func (e *AgentError) Error() string {
	if e.Cause != nil {
		return e.Agent + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.Agent + ": " + e.Message
}

func (e *AgentError) Unwrap() error { return e.Cause }

// Message is the unit of exchange on the bus. RequestID threads a
// request and its eventual response (or error) together; every message
// in a logical exchange shares the same RequestID, set by whichever
// message started the exchange.
type Message struct {
	ID        string
	RequestID string
	Type      MessageType
	From      string
	To        string // "" broadcasts to every subscriber except From

	Patient     *models.PatientData
	Hypotheses  []*models.Hypothesis
	Hypothesis  *models.Hypothesis
	Err         *AgentError
}

// NewRequest starts a new logical exchange: a fresh Message whose ID
// and RequestID are the same freshly generated id.
func NewRequest(msgType MessageType, from, to string) *Message {
	id := uuid.NewString()
	return &Message{ID: id, RequestID: id, Type: msgType, From: from, To: to}
}

// Reply builds a response message threaded onto req's RequestID.
func (req *Message) Reply(msgType MessageType, from string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		RequestID: req.RequestID,
		Type:      msgType,
		From:      from,
		To:        req.From,
	}
}

// ReplyError builds an error response threaded onto req's RequestID.
func (req *Message) ReplyError(from string, agentErr *AgentError) *Message {
	m := req.Reply(MessageError, from)
	m.Err = agentErr
	return m
}

// Agent is the interface every specialist implements. Receive handles
// one inbound message and may publish zero or more outbound messages
// via the Bus captured at construction time; it returns an error only
// for infrastructure failures that leave no meaningful agent-level
// result (mirrors the Result<T, AgentError> design: domain-level
// failures are reported as MessageError messages, not Go errors).
type Agent interface {
	Name() string
	Receive(ctx context.Context, msg *Message) error
}

// Bus is a minimal in-process publish/subscribe message bus keyed by
// agent name, with per-RequestID correlation for synchronous
// request/response exchanges.
type Bus struct {
	mu          sync.Mutex
	subscribers map[string]Agent
	waiters     map[string]chan *Message // RequestID -> waiter, set by Request
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string]Agent),
		waiters:     make(map[string]chan *Message),
	}
}

// Subscribe registers an agent to receive messages addressed to it by
// name, or broadcast messages (To == "").
func (b *Bus) Subscribe(a Agent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[a.Name()] = a
}

// Publish delivers msg to its addressed recipient, or to every
// subscriber except the sender if To is empty. If a waiter is
// registered for msg.RequestID (via Request), it also forwards the
// message there instead of invoking Receive, so synchronous callers see
// exactly one reply per exchange.
func (b *Bus) Publish(ctx context.Context, msg *Message) error {
	b.mu.Lock()
	waiter, waiting := b.waiters[msg.RequestID]
	targets := b.targetsLocked(msg)
	b.mu.Unlock()

	if waiting && msg.From != "" {
		select {
		case waiter <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}

	for _, t := range targets {
		if err := t.Receive(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bus) targetsLocked(msg *Message) []Agent {
	if msg.To != "" {
		if a, ok := b.subscribers[msg.To]; ok {
			return []Agent{a}
		}
		return nil
	}
	out := make([]Agent, 0, len(b.subscribers))
	for name, a := range b.subscribers {
		if name == msg.From {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Request publishes req and blocks until a message threaded onto
// req.RequestID arrives or ctx is cancelled.
func (b *Bus) Request(ctx context.Context, req *Message) (*Message, error) {
	ch := make(chan *Message, 1)
	b.mu.Lock()
	b.waiters[req.RequestID] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.waiters, req.RequestID)
		b.mu.Unlock()
	}()

	b.mu.Lock()
	targets := b.targetsLocked(req)
	b.mu.Unlock()
	for _, t := range targets {
		if err := t.Receive(ctx, req); err != nil {
			return nil, err
		}
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
