package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-health/compliance-diagnostics/internal/clock"
	"github.com/forge-health/compliance-diagnostics/pkg/diagnosis/engine"
	"github.com/forge-health/compliance-diagnostics/pkg/diagnosis/models"
	"github.com/forge-health/compliance-diagnostics/pkg/diagnosis/ontology"
	"github.com/forge-health/compliance-diagnostics/pkg/diagnosis/scoring"
)

type fakeGraph struct {
	diseases []*models.DiseaseRecord
}

func (g *fakeGraph) DiseasesByPhenotypes(_ context.Context, codes []string, minOverlap int) ([]*models.DiseaseRecord, error) {
	have := make(map[string]bool)
	for _, c := range codes {
		have[c] = true
	}
	var out []*models.DiseaseRecord
	for _, d := range g.diseases {
		n := 0
		for _, p := range d.ExpectedPhenotypes {
			if have[p] {
				n++
			}
		}
		if n >= minOverlap {
			out = append(out, d)
		}
	}
	return out, nil
}

func (g *fakeGraph) DiseasesByGenes(_ context.Context, genes []string) ([]*models.DiseaseRecord, error) {
	return nil, nil
}

func (g *fakeGraph) Disease(_ context.Context, id string) (*models.DiseaseRecord, error) {
	for _, d := range g.diseases {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, nil
}

func cfDisease() *models.DiseaseRecord {
	return &models.DiseaseRecord{
		ID:                 "OMIM:219700",
		Name:                "Cystic fibrosis",
		Inheritance:         "autosomal_recessive",
		AssociatedGenes:     []string{"CFTR"},
		ExpectedPhenotypes:  []string{"HP:0002090", "HP:0002024"},
		CorePhenotypes:      []string{"HP:0002090"},
		PhenotypeFrequency: map[string]float64{"HP:0002090": 0.9, "HP:0002024": 0.85},
	}
}

func fhDisease() *models.DiseaseRecord {
	return &models.DiseaseRecord{
		ID:                 "OMIM:143890",
		Name:                "Familial hypercholesterolemia",
		Inheritance:         "autosomal_dominant",
		AssociatedGenes:     []string{"LDLR"},
		ExpectedPhenotypes:  []string{"HP:0002090", "HP:0002024"},
		CorePhenotypes:      []string{"HP:0002090"},
		PhenotypeFrequency: map[string]float64{"HP:0002090": 0.9, "HP:0002024": 0.85},
	}
}

func newTestController() *Controller {
	graph := &fakeGraph{diseases: []*models.DiseaseRecord{cfDisease(), fhDisease()}}
	ont := ontology.NewService(64)
	ont.Load(ontology.DefaultTerms())
	scorer := scoring.NewScorer(scoring.DefaultConfig())
	c := clock.NewFake(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	eng := engine.New(graph, ont, scorer, c)
	return NewController(eng, c)
}

func TestCreateSession_StartsInIntakeState(t *testing.T) {
	ctl := newTestController()
	s := ctl.CreateSession()
	assert.Equal(t, models.StateIntake, s.State)
	assert.NotNil(t, ctl.Get(s.ID))
}

func TestStartDiagnosis_AdvancesThroughAnalyzingToQuestioningWhenInformativeQuestionRemains(t *testing.T) {
	ctl := newTestController()
	s := ctl.CreateSession()

	events, unsubscribe := s.Subscribe(8)
	defer unsubscribe()

	err := ctl.StartDiagnosis(context.Background(), s, []string{"Pulmonary disease", "Malabsorption"}, nil, nil, nil, models.Demographics{})
	require.NoError(t, err)
	assert.Equal(t, models.StateQuestioning, s.State)

	var types []EventType
	for i := 0; i < 4; i++ {
		select {
		case ev := <-events:
			types = append(types, ev.Type)
		case <-time.After(100 * time.Millisecond):
			break
		}
	}
	assert.Contains(t, types, EventIntakeComplete)
	assert.Contains(t, types, EventHypothesesGenerated)
	assert.Contains(t, types, EventScoringComplete)
}

func TestAnswerQuestions_UnknownQuestionIDIsNotFound(t *testing.T) {
	ctl := newTestController()
	s := ctl.CreateSession()
	require.NoError(t, ctl.StartDiagnosis(context.Background(), s, []string{"Pulmonary disease", "Malabsorption"}, nil, nil, nil, models.Demographics{}))

	err := ctl.AnswerQuestions(context.Background(), s, []Answer{{QuestionID: "does-not-exist", Answer: "yes"}})
	assert.Error(t, err)
}

func TestAnswerQuestions_DoubleAnswerIsConflict(t *testing.T) {
	ctl := newTestController()
	s := ctl.CreateSession()
	require.NoError(t, ctl.StartDiagnosis(context.Background(), s, []string{"Pulmonary disease", "Malabsorption"}, nil, nil, nil, models.Demographics{}))

	s.mu.Lock()
	qID := s.Questions[0].ID
	s.mu.Unlock()

	require.NoError(t, ctl.AnswerQuestions(context.Background(), s, []Answer{{QuestionID: qID, Answer: "yes"}}))
	err := ctl.AnswerQuestions(context.Background(), s, []Answer{{QuestionID: qID, Answer: "yes"}})
	assert.Error(t, err)
}

func TestPauseThenResume_ReturnsToQuestioningWhenQuestionOutstanding(t *testing.T) {
	ctl := newTestController()
	s := ctl.CreateSession()
	require.NoError(t, ctl.StartDiagnosis(context.Background(), s, []string{"Pulmonary disease", "Malabsorption"}, nil, nil, nil, models.Demographics{}))

	require.NoError(t, ctl.PauseSession(s))
	assert.Equal(t, models.StatePaused, s.State)

	require.NoError(t, ctl.ResumeSession(s))
	assert.Equal(t, models.StateQuestioning, s.State)
}

func TestPauseSession_PublishesSessionPausedEvent(t *testing.T) {
	ctl := newTestController()
	s := ctl.CreateSession()
	require.NoError(t, ctl.StartDiagnosis(context.Background(), s, []string{"Pulmonary disease", "Malabsorption"}, nil, nil, nil, models.Demographics{}))

	events, unsubscribe := s.Subscribe(8)
	defer unsubscribe()

	require.NoError(t, ctl.PauseSession(s))

	select {
	case ev := <-events:
		assert.Equal(t, EventSessionPaused, ev.Type)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected a session_paused event")
	}
}

func TestAutoAdvancePausesForQuestionsThenAnswerQuestionsResumesToComplete(t *testing.T) {
	ctl := newTestController()
	s := ctl.CreateSession()
	s.PauseForQuestions = true

	require.NoError(t, ctl.StartDiagnosis(context.Background(), s, []string{"Pulmonary disease", "Malabsorption"}, nil, nil, nil, models.Demographics{}))
	require.Equal(t, models.StatePaused, s.State)

	s.mu.Lock()
	qID := s.Questions[0].ID
	s.mu.Unlock()

	events, unsubscribe := s.Subscribe(8)
	defer unsubscribe()

	require.NoError(t, ctl.AnswerQuestions(context.Background(), s, []Answer{{QuestionID: qID, Answer: "yes"}}))

	var types []EventType
	for i := 0; i < 6; i++ {
		select {
		case ev := <-events:
			types = append(types, ev.Type)
		case <-time.After(100 * time.Millisecond):
			break
		}
	}
	assert.Contains(t, types, EventSessionResumed)
}

func TestSkipQuestions_FinalizesWithoutAnsweringOutstandingQuestions(t *testing.T) {
	ctl := newTestController()
	s := ctl.CreateSession()
	require.NoError(t, ctl.StartDiagnosis(context.Background(), s, []string{"Pulmonary disease", "Malabsorption"}, nil, nil, nil, models.Demographics{}))
	require.Equal(t, models.StateQuestioning, s.State)

	require.NoError(t, ctl.SkipQuestions(s))
	assert.Equal(t, models.StateComplete, s.State)
	assert.NotNil(t, s.Result)
}

func TestGetResult_ReturnsSnapshotBeforeCompletion(t *testing.T) {
	ctl := newTestController()
	s := ctl.CreateSession()
	require.NoError(t, ctl.StartDiagnosis(context.Background(), s, []string{"Pulmonary disease", "Malabsorption"}, nil, nil, nil, models.Demographics{}))
	require.Equal(t, models.StateQuestioning, s.State)

	result, err := ctl.GetResult(s)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.NotNil(t, result.PrimaryDiagnosis)
}

func TestDeleteSession_RemovesStateAndSecondCallReturnsFalse(t *testing.T) {
	ctl := newTestController()
	s := ctl.CreateSession()

	assert.True(t, ctl.DeleteSession(s))
	assert.Nil(t, ctl.Get(s.ID))
	assert.False(t, ctl.DeleteSession(s))
}

func TestStreamEvents_TerminatesOnSessionComplete(t *testing.T) {
	ctl := newTestController()
	s := ctl.CreateSession()
	require.NoError(t, ctl.StartDiagnosis(context.Background(), s, []string{"Pulmonary disease", "Malabsorption"}, nil, nil, nil, models.Demographics{}))
	require.Equal(t, models.StateQuestioning, s.State)

	out := ctl.StreamEvents(context.Background(), s, 200*time.Millisecond)
	require.NoError(t, ctl.SkipQuestions(s))

	var saw bool
	for ev := range out {
		if ev.Type == EventSessionComplete {
			saw = true
		}
	}
	assert.True(t, saw)
}

func TestStreamEvents_ClosesAfterIdleTimeout(t *testing.T) {
	ctl := newTestController()
	s := ctl.CreateSession()

	out := ctl.StreamEvents(context.Background(), s, 20*time.Millisecond)

	select {
	case _, ok := <-out:
		assert.False(t, ok)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected StreamEvents to close after idle timeout")
	}
}

func TestTransition_RejectsIllegalJump(t *testing.T) {
	ctl := newTestController()
	s := ctl.CreateSession()

	err := ctl.transition(s, models.StateComplete)
	assert.Error(t, err)
}

func TestReapIdleSessions_ExpiresSessionsPastIdleTimeout(t *testing.T) {
	ctl := newTestController()
	fc := ctl.clock.(*clock.Fake)
	s := ctl.CreateSession()

	fc.Advance(idleTimeout + time.Minute)
	ctl.reapIdleSessions()

	assert.Equal(t, models.StateExpired, s.State)
}

func TestReapIdleSessions_NeverExpiresAPausedSession(t *testing.T) {
	ctl := newTestController()
	fc := ctl.clock.(*clock.Fake)
	s := ctl.CreateSession()
	require.NoError(t, ctl.PauseSession(s))

	fc.Advance(idleTimeout + time.Minute)
	ctl.reapIdleSessions()

	assert.Equal(t, models.StatePaused, s.State)
}

func TestReapIdleSessions_DeletesExpiredSessionPastRetention(t *testing.T) {
	ctl := newTestController()
	fc := ctl.clock.(*clock.Fake)
	s := ctl.CreateSession()
	require.NoError(t, ctl.transition(s, models.StateExpired))
	assert.Equal(t, models.StateExpired, s.State)

	fc.Advance(expiredRetention + time.Minute)
	ctl.reapIdleSessions()

	assert.Nil(t, ctl.Get(s.ID))
}
