package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shayak-swasth-rag/internal/application/retrieval"
	"shayak-swasth-rag/internal/application/synthesis"
	"shayak-swasth-rag/internal/domain/entity"
	apperrors "shayak-swasth-rag/pkg/errors"
)

// --- Mock implementations ---

type stubSearcher struct {
	out *retrieval.SearchOutput
	err error
	in  retrieval.SearchInput
}

func (s *stubSearcher) Search(_ context.Context, in retrieval.SearchInput) (*retrieval.SearchOutput, error) {
	s.in = in
	return s.out, s.err
}

type stubSynthesizer struct {
	ans   *synthesis.Answer
	err   error
	calls int
}

func (s *stubSynthesizer) Synthesize(context.Context, string, []retrieval.Result) (*synthesis.Answer, error) {
	s.calls++
	return s.ans, s.err
}

type recordingSink struct {
	events []*entity.AuditEvent
}

func (s *recordingSink) Emit(_ context.Context, e *entity.AuditEvent) error {
	s.events = append(s.events, e)
	return nil
}

// --- Helpers ---

func intPtr(v int) *int { return &v }

// --- Tests ---

var patient = entity.Principal{ID: "patient-a", Role: entity.RolePatient}

func TestAsk_ResultsOnly(t *testing.T) {
	searcher := &stubSearcher{out: &retrieval.SearchOutput{Results: []retrieval.Result{{DocumentID: "d1"}}}}
	synth := &stubSynthesizer{}
	sink := &recordingSink{}
	svc := NewService(searcher, synth, sink)

	resp, err := svc.Ask(context.Background(), Request{Principal: patient, Query: "q", K: intPtr(3), DocumentScope: []string{"d1"}})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 1)
	assert.Nil(t, resp.Answer)
	assert.Equal(t, 0, synth.calls)
	assert.Empty(t, sink.events)
	require.NotNil(t, searcher.in.K)
	assert.Equal(t, 3, *searcher.in.K)
	assert.Equal(t, []string{"d1"}, searcher.in.DocumentScope)
}

func TestAsk_WithAnswerEmitsAudit(t *testing.T) {
	searcher := &stubSearcher{out: &retrieval.SearchOutput{Results: []retrieval.Result{
		{DocumentID: "d2"}, {DocumentID: "d1"}, {DocumentID: "d2"},
	}}}
	synth := &stubSynthesizer{ans: &synthesis.Answer{
		Text:       "x",
		Mode:       synthesis.ModeExtractive,
		Confidence: synthesis.ConfidenceLow,
		Citations:  []synthesis.Citation{{DocumentID: "d2", Sequence: 0}},
	}}
	sink := &recordingSink{}
	svc := NewService(searcher, synth, sink)

	resp, err := svc.Ask(context.Background(), Request{Principal: patient, Query: "q", WantAnswer: true})
	require.NoError(t, err)
	require.NotNil(t, resp.Answer)
	assert.Equal(t, synthesis.ModeExtractive, resp.Answer.Mode)

	require.Len(t, sink.events, 1)
	ev := sink.events[0]
	assert.Equal(t, entity.AuditActionAnswer, ev.Action)
	assert.Equal(t, entity.AuditOutcomeAllowed, ev.Outcome)
	assert.Equal(t, "d1,d2", ev.ResourceID)
	assert.Equal(t, "extractive", ev.Metadata["mode"])
}

func TestAsk_SearchErrorPropagates(t *testing.T) {
	searcher := &stubSearcher{err: apperrors.ErrIndexNotFound}
	svc := NewService(searcher, &stubSynthesizer{}, &recordingSink{})

	_, err := svc.Ask(context.Background(), Request{Principal: patient, Query: "q", WantAnswer: true})
	assert.ErrorIs(t, err, apperrors.ErrIndexNotFound)
}

func TestAsk_SynthesisCancelledIsAudited(t *testing.T) {
	searcher := &stubSearcher{out: &retrieval.SearchOutput{}}
	sink := &recordingSink{}
	svc := NewService(searcher, &stubSynthesizer{err: context.Canceled}, sink)

	_, err := svc.Ask(context.Background(), Request{Principal: patient, Query: "q", WantAnswer: true})
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, sink.events, 1)
	assert.Equal(t, entity.AuditOutcomeError, sink.events[0].Outcome)
}
