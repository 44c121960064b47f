package consumer

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/investportal/internal/escrow/domain"
	"github.com/wyfcoding/investportal/pkg/logger"
)

type recordingHandler struct {
	signals []domain.Signal
	err     error
}

func (r *recordingHandler) OnSignal(_ context.Context, s domain.Signal) (int, error) {
	r.signals = append(r.signals, s)
	return 1, r.err
}

func newConsumer(h SignalHandler) *SignalConsumer {
	return NewSignalConsumer(h, map[string]domain.ConditionType{
		"investment.milestone.completed": domain.ConditionMilestoneCompletion,
		"investment.document.uploaded":   domain.ConditionDocumentUpload,
	}, logger.Discard())
}

func TestDecodeByTopic(t *testing.T) {
	c := newConsumer(&recordingHandler{})

	sig, err := c.Decode(kafka.Message{Topic: "investment.milestone.completed", Value: []byte(`{"milestone_id":"m-7","opportunity_id":"OPP-1"}`)})
	require.NoError(t, err)
	assert.Equal(t, domain.Signal{Type: domain.ConditionMilestoneCompletion, OpportunityID: "OPP-1", ReferenceID: "m-7"}, sig)

	sig, err = c.Decode(kafka.Message{Topic: "investment.document.uploaded", Value: []byte(`{"document_type":"audit_report","opportunity_id":"OPP-3"}`)})
	require.NoError(t, err)
	assert.Equal(t, domain.Signal{Type: domain.ConditionDocumentUpload, OpportunityID: "OPP-3", ReferenceID: "audit_report"}, sig)

	sig, err = c.Decode(kafka.Message{Topic: "anything", Value: []byte(`{"type":"validation_compliant","reference_id":"OPP-2"}`)})
	require.NoError(t, err)
	assert.Equal(t, domain.Signal{Type: domain.ConditionValidationCompliant, OpportunityID: "OPP-2", ReferenceID: "OPP-2"}, sig)

	_, err = c.Decode(kafka.Message{Topic: "investment.milestone.completed", Value: []byte(`{"milestone_id":"m-7"}`)})
	assert.ErrorIs(t, err, domain.ErrInvalidInput, "milestone ids are only unique within an opportunity")

	_, err = c.Decode(kafka.Message{Topic: "unbound", Value: []byte(`{"milestone_id":"m"}`)})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = c.Decode(kafka.Message{Topic: "investment.milestone.completed", Value: []byte(`not json`)})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestHandlePropagatesErrors(t *testing.T) {
	h := &recordingHandler{}
	c := newConsumer(h)
	ctx := context.Background()

	require.NoError(t, c.Handle(ctx, kafka.Message{Topic: "investment.milestone.completed", Value: []byte(`{"milestone_id":"m-1","opportunity_id":"OPP-1"}`)}))
	require.Len(t, h.signals, 1)

	h.err = errors.New("database unavailable")
	assert.Error(t, c.Handle(ctx, kafka.Message{Topic: "investment.milestone.completed", Value: []byte(`{"milestone_id":"m-2","opportunity_id":"OPP-1"}`)}))
}

func TestLocalSink(t *testing.T) {
	h := &recordingHandler{}
	sink := NewLocalSink(h)
	require.NoError(t, sink.Emit(context.Background(), "validation_compliant", "OPP-9", "OPP-9"))
	require.NoError(t, sink.Emit(context.Background(), "milestone_completion", "OPP-9", "m1"))
	assert.Equal(t, []domain.Signal{
		{Type: domain.ConditionValidationCompliant, OpportunityID: "OPP-9", ReferenceID: "OPP-9"},
		{Type: domain.ConditionMilestoneCompletion, OpportunityID: "OPP-9", ReferenceID: "m1"},
	}, h.signals)
}
