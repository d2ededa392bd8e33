package aws

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"legal-rag-workers/internal/common/config"
	"legal-rag-workers/internal/common/errors"
	"legal-rag-workers/internal/common/logger"
)

// ==========================
// Mock Implementations
// ==========================

type MockSESService struct {
	inputs []*ses.SendEmailInput
	err    error
}

func (m *MockSESService) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	m.inputs = append(m.inputs, params)
	return &ses.SendEmailOutput{}, m.err
}

type MockSNSService struct {
	inputs []*sns.PublishInput
	err    error
}

func (m *MockSNSService) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	m.inputs = append(m.inputs, params)
	return &sns.PublishOutput{}, m.err
}

func alertsConfig() config.AlertsConfig {
	return config.AlertsConfig{
		Enabled:     true,
		Region:      "us-east-1",
		SNSTopicARN: "arn:aws:sns:us-east-1:123:legal-alerts",
		SESFrom:     "alerts@example.com",
		SESTo:       []string{"oncall@example.com"},
	}
}

func TestNotify_SendsToBothChannels(t *testing.T) {
	mockSES := &MockSESService{}
	mockSNS := &MockSNSService{}
	n := NewAlertNotifierWithClients(alertsConfig(), mockSES, mockSNS, logger.NewTestLogger(t))

	n.Notify(context.Background(), Alert{
		Cause:       errors.ErrCodeSynthesisUnavailable,
		Stage:       "SYNTHESIZING",
		Message:     "genai down",
		Fingerprint: "abc123",
	})

	require.Len(t, mockSNS.inputs, 1)
	assert.Equal(t, "arn:aws:sns:us-east-1:123:legal-alerts", *mockSNS.inputs[0].TopicArn)
	assert.Contains(t, *mockSNS.inputs[0].Message, "cause: SYNTHESIS_UNAVAILABLE")
	assert.Contains(t, *mockSNS.inputs[0].Message, "fingerprint: abc123")
	assert.Equal(t, "SYNTHESIZING", *mockSNS.inputs[0].MessageAttributes["stage"].StringValue)

	require.Len(t, mockSES.inputs, 1)
	assert.Equal(t, []string{"oncall@example.com"}, mockSES.inputs[0].Destination.ToAddresses)
	assert.Contains(t, *mockSES.inputs[0].Message.Subject.Data, "SYNTHESIS_UNAVAILABLE")
}

func TestNotify_DisabledSendsNothing(t *testing.T) {
	cfg := alertsConfig()
	cfg.Enabled = false
	mockSES := &MockSESService{}
	mockSNS := &MockSNSService{}
	n := NewAlertNotifierWithClients(cfg, mockSES, mockSNS, logger.NewNoOpLogger())

	n.Notify(context.Background(), Alert{Cause: errors.ErrCodePipelineFailed})

	assert.Empty(t, mockSES.inputs)
	assert.Empty(t, mockSNS.inputs)

	var nilNotifier *AlertNotifier
	nilNotifier.Notify(context.Background(), Alert{})
}

func TestNotify_DeliveryErrorsAreSwallowed(t *testing.T) {
	mockSES := &MockSESService{err: stderrors.New("throttled")}
	mockSNS := &MockSNSService{err: stderrors.New("denied")}
	n := NewAlertNotifierWithClients(alertsConfig(), mockSES, mockSNS, logger.NewNoOpLogger())

	assert.NotPanics(t, func() {
		n.Notify(context.Background(), Alert{Cause: errors.ErrCodeRetrievalUnavailable, Message: "es and pg down"})
	})
	assert.Len(t, mockSES.inputs, 1)
	assert.Len(t, mockSNS.inputs, 1)
}
