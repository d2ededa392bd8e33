package aws

import (
	"context"
	"fmt"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"legal-rag-workers/internal/common/config"
	"legal-rag-workers/internal/common/errors"
	"legal-rag-workers/internal/common/logger"
)

// Alert describes one failed pipeline run.
type Alert struct {
	Cause       errors.ErrorCode
	Stage       string
	Message     string
	Fingerprint string
	SessionID   string
	OccurredAt  time.Time
}

// AlertNotifier publishes pipeline failures to SNS and mails them via SES.
// Delivery failures are logged and never returned.
type AlertNotifier struct {
	cfg    config.AlertsConfig
	ses    SESService
	sns    SNSService
	logger logger.Logger
}

// NewAlertNotifier loads the default AWS credential chain for cfg.Region.
func NewAlertNotifier(ctx context.Context, cfg config.AlertsConfig, log logger.Logger) (*AlertNotifier, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewAlertNotifierWithClients(cfg, ses.NewFromConfig(awsCfg), sns.NewFromConfig(awsCfg), log), nil
}

func NewAlertNotifierWithClients(cfg config.AlertsConfig, sesClient SESService, snsClient SNSService, log logger.Logger) *AlertNotifier {
	return &AlertNotifier{
		cfg:    cfg,
		ses:    sesClient,
		sns:    snsClient,
		logger: log.WithFields(map[string]interface{}{"component": "alerts"}),
	}
}

// Notify sends a to every configured channel.
func (n *AlertNotifier) Notify(ctx context.Context, a Alert) {
	if n == nil || !n.cfg.Enabled {
		return
	}
	if a.OccurredAt.IsZero() {
		a.OccurredAt = time.Now().UTC()
	}

	subject := fmt.Sprintf("[legal-rag] pipeline failed: %s", a.Cause)
	body := formatAlert(a)

	if n.sns != nil && n.cfg.SNSTopicARN != "" {
		attrs := map[string]string{"cause": string(a.Cause), "stage": a.Stage}
		if err := publish(ctx, n.sns, n.cfg.SNSTopicARN, subject, body, attrs); err != nil {
			n.logger.Error("alert publish failed", map[string]interface{}{
				"error": err,
				"topic": n.cfg.SNSTopicARN,
			})
		}
	}

	if n.ses != nil && n.cfg.SESFrom != "" && len(n.cfg.SESTo) > 0 {
		if err := sendEmail(ctx, n.ses, n.cfg.SESFrom, n.cfg.SESTo, subject, body); err != nil {
			n.logger.Error("alert email failed", map[string]interface{}{
				"error": err,
				"to":    n.cfg.SESTo,
			})
		}
	}
}

func formatAlert(a Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "cause: %s\n", a.Cause)
	if a.Stage != "" {
		fmt.Fprintf(&b, "stage: %s\n", a.Stage)
	}
	fmt.Fprintf(&b, "message: %s\n", a.Message)
	if a.Fingerprint != "" {
		fmt.Fprintf(&b, "fingerprint: %s\n", a.Fingerprint)
	}
	if a.SessionID != "" {
		fmt.Fprintf(&b, "session: %s\n", a.SessionID)
	}
	fmt.Fprintf(&b, "time: %s\n", a.OccurredAt.Format(time.RFC3339))
	return b.String()
}
