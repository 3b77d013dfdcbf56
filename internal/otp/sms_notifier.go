package otp

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"github.com/The-Burnes-Center/ai-iep-sub001/internal/config"
	"github.com/The-Burnes-Center/ai-iep-sub001/internal/util"
)

const (
	smsTypeAttribute  = "AWS.SNS.SMS.SMSType"
	maxPriceAttribute = "AWS.SNS.SMS.MaxPrice"
	senderIDAttribute = "AWS.SNS.SMS.SenderID"
)

// Delivery acknowledges a message accepted by the gateway.
type Delivery struct {
	MessageID string
	SentAt    time.Time
}

// Notifier delivers a code out of band.
type Notifier interface {
	SendCode(ctx context.Context, phoneNumber, code string) (*Delivery, error)
}

// SNSPublisher is the subset of the SNS client used for SMS.
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SMSNotifier sends transactional SMS through Amazon SNS.
type SMSNotifier struct {
	client SNSPublisher
	cfg    config.SMSConfig
	logger *zap.Logger
}

func NewSMSNotifier(client SNSPublisher, cfg config.SMSConfig, logger *zap.Logger) *SMSNotifier {
	return &SMSNotifier{
		client: client,
		cfg:    cfg,
		logger: logger,
	}
}

// SendCode validates the number and publishes the code to it. The code itself
// is never logged.
func (n *SMSNotifier) SendCode(ctx context.Context, phoneNumber, code string) (*Delivery, error) {
	if !util.IsE164(phoneNumber) {
		return nil, fmt.Errorf("%w: not in E.164 format", ErrInvalidPhoneNumber)
	}

	if n.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.cfg.SendTimeout)
		defer cancel()
	}

	attrs := map[string]snstypes.MessageAttributeValue{
		smsTypeAttribute: {
			DataType:    aws.String("String"),
			StringValue: aws.String("Transactional"),
		},
	}
	if n.cfg.MaxPrice != "" {
		attrs[maxPriceAttribute] = snstypes.MessageAttributeValue{
			DataType:    aws.String("Number"),
			StringValue: aws.String(n.cfg.MaxPrice),
		}
	}
	if n.cfg.SenderID != "" {
		attrs[senderIDAttribute] = snstypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(n.cfg.SenderID),
		}
	}

	out, err := n.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(phoneNumber),
		Message:           aws.String(fmt.Sprintf(n.messageTemplate(), code)),
		MessageAttributes: attrs,
	})
	if err != nil {
		n.logger.Error("SMS publish failed", util.ErrorField(err))
		return nil, fmt.Errorf("%w: %v", ErrDelivery, err)
	}

	delivery := &Delivery{
		MessageID: aws.ToString(out.MessageId),
		SentAt:    time.Now().UTC(),
	}
	n.logger.Info("SMS code sent", util.String("message_id", delivery.MessageID))
	return delivery, nil
}

func (n *SMSNotifier) messageTemplate() string {
	if n.cfg.MessageTemplate == "" {
		return "Your verification code is: %s"
	}
	return n.cfg.MessageTemplate
}
