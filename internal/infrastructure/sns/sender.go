// Package sns delivers one-time codes over SMS via AWS SNS.
package sns

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/otp-gateway/internal/config"
	"github.com/otp-gateway/internal/domain"
)

type Sender struct {
	client *sns.Client
}

func NewSender(cfg *config.Config) (*Sender, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.SNSRegion),
	)
	if err != nil {
		return nil, err
	}
	return &Sender{client: sns.NewFromConfig(awsCfg)}, nil
}

// Send publishes the code to the destination phone number. Failures come
// back as a DeliveryOutcome value so the orchestrator can fall back to the
// next channel.
func (s *Sender) Send(ctx context.Context, destination, code string, purpose domain.Purpose) domain.DeliveryOutcome {
	message := fmt.Sprintf("%s code: %s. Do not share this code with anyone.", domain.PurposeLabel(purpose), code)
	out, err := s.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber: &destination,
		Message:     &message,
	})
	if err != nil {
		return domain.DeliveryOutcome{Err: fmt.Errorf("sns publish: %w", err)}
	}
	result := domain.DeliveryOutcome{Success: true}
	if out.MessageId != nil {
		result.ProviderMessageID = *out.MessageId
	}
	return result
}
