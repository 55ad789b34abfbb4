package mail

import (
	"context"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"
	"github.com/cockroachdb/errors"

	"outreach/internal/channel"
)

// sesAPI is the subset of the SES v2 client used here.
type sesAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

type SESMailer struct {
	client sesAPI
	from   string
	now    func() time.Time
}

// NewSES loads the default AWS credential chain and builds an SES v2 client.
func NewSES(ctx context.Context, from, region string) (*SESMailer, error) {
	if strings.TrimSpace(from) == "" {
		return nil, errors.New("ses from address is required")
	}
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}
	return newSESWithClient(sesv2.NewFromConfig(cfg), from), nil
}

func newSESWithClient(c sesAPI, from string) *SESMailer {
	return &SESMailer{client: c, from: from, now: time.Now}
}

func (m *SESMailer) SendMail(ctx context.Context, mail channel.Mail) (string, error) {
	raw, err := Build(m.from, mail, m.now())
	if err != nil {
		return "", err
	}
	out, err := m.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(m.from),
		Destination:      &types.Destination{ToAddresses: mail.To},
		Content:          &types.EmailContent{Raw: &types.RawMessage{Data: raw}},
	})
	if err != nil {
		return "", classifySES(err)
	}
	return aws.ToString(out.MessageId), nil
}

// classifySES treats credential, throttling-at-account and network problems
// as transport unavailability. Rejections of a single message are not.
func classifySES(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccountSuspendedException", "SendingPausedException",
			"UnrecognizedClientException", "InvalidClientTokenId", "AccessDeniedException":
			return channel.Unavailable(err)
		}
		return err
	}
	var tpErr interface{ Temporary() bool }
	if errors.As(err, &tpErr) || strings.Contains(err.Error(), "dial tcp") {
		return channel.Unavailable(err)
	}
	return err
}
