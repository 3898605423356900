// Package ses is the secondary campaign send backend, built on the SES
// v2 bulk email API with per-recipient replacement templates.
package ses

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// API is the subset of the sesv2 client the sender uses.
type API interface {
	SendBulkEmail(ctx context.Context, params *sesv2.SendBulkEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendBulkEmailOutput, error)
}

// BulkRecipient is one destination with its substitution values.
type BulkRecipient struct {
	Email         string
	Substitutions map[string]string
}

// Sender submits bulk sends through SES.
type Sender struct {
	client API
	from   string
}

// NewSender loads default AWS config for the region.
func NewSender(ctx context.Context, region, from string) (*Sender, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &Sender{client: sesv2.NewFromConfig(cfg), from: from}, nil
}

// NewSenderWithAPI wires an explicit API, used by tests.
func NewSenderWithAPI(client API, from string) *Sender {
	return &Sender{client: client, from: from}
}

// SendBulk sends the HTML body to every recipient with inline-template
// substitution. It returns the number of accepted recipients.
func (s *Sender) SendBulk(ctx context.Context, subject, html string, recipients []BulkRecipient) (int, error) {
	entries := make([]types.BulkEmailEntry, 0, len(recipients))
	for _, r := range recipients {
		data, err := json.Marshal(r.Substitutions)
		if err != nil {
			return 0, fmt.Errorf("encoding substitutions for %s: %w", r.Email, err)
		}
		entries = append(entries, types.BulkEmailEntry{
			Destination: &types.Destination{
				ToAddresses: []string{r.Email},
			},
			ReplacementEmailContent: &types.ReplacementEmailContent{
				ReplacementTemplate: &types.ReplacementTemplate{
					ReplacementTemplateData: aws.String(string(data)),
				},
			},
		})
	}

	out, err := s.client.SendBulkEmail(ctx, &sesv2.SendBulkEmailInput{
		FromEmailAddress: aws.String(s.from),
		BulkEmailEntries: entries,
		DefaultContent: &types.BulkEmailContent{
			Template: &types.Template{
				TemplateContent: &types.EmailTemplateContent{
					Subject: aws.String(subject),
					Html:    aws.String(html),
				},
				TemplateData: aws.String("{}"),
			},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("ses bulk send: %w", err)
	}

	accepted := 0
	for _, r := range out.BulkEmailEntryResults {
		if r.Status == types.BulkEmailStatusSuccess {
			accepted++
		}
	}
	return accepted, nil
}
