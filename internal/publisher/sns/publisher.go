// Package sns implements an AWS SNS publisher.
package sns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// Config holds the region and optional static credentials. Without an access
// key the default AWS credential chain is used.
type Config struct {
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

type snsClient interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Publisher sends JSON messages to SNS topic ARNs.
type Publisher struct {
	client snsClient
}

// New loads AWS configuration for cfg and builds an SNS client.
func New(ctx context.Context, cfg Config) (*Publisher, error) {
	if cfg.Region == "" {
		return nil, errors.New("sns region is required")
	}
	opts := []func(*awscfg.LoadOptions) error{awscfg.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		opts = append(opts, awscfg.WithCredentialsProvider(creds))
	}
	awsCfg, err := awscfg.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Publisher{client: sns.NewFromConfig(awsCfg)}, nil
}

func newWithClient(client snsClient) *Publisher {
	return &Publisher{client: client}
}

// Publish marshals payload and publishes it to the topic ARN.
func (p *Publisher) Publish(ctx context.Context, topicARN string, payload any, attrs map[string]string) (string, error) {
	if p == nil || p.client == nil {
		return "", errors.New("sns publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	input := &sns.PublishInput{
		TopicArn: aws.String(topicARN),
		Message:  aws.String(string(data)),
	}
	if len(attrs) > 0 {
		input.MessageAttributes = make(map[string]types.MessageAttributeValue, len(attrs))
		for k, v := range attrs {
			input.MessageAttributes[k] = types.MessageAttributeValue{
				DataType:    aws.String("String"),
				StringValue: aws.String(v),
			}
		}
	}
	resp, err := p.client.Publish(ctx, input)
	if err != nil {
		return "", fmt.Errorf("send message to sns: %w", err)
	}
	return aws.ToString(resp.MessageId), nil
}

// Close implements publisher.Publisher; the SNS client holds no resources.
func (p *Publisher) Close() error { return nil }
