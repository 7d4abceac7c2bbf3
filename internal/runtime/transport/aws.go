package transport

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	amazonsns "github.com/aws/aws-sdk-go-v2/service/sns"
	amazonsqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	smithyendpoints "github.com/aws/smithy-go/endpoints"

	"github.com/drblury/dispatchkit/internal/runtime/config"
)

var (
	AWSDefaultConfigLoader  = awsconfig.LoadDefaultConfig
	SNSTopicResolverFactory = sns.NewGenerateArnTopicResolver
	SNSPublisherFactory     = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return sns.NewPublisher(cfg, logger)
	}
	SNSSubscriberFactory = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		return sns.NewSubscriber(cfg, sqsCfg, logger)
	}
)

const (
	localstackAccountID = "000000000000"
	awsAccountIDLength  = 12

	// sqsQueueSuffix is appended to the SNS topic name to form the SQS queue
	// each endpoint consumes from.
	sqsQueueSuffix = "dispatchkit"
)

// awsBuilder resolves the account, region and optional endpoint override
// once and shares them between the SNS publisher and the SNS/SQS subscriber.
type awsBuilder struct {
	conf      *config.Config
	logger    watermill.LoggerAdapter
	cfg       aws.Config
	accountID string
	region    string
	endpoint  *url.URL
}

func awsTransport(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	b, err := newAWSBuilder(ctx, conf, logger)
	if err != nil {
		return Transport{}, err
	}

	publisher, err := b.publisher()
	if err != nil {
		return Transport{}, err
	}
	subscriber, err := b.subscriber()
	if err != nil {
		_ = publisher.Close()
		return Transport{}, err
	}
	return Transport{Publisher: publisher, Subscriber: subscriber}, nil
}

func newAWSBuilder(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (*awsBuilder, error) {
	endpoint, err := parseAWSEndpoint(conf.AWSEndpoint)
	if err != nil {
		return nil, err
	}

	var opts []func(*awsconfig.LoadOptions) error
	if conf.AWSRegion != "" {
		opts = append(opts, awsconfig.WithRegion(conf.AWSRegion))
	}
	if conf.AWSAccessKeyID != "" && conf.AWSSecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(staticCredentials(conf.AWSAccessKeyID, conf.AWSSecretAccessKey)))
	}
	if endpoint != nil {
		opts = append(opts, awsconfig.WithBaseEndpoint(endpoint.String()))
	}

	cfg, err := AWSDefaultConfigLoader(ctx, opts...)
	if err != nil {
		logger.Error("Failed to load AWS config", err, watermill.LogFields{"region": conf.AWSRegion})
		return nil, err
	}
	// Loaders substituted in tests ignore the options.
	if conf.AWSRegion != "" {
		cfg.Region = conf.AWSRegion
	}

	b := &awsBuilder{conf: conf, logger: logger, cfg: cfg, region: cfg.Region, endpoint: endpoint}
	b.accountID = b.resolveAccountID()
	logger.Info("AWS transport configured", watermill.LogFields{
		"region":          b.region,
		"account_id":      b.accountID,
		"custom_endpoint": endpoint != nil,
	})
	return b, nil
}

// resolveAccountID trims quoting and falls back to the LocalStack account
// when a custom endpoint is set and the configured id is unusable.
func (b *awsBuilder) resolveAccountID() string {
	accountID := strings.Trim(b.conf.AWSAccountID, "\"' ")
	if b.endpoint == nil {
		return accountID
	}
	if len(accountID) != awsAccountIDLength {
		if accountID != "" {
			b.logger.Info("AWS account id is not 12 digits, using LocalStack default", watermill.LogFields{"account_id": accountID})
		}
		return localstackAccountID
	}
	return accountID
}

func (b *awsBuilder) topicResolver() (sns.TopicResolver, error) {
	resolver, err := SNSTopicResolverFactory(b.accountID, b.region)
	if err != nil {
		b.logger.Error("Failed to create SNS topic resolver", err, watermill.LogFields{
			"account_id": b.accountID,
			"region":     b.region,
		})
		return nil, err
	}
	return resolver, nil
}

func (b *awsBuilder) publisher() (message.Publisher, error) {
	resolver, err := b.topicResolver()
	if err != nil {
		return nil, err
	}
	return SNSPublisherFactory(sns.PublisherConfig{
		TopicResolver: resolver,
		AWSConfig:     b.cfg,
		Marshaler:     sns.DefaultMarshalerUnmarshaler{},
		OptFns:        b.snsOptions(),
	}, b.logger)
}

func (b *awsBuilder) subscriber() (message.Subscriber, error) {
	resolver, err := b.topicResolver()
	if err != nil {
		return nil, err
	}
	return SNSSubscriberFactory(
		sns.SubscriberConfig{
			AWSConfig:            b.cfg,
			OptFns:               b.snsOptions(),
			TopicResolver:        resolver,
			GenerateSqsQueueName: sqsQueueName,
		},
		sqs.SubscriberConfig{
			AWSConfig: b.cfg,
			OptFns:    b.sqsOptions(),
		},
		b.logger,
	)
}

func (b *awsBuilder) snsOptions() []func(*amazonsns.Options) {
	if b.endpoint == nil {
		return nil
	}
	return []func(*amazonsns.Options){
		amazonsns.WithEndpointResolverV2(sns.OverrideEndpointResolver{
			Endpoint: smithyendpoints.Endpoint{URI: *b.endpoint},
		}),
	}
}

func (b *awsBuilder) sqsOptions() []func(*amazonsqs.Options) {
	if b.endpoint == nil {
		return nil
	}
	return []func(*amazonsqs.Options){
		amazonsqs.WithEndpointResolverV2(sqs.OverrideEndpointResolver{
			Endpoint: smithyendpoints.Endpoint{URI: *b.endpoint},
		}),
	}
}

func sqsQueueName(_ context.Context, topic sns.TopicArn) (string, error) {
	name, err := sns.ExtractTopicNameFromTopicArn(topic)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s", name, sqsQueueSuffix), nil
}

func parseAWSEndpoint(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse AWS endpoint: %w", err)
	}
	return parsed, nil
}

func staticCredentials(accessKeyID, secretAccessKey string) aws.CredentialsProvider {
	return aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     accessKeyID,
			SecretAccessKey: secretAccessKey,
			Source:          "dispatchkit-config",
		}, nil
	})
}
