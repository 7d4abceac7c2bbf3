package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	amazonsns "github.com/aws/aws-sdk-go-v2/service/sns"
	amazonsqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/dispatchkit/internal/runtime/config"
)

func stubAWSLoader(t *testing.T, cfg aws.Config, err error) *int {
	t.Helper()
	orig := AWSDefaultConfigLoader
	t.Cleanup(func() { AWSDefaultConfigLoader = orig })

	var optionCount int
	AWSDefaultConfigLoader = func(_ context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		optionCount = len(optFns)
		return cfg, err
	}
	return &optionCount
}

func stubAWSClients(t *testing.T) (*[]string, *sns.SubscriberConfig, *sqs.SubscriberConfig) {
	t.Helper()
	origTopic, origPub, origSub := SNSTopicResolverFactory, SNSPublisherFactory, SNSSubscriberFactory
	t.Cleanup(func() {
		SNSTopicResolverFactory, SNSPublisherFactory, SNSSubscriberFactory = origTopic, origPub, origSub
	})

	accounts := &[]string{}
	SNSTopicResolverFactory = func(accountID, region string) (*sns.GenerateArnTopicResolver, error) {
		*accounts = append(*accounts, accountID)
		return origTopic(accountID, region)
	}
	SNSPublisherFactory = func(cfg sns.PublisherConfig, _ watermill.LoggerAdapter) (message.Publisher, error) {
		for _, opt := range cfg.OptFns {
			opt(&amazonsns.Options{})
		}
		return &testPublisher{}, nil
	}
	snsCfg := &sns.SubscriberConfig{}
	sqsCfg := &sqs.SubscriberConfig{}
	SNSSubscriberFactory = func(cfg sns.SubscriberConfig, q sqs.SubscriberConfig, _ watermill.LoggerAdapter) (message.Subscriber, error) {
		for _, opt := range q.OptFns {
			opt(&amazonsqs.Options{})
		}
		*snsCfg = cfg
		*sqsCfg = q
		return &testSubscriber{}, nil
	}
	return accounts, snsCfg, sqsCfg
}

func TestAWSTransport(t *testing.T) {
	options := stubAWSLoader(t, aws.Config{Region: "us-east-1"}, nil)
	accounts, snsCfg, sqsCfg := stubAWSClients(t)

	conf := &config.Config{
		AWSRegion:          "eu-central-1",
		AWSAccountID:       " '123456789012' ",
		AWSAccessKeyID:     "key",
		AWSSecretAccessKey: "secret",
	}
	tr, err := awsTransport(context.Background(), conf, watermill.NopLogger{})
	require.NoError(t, err)
	require.NotNil(t, tr.Publisher)
	require.NotNil(t, tr.Subscriber)

	assert.Equal(t, 2, *options)
	assert.Equal(t, []string{"123456789012", "123456789012"}, *accounts)
	assert.Equal(t, "eu-central-1", sqsCfg.AWSConfig.Region)
	assert.Empty(t, snsCfg.OptFns)
	assert.Empty(t, sqsCfg.OptFns)

	queue, err := snsCfg.GenerateSqsQueueName(context.Background(), "arn:aws:sns:eu-central-1:123456789012:ws-minor")
	require.NoError(t, err)
	assert.Equal(t, "ws-minor-dispatchkit", queue)
}

func TestAWSTransport_LocalStackFallbacks(t *testing.T) {
	stubAWSLoader(t, aws.Config{}, nil)
	accounts, snsCfg, sqsCfg := stubAWSClients(t)

	conf := &config.Config{AWSRegion: "us-west-2", AWSAccountID: "bad", AWSEndpoint: "http://localhost:4566"}
	_, err := awsTransport(context.Background(), conf, watermill.NopLogger{})
	require.NoError(t, err)

	assert.Equal(t, localstackAccountID, (*accounts)[0])
	assert.Len(t, snsCfg.OptFns, 1)
	assert.Len(t, sqsCfg.OptFns, 1)

	*accounts = nil
	conf.AWSAccountID = ""
	_, err = awsTransport(context.Background(), conf, watermill.NopLogger{})
	require.NoError(t, err)
	assert.Equal(t, localstackAccountID, (*accounts)[0])
}

func TestAWSTransport_Errors(t *testing.T) {
	t.Run("loader", func(t *testing.T) {
		stubAWSLoader(t, aws.Config{}, errors.New("no credentials"))
		_, err := awsTransport(context.Background(), &config.Config{AWSRegion: "us-east-1"}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "no credentials")
	})

	t.Run("endpoint", func(t *testing.T) {
		stubAWSLoader(t, aws.Config{}, nil)
		_, err := awsTransport(context.Background(), &config.Config{AWSEndpoint: "://bad"}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "parse AWS endpoint")
	})

	t.Run("resolver", func(t *testing.T) {
		stubAWSLoader(t, aws.Config{}, nil)
		orig := SNSTopicResolverFactory
		t.Cleanup(func() { SNSTopicResolverFactory = orig })
		SNSTopicResolverFactory = func(string, string) (*sns.GenerateArnTopicResolver, error) {
			return nil, errors.New("resolver")
		}
		_, err := awsTransport(context.Background(), &config.Config{AWSRegion: "us-east-1"}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "resolver")
	})

	t.Run("subscriber closes publisher", func(t *testing.T) {
		stubAWSLoader(t, aws.Config{}, nil)
		origPub, origSub := SNSPublisherFactory, SNSSubscriberFactory
		t.Cleanup(func() { SNSPublisherFactory, SNSSubscriberFactory = origPub, origSub })
		pub := &testPublisher{}
		SNSPublisherFactory = func(sns.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) { return pub, nil }
		SNSSubscriberFactory = func(sns.SubscriberConfig, sqs.SubscriberConfig, watermill.LoggerAdapter) (message.Subscriber, error) {
			return nil, errors.New("sqs")
		}
		_, err := awsTransport(context.Background(), &config.Config{AWSRegion: "us-east-1", AWSAccountID: "123456789012"}, watermill.NopLogger{})
		require.Error(t, err)
		assert.Equal(t, 1, pub.closed)
	})
}

func TestStaticCredentials(t *testing.T) {
	creds, err := staticCredentials("id", "secret").Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "id", creds.AccessKeyID)
	assert.Equal(t, "secret", creds.SecretAccessKey)
}
