package cqrs

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/components/cqrs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"

	"github.com/danghamo/techtrack/pkg/logger"
)

const topicPrefix = "techtrack-events."

// PipelineConfig configures the in-process event pipeline
type PipelineConfig struct {
	OutputBuffer int64
	CloseTimeout time.Duration
	TraceLogging bool
}

// Pipeline wires an in-process watermill pub/sub to a CQRS event bus and
// processor. Publish blocks until every handler has acked, so events from
// one publisher are handled in publish order.
type Pipeline struct {
	logger         *logger.Logger
	pubSub         *gochannel.GoChannel
	router         *message.Router
	eventBus       *cqrs.EventBus
	eventProcessor *cqrs.EventProcessor
}

// NewPipeline creates the pub/sub, router, event bus and event processor
func NewPipeline(config PipelineConfig, log *logger.Logger) (*Pipeline, error) {
	pipelineLogger := log.WithComponent("event-pipeline")
	watermillLogger := logger.NewWatermillAdapter(log, config.TraceLogging)

	if config.CloseTimeout <= 0 {
		config.CloseTimeout = 5 * time.Second
	}

	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            config.OutputBuffer,
		BlockPublishUntilSubscriberAck: true,
	}, watermillLogger)

	router, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: config.CloseTimeout,
	}, watermillLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create router: %w", err)
	}

	eventBus, err := cqrs.NewEventBusWithConfig(
		pubSub,
		cqrs.EventBusConfig{
			GeneratePublishTopic: func(params cqrs.GenerateEventPublishTopicParams) (string, error) {
				return topicPrefix + params.EventName, nil
			},
			Marshaler: cqrs.JSONMarshaler{},
			Logger:    watermillLogger,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create event bus: %w", err)
	}

	eventProcessor, err := cqrs.NewEventProcessorWithConfig(
		router,
		cqrs.EventProcessorConfig{
			GenerateSubscribeTopic: func(params cqrs.EventProcessorGenerateSubscribeTopicParams) (string, error) {
				return topicPrefix + params.EventName, nil
			},
			SubscriberConstructor: func(params cqrs.EventProcessorSubscriberConstructorParams) (message.Subscriber, error) {
				return pubSub, nil
			},
			Marshaler: cqrs.JSONMarshaler{},
			Logger:    watermillLogger,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create event processor: %w", err)
	}

	return &Pipeline{
		logger:         pipelineLogger,
		pubSub:         pubSub,
		router:         router,
		eventBus:       eventBus,
		eventProcessor: eventProcessor,
	}, nil
}

// AddHandlers registers event handlers. Must be called before Run.
func (p *Pipeline) AddHandlers(handlers ...cqrs.EventHandler) error {
	return p.eventProcessor.AddHandlers(handlers...)
}

// Publish implements EventPublisher
func (p *Pipeline) Publish(ctx context.Context, event interface{}) error {
	return p.eventBus.Publish(ctx, event)
}

// Run starts the router and blocks until it stops
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("Starting event pipeline")
	return p.router.Run(ctx)
}

// Running is closed once handlers are subscribed. Events published
// earlier are dropped.
func (p *Pipeline) Running() chan struct{} {
	return p.router.Running()
}

// Close stops the router and the pub/sub
func (p *Pipeline) Close() error {
	p.logger.Info("Closing event pipeline")

	if err := p.router.Close(); err != nil {
		p.logger.Error("Router shutdown error", zap.Error(err))
		return err
	}
	return p.pubSub.Close()
}
