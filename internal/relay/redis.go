package relay

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type redisPublisherClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher publica en Redis Pub/Sub para que todas las instancias reciban el mensaje.
type RedisPublisher struct {
	client redisPublisherClient
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	if client == nil {
		return nil
	}
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, topic string, payload any) error {
	data, err := encode(payload)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, topic, data).Err()
}

// Bridge escucha los topics de salas en Redis y los reenvía al Broker local,
// donde están suscriptos los viewers conectados a esta instancia.
type Bridge struct {
	logger  *zap.Logger
	client  *redis.Client
	broker  *Broker
	pattern string
}

func NewBridge(logger *zap.Logger, client *redis.Client, broker *Broker) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		logger:  logger,
		client:  client,
		broker:  broker,
		pattern: TopicPattern,
	}
}

// Run bloquea hasta que el contexto se cancela o la suscripción se cierra.
func (b *Bridge) Run(ctx context.Context) error {
	pubsub := b.client.PSubscribe(ctx, b.pattern)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	b.logger.Info("relay bridge subscribed", zap.String("pattern", b.pattern))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.forward(msg)
		}
	}
}

func (b *Bridge) forward(msg *redis.Message) int {
	if msg == nil || !strings.HasPrefix(msg.Channel, topicPrefix) {
		return 0
	}
	return b.broker.PublishRaw(msg.Channel, []byte(msg.Payload))
}
