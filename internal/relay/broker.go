package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

const (
	topicPrefix       = "/sub/chat/room/"
	defaultBufferSize = 256
)

// TopicPattern matchea todos los topics de salas de chat.
const TopicPattern = topicPrefix + "*"

// Publisher publica un mensaje a todos los suscriptores actuales de un topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// RoomTopic devuelve el topic de una sala.
func RoomTopic(roomID int64) string {
	return fmt.Sprintf("%s%d", topicPrefix, roomID)
}

// Subscription recibe los payloads publicados en un topic mientras está abierta.
// El canal se cierra al llamar Close o si el suscriptor no da abasto.
type Subscription struct {
	topic  string
	ch     chan []byte
	broker *Broker
}

func (s *Subscription) C() <-chan []byte { return s.ch }
func (s *Subscription) Topic() string    { return s.topic }

func (s *Subscription) Close() {
	s.broker.remove(s)
}

// Broker hace fan-out en proceso: entrega best-effort, a lo sumo una vez, a quienes
// estén suscriptos al momento de publicar. Publicar sin suscriptores no es un error.
type Broker struct {
	logger     *zap.Logger
	mu         sync.Mutex
	topics     map[string]map[*Subscription]struct{}
	bufferSize int
}

func NewBroker(logger *zap.Logger, bufferSize int) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Broker{
		logger:     logger,
		topics:     make(map[string]map[*Subscription]struct{}),
		bufferSize: bufferSize,
	}
}

func (b *Broker) Subscribe(topic string) *Subscription {
	sub := &Subscription{
		topic:  topic,
		ch:     make(chan []byte, b.bufferSize),
		broker: b,
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[*Subscription]struct{})
		b.topics[topic] = subs
	}
	subs[sub] = struct{}{}
	return sub
}

// Subscribers devuelve cuántos suscriptores tiene el topic.
func (b *Broker) Subscribers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[topic])
}

// Publish serializa el payload a JSON y lo entrega localmente.
func (b *Broker) Publish(_ context.Context, topic string, payload any) error {
	data, err := encode(payload)
	if err != nil {
		return err
	}
	b.PublishRaw(topic, data)
	return nil
}

// PublishRaw entrega el payload a cada suscriptor sin bloquear y devuelve a cuántos llegó.
// Se publica bajo el lock para que las llamadas de un mismo publicador conserven su orden.
func (b *Broker) PublishRaw(topic string, data []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	delivered := 0
	for sub := range b.topics[topic] {
		select {
		case sub.ch <- data:
			delivered++
		default:
			// suscriptor lento: se lo desconecta para no frenar la sala.
			b.logger.Warn("relay subscriber dropped", zap.String("topic", topic))
			b.dropLocked(sub)
		}
	}
	return delivered
}

func (b *Broker) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropLocked(sub)
}

func (b *Broker) dropLocked(sub *Subscription) {
	subs, ok := b.topics[sub.topic]
	if !ok {
		return
	}
	if _, exists := subs[sub]; !exists {
		return
	}
	delete(subs, sub)
	close(sub.ch)
	if len(subs) == 0 {
		delete(b.topics, sub.topic)
	}
}

func encode(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode relay payload: %w", err)
		}
		return data, nil
	}
}
