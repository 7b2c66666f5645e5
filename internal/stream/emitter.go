package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"roomit/internal/domain"
)

const (
	DefaultTimeout    = 30 * time.Minute
	defaultBufferSize = 32
)

var (
	ErrEmitterClosed       = errors.New("emitter closed")
	ErrEmitterBackpressure = errors.New("emitter buffer full")
	ErrEmitterTimeout      = errors.New("emitter timeout")
	ErrHeartbeatFailed     = errors.New("heartbeat write failed")
)

// queued es un evento en espera de Serve; ack, si no es nil, recibe el resultado de la escritura.
type queued struct {
	ev  Event
	ack chan error
}

// Emitter es una conexión viva de notificaciones para un único destinatario.
// Send entrega sin bloquear; Serve corre en la goroutine dueña de la conexión y escribe.
type Emitter struct {
	id        string
	recipient domain.Recipient
	timeout   time.Duration
	events    chan queued
	done      chan struct{}
	once      sync.Once

	mu           sync.Mutex
	err          error
	onCompletion func()
	onTimeout    func()
	onError      func(error)
}

func NewEmitter(recipient domain.Recipient, timeout time.Duration) *Emitter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Emitter{
		id:        uuid.NewString(),
		recipient: recipient,
		timeout:   timeout,
		events:    make(chan queued, defaultBufferSize),
		done:      make(chan struct{}),
	}
}

func (e *Emitter) ID() string                  { return e.id }
func (e *Emitter) Recipient() domain.Recipient { return e.recipient }
func (e *Emitter) Done() <-chan struct{}       { return e.done }

func (e *Emitter) OnCompletion(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onCompletion = fn
}

func (e *Emitter) OnTimeout(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onTimeout = fn
}

func (e *Emitter) OnError(fn func(error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onError = fn
}

// Err devuelve la causa de cierre, nil si se completó normalmente o sigue abierto.
func (e *Emitter) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func (e *Emitter) Closed() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// Send encola el evento para la goroutine dueña. Nunca bloquea.
func (e *Emitter) Send(ev Event) error {
	return e.enqueue(queued{ev: ev})
}

// Probe encola un heartbeat y espera a que Serve lo escriba. Devuelve el error de
// escritura (envuelto en ErrHeartbeatFailed), el de encolado, o ctx.Err() si se agota la espera.
func (e *Emitter) Probe(ctx context.Context) error {
	ack := make(chan error, 1)
	if err := e.enqueue(queued{ev: Heartbeat(), ack: ack}); err != nil {
		return err
	}
	select {
	case err := <-ack:
		return err
	case <-e.done:
		select {
		case err := <-ack:
			return err
		default:
		}
		if err := e.Err(); err != nil {
			return err
		}
		return ErrEmitterClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Emitter) enqueue(item queued) error {
	select {
	case <-e.done:
		return ErrEmitterClosed
	default:
	}
	select {
	case e.events <- item:
		return nil
	case <-e.done:
		return ErrEmitterClosed
	default:
		return ErrEmitterBackpressure
	}
}

// Complete cierra la conexión sin error.
func (e *Emitter) Complete() {
	e.finish(nil, func() func() {
		return e.onCompletion
	})
}

// CompleteWithError cierra la conexión por un fallo de envío.
func (e *Emitter) CompleteWithError(err error) {
	if err == nil {
		err = ErrEmitterClosed
	}
	e.finish(err, func() func() {
		if e.onError == nil {
			return nil
		}
		fn := e.onError
		return func() { fn(err) }
	})
}

func (e *Emitter) expire() {
	e.finish(ErrEmitterTimeout, func() func() {
		return e.onTimeout
	})
}

// finish aplica la transición terminal una sola vez. El callback de esa causa corre antes
// de cerrar done, así quien espera Done ya ve sus efectos.
func (e *Emitter) finish(cause error, pick func() func()) {
	e.once.Do(func() {
		e.mu.Lock()
		e.err = cause
		callback := pick()
		e.mu.Unlock()

		if callback != nil {
			callback()
		}
		close(e.done)
	})
}

// Serve escribe los eventos encolados hasta que la conexión termina por cierre del
// cliente, inactividad o error de escritura. Solo los eventos con datos reinician el timeout.
// Un heartbeat que no se puede escribir cierra la conexión con ErrHeartbeatFailed.
func (e *Emitter) Serve(ctx context.Context, w EventWriter) error {
	timer := time.NewTimer(e.timeout)
	defer timer.Stop()

	for {
		select {
		case <-e.done:
			return e.Err()
		case <-ctx.Done():
			e.Complete()
			return nil
		case <-timer.C:
			e.expire()
			return ErrEmitterTimeout
		case item := <-e.events:
			ev := item.ev
			if err := w.WriteEvent(ev); err != nil {
				if ev.IsComment() {
					err = fmt.Errorf("%w: %w", ErrHeartbeatFailed, err)
				}
				e.CompleteWithError(err)
				if item.ack != nil {
					item.ack <- err
				}
				return err
			}
			if item.ack != nil {
				item.ack <- nil
			}
			if !ev.IsComment() {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(e.timeout)
			}
		}
	}
}
