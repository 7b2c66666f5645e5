package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"roomit/internal/domain"
)

type recordingWriter struct {
	mu     sync.Mutex
	events []Event
	err    error
	wrote  chan Event
}

func newRecordingWriter() *recordingWriter {
	return &recordingWriter{wrote: make(chan Event, 16)}
}

func (w *recordingWriter) WriteEvent(ev Event) error {
	w.mu.Lock()
	err := w.err
	if err == nil {
		w.events = append(w.events, ev)
	}
	w.mu.Unlock()
	if err == nil {
		w.wrote <- ev
	}
	return err
}

func (w *recordingWriter) written() []Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Event(nil), w.events...)
}

func waitDone(t *testing.T, e *Emitter) {
	t.Helper()
	select {
	case <-e.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("emitter %s did not close", e.ID())
	}
}

func TestEmitter_SendIsDeliveredByServe(t *testing.T) {
	req := require.New(t)
	e := NewEmitter(domain.BusinessRecipient(1), time.Minute)
	w := newRecordingWriter()
	ctx, cancel := context.WithCancel(context.Background())

	served := make(chan error, 1)
	go func() { served <- e.Serve(ctx, w) }()

	req.NoError(e.Send(Event{ID: "1", Name: EventNotification, Data: "hola"}))
	req.NoError(e.Send(Heartbeat()))

	<-w.wrote
	<-w.wrote
	cancel()

	req.NoError(<-served)
	req.True(e.Closed())
	req.NoError(e.Err())

	events := w.written()
	req.Len(events, 2)
	req.Equal("1", events[0].ID)
	req.True(events[1].IsComment())
}

func TestEmitter_SendAfterCloseFails(t *testing.T) {
	req := require.New(t)
	e := NewEmitter(domain.MemberRecipient(7), time.Minute)

	e.Complete()

	req.ErrorIs(e.Send(Heartbeat()), ErrEmitterClosed)
}

func TestEmitter_SendNeverBlocksWhenBufferFull(t *testing.T) {
	req := require.New(t)
	e := NewEmitter(domain.MemberRecipient(7), time.Minute)

	for i := 0; i < defaultBufferSize; i++ {
		req.NoError(e.Send(Heartbeat()))
	}

	req.ErrorIs(e.Send(Heartbeat()), ErrEmitterBackpressure)
}

func TestEmitter_WriteErrorFiresOnErrorOnce(t *testing.T) {
	req := require.New(t)
	e := NewEmitter(domain.BusinessRecipient(3), time.Minute)
	w := newRecordingWriter()
	w.err = errors.New("broken pipe")

	var calls int
	var got error
	e.OnError(func(err error) {
		calls++
		got = err
	})
	e.OnCompletion(func() { t.Fatalf("completion must not fire on error") })

	req.NoError(e.Send(Event{ID: "1", Data: "x"}))
	err := e.Serve(context.Background(), w)

	req.EqualError(err, "broken pipe")
	req.Equal(1, calls)
	req.EqualError(got, "broken pipe")

	e.CompleteWithError(errors.New("again"))
	e.Complete()
	req.Equal(1, calls)
}

func TestEmitter_TimeoutFiresOnTimeout(t *testing.T) {
	req := require.New(t)
	e := NewEmitter(domain.BusinessRecipient(3), 20*time.Millisecond)

	timedOut := make(chan struct{})
	e.OnTimeout(func() { close(timedOut) })

	err := e.Serve(context.Background(), newRecordingWriter())

	req.ErrorIs(err, ErrEmitterTimeout)
	<-timedOut
	req.ErrorIs(e.Err(), ErrEmitterTimeout)
}

func TestEmitter_CompleteFromOutsideStopsServe(t *testing.T) {
	req := require.New(t)
	e := NewEmitter(domain.BusinessRecipient(3), time.Minute)

	completed := make(chan struct{})
	e.OnCompletion(func() { close(completed) })

	served := make(chan error, 1)
	go func() { served <- e.Serve(context.Background(), newRecordingWriter()) }()

	e.Complete()
	waitDone(t, e)
	<-completed
	req.NoError(<-served)
}

func TestEmitter_ProbeWaitsForHeartbeatWrite(t *testing.T) {
	req := require.New(t)
	e := NewEmitter(domain.BusinessRecipient(3), time.Minute)
	w := newRecordingWriter()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = e.Serve(ctx, w) }()

	req.NoError(e.Probe(context.Background()))

	events := w.written()
	req.Len(events, 1)
	req.True(events[0].IsComment())
}

func TestEmitter_ProbeReportsHeartbeatWriteFailure(t *testing.T) {
	req := require.New(t)
	e := NewEmitter(domain.BusinessRecipient(3), time.Minute)
	w := newRecordingWriter()
	w.err = errors.New("connection reset")

	var got error
	e.OnError(func(err error) { got = err })
	go func() { _ = e.Serve(context.Background(), w) }()

	err := e.Probe(context.Background())

	req.ErrorIs(err, ErrHeartbeatFailed)
	req.ErrorContains(err, "connection reset")
	req.True(e.Closed())
	req.ErrorIs(got, ErrHeartbeatFailed)
}

func TestEmitter_DataWriteFailureIsNotHeartbeatFailure(t *testing.T) {
	req := require.New(t)
	e := NewEmitter(domain.BusinessRecipient(3), time.Minute)
	w := newRecordingWriter()
	w.err = errors.New("broken pipe")

	req.NoError(e.Send(Event{ID: "1", Data: "x"}))
	err := e.Serve(context.Background(), w)

	req.Error(err)
	req.NotErrorIs(err, ErrHeartbeatFailed)
}

func TestEmitter_ProbeOnClosedEmitter(t *testing.T) {
	req := require.New(t)
	e := NewEmitter(domain.MemberRecipient(7), time.Minute)
	e.Complete()

	req.ErrorIs(e.Probe(context.Background()), ErrEmitterClosed)
}

func TestEmitter_ProbeGivesUpWithContext(t *testing.T) {
	req := require.New(t)
	e := NewEmitter(domain.MemberRecipient(7), time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	req.ErrorIs(e.Probe(ctx), context.DeadlineExceeded)
	req.False(e.Closed())
}
