package kafka

import (
	"context"
	"log/slog"
)

// Sink buffers events on a channel and publishes them in batches from a
// single goroutine, so enumerator shards can emit without blocking on the
// broker. Close flushes everything still buffered.
type Sink struct {
	producer  *Producer
	eventCh   chan Event
	batchSize int
	logger    *slog.Logger
	done      chan struct{}
}

// NewSink creates a Sink over the given producer.
func NewSink(producer *Producer, bufferSize, batchSize int) *Sink {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Sink{
		producer:  producer,
		eventCh:   make(chan Event, bufferSize),
		batchSize: batchSize,
		logger:    slog.Default().With("component", "kafka-sink"),
		done:      make(chan struct{}),
	}
}

// Start launches the publish loop. Events are grouped into batches of up to
// batchSize before each write.
func (s *Sink) Start(ctx context.Context) {
	go func() {
		defer close(s.done)
		batch := make([]Event, 0, s.batchSize)
		flush := func() {
			if len(batch) == 0 {
				return
			}
			if err := s.producer.PublishBatch(ctx, batch); err != nil {
				s.logger.Error("failed to publish batch", "count", len(batch), "error", err)
			}
			batch = batch[:0]
		}
		for {
			select {
			case event, ok := <-s.eventCh:
				if !ok {
					flush()
					return
				}
				batch = append(batch, event)
				if len(batch) >= s.batchSize {
					flush()
				}
			case <-ctx.Done():
				flush()
				return
			}
		}
	}()
}

// Emit enqueues one event, blocking if the buffer is full. Pair records must
// not be dropped, unlike best-effort telemetry.
func (s *Sink) Emit(event Event) {
	s.eventCh <- event
}

// Close flushes buffered events and waits for the publish loop to exit.
func (s *Sink) Close() {
	close(s.eventCh)
	<-s.done
}
