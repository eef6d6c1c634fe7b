package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/fathima-sithara/messaging-service/internal/metrics"
	"github.com/fathima-sithara/messaging-service/internal/store"
)

var (
	// ErrStorageUnavailable covers failed inserts and an open breaker. The
	// message may already have been delivered; delivery is never rolled
	// back. The client is told so it can retry with the same token.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrQueueFull is returned when the pipeline cannot accept more work.
	ErrQueueFull = errors.New("persistence queue full")
)

// EventPublisher receives a best-effort notification after each durable
// insert. *kafka.Producer implements it.
type EventPublisher interface {
	PublishMessageStored(ctx context.Context, m *store.Message) error
}

// Job is one logical send to make durable. Ack is invoked exactly once from
// a worker goroutine, with the stored record on success (a deduplicated
// retry counts as success) or ErrStorageUnavailable on failure.
type Job struct {
	Msg *store.Message
	Ack func(persisted *store.Message, err error)
}

// Pipeline persists messages asynchronously, decoupled from relay delivery.
// Inserts go through a circuit breaker so a down store sheds load fast
// instead of piling up blocked workers.
type Pipeline struct {
	store   store.MessageStore
	events  EventPublisher
	breaker *gobreaker.CircuitBreaker
	log     *zap.SugaredLogger

	jobs chan Job
	wg   sync.WaitGroup

	insertTimeout time.Duration
}

func New(st store.MessageStore, events EventPublisher, workers, queueSize int, log *zap.SugaredLogger) *Pipeline {
	p := &Pipeline{
		store:  st,
		events: events,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "message-store",
			Timeout: 10 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		log:           log,
		jobs:          make(chan Job, queueSize),
		insertTimeout: 5 * time.Second,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Enqueue hands a send to the workers without blocking the caller's
// delivery path. A full queue is surfaced as ErrStorageUnavailable-class
// backpressure rather than a stall.
func (p *Pipeline) Enqueue(job Job) error {
	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop drains queued jobs and waits for the workers to finish.
func (p *Pipeline) Stop() {
	close(p.jobs)
	p.wg.Wait()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.process(job)
	}
}

func (p *Pipeline) process(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), p.insertTimeout)
	defer cancel()

	res, err := p.breaker.Execute(func() (interface{}, error) {
		m, err := p.store.InsertMessage(ctx, job.Msg)
		if errors.Is(err, store.ErrDuplicateSend) {
			// retried token: the original record stands, report success
			metrics.DuplicateSends.Inc()
			return m, nil
		}
		return m, err
	})
	if err != nil {
		metrics.PersistFailures.Inc()
		p.log.Errorw("persist failed",
			"token", job.Msg.Token, "sender_id", job.Msg.SenderID, "err", err)
		if job.Ack != nil {
			job.Ack(nil, ErrStorageUnavailable)
		}
		return
	}

	persisted := res.(*store.Message)
	metrics.PersistedMessages.Inc()
	if p.events != nil {
		if err := p.events.PublishMessageStored(ctx, persisted); err != nil {
			p.log.Warnw("publish message-stored event", "id", persisted.ID, "err", err)
		}
	}
	if job.Ack != nil {
		job.Ack(persisted, nil)
	}
}
