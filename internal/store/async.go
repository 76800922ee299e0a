package store

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/RA-CONSULTING/aureon-trading-sub000/internal/ledger"
)

type writeOp struct {
	open  *ledger.Position
	close *ledger.Closed
}

// AsyncSink decouples ledger writes from the trading path. Writes queue onto a
// bounded channel served by one worker; when the queue is full the write is
// dropped with a warning rather than stalling a cycle.
type AsyncSink struct {
	inner interface {
		SaveOpen(ledger.Position) error
		SaveClose(ledger.Closed) error
	}
	queue chan writeOp
	log   zerolog.Logger
	once  sync.Once
	done  chan struct{}
}

// NewAsyncSink starts the worker. queueSize <= 0 defaults to 256.
func NewAsyncSink(inner interface {
	SaveOpen(ledger.Position) error
	SaveClose(ledger.Closed) error
}, queueSize int, log zerolog.Logger) *AsyncSink {
	if queueSize <= 0 {
		queueSize = 256
	}
	s := &AsyncSink{
		inner: inner,
		queue: make(chan writeOp, queueSize),
		log:   log,
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for op := range s.queue {
		var err error
		switch {
		case op.open != nil:
			err = s.inner.SaveOpen(*op.open)
		case op.close != nil:
			err = s.inner.SaveClose(*op.close)
		}
		if err != nil {
			s.log.Warn().Err(err).Msg("async persistence write failed")
		}
	}
}

// SaveOpen enqueues an open write.
func (s *AsyncSink) SaveOpen(pos ledger.Position) error {
	s.enqueue(writeOp{open: &pos})
	return nil
}

// SaveClose enqueues a close write.
func (s *AsyncSink) SaveClose(cl ledger.Closed) error {
	s.enqueue(writeOp{close: &cl})
	return nil
}

func (s *AsyncSink) enqueue(op writeOp) {
	select {
	case s.queue <- op:
	default:
		s.log.Warn().Msg("persistence queue full, dropping write")
	}
}

// Flush drains pending writes and stops the worker. Call once at shutdown.
func (s *AsyncSink) Flush() {
	s.once.Do(func() { close(s.queue) })
	<-s.done
}
