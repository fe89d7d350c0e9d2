package store

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vntrieu/mixplay/internal/chat"
)

// Sink is the write side of the archive.
type Sink interface {
	SaveMessage(ctx context.Context, room string, m chat.Message) error
	MarkDeleted(ctx context.Context, room string, id uuid.UUID, at time.Time) error
	MarkUserPurged(ctx context.Context, room string, userID uint32, at time.Time) (int64, error)
	MarkRoomCleared(ctx context.Context, room string, at time.Time) (int64, error)
	SavePoll(ctx context.Context, room string, p chat.Poll) (string, error)
}

type archiveOp struct {
	name string
	room string
	run  func(ctx context.Context, s Sink) error
}

// ArchiveWriter is a chat.Observer that queues archive writes for a single
// worker goroutine. Observer callbacks never block; when the queue is full the
// write is dropped and counted.
type ArchiveWriter struct {
	chat.NopObserver

	sink      Sink
	ops       chan archiveOp
	now       func() time.Time
	opTimeout time.Duration
	dropped   atomic.Int64
	failed    atomic.Int64
}

// NewArchiveWriter queues up to buffer pending writes.
func NewArchiveWriter(sink Sink, buffer int) *ArchiveWriter {
	if buffer <= 0 {
		buffer = 256
	}
	return &ArchiveWriter{
		sink:      sink,
		ops:       make(chan archiveOp, buffer),
		now:       time.Now,
		opTimeout: 5 * time.Second,
	}
}

// Run applies queued writes until ctx is done, then flushes what is left.
func (w *ArchiveWriter) Run(ctx context.Context) error {
	for {
		select {
		case op := <-w.ops:
			w.apply(context.Background(), op)
		case <-ctx.Done():
			w.flush()
			return nil
		}
	}
}

func (w *ArchiveWriter) flush() {
	for {
		select {
		case op := <-w.ops:
			w.apply(context.Background(), op)
		default:
			return
		}
	}
}

func (w *ArchiveWriter) apply(parent context.Context, op archiveOp) {
	ctx, cancel := context.WithTimeout(parent, w.opTimeout)
	defer cancel()
	if err := op.run(ctx, w.sink); err != nil {
		w.failed.Add(1)
		log.Printf("archive %s failed room=%s err=%v", op.name, op.room, err)
	}
}

func (w *ArchiveWriter) enqueue(op archiveOp) {
	select {
	case w.ops <- op:
	default:
		n := w.dropped.Add(1)
		log.Printf("archive queue full, dropped %s room=%s total_dropped=%d", op.name, op.room, n)
	}
}

// Dropped is the number of writes discarded because the queue was full.
func (w *ArchiveWriter) Dropped() int64 { return w.dropped.Load() }

// Failed is the number of writes the sink rejected.
func (w *ArchiveWriter) Failed() int64 { return w.failed.Load() }

func (w *ArchiveWriter) MessageReceived(room string, m chat.Message) {
	w.enqueue(archiveOp{name: "message", room: room, run: func(ctx context.Context, s Sink) error {
		return s.SaveMessage(ctx, room, m)
	}})
}

func (w *ArchiveWriter) WhisperReceived(room string, m chat.Message) {
	w.MessageReceived(room, m)
}

func (w *ArchiveWriter) MessageDeleted(room string, m chat.Message) {
	at := w.now().UTC()
	w.enqueue(archiveOp{name: "delete", room: room, run: func(ctx context.Context, s Sink) error {
		return s.MarkDeleted(ctx, room, m.ID, at)
	}})
}

func (w *ArchiveWriter) MessagesCleared(room string) {
	at := w.now().UTC()
	w.enqueue(archiveOp{name: "clear", room: room, run: func(ctx context.Context, s Sink) error {
		_, err := s.MarkRoomCleared(ctx, room, at)
		return err
	}})
}

func (w *ArchiveWriter) UserPurged(room string, userID uint32) {
	at := w.now().UTC()
	w.enqueue(archiveOp{name: "purge", room: room, run: func(ctx context.Context, s Sink) error {
		_, err := s.MarkUserPurged(ctx, room, userID, at)
		return err
	}})
}

func (w *ArchiveWriter) PollEnded(room string, p chat.Poll) {
	w.enqueue(archiveOp{name: "poll", room: room, run: func(ctx context.Context, s Sink) error {
		_, err := s.SavePoll(ctx, room, p)
		return err
	}})
}
