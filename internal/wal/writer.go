package wal

import (
	"bufio"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// DurabilityMode selects the commit-latency tier for one append.
type DurabilityMode int

const (
	// Safe fsyncs before the commit call returns.
	Safe DurabilityMode = iota
	// Group batches commits inside the writer's group-commit window and
	// fsyncs once per batch; callers wait for their batch's fsync.
	Group
	// Fast acknowledges the commit once it is queued, fsyncing in the
	// background on a best-effort basis.
	Fast
)

// request is one pending append, parked on the writer's queue until the
// group-commit loop picks it up.
type request struct {
	frame []byte
	done  chan error
}

var requestPool = sync.Pool{
	New: func() any { return &request{done: make(chan error, 1)} },
}

// Writer owns the WAL file exclusively and runs a group-commit loop: appends
// queue up, the loop drains the queue on a tick or when MaxBatch is reached,
// writes them all, and fsyncs once for the whole batch, so many concurrent
// transactions share one fsync.
type Writer struct {
	mu     sync.Mutex
	file   *os.File
	buf    *bufio.Writer
	queue  []*request
	closed bool

	window   time.Duration
	maxBatch int
	onFsync  func()

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

// Options configures a Writer's group-commit behavior.
type Options struct {
	Window   time.Duration // group-commit coalescing window
	MaxBatch int           // force a flush once this many requests queue up
	OnFsync  func()        // invoked once per successful batch fsync
}

// Open opens (creating if necessary) the WAL file at path for appending.
func Open(path string, opts Options) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "wal: open %s", path)
	}
	if opts.Window <= 0 {
		opts.Window = 25 * time.Millisecond
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = 256
	}
	w := &Writer{
		file:     f,
		buf:      bufio.NewWriterSize(f, 64*1024),
		window:   opts.Window,
		maxBatch: opts.MaxBatch,
		onFsync:  opts.OnFsync,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Append queues a pre-framed record and blocks according to mode: Safe and
// Group wait for the batch fsync that covers this record; Fast returns as
// soon as the record is queued.
func (w *Writer) Append(frame []byte, mode DurabilityMode) error {
	req := requestPool.Get().(*request)
	req.frame = frame

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		requestPool.Put(req)
		return errors.New("wal: writer closed")
	}
	w.queue = append(w.queue, req)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}

	if mode == Fast {
		return nil
	}
	if mode == Safe {
		// Safe fsyncs per commit rather than waiting for the group-commit
		// window or maxBatch threshold; concurrent Safe callers racing in
		// here still land in the same flushBatch call and share one fsync,
		// same as Group, they just never wait out the window to get it.
		w.flushBatch()
	}
	err := <-req.done
	req.frame = nil
	requestPool.Put(req)
	return err
}

// loop drains the queue either when it wakes (a new append arrived and the
// queue has reached maxBatch) or every window tick, whichever comes first.
func (w *Writer) loop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.window)
	defer ticker.Stop()
	for {
		select {
		case <-w.wake:
			w.mu.Lock()
			ready := len(w.queue) >= w.maxBatch
			w.mu.Unlock()
			if ready {
				w.flushBatch()
			}
		case <-ticker.C:
			w.flushBatch()
		case <-w.done:
			w.flushBatch()
			return
		}
	}
}

func (w *Writer) flushBatch() {
	w.mu.Lock()
	if len(w.queue) == 0 {
		w.mu.Unlock()
		return
	}
	batch := w.queue
	w.queue = nil

	var writeErr error
	for _, req := range batch {
		if _, err := w.buf.Write(req.frame); err != nil {
			writeErr = err
			break
		}
	}
	if writeErr == nil {
		writeErr = w.buf.Flush()
	}
	if writeErr == nil {
		writeErr = w.file.Sync()
		if writeErr == nil && w.onFsync != nil {
			w.onFsync()
		}
	}
	w.mu.Unlock()

	for _, req := range batch {
		req.done <- writeErr
	}
}

// Flush forces an immediate batch flush and fsync, independent of the
// window ticker. Used by Engine.Flush, by checkpoint, and by the legacy
// dangling-entry cleanup, which need every queued record durable.
func (w *Writer) Flush() error {
	select {
	case w.wake <- struct{}{}:
	default:
	}
	w.flushBatch()
	return nil
}

// Close stops the group-commit loop, flushing anything queued, and closes
// the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.done)
	w.wg.Wait()
	return w.file.Close()
}

// Truncate shrinks the WAL file to the given offset, used by checkpoint to
// reclaim space once all records up to offset are durable in segments.
func (w *Writer) Truncate(offset int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		return errors.Wrap(err, "wal: flush before truncate")
	}
	if err := w.file.Truncate(offset); err != nil {
		return errors.Wrap(err, "wal: truncate")
	}
	if _, err := w.file.Seek(offset, 0); err != nil {
		return errors.Wrap(err, "wal: seek after truncate")
	}
	return nil
}
