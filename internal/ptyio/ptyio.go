// Package ptyio exposes a byte stream as a raw-mode pseudo-terminal. The
// master side is served by two ring buffers so producers never block on a
// slow reader at the other end of the PTY.
//
//	p, err := ptyio.Open(ptyio.Options{Logger: logger})
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//	fmt.Println("serial port:", p.TTYName()) // e.g. /dev/pts/5
//
//	p.Write(notification)   // queued for the program holding the slave
//	<-p.Readable()
//	n, _ := p.Read(buf)     // bytes that program wrote
package ptyio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"github.com/srg/blez/internal/groutine"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

const (
	// DefaultPollTimeoutMs bounds how long the loops wait before rechecking
	// for shutdown.
	DefaultPollTimeoutMs = 50
	DefaultCapacity      = 4096
)

// ErrClosed is returned by Read and Write after Close.
var ErrClosed = errors.New("pty closed")

// Options configures Open. Zero values use the defaults above.
type Options struct {
	ReadCap       int // bytes buffered from the slave
	WriteCap      int // bytes buffered towards the slave
	PollTimeoutMs int
	Logger        *logrus.Logger
}

// Stats are runtime counters for monitoring backpressure.
type Stats struct {
	ReadQueueLen      int
	WriteQueueLen     int
	DroppedReadCount  uint64
	DroppedWriteCount uint64
	ReadBytesTotal    uint64
	WriteBytesTotal   uint64
}

// Pty is a PTY master with asynchronous, buffered I/O.
type Pty struct {
	logger        *logrus.Logger
	master        *os.File
	slave         *os.File
	ttyName       string
	pollTimeoutMs int

	readBuf  *ringbuffer.RingBuffer
	writeBuf *ringbuffer.RingBuffer

	readable    chan struct{}
	writeNotify chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
	once   sync.Once

	droppedRead  atomic.Uint64
	droppedWrite atomic.Uint64
	readBytes    atomic.Uint64
	writeBytes   atomic.Uint64
}

var _ io.ReadWriteCloser = (*Pty)(nil)

// Open creates a PTY pair in raw mode and starts the master loops.
func Open(opts Options) (*Pty, error) {
	if opts.ReadCap <= 0 {
		opts.ReadCap = DefaultCapacity
	}
	if opts.WriteCap <= 0 {
		opts.WriteCap = DefaultCapacity
	}
	if opts.PollTimeoutMs <= 0 {
		opts.PollTimeoutMs = DefaultPollTimeoutMs
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
		opts.Logger.SetOutput(io.Discard)
	}

	master, slave, err := createPTY()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pty{
		logger:        opts.Logger,
		master:        master,
		slave:         slave,
		ttyName:       slave.Name(),
		pollTimeoutMs: opts.PollTimeoutMs,
		readBuf:       ringbuffer.New(opts.ReadCap),
		writeBuf:      ringbuffer.New(opts.WriteCap),
		readable:      make(chan struct{}, 1),
		writeNotify:   make(chan struct{}, 1),
		cancel:        cancel,
	}

	p.wg.Add(2)
	groutine.Go(ctx, "pty-read-loop", p.readLoop)
	groutine.Go(ctx, "pty-write-loop", p.writeLoop)

	p.logger.WithField("tty", p.ttyName).Info("PTY opened")
	return p, nil
}

// createPTY opens a pair with the slave in raw mode and a non-blocking master.
func createPTY() (*os.File, *os.File, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create PTY (check permissions and available PTY devices): %w", err)
	}

	fail := func(step string, err error) (*os.File, *os.File, error) {
		name := slave.Name()
		_ = master.Close()
		_ = slave.Close()
		return nil, nil, fmt.Errorf("failed to %s on %s: %w", step, name, err)
	}
	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		return fail("set raw mode", err)
	}
	// Fd() switched the master to blocking mode; the loops poll instead.
	if err := syscall.SetNonblock(int(master.Fd()), true); err != nil {
		return fail("set non-blocking mode", err)
	}
	return master, slave, nil
}

// TTYName is the slave device path, e.g. /dev/pts/5.
func (p *Pty) TTYName() string {
	return p.ttyName
}

// Readable is signalled when Read has data. The signal is coalesced.
func (p *Pty) Readable() <-chan struct{} {
	return p.readable
}

// Write queues data for the slave without blocking. Bytes beyond the free
// capacity are dropped and counted; the returned n reports what was queued.
func (p *Pty) Write(data []byte) (int, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}
	if len(data) == 0 {
		return 0, nil
	}
	n, err := p.writeBuf.Write(data)
	if err != nil && !isCapacityErr(err) {
		return n, err
	}
	if n < len(data) {
		p.droppedWrite.Add(uint64(len(data) - n))
		p.logger.WithFields(logrus.Fields{
			"dropped": len(data) - n,
			"queued":  n,
		}).Warn("PTY write buffer overflow")
	}
	if n > 0 {
		notify(p.writeNotify)
	}
	return n, nil
}

// Read copies buffered slave output into buf. It never blocks and returns
// 0, nil when nothing is buffered.
func (p *Pty) Read(buf []byte) (int, error) {
	n, err := p.readBuf.Read(buf)
	if errors.Is(err, ringbuffer.ErrIsEmpty) {
		if p.closed.Load() {
			return 0, ErrClosed
		}
		return 0, nil
	}
	return n, err
}

// Stats returns a snapshot of the counters.
func (p *Pty) Stats() Stats {
	return Stats{
		ReadQueueLen:      p.readBuf.Length(),
		WriteQueueLen:     p.writeBuf.Length(),
		DroppedReadCount:  p.droppedRead.Load(),
		DroppedWriteCount: p.droppedWrite.Load(),
		ReadBytesTotal:    p.readBytes.Load(),
		WriteBytesTotal:   p.writeBytes.Load(),
	}
}

// Close stops both loops and closes the pair. Safe to call repeatedly.
func (p *Pty) Close() error {
	var err error
	p.once.Do(func() {
		p.closed.Store(true)
		p.cancel()
		p.wg.Wait()
		err = errors.Join(p.master.Close(), p.slave.Close())
		p.logger.WithField("tty", p.ttyName).Info("PTY closed")
	})
	return err
}

func (p *Pty) readLoop(ctx context.Context) {
	defer p.wg.Done()

	fd := int(p.master.Fd())
	pollFd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	buf := make([]byte, 4096)

	for ctx.Err() == nil {
		ready, err := unix.Poll(pollFd, p.pollTimeoutMs)
		if err != nil && !errors.Is(err, syscall.EINTR) {
			p.logger.WithError(err).Warn("PTY read poll failed")
			continue
		}
		if ready == 0 {
			continue
		}

		n, err := syscall.Read(fd, buf)
		if n > 0 {
			p.buffer(buf[:n])
		}
		switch {
		case err == nil, errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EINTR):
		case errors.Is(err, syscall.EIO):
			// no slave holder at the moment; the pair stays usable
		default:
			p.logger.WithError(err).Warn("PTY read loop exiting")
			return
		}
	}
}

func (p *Pty) buffer(data []byte) {
	n, err := p.readBuf.Write(data)
	if err != nil && !isCapacityErr(err) {
		p.logger.WithError(err).Warn("PTY read buffer write failed")
		return
	}
	if n < len(data) {
		p.droppedRead.Add(uint64(len(data) - n))
		p.logger.WithField("dropped", len(data)-n).Warn("PTY read buffer overflow")
	}
	if n > 0 {
		p.readBytes.Add(uint64(n))
		notify(p.readable)
	}
}

func (p *Pty) writeLoop(ctx context.Context) {
	defer p.wg.Done()

	fd := int(p.master.Fd())
	pollFd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	buf := make([]byte, 4096)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.writeNotify:
		}

		for {
			n, err := p.writeBuf.Read(buf)
			if n == 0 || errors.Is(err, ringbuffer.ErrIsEmpty) {
				break
			}
			if !p.drain(ctx, fd, pollFd, buf[:n]) {
				return
			}
		}
	}
}

// drain writes data to the master, waiting for writability on EAGAIN.
// It reports false when the loop must exit.
func (p *Pty) drain(ctx context.Context, fd int, pollFd []unix.PollFd, data []byte) bool {
	for len(data) > 0 {
		if ctx.Err() != nil {
			return false
		}
		n, err := syscall.Write(fd, data)
		if n > 0 {
			data = data[n:]
			p.writeBytes.Add(uint64(n))
		}
		switch {
		case err == nil, errors.Is(err, syscall.EINTR):
		case errors.Is(err, syscall.EAGAIN):
			if _, perr := unix.Poll(pollFd, p.pollTimeoutMs); perr != nil && !errors.Is(perr, syscall.EINTR) {
				p.logger.WithError(perr).Warn("PTY write poll failed")
			}
		default:
			p.logger.WithError(err).Warn("PTY write loop exiting")
			return false
		}
	}
	return true
}

func isCapacityErr(err error) bool {
	return errors.Is(err, ringbuffer.ErrIsFull) || errors.Is(err, ringbuffer.ErrTooMuchDataToWrite)
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
