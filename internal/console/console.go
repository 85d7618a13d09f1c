// Package console implements a half-duplex, interrupt-driven console:
// one character at a time in each direction, with a pair of weighted
// semaphores standing in for the original's readAvail/writeDone device
// interrupts and a pair of mutexes so that concurrent readers and
// concurrent writers don't interleave their characters.
package console

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned by ReadChar/WriteChar once the console has been
// closed while a caller is still waiting on it.
var ErrClosed = errors.New("console: closed")

// Console is a synchronized front end over a raw input and output stream.
// The background read and write loops play the role of the device
// interrupt handler in the original: each runs independently of whoever
// is calling ReadBuffer/WriteBuffer, signalling completion through a
// semaphore rather than setting a flag the foreground has to poll.
type Console struct {
	readLock  sync.Mutex
	writeLock sync.Mutex

	// readAvail is released by readLoop once a character has been
	// fetched from the input stream, and acquired by ReadChar to collect
	// it. slotFree is the reverse signal: it starts available and is
	// re-released by ReadChar once it has copied the character out,
	// letting readLoop fetch the next one. Together they bound the
	// background loop to at most one character of read-ahead.
	readAvail *semaphore.Weighted
	slotFree  *semaphore.Weighted

	readMu  sync.Mutex
	lastRead byte
	readErr  error

	putCh     chan byte
	writeDone *semaphore.Weighted
	writeMu   sync.Mutex
	lastWriteErr error

	ctx    context.Context
	cancel context.CancelFunc
}

// New starts a console reading from in and writing to out. Both loops run
// until Close is called or their underlying stream reports an error.
func New(in io.Reader, out io.Writer) *Console {
	ctx, cancel := context.WithCancel(context.Background())

	readAvail := semaphore.NewWeighted(1)
	readAvail.Acquire(context.Background(), 1) // drained: nothing read yet

	writeDone := semaphore.NewWeighted(1)
	writeDone.Acquire(context.Background(), 1) // drained: nothing written yet

	c := &Console{
		readAvail: readAvail,
		slotFree:  semaphore.NewWeighted(1),
		putCh:     make(chan byte),
		writeDone: writeDone,
		ctx:       ctx,
		cancel:    cancel,
	}
	go c.readLoop(in)
	go c.writeLoop(out)
	return c
}

// Close stops the background loops. Any ReadChar/WriteChar call already
// blocked on the device will return ErrClosed.
func (c *Console) Close() {
	c.cancel()
}

func (c *Console) readLoop(in io.Reader) {
	r := bufio.NewReader(in)
	for {
		if err := c.slotFree.Acquire(c.ctx, 1); err != nil {
			return
		}
		b, err := r.ReadByte()

		c.readMu.Lock()
		c.lastRead, c.readErr = b, err
		c.readMu.Unlock()

		c.readAvail.Release(1)
		if err != nil {
			return
		}
	}
}

func (c *Console) writeLoop(out io.Writer) {
	for {
		select {
		case b := <-c.putCh:
			_, err := out.Write([]byte{b})
			c.writeMu.Lock()
			c.lastWriteErr = err
			c.writeMu.Unlock()
			c.writeDone.Release(1)
		case <-c.ctx.Done():
			return
		}
	}
}

// ReadChar blocks until the next character is available and returns it.
func (c *Console) ReadChar() (byte, error) {
	if err := c.readAvail.Acquire(c.ctx, 1); err != nil {
		return 0, ErrClosed
	}
	c.readMu.Lock()
	b, err := c.lastRead, c.readErr
	c.readMu.Unlock()

	c.slotFree.Release(1)
	return b, err
}

// WriteChar sends ch to the device and blocks until it has been written.
func (c *Console) WriteChar(ch byte) error {
	select {
	case c.putCh <- ch:
	case <-c.ctx.Done():
		return ErrClosed
	}

	if err := c.writeDone.Acquire(c.ctx, 1); err != nil {
		return ErrClosed
	}
	c.writeMu.Lock()
	err := c.lastWriteErr
	c.writeMu.Unlock()
	return err
}

// ReadBuffer reads into buf one character at a time until either a
// newline or len(buf) characters have been read, serialized against
// every other reader by readLock so that two readers' input cannot
// interleave. It returns the number of bytes read, excluding the
// newline itself; unlike the original, it writes nothing past what it
// actually read — there is no terminator byte appended to buf.
func (c *Console) ReadBuffer(buf []byte) (int, error) {
	c.readLock.Lock()
	defer c.readLock.Unlock()

	i := 0
	for i < len(buf) {
		ch, err := c.ReadChar()
		if err != nil {
			return i, err
		}
		if ch == '\n' {
			break
		}
		buf[i] = ch
		i++
	}
	return i, nil
}

// WriteBuffer writes every byte of buf to the device in order,
// serialized against every other writer by writeLock.
func (c *Console) WriteBuffer(buf []byte) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	for _, ch := range buf {
		if err := c.WriteChar(ch); err != nil {
			return err
		}
	}
	return nil
}
