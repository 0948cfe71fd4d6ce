// File: protocol/conn.go
// Package protocol implements the per-connection HTTP/1.1 state machine.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Conn owns a socket's read and write buffers. It is handed back and forth
// between the reactor (I/O) and one worker (parse + respond); the Owner flag
// records which side holds it and every entry point checks it.

package protocol

import (
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"sync/atomic"

	"github.com/momentics/hioload-httpd/api"
	"golang.org/x/sys/unix"
)

// Options are shared by every connection of a server.
type Options struct {
	DocRoot         string
	ReadBufferSize  int
	WriteBufferSize int
	Logger          *slog.Logger
}

func (o *Options) normalize() {
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = DefaultReadBufferSize
	}
	if o.WriteBufferSize <= 0 {
		o.WriteBufferSize = DefaultWriteBufferSize
	}
	if o.DocRoot == "" {
		o.DocRoot = "./"
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Conn is one client connection.
type Conn struct {
	fd    int
	addr  netip.AddrPort
	gen   uint64
	owner atomic.Int32
	opts  *Options
	log   *slog.Logger

	onDone func(*Conn)
	next   Next

	readBuf   []byte
	readIdx   int // bytes buffered
	checkIdx  int // scan cursor
	startLine int // start of the line being parsed
	lineEnd   int // end of the last complete line, terminator excluded
	consumed  int // end of the completed request, 0 while incomplete

	writeBuf []byte
	writeIdx int
	scratch  []byte

	checkState    CheckState
	method        Method
	url           []byte
	version       []byte
	host          []byte
	body          []byte
	contentLength int
	linger        bool

	realFile string
	fileStat unix.Stat_t
	fileAddr []byte

	ivArr         [2][]byte
	iv            [][]byte
	bytesToSend   int
	bytesHaveSent int
	status        int
}

// NewConn allocates a connection with buffers sized by opts. The same Conn is
// reused for every socket that lands in its table slot.
func NewConn(opts *Options) *Conn {
	opts.normalize()
	c := &Conn{
		fd:       -1,
		opts:     opts,
		log:      opts.Logger,
		readBuf:  make([]byte, opts.ReadBufferSize),
		writeBuf: make([]byte, opts.WriteBufferSize),
		scratch:  make([]byte, 0, 128),
	}
	c.init()
	return c
}

// Init binds c to a freshly accepted socket. The reactor owns it afterwards.
// onDone is invoked by the worker when Process finishes.
func (c *Conn) Init(fd int, addr netip.AddrPort, gen uint64, onDone func(*Conn)) {
	c.fd = fd
	c.addr = addr
	c.gen = gen
	c.onDone = onDone
	c.owner.Store(int32(api.OwnerReactor))
	c.init()
	c.readIdx = 0
}

// init resets parser and writer state. The read fill cursor is left to the caller.
func (c *Conn) init() {
	c.checkState = StateRequestLine
	c.method = MethodGet
	c.checkIdx = 0
	c.startLine = 0
	c.lineEnd = 0
	c.consumed = 0
	c.writeIdx = 0

	c.url = nil
	c.version = nil
	c.host = nil
	c.body = nil
	c.contentLength = 0
	c.linger = false
	c.realFile = ""
	c.fileStat = unix.Stat_t{}

	c.iv = nil
	c.bytesToSend = 0
	c.bytesHaveSent = 0
	c.status = 0
	c.next = NextRead
}

// Reset prepares c for the next request on a keep-alive connection. Bytes
// received after the completed request are moved to the buffer start.
func (c *Conn) Reset() {
	leftover := 0
	if c.consumed > 0 && c.consumed < c.readIdx {
		leftover = copy(c.readBuf, c.readBuf[c.consumed:c.readIdx])
	}
	c.unmap()
	c.init()
	c.readIdx = leftover
}

// Close releases the socket and any file mapping. It is safe to call twice.
func (c *Conn) Close() error {
	c.unmap()
	c.owner.Store(int32(api.OwnerNone))
	if c.fd < 0 {
		return nil
	}
	fd := c.fd
	c.fd = -1
	c.readIdx = 0
	c.init()
	return unix.Close(fd)
}

// HandOff transfers ownership from the reactor to a worker.
func (c *Conn) HandOff() error {
	if !c.owner.CompareAndSwap(int32(api.OwnerReactor), int32(api.OwnerWorker)) {
		return fmt.Errorf("hand off fd=%d held by %s: %w", c.fd, c.Owner(), api.ErrNotOwner)
	}
	return nil
}

// Reclaim transfers ownership from a worker back to the reactor.
func (c *Conn) Reclaim() error {
	if !c.owner.CompareAndSwap(int32(api.OwnerWorker), int32(api.OwnerReactor)) {
		return fmt.Errorf("reclaim fd=%d held by %s: %w", c.fd, c.Owner(), api.ErrNotOwner)
	}
	return nil
}

// Owner reports who currently holds c.
func (c *Conn) Owner() api.Owner { return api.Owner(c.owner.Load()) }

// Read drains the socket into the read buffer until it would block.
// A full buffer stops reading without error; the parser turns that into 400.
// End of stream after new bytes is not an error, so a request followed by a
// half-close is still answered; the next Read reports io.EOF.
func (c *Conn) Read() error {
	if c.Owner() != api.OwnerReactor {
		return api.ErrNotOwner
	}
	got := 0
	for c.readIdx < len(c.readBuf) {
		n, err := unix.Read(c.fd, c.readBuf[c.readIdx:])
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return nil
			}
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("read fd=%d: %w", c.fd, err)
		}
		if n == 0 {
			if got > 0 {
				return nil
			}
			return io.EOF
		}
		got += n
		c.readIdx += n
	}
	return nil
}

// Feed appends p to the read buffer and advances the parser, as if p had
// just been received. It returns the number of bytes accepted and the outcome.
func (c *Conn) Feed(p []byte) (int, HTTPCode) {
	n := copy(c.readBuf[c.readIdx:], p)
	c.readIdx += n
	return n, c.processRead()
}

// Process is the worker entry point: parse what is buffered and, if a request
// is complete, assemble its response. The reactor learns the result via Next
// after onDone fires; c must not be touched by the worker after that.
func (c *Conn) Process() {
	if c.Owner() != api.OwnerWorker {
		c.log.Error("process on connection not held by worker", "fd", c.fd, "owner", c.Owner())
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("request processing panicked", "fd", c.fd, "panic", r)
			c.unmap()
			c.next = NextClose
		}
		if c.onDone != nil {
			c.onDone(c)
		}
	}()
	ret := c.processRead()
	switch {
	case ret == NoRequest:
		c.next = NextRead
	case !c.processWrite(ret):
		c.next = NextClose
	default:
		c.next = NextWrite
	}
}

// Next is what the connection needs after the last Process.
func (c *Conn) Next() Next { return c.next }

// Buffered reports whether unparsed bytes are waiting in the read buffer.
func (c *Conn) Buffered() bool { return c.readIdx > 0 }

func (c *Conn) Fd() int              { return c.fd }
func (c *Conn) Addr() netip.AddrPort { return c.addr }
func (c *Conn) Gen() uint64          { return c.gen }
func (c *Conn) Method() Method       { return c.method }
func (c *Conn) URL() string          { return string(c.url) }
func (c *Conn) Version() string      { return string(c.version) }
func (c *Conn) Host() string         { return string(c.host) }
func (c *Conn) Body() []byte         { return c.body }
func (c *Conn) ContentLength() int   { return c.contentLength }
func (c *Conn) Linger() bool         { return c.linger }
func (c *Conn) State() CheckState    { return c.checkState }
func (c *Conn) RealFile() string     { return c.realFile }

// Status is the HTTP status code of the assembled response, 0 if none.
func (c *Conn) Status() int { return c.status }

// Pending returns the number of response bytes not yet sent.
func (c *Conn) Pending() int { return c.bytesToSend }

// Sent returns the number of response bytes already sent.
func (c *Conn) Sent() int { return c.bytesHaveSent }
