// File: protocol/response.go
// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Response assembly into the fixed write buffer and scatter-gather flush.

package protocol

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// addResponse appends formatted text to the write buffer. It refuses, leaving
// the buffer untouched, when the text would not fit.
func (c *Conn) addResponse(format string, args ...any) bool {
	if c.writeIdx >= len(c.writeBuf) {
		return false
	}
	c.scratch = fmt.Appendf(c.scratch[:0], format, args...)
	if len(c.scratch) > len(c.writeBuf)-c.writeIdx {
		return false
	}
	c.writeIdx += copy(c.writeBuf[c.writeIdx:], c.scratch)
	return true
}

func (c *Conn) addStatusLine(status int, title string) bool {
	return c.addResponse("%s %d %s\r\n", "HTTP/1.1", status, title)
}

func (c *Conn) addHeaders(contentLen int) bool {
	return c.addContentLength(contentLen) && c.addLinger() && c.addBlankLine()
}

func (c *Conn) addContentLength(contentLen int) bool {
	return c.addResponse("Content-Length: %d\r\n", contentLen)
}

func (c *Conn) addLinger() bool {
	if c.linger {
		return c.addResponse("Connection: %s\r\n", "keep-alive")
	}
	return c.addResponse("Connection: %s\r\n", "close")
}

func (c *Conn) addBlankLine() bool {
	return c.addResponse("%s", "\r\n")
}

func (c *Conn) addContent(content string) bool {
	return c.addResponse("%s", content)
}

func (c *Conn) addPage(status int, title, form string) bool {
	return c.addStatusLine(status, title) && c.addHeaders(len(form)) && c.addContent(form)
}

// BuildResponse renders code into the write buffer and registers the output
// segments. It returns false if the response does not fit.
func (c *Conn) BuildResponse(code HTTPCode) bool {
	var ok bool
	switch code {
	case InternalError:
		ok, c.status = c.addPage(500, error500Title, error500Form), 500
	case BadRequest:
		ok, c.status = c.addPage(400, error400Title, error400Form), 400
	case NoResource:
		ok, c.status = c.addPage(404, error404Title, error404Form), 404
	case ForbiddenRequest:
		ok, c.status = c.addPage(403, error403Title, error403Form), 403
	case FileRequest:
		c.status = 200
		if !c.addStatusLine(200, ok200Title) {
			return false
		}
		if c.fileStat.Size != 0 && c.fileAddr != nil {
			if !c.addHeaders(int(c.fileStat.Size)) {
				return false
			}
			c.ivArr[0] = c.writeBuf[:c.writeIdx]
			c.ivArr[1] = c.fileAddr
			c.iv = c.ivArr[:2]
			c.bytesToSend = c.writeIdx + len(c.fileAddr)
			return true
		}
		ok = c.addHeaders(len(emptyFileBody)) && c.addContent(emptyFileBody)
	default:
		return false
	}
	if !ok {
		return false
	}
	c.ivArr[0] = c.writeBuf[:c.writeIdx]
	c.ivArr[1] = nil
	c.iv = c.ivArr[:1]
	c.bytesToSend = c.writeIdx
	return true
}

// processWrite builds the response for ret, degrading to 500 when it cannot
// be assembled. False means not even the 500 fits.
func (c *Conn) processWrite(ret HTTPCode) bool {
	if c.BuildResponse(ret) {
		return true
	}
	c.log.Warn("response exceeds write buffer", "fd", c.fd, "outcome", ret.String(), "capacity", len(c.writeBuf))
	c.unmap()
	c.writeIdx = 0
	c.iv = nil
	c.bytesToSend = 0
	c.status = 0
	if ret != InternalError && c.BuildResponse(InternalError) {
		return true
	}
	return false
}

// Flush sends as much of the pending response as the socket accepts.
func (c *Conn) Flush() (FlushResult, error) {
	if c.fd < 0 {
		return FlushError, fmt.Errorf("flush on closed connection")
	}
	if c.bytesToSend == 0 {
		c.Reset()
		return FlushKeepAlive, nil
	}
	for {
		n, err := unix.SendmsgBuffers(c.fd, c.iv, nil, nil, unix.MSG_DONTWAIT|unix.MSG_NOSIGNAL)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return FlushRetry, nil
			}
			if err == unix.EINTR {
				continue
			}
			c.unmap()
			return FlushError, fmt.Errorf("sendmsg fd=%d: %w", c.fd, err)
		}
		c.bytesHaveSent += n
		c.bytesToSend -= n
		c.advance(n)

		if c.bytesToSend <= 0 {
			c.unmap()
			if c.linger {
				c.Reset()
				return FlushKeepAlive, nil
			}
			return FlushClose, nil
		}
	}
}

// advance drops n sent bytes from the front of the segment list.
func (c *Conn) advance(n int) {
	for n > 0 && len(c.iv) > 0 {
		if n < len(c.iv[0]) {
			c.iv[0] = c.iv[0][n:]
			return
		}
		n -= len(c.iv[0])
		c.iv = c.iv[1:]
	}
}
