// File: protocol/parser.go
// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Two-level incremental request parser. The line scanner tokenizes in place by
// overwriting terminators with NUL; the request machine consumes one line per
// step and can be resumed at any byte boundary.

package protocol

import (
	"bytes"
	"strconv"
)

// parseLine scans from checkIdx for the next line terminator.
func (c *Conn) parseLine() LineStatus {
	for ; c.checkIdx < c.readIdx; c.checkIdx++ {
		switch c.readBuf[c.checkIdx] {
		case '\r':
			if c.checkIdx+1 == c.readIdx {
				return LineOpen
			}
			if c.readBuf[c.checkIdx+1] != '\n' {
				return LineBad
			}
			c.lineEnd = c.checkIdx
			c.readBuf[c.checkIdx] = 0
			c.readBuf[c.checkIdx+1] = 0
			c.checkIdx += 2
			return LineOK
		case '\n':
			c.lineEnd = c.checkIdx
			c.readBuf[c.checkIdx] = 0
			c.checkIdx++
			return LineOK
		}
	}
	return LineOpen
}

// processRead drives the request machine over whatever is buffered.
func (c *Conn) processRead() HTTPCode {
	status := LineOK
	for {
		if c.checkState == StateContent {
			if c.parseContent() == GetRequest {
				return c.doRequest()
			}
			status = LineOpen
			break
		}
		if status = c.parseLine(); status != LineOK {
			break
		}
		text := c.readBuf[c.startLine:c.lineEnd]
		c.startLine = c.checkIdx
		c.log.Debug("got http line", "fd", c.fd, "line", string(text))

		switch c.checkState {
		case StateRequestLine:
			if ret := c.parseRequestLine(text); ret == BadRequest {
				return BadRequest
			}
		case StateHeader:
			switch ret := c.parseHeaders(text); ret {
			case BadRequest:
				return BadRequest
			case GetRequest:
				return c.doRequest()
			}
		default:
			return InternalError
		}
	}

	if status == LineBad {
		return BadRequest
	}
	if c.readIdx >= len(c.readBuf) {
		// Nothing more can be buffered and the request is still incomplete.
		c.linger = false
		return BadRequest
	}
	return NoRequest
}

// parseRequestLine handles "METHOD URL VERSION".
func (c *Conn) parseRequestLine(text []byte) HTTPCode {
	i := bytes.IndexAny(text, " \t")
	if i < 0 {
		return BadRequest
	}
	method := text[:i]
	rest := bytes.TrimLeft(text[i+1:], " \t")

	m, ok := lookupMethod(method)
	if !ok {
		return BadRequest
	}
	c.method = m
	if m != MethodGet {
		c.log.Debug("method not serviced", "fd", c.fd, "method", m.String())
		return BadRequest
	}

	j := bytes.IndexAny(rest, " \t")
	if j < 0 {
		return BadRequest
	}
	url := rest[:j]
	version := bytes.TrimLeft(rest[j+1:], " \t")
	if !bytes.EqualFold(version, []byte("HTTP/1.1")) {
		return BadRequest
	}

	if len(url) >= 7 && bytes.EqualFold(url[:7], []byte("http://")) {
		url = url[7:]
		k := bytes.IndexByte(url, '/')
		if k < 0 {
			return BadRequest
		}
		url = url[k:]
	}
	if len(url) == 0 || url[0] != '/' {
		return BadRequest
	}

	c.url = url
	c.version = version
	c.checkState = StateHeader
	return NoRequest
}

// parseHeaders handles one header line; an empty line ends the header block.
func (c *Conn) parseHeaders(text []byte) HTTPCode {
	if len(text) == 0 {
		if c.contentLength != 0 {
			if c.contentLength > len(c.readBuf)-c.checkIdx {
				// The body can never be buffered; its bytes would desync keep-alive.
				c.linger = false
				return BadRequest
			}
			c.checkState = StateContent
			return NoRequest
		}
		c.consumed = c.checkIdx
		return GetRequest
	}

	switch {
	case hasPrefixFold(text, "Connection:"):
		if bytes.EqualFold(headerValue(text, len("Connection:")), []byte("keep-alive")) {
			c.linger = true
		}
	case hasPrefixFold(text, "Content-Length:"):
		n, err := strconv.Atoi(string(headerValue(text, len("Content-Length:"))))
		if err != nil || n < 0 || n > len(c.readBuf) {
			c.linger = false
			return BadRequest
		}
		c.contentLength = n
	case hasPrefixFold(text, "Host:"):
		c.host = headerValue(text, len("Host:"))
	default:
		c.log.Debug("unknown header", "fd", c.fd, "header", string(text))
	}
	return NoRequest
}

// parseContent completes the request once the whole body is buffered.
func (c *Conn) parseContent() HTTPCode {
	if c.readIdx-c.checkIdx >= c.contentLength {
		c.body = c.readBuf[c.checkIdx : c.checkIdx+c.contentLength]
		c.consumed = c.checkIdx + c.contentLength
		return GetRequest
	}
	return NoRequest
}

func lookupMethod(b []byte) (Method, bool) {
	for m, name := range methodNames {
		if bytes.EqualFold(b, []byte(name)) {
			return Method(m), true
		}
	}
	return 0, false
}

func hasPrefixFold(b []byte, prefix string) bool {
	return len(b) >= len(prefix) && bytes.EqualFold(b[:len(prefix)], []byte(prefix))
}

func headerValue(text []byte, skip int) []byte {
	return bytes.Trim(text[skip:], " \t")
}
