// File: protocol/resource.go
// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Maps a request URL onto the document root and maps the file read-only.

package protocol

import (
	"golang.org/x/sys/unix"
)

// doRequest resolves the parsed URL against the document root.
// Paths are concatenated as-is; no canonicalization is performed.
func (c *Conn) doRequest() HTTPCode {
	path := c.opts.DocRoot + string(c.url)
	if len(path) > FilenameLen-1 {
		path = path[:FilenameLen-1]
	}
	c.realFile = path

	if err := unix.Stat(path, &c.fileStat); err != nil {
		switch err {
		case unix.ENOENT, unix.ENOTDIR, unix.ENAMETOOLONG:
			return NoResource
		case unix.EACCES:
			return ForbiddenRequest
		}
		c.log.Warn("stat failed", "fd", c.fd, "path", path, "error", err)
		return InternalError
	}
	if c.fileStat.Mode&unix.S_IROTH == 0 {
		return ForbiddenRequest
	}
	if c.fileStat.Mode&unix.S_IFMT == unix.S_IFDIR {
		return BadRequest
	}
	if c.fileStat.Size == 0 {
		return FileRequest
	}

	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		if err == unix.EACCES {
			return ForbiddenRequest
		}
		c.log.Warn("open failed", "fd", c.fd, "path", path, "error", err)
		return InternalError
	}
	defer unix.Close(fd)

	addr, err := unix.Mmap(fd, 0, int(c.fileStat.Size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		c.log.Warn("mmap failed", "fd", c.fd, "path", path, "error", err)
		return InternalError
	}
	c.fileAddr = addr
	return FileRequest
}

// unmap releases the file mapping, if any.
func (c *Conn) unmap() {
	if c.fileAddr == nil {
		return
	}
	if err := unix.Munmap(c.fileAddr); err != nil {
		c.log.Warn("munmap failed", "fd", c.fd, "error", err)
	}
	c.fileAddr = nil
}
