// File: internal/transport/doc.go
// Package transport
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Raw non-blocking TCP listening sockets for the reactor. The reactor owns
// descriptors directly, so nothing here goes through the net package.

package transport
