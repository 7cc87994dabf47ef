// Package pipe carries launcher frames over a local stream connection: a
// unix domain socket on unix systems and a named pipe on Windows. A
// "tcp://host:port" endpoint is accepted on every platform for development.
//
// Frames are single-line JSON objects (see pkg/contracts/launcher). The
// Client allows one exchange in flight; concurrent callers queue on a mutex
// so a nonce and the response that echoes it never interleave with another
// exchange on the same connection.
package pipe
