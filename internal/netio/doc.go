// Package netio provides the socket-level transport for an LDP speaker:
// the UDP discovery listener/receiver (multicast Hello reception), the
// TCP session acceptor, and the generic packet send path, built on
// golang.org/x/net's ipv4/ipv6 packages for portable ancillary-data
// handling and multicast interface selection.
package netio
