// Package forward holds the backend-independent model of port forwarding.
//
// A Rule is a declared intent to relay TCP traffic from a local port to a
// remote host:port. A Mode selects which mechanism realizes the declared
// rules on this host. A RuntimeStatus is what a backend observed on the live
// system for one rule; it is produced fresh for every query and never stored.
//
// Operations that touch the system report their outcome as a Result (or a
// BatchResult for multi-rule operations) instead of returning an error for
// expected conditions such as a missing tool or a port that is already
// forwarded. Result.Err converts a failed Result into an *Error whose Kind can
// be matched with errors.Is against the Err* sentinels.
package forward
