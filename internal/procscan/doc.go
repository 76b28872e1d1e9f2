// Package procscan finds running forwarders in the OS process table.
//
// A forwarder is a process whose executable is the forwarding tool and whose
// arguments carry a TCP-LISTEN:<port> address (or TCP4-/TCP6-LISTEN). The listening port and the
// remote TCP:<host>:<port> target are extracted by token, never by column
// offset. Per-connection children forked by a listener are folded into their
// parent and reported as active sessions.
//
// Two scanners share the parsing: PSScanner shells out to ps through a
// utils.Runner, NativeScanner reads the table through gopsutil. A table
// that cannot be read is an error, not an empty result.
package procscan
