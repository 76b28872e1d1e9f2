// Package backends realizes forwarding rules on the host.
//
// Every mechanism implements Backend. SocatBackend runs one socat process per
// forwarded port and inspects the process table to learn what is running.
// HAProxyBackend renders all rules into a single haproxy configuration and
// additionally implements DeclarativeBackend: rules are first staged, then
// validated by haproxy itself, and only then installed and reloaded.
//
// Mutating operations never trust the exit status of what they launched.
// They poll the observable state through settle.Until before reporting
// success.
package backends
