// Package billing is the boundary to the external billing decision provider.
//
// A Gate answers whether a principal may start playing and whether a running
// session's billing stream is still paid for, and it starts and stops those
// streams. Gate errors mean "the provider could not answer"; they are never
// verdicts, and callers must not revoke sessions on them.
//
// Implementations:
//   - StaticGate: fixed, injectable verdicts for dev runs and tests.
//   - HTTPGate:   a REST billing provider.
//   - RedisGate:  verdict keys and a stream registry in Redis.
//
// Resilient wraps any Gate with per-attempt timeouts, bounded retries with
// capped exponential backoff, metrics and tracing.
package billing
