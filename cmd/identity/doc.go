// Package identity is playgate's principal directory.
//
// It answers one question for the session layer: does this principal exist,
// and is it allowed to start a play session? Principal CRUD lives elsewhere;
// this package only reads.
//
// Errors follow a stable Op + Kind contract (see OpError) so HTTP handlers can
// map them with errors.Is.
package identity
