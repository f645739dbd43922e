// Package command owns the command-channel payload contract.
//
// Ownership boundary:
// - request/response payload codec
// - command id registry and per-command result decoders
// - the supported command set
package command
