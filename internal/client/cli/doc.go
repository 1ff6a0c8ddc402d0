// Package cli implements the interactive chat client: a single-goroutine
// REPL that sends requests through the api package and drains the
// endpoint's inbound deque between commands, folding packets into the
// conversation state and the transfer coordinator.
package cli
