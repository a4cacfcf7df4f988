// Package history journals projector power changes and command outcomes
// to SQLite.
//
// The journal is for audit and the history API only. Recording is
// asynchronous: the Recorder queues events off the session's event loop and
// drops them, with a warning, if the writer falls behind.
package history
