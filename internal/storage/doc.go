// Package storage persists scheduled reminders.
//
// The store is the single source of truth: the in-memory timer set is a
// derived cache and is rebuilt from here after every restart.
package storage
