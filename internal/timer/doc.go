// Package timer is the in-process one-shot scheduling primitive.
//
// Jobs are armed by id and fire once at their instant on a bounded worker
// pool. The armed set lives only in memory: it starts empty and the
// delivery coordinator rebuilds it from the durable store on startup.
package timer
