// Package delivery coordinates the reminder pipeline: it resolves time
// specs, writes durable records, arms the timer engine, sends through the
// messenger on fire, and runs retention cleanup.
//
// Ordering invariant: the durable write happens before the timer arm. A
// crash between the two leaves a store record without a live timer, which
// is exactly what startup reconciliation repairs. The reverse order could
// fire with nothing to mark sent.
package delivery
