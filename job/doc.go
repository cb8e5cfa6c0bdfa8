// Package job defines extraction job records and the Registry that owns
// all writes to them.
//
// The lifecycle is queued → running → {completed | failed}, with
// queued|running → cancelled, and no way out of a terminal state. Every
// transition is a compare-and-swap on the record's stored bytes, so
// racing writers resolve deterministically: the first transition wins
// and the loser becomes a no-op. The one exception is cancellation,
// which is sticky — the cancel_requested flag survives lost races and
// is honored by the worker at its next checkpoint.
package job
