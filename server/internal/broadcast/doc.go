// Package broadcast implements a single-producer, multi-consumer cell that
// only ever holds the latest value.
//
// New(initial) creates a Cell at version 0.
// Cell.Publish(v) replaces the value, bumps the version and wakes every waiter.
// It never blocks and never queues: an unread value is simply overwritten.
// Cell.Subscribe() returns a Subscription whose cursor starts at the current
// version, so the first WaitForChange returns the next published value.
// Subscription.WaitForChange(ctx) blocks until the cell is ahead of the
// cursor and returns the newest value. A subscriber that misses several
// publishes only sees the last one.
// Cell.Close() ends the producer side; waiters return ErrClosed once they
// have caught up with the final value.
package broadcast
