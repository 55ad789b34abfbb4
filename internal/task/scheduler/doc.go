// Package scheduler runs periodic maintenance jobs (cron or fixed interval)
// such as pruning expired status records and send-ledger entries.
//
// A job never overlaps with itself: a trigger that fires while the previous
// run is still in flight is skipped.
package scheduler
