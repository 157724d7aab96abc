// Package dedupe provides bounded, expiring bookkeeping: a set of recently
// seen event IDs so that redelivered chat events are processed once, and a
// TTL+LRU map for state that must not outlive its usefulness.
package dedupe
