// Package verify orchestrates end-to-end delivery scenarios and reduces
// what receivers actually saw into pass/fail-able statistics.
//
// Every scenario follows the same shape: arm one bounded collection per
// receiver, perform the triggering action through the scenario creator,
// fan in the collections, and compute reception and ordering percentages
// against the sent sequence. Collectors are always armed before the
// trigger, so a fast network cannot deliver an event into the void.
//
// The engine computes numbers; enforcing thresholds stays with the caller,
// which keeps failure messages quantified instead of boolean.
package verify
