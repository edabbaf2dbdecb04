// Package dedupe remembers recently handled event ids.
//
// The Matrix sync protocol redelivers events after reconnects and token
// resets. The bridge records every handled event id here and drops anything
// it has already seen, so a redelivered message never reaches an agent twice.
// The cache is bounded two ways: entries age out after a TTL, and the table
// is capped by evicting the oldest entries first.
package dedupe
