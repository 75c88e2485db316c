// Package storage persists everything that must survive between runs:
//   - the watchlist state (last known good snapshot per address)
//   - the publication budget of the current period
//   - the publication audit trail
//   - publication dedup keys
//   - the last published follower leaderboard
package storage
