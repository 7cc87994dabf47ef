// Package updater observes the launcher's update lifecycle.
//
// The launcher owns the lifecycle; this package never changes it. Tracker
// sends the update methods and unwraps their envelopes, and Watcher turns
// the wait_for_update_state_change long-poll into a stream of states.
//
// Every state carries a sequence number that grows each time the state
// changes. A state whose sequence is not greater than the one the caller
// already holds is treated as no change, so a launcher that repeats a state
// is tolerated.
package updater
