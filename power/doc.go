// Package power maps device battery and lifecycle state onto radio duty-cycle
// profiles. The router consumes the active profile to bound concurrent
// connections and to pace discovery scanning; selection is a pure function so
// every caller observing the same inputs derives the same profile.
package power
