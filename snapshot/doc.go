// Package snapshot persists point-in-time images of one pair's book:
// resting orders, the 24h stats window and recent trades, together with
// the journal sequence they cover. Recovery loads the image and replays
// only newer journal records.
package snapshot
