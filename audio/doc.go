// Package audio holds the device side of a live session: microphone capture,
// playable buffers and the scheduler that lines response audio up on an
// output clock.
package audio
