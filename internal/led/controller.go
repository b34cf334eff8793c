// Package led drives a board LED as a capture indicator: lit while any
// camera stream is running.
package led

// Pattern is how an LED is driven once it is on.
type Pattern string

// Patterns understood by every controller.
const (
	PatternSolid Pattern = "solid"
	PatternBlink Pattern = "blink"
)

// Controller abstracts LED hardware across boards.
type Controller interface {
	// Set turns the named LED on or off. An empty pattern leaves the current
	// trigger in place.
	Set(name string, on bool, pattern Pattern) error

	// Available returns the LED names this controller can drive.
	Available() []string
}
