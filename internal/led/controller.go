// Package led drives a board LED as a camera activity indicator.
package led

// Pattern is how an LED is lit.
type Pattern string

const (
	PatternOff   Pattern = "off"
	PatternSolid Pattern = "solid"
	PatternBlink Pattern = "blink"
)

// Controller sets the state of one LED.
type Controller interface {
	Set(p Pattern) error
	Name() string
}
