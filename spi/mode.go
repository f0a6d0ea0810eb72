package spi

import "strconv"

// Mode is an SPI clock mode, CPOL<<1 | CPHA.
type Mode uint8

const (
	Mode0 Mode = 0b00 // CPOL=0 CPHA=0
	Mode1 Mode = 0b01 // CPOL=0 CPHA=1
	Mode2 Mode = 0b10 // CPOL=1 CPHA=0
	Mode3 Mode = 0b11 // CPOL=1 CPHA=1
)

// NewMode returns the mode for the given clock polarity and phase.
func NewMode(cpol, cpha bool) Mode {
	return Mode(b2u[uint8](cpol)<<1 | b2u[uint8](cpha))
}

func (m Mode) CPOL() bool { return m&0b10 != 0 }
func (m Mode) CPHA() bool { return m&0b01 != 0 }

// Edge returns the clock transition on which data is sampled in mode m.
// Modes 0 and 3 sample on the rising edge, modes 1 and 2 on the falling edge.
func (m Mode) Edge() Edge {
	if m.CPOL() == m.CPHA() {
		return EdgeRising
	}
	return EdgeFalling
}

func (m Mode) String() string {
	if m > Mode3 {
		return "Mode(" + strconv.Itoa(int(m)) + ")"
	}
	return "mode" + strconv.Itoa(int(m))
}

// Edge is a qualifying clock transition.
type Edge uint8

const (
	EdgeRising Edge = iota
	EdgeFalling
)

// Qualifies reports whether going from clock level prev to clk is a transition of type e.
func (e Edge) Qualifies(prev, clk bool) bool {
	if e == EdgeRising {
		return !prev && clk
	}
	return prev && !clk
}

func (e Edge) String() string {
	if e == EdgeRising {
		return "rising"
	}
	return "falling"
}
