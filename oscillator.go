package swpll

// OscillatorWriter sets the fractional-n divider register of the oscillator.
// Implementations perform whatever register protocol the hardware needs; the
// control loop never reads anything back.
type OscillatorWriter interface {
	WriteFracReg(val uint32) error
}

// OscillatorWriterFunc adapts an ordinary function to OscillatorWriter.
type OscillatorWriterFunc func(val uint32) error

// WriteFracReg calls f(val).
func (f OscillatorWriterFunc) WriteFracReg(val uint32) error {
	return f(val)
}
