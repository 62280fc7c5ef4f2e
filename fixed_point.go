package swpll

// Q1516 is a signed 15.16 fixed point value: 1 sign bit, 15 integer bits and
// NumFracBits fractional bits.
type Q1516 int32

// NumFracBits is the number of fractional bits in a Q1516.
const NumFracBits = 16

// ToQ1516 converts v to 15.16 fixed point, truncating toward zero.
func ToQ1516(v float64) Q1516 {
	return Q1516(v * (1 << NumFracBits))
}

// Float64 returns q as a floating point number.
func (q Q1516) Float64() float64 {
	return float64(q) / (1 << NumFracBits)
}
