package swpll

// Hardware port timers are 16 bits wide and wrap at 65536; the reference timer is
// 32 bits wide. Differences are formed in the unsigned type and reinterpreted as
// signed, which yields the shortest path around the wrap point.

// PortTimeAfter returns true if event happened before now, accounting for wrap.
func PortTimeAfter(now, event uint16) bool {
	return int16(event-now) < 0
}

// PortTimeDiff returns actual-expected as a signed count in [-32768, 32767].
func PortTimeDiff(actual, expected uint16) int16 {
	return int16(actual - expected)
}

// TimerTimeAfter returns true if a is after b on the 32-bit reference timer.
func TimerTimeAfter(a, b uint32) bool {
	return int32(b-a) < 0
}

func abs16(v int16) int32 {
	if v < 0 {
		return -int32(v)
	}
	return int32(v)
}
