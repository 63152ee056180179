package simd

// ScaleShift applies data[i] = data[i]*scale + shift in place.
func ScaleShift(data []float64, scale, shift float64) {
	// Unrolled loop for better pipelining
	i := 0
	for ; i <= len(data)-4; i += 4 {
		data[i] = data[i]*scale + shift
		data[i+1] = data[i+1]*scale + shift
		data[i+2] = data[i+2]*scale + shift
		data[i+3] = data[i+3]*scale + shift
	}
	// Handle remainder
	for ; i < len(data); i++ {
		data[i] = data[i]*scale + shift
	}
}

// MinMax returns the smallest and largest value in a single pass.
// Returns (0, 0) for an empty slice.
func MinMax(data []float64) (float64, float64) {
	if len(data) == 0 {
		return 0, 0
	}
	lo, hi := data[0], data[0]
	i := 1
	for ; i <= len(data)-4; i += 4 {
		if data[i] < lo {
			lo = data[i]
		} else if data[i] > hi {
			hi = data[i]
		}
		if data[i+1] < lo {
			lo = data[i+1]
		} else if data[i+1] > hi {
			hi = data[i+1]
		}
		if data[i+2] < lo {
			lo = data[i+2]
		} else if data[i+2] > hi {
			hi = data[i+2]
		}
		if data[i+3] < lo {
			lo = data[i+3]
		} else if data[i+3] > hi {
			hi = data[i+3]
		}
	}
	for ; i < len(data); i++ {
		if data[i] < lo {
			lo = data[i]
		} else if data[i] > hi {
			hi = data[i]
		}
	}
	return lo, hi
}
