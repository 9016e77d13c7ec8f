package pulse

// RemoveBaseline subtracts a centred moving average of the given width from
// signal. Signals of minLength samples or fewer are returned unchanged.
//
// The average is aligned like a "same" mode convolution: output i covers
// input [i+off-w+1, i+off] with off = (w-1)/2. Near the edges only the
// samples that exist are averaged.
func RemoveBaseline(signal []float64, width, minLength int) []float64 {
	out := make([]float64, len(signal))
	copy(out, signal)
	if len(signal) <= minLength || width < 1 {
		return out
	}

	w := min(width, len(signal))
	off := (w - 1) / 2

	// prefix[i] is the sum of signal[:i]
	prefix := make([]float64, len(signal)+1)
	for i, v := range signal {
		prefix[i+1] = prefix[i] + v
	}

	last := len(signal) - 1
	for i := range signal {
		lo := max(i+off-w+1, 0)
		hi := min(i+off, last)
		avg := (prefix[hi+1] - prefix[lo]) / float64(hi-lo+1)
		out[i] = signal[i] - avg
	}
	return out
}
