package pulse

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Normalised band edges are clamped into this range (fraction of Nyquist) so
// the bilinear transform stays well away from DC and Nyquist.
const (
	minNormalisedEdge = 0.01
	maxNormalisedEdge = 0.49
)

// Coefficients are the transfer function of an IIR filter with A[0] == 1.
type Coefficients struct {
	B []float64 // feed-forward
	A []float64 // feedback
}

// Taps returns max(len(B), len(A)).
func (c Coefficients) Taps() int {
	return max(len(c.B), len(c.A))
}

// DesignBandpass returns a digital Butterworth bandpass of the given order
// with pass band [low, high] Hz at samplingRate Hz. The resulting filter has
// 2*order+1 coefficients in each polynomial.
func DesignBandpass(order int, low, high, samplingRate float64) (Coefficients, error) {
	if order < 1 {
		return Coefficients{}, fmt.Errorf("filter order must be positive, got %d", order)
	}
	if !(samplingRate > 0) || !(low > 0) || !(high > low) {
		return Coefficients{}, fmt.Errorf("invalid band [%v, %v] at %v Hz", low, high, samplingRate)
	}

	nyquist := samplingRate / 2
	lo := math.Max(minNormalisedEdge, low/nyquist)
	hi := math.Min(maxNormalisedEdge, high/nyquist)
	if hi <= lo {
		return Coefficients{}, fmt.Errorf("band [%v, %v] collapses after clamping", low, high)
	}

	// Analog prototype: poles on the left half of the unit circle, no zeros.
	proto := make([]complex128, 0, order)
	for m := -order + 1; m < order; m += 2 {
		proto = append(proto, -cmplx.Exp(complex(0, math.Pi*float64(m)/float64(2*order))))
	}

	// Pre-warp the edges for a bilinear transform with fs = 2.
	const fs2 = 4.0
	wl := fs2 * math.Tan(math.Pi*lo/2)
	wh := fs2 * math.Tan(math.Pi*hi/2)
	bw := wh - wl
	wo := math.Sqrt(wl * wh)

	// Lowpass to bandpass: every prototype pole splits into two, and
	// order zeros appear at the origin.
	poles := make([]complex128, 0, 2*order)
	for _, p := range proto {
		plp := p * complex(bw/2, 0)
		poles = append(poles, plp+cmplx.Sqrt(plp*plp-complex(wo*wo, 0)))
	}
	for _, p := range proto {
		plp := p * complex(bw/2, 0)
		poles = append(poles, plp-cmplx.Sqrt(plp*plp-complex(wo*wo, 0)))
	}
	gain := math.Pow(bw, float64(order))

	// Bilinear transform. Zeros at the origin map to +1, the remaining
	// order zeros go to Nyquist (-1).
	zeros := make([]complex128, 0, 2*order)
	num := complex(1, 0)
	for range order {
		zeros = append(zeros, 1)
		num *= fs2
	}
	for range order {
		zeros = append(zeros, -1)
	}
	den := complex(1, 0)
	zpoles := make([]complex128, len(poles))
	for i, p := range poles {
		zpoles[i] = (fs2 + p) / (fs2 - p)
		den *= fs2 - p
	}
	gain *= real(num / den)

	b := realPoly(zeros)
	floats.Scale(gain, b)
	a := realPoly(zpoles)

	c := Coefficients{B: b, A: a}
	if !allFinite(c.B) || !allFinite(c.A) {
		return Coefficients{}, errors.New("filter design produced non-finite coefficients")
	}
	return c, nil
}

// realPoly expands prod(x - r) and returns the real parts of the coefficients,
// highest power first. The roots come in conjugate pairs so the imaginary
// parts are rounding noise.
func realPoly(roots []complex128) []float64 {
	c := []complex128{1}
	for _, r := range roots {
		next := append(slices.Clone(c), 0)
		for i := len(c); i > 0; i-- {
			next[i] -= r * c[i-1]
		}
		c = next
	}
	out := make([]float64, len(c))
	for i, v := range c {
		out[i] = real(v)
	}
	return out
}

// FilterOutcome says what the bandpass did with a batch.
type FilterOutcome int

const (
	// FilterApplied means the signal was filtered.
	FilterApplied FilterOutcome = iota
	// FilterPassThrough means the batch was too short to pad and was
	// returned unchanged.
	FilterPassThrough
	// FilterDegenerate means the coefficients or the output were not
	// usable and the batch was returned unchanged.
	FilterDegenerate
)

func (o FilterOutcome) String() string {
	switch o {
	case FilterApplied:
		return "applied"
	case FilterPassThrough:
		return "pass-through"
	case FilterDegenerate:
		return "degenerate"
	default:
		return fmt.Sprintf("FilterOutcome(%d)", int(o))
	}
}

// FilterResult is the output of Bandpass.Apply. Signal always has the same
// length as the input.
type FilterResult struct {
	Outcome FilterOutcome
	Signal  []float64
	Err     error // set for FilterDegenerate
}

// Bandpass applies a fixed Butterworth bandpass forwards and backwards over a
// batch so the output has no phase delay.
type Bandpass struct {
	coeffs Coefficients
	zi     []float64 // step response steady state, scaled per batch
	err    error     // design failure; every Apply degenerates
}

// NewBandpass designs the filter for the given settings. Design failures
// are not returned: the filter is kept and every batch passes through as
// FilterDegenerate.
func NewBandpass(s Settings) *Bandpass {
	c, err := DesignBandpass(s.FilterOrder, s.LowCut, s.HighCut, s.SamplingRate)
	if err != nil {
		return &Bandpass{err: err}
	}
	return newBandpassFromCoefficients(c)
}

func newBandpassFromCoefficients(c Coefficients) *Bandpass {
	bp := &Bandpass{coeffs: c}
	if len(c.A) == 0 || len(c.B) == 0 || c.A[0] == 0 {
		bp.err = errors.New("empty filter coefficients")
		return bp
	}
	bp.coeffs = normalise(c)
	bp.zi, bp.err = steadyState(bp.coeffs)
	return bp
}

// PadLength is the number of reflected samples added at each end. Batches of
// PadLength samples or fewer are passed through.
func (bp *Bandpass) PadLength() int {
	return 3 * bp.coeffs.Taps()
}

// Apply filters signal forwards and backwards.
func (bp *Bandpass) Apply(signal []float64) FilterResult {
	passThrough := func(o FilterOutcome, err error) FilterResult {
		return FilterResult{Outcome: o, Signal: slices.Clone(signal), Err: err}
	}
	if bp.err != nil {
		return passThrough(FilterDegenerate, bp.err)
	}
	pad := bp.PadLength()
	if len(signal) <= pad {
		return passThrough(FilterPassThrough, nil)
	}
	if !allFinite(signal) {
		return passThrough(FilterDegenerate, errors.New("input contains non-finite samples"))
	}

	ext := oddExtend(signal, pad)
	y := bp.lfilter(ext, ext[0])
	slices.Reverse(y)
	y = bp.lfilter(y, y[0])
	slices.Reverse(y)
	out := y[pad : pad+len(signal)]

	if !allFinite(out) {
		return passThrough(FilterDegenerate, errors.New("filter output is not finite"))
	}
	return FilterResult{Outcome: FilterApplied, Signal: slices.Clone(out)}
}

// lfilter runs the transposed direct form II recursion over x starting from
// the steady state for a constant input of x0.
func (bp *Bandpass) lfilter(x []float64, x0 float64) []float64 {
	b, a := bp.coeffs.B, bp.coeffs.A
	z := make([]float64, len(bp.zi))
	for i, v := range bp.zi {
		z[i] = v * x0
	}
	m := len(z)
	y := make([]float64, len(x))
	if m == 0 {
		for n, v := range x {
			y[n] = b[0] * v
		}
		return y
	}
	for n, v := range x {
		out := b[0]*v + z[0]
		for i := 0; i < m-1; i++ {
			z[i] = b[i+1]*v + z[i+1] - a[i+1]*out
		}
		z[m-1] = b[m]*v - a[m]*out
		y[n] = out
	}
	return y
}

// normalise scales so A[0] == 1 and zero pads both polynomials to equal
// length.
func normalise(c Coefficients) Coefficients {
	n := c.Taps()
	b := make([]float64, n)
	a := make([]float64, n)
	copy(b, c.B)
	copy(a, c.A)
	if a0 := a[0]; a0 != 1 {
		floats.Scale(1/a0, b)
		floats.Scale(1/a0, a)
	}
	return Coefficients{B: b, A: a}
}

// steadyState solves (I - companion(a)^T) zi = b[1:] - a[1:]*b[0], the filter
// state that a unit step settles into.
func steadyState(c Coefficients) ([]float64, error) {
	n := c.Taps() - 1
	if n == 0 {
		return nil, nil
	}
	m := mat.NewDense(n, n, nil)
	rhs := mat.NewVecDense(n, nil)
	for r := 0; r < n; r++ {
		m.Set(r, r, 1)
		m.Set(r, 0, m.At(r, 0)+c.A[r+1])
		if r+1 < n {
			m.Set(r, r+1, -1)
		}
		rhs.SetVec(r, c.B[r+1]-c.A[r+1]*c.B[0])
	}

	var zi mat.VecDense
	if err := zi.SolveVec(m, rhs); err != nil {
		return nil, fmt.Errorf("initial filter state: %w", err)
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = zi.AtVec(i)
	}
	if !allFinite(out) {
		return nil, errors.New("initial filter state is not finite")
	}
	return out, nil
}

// oddExtend reflects pad samples about each endpoint: 2*x[0]-x[pad..1] on the
// left and 2*x[n-1]-x[n-2..n-pad-1] on the right.
func oddExtend(x []float64, pad int) []float64 {
	n := len(x)
	ext := make([]float64, 0, n+2*pad)
	for i := pad; i > 0; i-- {
		ext = append(ext, 2*x[0]-x[i])
	}
	ext = append(ext, x...)
	for i := 0; i < pad; i++ {
		ext = append(ext, 2*x[n-1]-x[n-2-i])
	}
	return ext
}

func allFinite(x []float64) bool {
	if floats.HasNaN(x) {
		return false
	}
	for _, v := range x {
		if math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
