package indicator

// Streaming calculators shared by the families. Each is O(1) per update.

// sma is a simple moving average over a circular buffer.
type sma struct {
	period int
	buf    []float64
	idx    int
	count  int
	sum    float64
}

func newSMA(period int) *sma {
	return &sma{period: period, buf: make([]float64, period)}
}

func (s *sma) update(v float64) {
	if s.count >= s.period {
		s.sum -= s.buf[s.idx]
	}
	s.buf[s.idx] = v
	s.sum += v
	s.idx = (s.idx + 1) % s.period
	s.count++
}

func (s *sma) ready() bool    { return s.count >= s.period }
func (s *sma) value() float64 { return s.sum / float64(s.period) }

// ema is seeded with the SMA of the first period values.
type ema struct {
	period     int
	multiplier float64
	count      int
	sum        float64
	current    float64
}

func newEMA(period int) *ema {
	return &ema{period: period, multiplier: 2.0 / float64(period+1)}
}

func (e *ema) update(v float64) {
	e.count++
	if e.count <= e.period {
		e.sum += v
		if e.count == e.period {
			e.current = e.sum / float64(e.period)
		}
		return
	}
	e.current = v*e.multiplier + e.current*(1-e.multiplier)
}

func (e *ema) ready() bool    { return e.count >= e.period }
func (e *ema) value() float64 { return e.current }

// smma is Wilder smoothing: SMA seed, then (prev*(n-1) + v) / n.
type smma struct {
	period  int
	count   int
	sum     float64
	current float64
}

func newSMMA(period int) *smma {
	return &smma{period: period}
}

func (s *smma) update(v float64) {
	s.count++
	if s.count <= s.period {
		s.sum += v
		if s.count == s.period {
			s.current = s.sum / float64(s.period)
		}
		return
	}
	s.current = (s.current*float64(s.period-1) + v) / float64(s.period)
}

func (s *smma) ready() bool    { return s.count >= s.period }
func (s *smma) value() float64 { return s.current }
