package preprocess

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"sort"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrFilterDesign - фильтр не может быть построен (порядок, частота среза, устойчивость)
	ErrFilterDesign = errors.New("filter design failed")
	// ErrTooShort - сигнал короче длины отражения для прямого-обратного прохода
	ErrTooShort = errors.New("signal too short for zero-phase filtering")
)

// Section - биквадратная секция в форме [b0 b1 b2 a0 a1 a2], a0 = 1
type Section [6]float64

// SOS - каскад секций второго порядка
type SOS []Section

// Butterworth проектирует цифровой ФНЧ Баттерворта порядка order.
// wn - нормированная частота среза (1 соответствует частоте Найквиста).
func Butterworth(order int, wn float64) (SOS, error) {
	if order < 1 {
		return nil, fmt.Errorf("%w: order %d", ErrFilterDesign, order)
	}
	if !(wn > 0 && wn < 1) {
		return nil, fmt.Errorf("%w: normalized cutoff %v outside (0, 1)", ErrFilterDesign, wn)
	}

	// Аналоговый прототип с предыскажением частоты, затем билинейное преобразование при fs=2
	const fs = 2.0
	warped := 2 * fs * math.Tan(math.Pi*wn/fs)
	fs2 := complex(2*fs, 0)

	gain := math.Pow(warped, float64(order))
	denominator := complex(1, 0)
	poles := make([]complex128, 0, order)
	for m := -order + 1; m < order; m += 2 {
		analog := -cmplx.Exp(complex(0, math.Pi*float64(m)/float64(2*order))) * complex(warped, 0)
		denominator *= fs2 - analog
		poles = append(poles, (fs2+analog)/(fs2-analog))
	}
	gain *= real(1 / denominator)

	if math.IsNaN(gain) || math.IsInf(gain, 0) || gain == 0 {
		return nil, fmt.Errorf("%w: degenerate gain %v", ErrFilterDesign, gain)
	}

	const imagTol = 1e-12
	sos := make(SOS, 0, (order+1)/2)
	for _, p := range poles {
		if cmplx.Abs(p) >= 1 || cmplx.IsNaN(p) {
			return nil, fmt.Errorf("%w: unstable pole %v", ErrFilterDesign, p)
		}
		switch {
		case math.Abs(imag(p)) <= imagTol:
			// Вещественный полюс: секция первого порядка с нулем в -1
			sos = append(sos, Section{1, 1, 0, 1, -real(p), 0})
		case imag(p) > 0:
			// Пара комплексно-сопряженных полюсов с двойным нулем в -1
			sos = append(sos, Section{1, 2, 1, 1, -2 * real(p), real(p)*real(p) + imag(p)*imag(p)})
		}
	}

	// Полюса ближе к единичной окружности - в конец каскада
	sort.SliceStable(sos, func(i, j int) bool {
		return poleRadius(sos[i]) < poleRadius(sos[j])
	})

	for k := 0; k < 3; k++ {
		sos[0][k] *= gain
	}
	return sos, nil
}

func poleRadius(s Section) float64 {
	if s[5] != 0 {
		return math.Sqrt(math.Abs(s[5]))
	}
	return math.Abs(s[4])
}

// PadLen возвращает длину нечетного отражения на каждом краю для FiltFilt
func (s SOS) PadLen() int {
	zerosB, zerosA := 0, 0
	for _, sec := range s {
		if sec[2] == 0 {
			zerosB++
		}
		if sec[5] == 0 {
			zerosA++
		}
	}
	taps := 2*len(s) + 1 - min(zerosB, zerosA)
	return 3 * taps
}

// initialState вычисляет установившееся состояние каскада для единичного ступенчатого входа
func (s SOS) initialState() ([][2]float64, error) {
	zi := make([][2]float64, len(s))
	scale := 1.0
	for i, sec := range s {
		b0, b1, b2, a1, a2 := sec[0], sec[1], sec[2], sec[4], sec[5]

		a := mat.NewDense(2, 2, []float64{
			1 + a1, -1,
			a2, 1,
		})
		b := mat.NewVecDense(2, []float64{b1 - a1*b0, b2 - a2*b0})

		var z mat.VecDense
		if err := z.SolveVec(a, b); err != nil {
			return nil, fmt.Errorf("%w: section %d steady state: %v", ErrFilterDesign, i, err)
		}
		zi[i] = [2]float64{scale * z.AtVec(0), scale * z.AtVec(1)}

		dc := 1 + a1 + a2
		if dc == 0 {
			return nil, fmt.Errorf("%w: section %d has zero DC denominator", ErrFilterDesign, i)
		}
		scale *= (b0 + b1 + b2) / dc
	}
	return zi, nil
}

// apply пропускает сигнал через каскад (прямая форма II транспонированная)
func (s SOS) apply(x []float64, zi [][2]float64, x0 float64) []float64 {
	y := make([]float64, len(x))
	copy(y, x)
	for i, sec := range s {
		z0, z1 := zi[i][0]*x0, zi[i][1]*x0
		for n, xn := range y {
			yn := sec[0]*xn + z0
			z0 = sec[1]*xn - sec[4]*yn + z1
			z1 = sec[2]*xn - sec[5]*yn
			y[n] = yn
		}
	}
	return y
}

// FiltFilt применяет каскад вперед и назад (нулевой фазовый сдвиг).
// Края дополняются нечетным отражением длины PadLen.
func FiltFilt(s SOS, x []float64) ([]float64, error) {
	if len(s) == 0 {
		return nil, fmt.Errorf("%w: empty cascade", ErrFilterDesign)
	}
	edge := s.PadLen()
	if len(x) <= edge {
		return nil, fmt.Errorf("%w: length %d, padlen %d", ErrTooShort, len(x), edge)
	}

	zi, err := s.initialState()
	if err != nil {
		return nil, err
	}

	ext := oddExtend(x, edge)
	y := s.apply(ext, zi, ext[0])
	reverse(y)
	y = s.apply(y, zi, y[0])
	reverse(y)

	out := make([]float64, len(x))
	copy(out, y[edge:len(y)-edge])
	return out, nil
}

func oddExtend(x []float64, edge int) []float64 {
	n := len(x)
	ext := make([]float64, 0, n+2*edge)
	for i := edge; i >= 1; i-- {
		ext = append(ext, 2*x[0]-x[i])
	}
	ext = append(ext, x...)
	for i := n - 2; i >= n-1-edge; i-- {
		ext = append(ext, 2*x[n-1]-x[i])
	}
	return ext
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}
