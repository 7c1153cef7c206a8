package ml

import "math"

// MinMaxScaler 把每列线性压到 [0,1]。常量列输出 0。
type MinMaxScaler struct {
	Min []float64 `json:"min"`
	Max []float64 `json:"max"`
}

func (s *MinMaxScaler) Fit(x [][]float64) error {
	if len(x) == 0 {
		return ErrBadInput
	}
	n := len(x[0])
	s.Min = make([]float64, n)
	s.Max = make([]float64, n)
	for j := 0; j < n; j++ {
		s.Min[j] = math.Inf(1)
		s.Max[j] = math.Inf(-1)
	}
	for _, row := range x {
		if len(row) != n {
			return ErrBadInput
		}
		for j, v := range row {
			if v < s.Min[j] {
				s.Min[j] = v
			}
			if v > s.Max[j] {
				s.Max[j] = v
			}
		}
	}
	return nil
}

func (s *MinMaxScaler) Transform(row []float64) ([]float64, error) {
	if len(s.Min) == 0 {
		return nil, ErrNotFitted
	}
	if len(row) != len(s.Min) {
		return nil, ErrBadInput
	}
	out := make([]float64, len(row))
	for j, v := range row {
		span := s.Max[j] - s.Min[j]
		if span <= 0 {
			out[j] = 0
			continue
		}
		out[j] = (v - s.Min[j]) / span
	}
	return out, nil
}

func (s *MinMaxScaler) TransformBatch(x [][]float64) ([][]float64, error) {
	out := make([][]float64, len(x))
	for i, row := range x {
		t, err := s.Transform(row)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

// StandardScaler 按列做零均值单位方差标准化。常量列输出 0。
type StandardScaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

func (s *StandardScaler) Fit(x [][]float64) error {
	if len(x) == 0 {
		return ErrBadInput
	}
	n := len(x[0])
	s.Mean = make([]float64, n)
	s.Std = make([]float64, n)
	for _, row := range x {
		if len(row) != n {
			return ErrBadInput
		}
		for j, v := range row {
			s.Mean[j] += v
		}
	}
	rows := float64(len(x))
	for j := range s.Mean {
		s.Mean[j] /= rows
	}
	for _, row := range x {
		for j, v := range row {
			d := v - s.Mean[j]
			s.Std[j] += d * d
		}
	}
	for j := range s.Std {
		s.Std[j] = math.Sqrt(s.Std[j] / rows)
	}
	return nil
}

func (s *StandardScaler) Transform(row []float64) ([]float64, error) {
	if len(s.Mean) == 0 {
		return nil, ErrNotFitted
	}
	if len(row) != len(s.Mean) {
		return nil, ErrBadInput
	}
	out := make([]float64, len(row))
	for j, v := range row {
		if s.Std[j] <= 0 {
			out[j] = 0
			continue
		}
		out[j] = (v - s.Mean[j]) / s.Std[j]
	}
	return out, nil
}

func (s *StandardScaler) TransformBatch(x [][]float64) ([][]float64, error) {
	out := make([][]float64, len(x))
	for i, row := range x {
		t, err := s.Transform(row)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}
