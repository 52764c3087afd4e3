package ingest

// Skipper forwards one frame out of every n, counting from 1: with n=2 the
// 2nd, 4th, 6th... frames pass.
type Skipper struct {
	n     uint64
	count uint64
}

func NewSkipper(n int) *Skipper {
	if n < 1 {
		n = 1
	}
	return &Skipper{n: uint64(n)}
}

// Next counts one captured frame and reports whether it should be forwarded.
func (s *Skipper) Next() bool {
	s.count++
	return s.count%s.n == 0
}
