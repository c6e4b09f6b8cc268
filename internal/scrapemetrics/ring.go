package scrapemetrics

// ring keeps the most recent values up to a fixed capacity.
type ring[T any] struct {
	buf   []T
	next  int
	count int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) push(v T) {
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

func (r *ring[T]) len() int {
	return r.count
}

// last returns up to n of the newest values, oldest first. n <= 0 means all.
func (r *ring[T]) last(n int) []T {
	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]T, 0, n)
	start := (r.next - n + len(r.buf)) % len(r.buf)
	for i := 0; i < n; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}
