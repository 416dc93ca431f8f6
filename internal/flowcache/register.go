package flowcache

// Register is a fixed-size array of T addressed by Index. Cells never
// written read as the zero value of T.
type Register[T any] struct {
	cells []T
}

// NewRegister allocates a register of size cells.
func NewRegister[T any](size int) *Register[T] {
	return &Register[T]{cells: make([]T, size)}
}

// Read returns the value stored at i.
func (r *Register[T]) Read(i Index) T {
	return r.cells[i.v]
}

// Write overwrites the value stored at i.
func (r *Register[T]) Write(i Index, v T) {
	r.cells[i.v] = v
}

// Len returns the number of cells.
func (r *Register[T]) Len() int {
	return len(r.cells)
}
