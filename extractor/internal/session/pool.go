package session

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Pool ограничивает число одновременно выполняемых CPU-задач
type Pool struct {
	sem  *semaphore.Weighted
	size int
}

// NewPool создает пул; size <= 0 означает число CPU
func NewPool(size int) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

func (p *Pool) Size() int {
	return p.size
}

// Run выполняет fn в отдельной горутине. Отмена ctx действует только до захвата слота;
// начатая задача выполняется до конца, но при отмене ожидания ее результат отбрасывается.
// Паника в fn возвращается как ErrInternal.
func (p *Pool) Run(ctx context.Context, fn func() error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%w: panic: %v", ErrInternal, r)
			}
		}()
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
