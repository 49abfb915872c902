package background

import (
	"log"
	"sync"
)

// Tasks is a process-wide supervised set of fire-and-forget goroutines.
// Spawned work survives the request that started it; errors and panics are
// logged centrally instead of being lost.
type Tasks struct {
	wg sync.WaitGroup
}

func NewTasks() *Tasks {
	return &Tasks{}
}

// Go runs fn on its own goroutine under supervision.
func (t *Tasks) Go(name string, fn func() error) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("task.panic name=%s panic=%v", name, r)
			}
		}()
		if err := fn(); err != nil {
			log.Printf("task.failed name=%s error=%v", name, err)
		}
	}()
}

// Wait blocks until every spawned task has finished. Called on shutdown.
func (t *Tasks) Wait() {
	t.wg.Wait()
}
