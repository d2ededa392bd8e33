package database

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Pinger is any dependency that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CheckAll pings every dependency concurrently and returns the failures by
// name. An empty map means all dependencies answered within timeout.
func CheckAll(ctx context.Context, timeout time.Duration, deps map[string]Pinger) map[string]error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		failures = make(map[string]error)
	)
	for name, dep := range deps {
		if dep == nil {
			continue
		}
		wg.Add(1)
		go func(name string, dep Pinger) {
			defer wg.Done()
			if err := dep.Ping(ctx); err != nil {
				mu.Lock()
				failures[name] = err
				mu.Unlock()
			}
		}(name, dep)
	}
	wg.Wait()
	return failures
}

// Names returns the sorted keys of a failure map.
func Names(failures map[string]error) []string {
	names := make([]string, 0, len(failures))
	for name := range failures {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
