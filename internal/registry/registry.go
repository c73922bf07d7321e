package registry

import (
	"context"
	"sync"
)

// RegistryCtx is the per-key in-flight build table. At most one job may
// run for a given key at any instant; late callers attach to the running
// job and observe the same outcome. A settled job is removed before its
// waiters are released, so a retry after failure starts clean.
type RegistryCtx struct {
	mu   sync.Mutex
	jobs map[string]*JobCtx
}

type JobCtx struct {
	registry *RegistryCtx
	key      string

	done chan struct{}
	err  error
}

func New() *RegistryCtx {
	return &RegistryCtx{
		jobs: map[string]*JobCtx{},
	}
}

// Join attaches to the in-flight job for key, creating it when absent.
// The second return value reports ownership: the owner must run the build
// and call Finish exactly once; joiners only Wait.
func (r *RegistryCtx) Join(key string) (*JobCtx, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if job, ok := r.jobs[key]; ok {
		return job, false
	}

	job := &JobCtx{
		registry: r,
		key:      key,
		done:     make(chan struct{}),
	}
	r.jobs[key] = job
	return job, true
}

// Finish settles the job with the build outcome. The key is released
// before waiters are woken so a follow-up request starts a fresh build.
func (j *JobCtx) Finish(err error) {
	j.registry.mu.Lock()
	delete(j.registry.jobs, j.key)
	j.registry.mu.Unlock()

	j.err = err
	close(j.done)
}

// Wait blocks until the job settles or ctx is cancelled, returning the
// job's outcome.
func (j *JobCtx) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return j.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the job has settled.
func (j *JobCtx) Done() <-chan struct{} {
	return j.done
}

// Err returns the settled outcome; valid only after Done is closed.
func (j *JobCtx) Err() error {
	return j.err
}

// RunExclusive collapses concurrent calls for the same key into a single
// execution of fn; every caller observes fn's result.
func (r *RegistryCtx) RunExclusive(ctx context.Context, key string, fn func() error) error {
	job, owner := r.Join(key)
	if !owner {
		return job.Wait(ctx)
	}

	err := fn()
	job.Finish(err)
	return err
}
