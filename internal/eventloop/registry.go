package eventloop

import "sort"

// Registry names the timers it plans so an owner can replace or cancel them
// by key, and cancel all of them on teardown.
type Registry struct {
	sched Scheduler
	tasks map[string]TaskID
}

func NewRegistry(sched Scheduler) *Registry {
	return &Registry{sched: sched, tasks: make(map[string]TaskID)}
}

// Schedule plans fn at the given instant under key, cancelling any timer
// already registered under the same key.
func (r *Registry) Schedule(key string, at float64, fn func()) {
	r.Cancel(key)
	var id TaskID
	id = r.sched.At(at, func() {
		if r.tasks[key] == id {
			delete(r.tasks, key)
		}
		fn()
	})
	r.tasks[key] = id
}

// Cancel stops the timer registered under key.
func (r *Registry) Cancel(key string) bool {
	id, ok := r.tasks[key]
	if !ok {
		return false
	}
	delete(r.tasks, key)
	return r.sched.Cancel(id)
}

// CancelAll stops every registered timer.
func (r *Registry) CancelAll() int {
	n := len(r.tasks)
	for key, id := range r.tasks {
		r.sched.Cancel(id)
		delete(r.tasks, key)
	}
	return n
}

func (r *Registry) Has(key string) bool {
	_, ok := r.tasks[key]
	return ok
}

func (r *Registry) Len() int { return len(r.tasks) }

// Keys lists registered keys in sorted order.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.tasks))
	for k := range r.tasks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Now reports the time of the underlying scheduler.
func (r *Registry) Now() float64 { return r.sched.Now() }
