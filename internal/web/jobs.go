package web

import (
	"sync"
	"time"

	"github.com/MrWong99/monitorai/internal/evaluate"
)

// State is the lifecycle state of an evaluation job.
type State string

const (
	StateRunning State = "running"
	StateDone    State = "done"
	StateFailed  State = "failed"
)

// defaultMaxJobs bounds how many jobs the registry keeps, running or not.
const defaultMaxJobs = 200

// job is one asynchronous evaluation. Events are kept so late subscribers
// can replay them.
type job struct {
	id        string
	fileName  string
	createdAt time.Time

	mu     sync.Mutex
	state  State
	result *evaluate.Result
	err    error
	events []evaluate.Event
	subs   map[chan evaluate.Event]struct{}
	done   chan struct{}
}

func newJob(id, fileName string, now time.Time) *job {
	return &job{
		id:        id,
		fileName:  fileName,
		createdAt: now,
		state:     StateRunning,
		subs:      make(map[chan evaluate.Event]struct{}),
		done:      make(chan struct{}),
	}
}

// publish records ev and forwards it to subscribers. A subscriber that is not
// keeping up misses the event; it can still read the final state.
func (j *job) publish(ev evaluate.Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, ev)
	for ch := range j.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// finish stores the outcome and releases subscribers.
func (j *job) finish(res *evaluate.Result, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.result, j.err = res, err
	j.state = StateDone
	if err != nil {
		j.state = StateFailed
	}
	close(j.done)
}

// subscribe returns the events published so far and a channel for later
// ones. The channel is not closed; wait on j.done instead. Call cancel when
// finished.
func (j *job) subscribe() (past []evaluate.Event, ch <-chan evaluate.Event, cancel func()) {
	c := make(chan evaluate.Event, 16)
	j.mu.Lock()
	past = append([]evaluate.Event(nil), j.events...)
	j.subs[c] = struct{}{}
	j.mu.Unlock()
	return past, c, func() {
		j.mu.Lock()
		delete(j.subs, c)
		j.mu.Unlock()
	}
}

// snapshot returns the current state, result and error.
func (j *job) snapshot() (State, *evaluate.Result, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state, j.result, j.err
}

// registry is the set of known jobs, oldest first. When full, the oldest
// finished job is evicted; with max jobs still running, new ones are refused.
type registry struct {
	mu    sync.Mutex
	jobs  map[string]*job
	order []string
	max   int
}

func newRegistry(max int) *registry {
	if max <= 0 {
		max = defaultMaxJobs
	}
	return &registry{jobs: make(map[string]*job), max: max}
}

// add registers j and reports whether there was room for it.
func (r *registry) add(j *job) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runningLocked() >= r.max {
		return false
	}
	r.jobs[j.id] = j
	r.order = append(r.order, j.id)
	for len(r.order) > r.max {
		for i, id := range r.order {
			if st, _, _ := r.jobs[id].snapshot(); st != StateRunning {
				delete(r.jobs, id)
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	return true
}

// full reports whether add would refuse a new job right now.
func (r *registry) full() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runningLocked() >= r.max
}

// runningLocked counts queued and running jobs. r.mu must be held.
func (r *registry) runningLocked() int {
	n := 0
	for _, j := range r.jobs {
		if st, _, _ := j.snapshot(); st == StateRunning {
			n++
		}
	}
	return n
}

func (r *registry) get(id string) (*job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	return j, ok
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// stage returns the most recent stage, or "" before the first event.
func (j *job) stage() evaluate.Stage {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.events) == 0 {
		return ""
	}
	return j.events[len(j.events)-1].Stage
}

// eventsAfter returns the events with Seq greater than seq.
func (j *job) eventsAfter(seq int) []evaluate.Event {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []evaluate.Event
	for _, ev := range j.events {
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
