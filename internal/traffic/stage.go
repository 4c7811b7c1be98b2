package traffic

import (
	"errors"
	"sync"

	"github.com/banshee-data/trafficmgr/internal/monitoring"
)

// ErrStopped is returned by a stage's RunOnce when its upstream has been
// closed for shutdown. It terminates the stage loop without being logged as
// a failure.
var ErrStopped = errors.New("stage stopped")

// Stage is one independently scheduled step of the pipeline. RunOnce blocks
// on the stage's upstream messenger, computes one frame's contribution and
// sends it downstream. Start spawns the stage's goroutine looping RunOnce;
// Stop requests cooperative termination and blocks until the in-flight
// RunOnce finishes — per-actor work is never cancelled mid-computation, so
// partial commands are never emitted.
type Stage interface {
	Name() string
	RunOnce() error
	Start()
	Stop()
}

// closer matches the Close method shared by all messenger instantiations.
type closer interface{ Close() }

// lifecycle implements the shared start/stop protocol. Stopping closes the
// stage's upstream messengers first so a RunOnce blocked in Receive observes
// the shutdown, then waits for the goroutine to drain.
type lifecycle struct {
	name      string
	upstreams []closer
	quit      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
}

func newLifecycle(name string, upstreams ...closer) lifecycle {
	return lifecycle{
		name:      name,
		upstreams: upstreams,
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// start spawns the stage goroutine. A RunOnce error other than ErrStopped is
// logged and the loop continues: no error may terminate a stage's execution
// context.
func (l *lifecycle) start(runOnce func() error) {
	go func() {
		defer close(l.done)
		for {
			select {
			case <-l.quit:
				return
			default:
			}
			if err := runOnce(); err != nil {
				if errors.Is(err, ErrStopped) {
					return
				}
				monitoring.Logf("[%s] frame failed: %v", l.name, err)
			}
		}
	}()
}

// stop requests termination and blocks until the stage goroutine exits.
// Idempotent; subsequent calls wait for the same drain.
func (l *lifecycle) stop() {
	l.stopOnce.Do(func() {
		for _, u := range l.upstreams {
			u.Close()
		}
		close(l.quit)
	})
	<-l.done
}
