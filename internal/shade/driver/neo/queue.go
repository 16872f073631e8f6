package neo

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const DefaultCommandDelay = 500 * time.Millisecond

type job struct {
	cmd    Command
	result chan error
}

// Queue executes commands one at a time, in order. The controller accepts a
// single command at a time and gives no busy signal, so the next command is
// only sent once the previous one's delay has passed.
type Queue struct {
	name  string
	t     Transmitter
	delay time.Duration

	onSent func()

	l       sync.Mutex
	pending []*job
	running bool

	ctx context.Context
}

// NewQueue creates a queue transmitting through t. onSent is invoked
// delay after every successful transmission, before the next command starts.
func NewQueue(ctx context.Context, name string, t Transmitter, delay time.Duration, onSent func()) *Queue {
	return &Queue{ctx: ctx, name: name, t: t, delay: delay, onSent: onSent}
}

// Enqueue appends cmd. The returned channel receives the transmission
// result once the command has been written or has failed.
func (q *Queue) Enqueue(cmd Command) <-chan error {
	j := &job{cmd: cmd, result: make(chan error, 1)}

	q.l.Lock()
	q.pending = append(q.pending, j)
	if !q.running {
		q.running = true
		go q.run()
	}
	logrus.Tracef("%s: queued %s (%d pending)", q.name, cmd, len(q.pending))
	q.l.Unlock()

	return j.result
}

func (q *Queue) pendingCount() int {
	q.l.Lock()
	defer q.l.Unlock()

	return len(q.pending)
}

func (q *Queue) run() {
	for {
		q.l.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.l.Unlock()
			return
		}
		j := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.l.Unlock()

		q.execute(j)
	}
}

func (q *Queue) execute(j *job) {
	err := q.t.Transmit(q.ctx, j.cmd)
	j.result <- err
	if err != nil {
		logrus.Errorf("%s: command %s failed: %s", q.name, j.cmd, err)
		return
	}

	t := time.NewTimer(q.delay)
	defer t.Stop()

	select {
	case <-t.C:
	case <-q.ctx.Done():
		logrus.Debugf("%s: command delay exit", q.name)
		return
	}

	if q.onSent != nil {
		q.onSent()
	}
}
