// timer/timer.go
package timer

import (
	"container/heap"
	"sync"
	"time"
)

// DefaultTick is how often due timers are checked.
const DefaultTick = 100 * time.Millisecond

type task struct {
	id       int64
	at       time.Time
	interval time.Duration
	callback func()
	index    int
}

type taskQueue []*task

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	return q[i].at.Before(q[j].at)
}

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *taskQueue) Push(x any) {
	n := len(*q)
	t := x.(*task)
	t.index = n
	*q = append(*q, t)
}

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	t.index = -1
	*q = old[0 : n-1]
	return t
}

// TimerManager runs one-shot and periodic callbacks off a single min-heap.
// Callbacks run in their own goroutines.
type TimerManager struct {
	queue  taskQueue
	mutex  sync.Mutex
	nextId int64
	tick   time.Duration
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func NewTimerManager(tick time.Duration) *TimerManager {
	if tick <= 0 {
		tick = DefaultTick
	}
	manager := &TimerManager{
		queue:  make(taskQueue, 0),
		nextId: 1,
		tick:   tick,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	heap.Init(&manager.queue)
	go manager.process()
	return manager
}

// AddTimer schedules callback after delay, then every interval when interval > 0.
func (m *TimerManager) AddTimer(delay time.Duration, interval time.Duration, callback func()) int64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	t := &task{
		id:       m.nextId,
		at:       time.Now().Add(delay),
		interval: interval,
		callback: callback,
	}
	m.nextId++

	heap.Push(&m.queue, t)
	return t.id
}

func (m *TimerManager) RemoveTimer(timerId int64) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for i, t := range m.queue {
		if t.id == timerId {
			heap.Remove(&m.queue, i)
			return true
		}
	}
	return false
}

func (m *TimerManager) Len() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.queue.Len()
}

// Stop halts scheduling. Callbacks already started keep running.
func (m *TimerManager) Stop() {
	m.once.Do(func() { close(m.stop) })
	<-m.done
}

func (m *TimerManager) process() {
	defer close(m.done)
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case now := <-ticker.C:
			for _, callback := range m.due(now) {
				go callback()
			}
		}
	}
}

// due 取出所有到期任务，周期任务重新入队
func (m *TimerManager) due(now time.Time) []func() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var callbacks []func()
	for m.queue.Len() > 0 {
		t := m.queue[0]
		if t.at.After(now) {
			break
		}

		heap.Pop(&m.queue)
		callbacks = append(callbacks, t.callback)

		if t.interval > 0 {
			t.at = now.Add(t.interval)
			heap.Push(&m.queue, t)
		}
	}
	return callbacks
}
