package kernel

// waitQueue is a bounded FIFO of task slots.
type waitQueue struct {
	head  int
	n     int
	slots []int8
}

func newWaitQueue(capacity int) waitQueue {
	return waitQueue{slots: make([]int8, capacity)}
}

func (q *waitQueue) len() int { return q.n }
func (q *waitQueue) cap() int { return len(q.slots) }

func (q *waitQueue) push(slot int) bool {
	if q.n >= len(q.slots) {
		return false
	}
	q.slots[(q.head+q.n)%len(q.slots)] = int8(slot)
	q.n++
	return true
}

func (q *waitQueue) pop() (int, bool) {
	if q.n == 0 {
		return -1, false
	}
	slot := int(q.slots[q.head])
	q.head = (q.head + 1) % len(q.slots)
	q.n--
	return slot, true
}

// remove drops slot from the queue, keeping the order of the others.
func (q *waitQueue) remove(slot int) bool {
	items := q.items()
	found := false
	q.head, q.n = 0, 0
	for _, s := range items {
		if s == slot && !found {
			found = true
			continue
		}
		q.push(s)
	}
	return found
}

// items returns the waiters in wake order.
func (q *waitQueue) items() []int {
	out := make([]int, 0, q.n)
	for i := 0; i < q.n; i++ {
		out = append(out, int(q.slots[(q.head+i)%len(q.slots)]))
	}
	return out
}
