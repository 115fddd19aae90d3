package kernel

type mutex struct {
	locked bool
	owner  int
	queue  waitQueue
}

type semaphore struct {
	count uint32
	queue waitQueue
}

func (k *Kernel) lock(id int) Status {
	if id < 0 || id >= len(k.mutexes) {
		return StatusInvalidID
	}
	cur := k.current
	t := &k.tasks[cur]
	m := &k.mutexes[id]
	if !m.locked {
		m.locked = true
		m.owner = cur
		return StatusOK
	}
	if m.owner == cur {
		return StatusInvalidArg
	}
	if !m.queue.push(cur) {
		return StatusQueueFull
	}
	if k.inherit {
		if o := &k.tasks[m.owner]; t.currentPriority < o.currentPriority {
			o.currentPriority = t.currentPriority
		}
	}
	t.state = StateBlockedMutex
	t.mutex = id
	k.pendSV = true
	return StatusOK
}

func (k *Kernel) unlock(id int) Status {
	if id < 0 || id >= len(k.mutexes) {
		return StatusInvalidID
	}
	m := &k.mutexes[id]
	if !m.locked || m.owner != k.current {
		return StatusNotOwner
	}
	k.handOff(id)
	return StatusOK
}

// handOff releases mutex id from its owner. The head waiter, if any, becomes
// the new owner and is made READY.
func (k *Kernel) handOff(id int) {
	m := &k.mutexes[id]
	prev := m.owner
	if next, ok := m.queue.pop(); ok {
		m.owner = next
		nt := &k.tasks[next]
		nt.state = StateReady
		nt.mutex = -1
		if k.inherit {
			nt.currentPriority = k.effectivePriority(next)
		}
	} else {
		m.locked = false
		m.owner = -1
	}
	if prev >= 0 {
		k.tasks[prev].currentPriority = k.effectivePriority(prev)
	}
}

// effectivePriority is a task's base priority, raised to its most urgent
// waiter on any mutex it holds while inheritance is on.
func (k *Kernel) effectivePriority(slot int) uint8 {
	p := k.tasks[slot].basePriority
	if !k.inherit {
		return p
	}
	for id := range k.mutexes {
		m := &k.mutexes[id]
		if !m.locked || m.owner != slot {
			continue
		}
		for _, w := range m.queue.items() {
			if wp := k.tasks[w].currentPriority; wp < p {
				p = wp
			}
		}
	}
	return p
}

func (k *Kernel) wait(id int) Status {
	if id < 0 || id >= len(k.semaphores) {
		return StatusInvalidID
	}
	s := &k.semaphores[id]
	if s.count > 0 {
		s.count--
		return StatusOK
	}
	if !s.queue.push(k.current) {
		return StatusQueueFull
	}
	t := &k.tasks[k.current]
	t.state = StateBlockedSemaphore
	t.semaphore = id
	k.pendSV = true
	return StatusOK
}

func (k *Kernel) post(id int) Status {
	if id < 0 || id >= len(k.semaphores) {
		return StatusInvalidID
	}
	s := &k.semaphores[id]
	if next, ok := s.queue.pop(); ok {
		t := &k.tasks[next]
		t.state = StateReady
		t.semaphore = -1
		return StatusOK
	}
	s.count++
	return StatusOK
}

// MutexInfo is a snapshot of one mutex.
type MutexInfo struct {
	Locked  bool
	Owner   PID
	Waiting []PID
}

// SemaphoreInfo is a snapshot of one semaphore.
type SemaphoreInfo struct {
	Count   uint32
	Waiting []PID
}

func (k *Kernel) pids(slots []int) []PID {
	out := make([]PID, 0, len(slots))
	for _, s := range slots {
		out = append(out, k.tasks[s].pid)
	}
	return out
}

// Mutex returns a snapshot of mutex id.
func (k *Kernel) Mutex(id int) (MutexInfo, bool) {
	if id < 0 || id >= len(k.mutexes) {
		return MutexInfo{}, false
	}
	m := &k.mutexes[id]
	info := MutexInfo{Locked: m.locked, Waiting: k.pids(m.queue.items())}
	if m.locked {
		info.Owner = k.tasks[m.owner].pid
	}
	return info, true
}

// Semaphore returns a snapshot of semaphore id.
func (k *Kernel) Semaphore(id int) (SemaphoreInfo, bool) {
	if id < 0 || id >= len(k.semaphores) {
		return SemaphoreInfo{}, false
	}
	s := &k.semaphores[id]
	return SemaphoreInfo{Count: s.count, Waiting: k.pids(s.queue.items())}, true
}
