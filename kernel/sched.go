package kernel

func (k *Kernel) runnable(i int) bool {
	s := k.tasks[i].state
	return s == StateReady || s == StateUnrun
}

// selectNext picks the next task to run. Both policies wrap modulo MaxTasks
// and consider the last chosen slot only after every other slot.
func (k *Kernel) selectNext() (int, bool) {
	next := -1
	switch k.policy {
	case PolicyRoundRobin:
		for n := 1; n <= MaxTasks; n++ {
			i := (k.rrLast + n) % MaxTasks
			if k.runnable(i) {
				next = i
				break
			}
		}
	default:
		best := uint8(NumPriorities)
		for i := range k.tasks {
			if k.runnable(i) && k.tasks[i].currentPriority < best {
				best = k.tasks[i].currentPriority
			}
		}
		if best == NumPriorities {
			break
		}
		for n := 1; n <= MaxTasks; n++ {
			i := (k.lastRun[best] + n) % MaxTasks
			if k.runnable(i) && k.tasks[i].currentPriority == best {
				next = i
				break
			}
		}
	}
	if next < 0 {
		return -1, false
	}
	k.rrLast = next
	k.lastRun[k.tasks[next].currentPriority] = next
	return next, true
}

func (k *Kernel) SetPolicy(p Policy) { k.policy = p }
func (k *Kernel) SetPreempt(on bool) { k.preempt = on }
func (k *Kernel) SetInherit(on bool) { k.inherit = on }
