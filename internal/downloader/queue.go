package downloader

// queue holds pending tasks ordered by priority, FIFO within each tier.
// It is not safe for concurrent use; the engine serializes access.
type queue struct {
	high   []*task
	normal []*task
	low    []*task
}

func (q *queue) push(t *task) {
	switch t.priority {
	case PriorityHigh:
		q.high = append(q.high, t)
	case PriorityLow:
		q.low = append(q.low, t)
	default:
		q.normal = append(q.normal, t)
	}
}

// pop removes and returns the head task, or nil when the queue is empty.
func (q *queue) pop() *task {
	for _, tier := range []*[]*task{&q.high, &q.normal, &q.low} {
		if len(*tier) == 0 {
			continue
		}

		t := (*tier)[0]
		(*tier)[0] = nil
		*tier = (*tier)[1:]

		return t
	}

	return nil
}

// remove drops the task with the given id from whichever tier holds it.
func (q *queue) remove(id string) *task {
	for _, tier := range []*[]*task{&q.high, &q.normal, &q.low} {
		for i, t := range *tier {
			if t.id != id {
				continue
			}

			*tier = append((*tier)[:i], (*tier)[i+1:]...)

			return t
		}
	}

	return nil
}

func (q *queue) len() int {
	return len(q.high) + len(q.normal) + len(q.low)
}
