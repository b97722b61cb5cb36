package eventloop

// TaskID identifies a planned task. Zero is never handed out.
type TaskID uint64

type plannedTask struct {
	at    float64
	seq   uint64
	id    TaskID
	fn    func()
	index int
}

// taskQueue is a min-heap ordered by due time, then by scheduling order.
type taskQueue []*plannedTask

func (q taskQueue) Len() int { return len(q) }
func (q taskQueue) Less(i, j int) bool {
	if q[i].at != q[j].at {
		return q[i].at < q[j].at
	}
	return q[i].seq < q[j].seq
}
func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}
func (q *taskQueue) Push(x interface{}) {
	t := x.(*plannedTask)
	t.index = len(*q)
	*q = append(*q, t)
}
func (q *taskQueue) Pop() interface{} {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}
