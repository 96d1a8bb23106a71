package pool

// fixed is a Pool with a hard concurrency cap, backed by a pre-filled
// buffered channel: the teacher's fixed pool lazily created up to
// capacity worker objects and recycled them through available/all/buf;
// since there is no object to create or recycle here, the channel just
// holds capacity empty slots up front and Get/Put move a slot in and out.
type fixed struct {
	slots chan struct{}
}

// NewFixed returns a Pool that allows at most capacity concurrent
// reservations. A capacity of 0 blocks every Get forever, matching the
// teacher's documented zero-capacity edge case.
func NewFixed(capacity uint) Pool {
	slots := make(chan struct{}, capacity)
	for i := uint(0); i < capacity; i++ {
		slots <- struct{}{}
	}
	return &fixed{slots: slots}
}

func (p *fixed) Get() {
	<-p.slots
}

func (p *fixed) Put() {
	select {
	case p.slots <- struct{}{}:
	default:
	}
}
