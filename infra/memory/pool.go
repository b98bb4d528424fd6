package memory

import (
	"sync"
	"sync/atomic"
)

// Resetter is implemented by pooled values.
type Resetter interface {
	Reset()
}

// Pool is a typed wrapper over sync.Pool that counts outstanding objects.
type Pool[T any, PT interface {
	*T
	Resetter
}] struct {
	p    sync.Pool
	live atomic.Int64
}

func NewPool[T any, PT interface {
	*T
	Resetter
}]() *Pool[T, PT] {
	return &Pool[T, PT]{
		p: sync.Pool{New: func() any { return PT(new(T)) }},
	}
}

func (p *Pool[T, PT]) Get() PT {
	p.live.Add(1)
	return p.p.Get().(PT)
}

// Put resets v and returns it. v must not be used afterwards.
func (p *Pool[T, PT]) Put(v PT) {
	if v == nil {
		return
	}
	v.Reset()
	p.live.Add(-1)
	p.p.Put(v)
}

// Live is the number of objects taken and not yet returned.
func (p *Pool[T, PT]) Live() int64 {
	return p.live.Load()
}
