package bufpool

import "sync"

// Buffers are sized for streaming whole files through a hasher.
const bufferSize = 32 * 1024

var pool = sync.Pool{
	New: func() any {
		b := make([]byte, bufferSize)
		return &b
	},
}

func Get() *[]byte {
	return pool.Get().(*[]byte)
}

func Put(b *[]byte) {
	pool.Put(b)
}
