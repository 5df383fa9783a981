package tracking

import "sync"

// Monotonic 过滤掉不大于已上报值的进度
func Monotonic(sink ProgressSink) ProgressSink {
	var (
		mu   sync.Mutex
		last = -1
	)
	return func(progress int) {
		mu.Lock()
		defer mu.Unlock()
		if progress <= last {
			return
		}
		last = progress
		sink(progress)
	}
}
