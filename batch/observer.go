package batch

import "github.com/wudi/examkit/splitter"

// Observer receives progress events from Run. Implementations must be safe
// for concurrent use when the runner is shared by RunAll.
type Observer interface {
	OnPageDone(exam string, year int, split splitter.PageSplit)
	OnResult(exam string, year int, entry ResultEntry)
}

// NopObserver ignores all events.
type NopObserver struct{}

func (NopObserver) OnPageDone(string, int, splitter.PageSplit) {}
func (NopObserver) OnResult(string, int, ResultEntry)          {}
