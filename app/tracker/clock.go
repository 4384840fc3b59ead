package tracker

import "time"

// Timer 可停止的定时器
type Timer interface {
	Stop() bool
}

// Clock 时间来源，测试时可替换为手动推进的实现
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
