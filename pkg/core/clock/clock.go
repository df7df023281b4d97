package clock

import (
	"sync"
	"time"
)

// Clock 当前时间提供者（对外导出）
// 引擎和扫描器的所有"现在"都从这里取，测试中替换为Fake。
type Clock interface {
	Now() time.Time
}

// System 系统时钟，返回UTC时间
type System struct{}

// Now 返回当前UTC时间
func (System) Now() time.Time {
	return time.Now().UTC()
}

// Fake 可手动拨动的时钟（对外导出）
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake 创建固定在t的时钟
func NewFake(t time.Time) *Fake {
	return &Fake{now: t.UTC()}
}

// Now 返回当前设定时间
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Set 设置当前时间
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t.UTC()
	f.mu.Unlock()
}

// Advance 向前拨动d
func (f *Fake) Advance(d time.Duration) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	return f.now
}
