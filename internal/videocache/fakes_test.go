package videocache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/LuffyBySunny/SunnyVideoCache/internal/cache"
	"github.com/LuffyBySunny/SunnyVideoCache/internal/source"
)

var errOriginReset = errors.New("origin reset")

const (
	timeout = time.Second
	tick    = 5 * time.Millisecond
)

// fakeOrigin 模拟远端资源，记录打开/关闭次数。
type fakeOrigin struct {
	data        []byte
	mime        string
	lengthKnown bool
	chunk       int
	failAfter   int64
	probeErr    error
	// gate 非空时每次 Read 都要等待一个信号或 context 取消。
	gate chan struct{}

	mu     sync.Mutex
	opens  []int64
	closes int
	probes int
}

func newFakeOrigin(data []byte) *fakeOrigin {
	return &fakeOrigin{
		data:        data,
		mime:        "video/mp4",
		lengthKnown: true,
		chunk:       512,
		failAfter:   -1,
	}
}

func (o *fakeOrigin) source(rawURL string) *fakeSource {
	return &fakeSource{url: rawURL, origin: o}
}

func (o *fakeOrigin) openOffsets() []int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]int64(nil), o.opens...)
}

func (o *fakeOrigin) closeCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closes
}

type fakeSource struct {
	url    string
	origin *fakeOrigin
	ctx    context.Context
	pos    int64
	opened bool
}

func (s *fakeSource) URL() string { return s.url }

func (s *fakeSource) Info(context.Context) (source.Info, error) {
	s.origin.mu.Lock()
	defer s.origin.mu.Unlock()
	s.origin.probes++
	if s.origin.probeErr != nil {
		return source.Info{Length: -1}, s.origin.probeErr
	}
	info := source.Info{Length: -1, Mime: s.origin.mime}
	if s.origin.lengthKnown {
		info.Length = int64(len(s.origin.data))
	}
	return info, nil
}

func (s *fakeSource) Open(ctx context.Context, offset int64) error {
	s.origin.mu.Lock()
	s.origin.opens = append(s.origin.opens, offset)
	s.origin.mu.Unlock()
	s.ctx = ctx
	s.pos = offset
	s.opened = true
	return nil
}

func (s *fakeSource) Read(p []byte) (int, error) {
	if !s.opened {
		return 0, source.ErrNotOpened
	}
	if gate := s.origin.gate; gate != nil {
		select {
		case <-gate:
		case <-s.ctx.Done():
			return 0, s.ctx.Err()
		}
	}
	if s.pos >= int64(len(s.origin.data)) {
		return 0, io.EOF
	}
	if s.origin.failAfter >= 0 && s.pos >= s.origin.failAfter {
		return 0, errOriginReset
	}
	end := int64(len(s.origin.data))
	if s.origin.chunk > 0 && s.pos+int64(s.origin.chunk) < end {
		end = s.pos + int64(s.origin.chunk)
	}
	if s.origin.failAfter >= 0 && end > s.origin.failAfter {
		end = s.origin.failAfter
	}
	n := copy(p, s.origin.data[s.pos:end])
	s.pos += int64(n)
	return n, nil
}

func (s *fakeSource) Close() error {
	s.origin.mu.Lock()
	s.origin.closes++
	s.origin.mu.Unlock()
	s.opened = false
	return nil
}

func (s *fakeSource) Clone() source.Source {
	return &fakeSource{url: s.url, origin: s.origin}
}

// memStore 是内存版 cache.Store，统计 ReadAt 调用次数。
type memStore struct {
	mu        sync.Mutex
	data      []byte
	completed bool
	closed    bool
	reads     int
	// closeGate 非空时 Close 要等到它被关闭才返回。
	closeGate chan struct{}
}

func (m *memStore) Available() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.data))
}

func (m *memStore) IsCompleted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.completed
}

func (m *memStore) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.closed {
		return 0, cache.ErrClosed
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	return copy(p, m.data[off:]), nil
}

func (m *memStore) Append(p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return cache.ErrClosed
	}
	if m.completed {
		return cache.ErrCompleted
	}
	m.data = append(m.data, p...)
	return nil
}

func (m *memStore) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return cache.ErrClosed
	}
	if m.completed {
		return cache.ErrCompleted
	}
	m.data = nil
	return nil
}

func (m *memStore) Complete() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = true
	return nil
}

func (m *memStore) Close() error {
	if m.closeGate != nil {
		<-m.closeGate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memStore) readCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

func (m *memStore) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// testPayload 生成可辨认的字节序列。
func testPayload(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*7 + i/251)
	}
	return data
}

// failingWriter 在成功写入 allowed 次之后返回错误。
type failingWriter struct {
	allowed int
	buf     bytes.Buffer
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.allowed <= 0 {
		return 0, errors.New("broken pipe")
	}
	w.allowed--
	return w.buf.Write(p)
}

// progressRecorder 记录进度与完成通知。
type progressRecorder struct {
	mu          sync.Mutex
	percents    []int
	urls        []string
	completions []string
}

func (p *progressRecorder) OnComplete(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completions = append(p.completions, url)
}

func (p *progressRecorder) completed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.completions...)
}

func (p *progressRecorder) OnProgress(url string, percent int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.percents = append(p.percents, percent)
	p.urls = append(p.urls, url)
}

func (p *progressRecorder) values() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.percents...)
}

func (p *progressRecorder) last() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.percents) == 0 {
		return -1
	}
	return p.percents[len(p.percents)-1]
}
