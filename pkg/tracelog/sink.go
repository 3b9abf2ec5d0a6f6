package tracelog

import (
	"io"
	"strings"
	"sync"
)

/*
该文件定义训练过程的文本追踪接口（trace sink）
追踪内容只用于人工诊断，写入失败不会影响训练本身
*/

// Sink 训练追踪输出能力，前向、误差、反向、权重变化依次写入
type Sink interface {
	AppendText(s string)
}

// Discard 丢弃所有追踪内容
var Discard Sink = discard{}

type discard struct{}

func (discard) AppendText(string) {}

// Func 将普通函数适配为Sink
type Func func(s string)

func (f Func) AppendText(s string) { f(s) }

// WriterSink 将追踪写入io.Writer（例如log.txt或标准输出）
// 只记录第一个写入错误，之后的写入全部忽略
type WriterSink struct {
	w   io.Writer
	err error
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (ws *WriterSink) AppendText(s string) {
	if ws.err != nil {
		return
	}
	_, ws.err = io.WriteString(ws.w, s)
}

// Err 返回第一次写入失败的错误
func (ws *WriterSink) Err() error {
	return ws.err
}

// Buffer 内存中的追踪缓冲区，可并发读取
type Buffer struct {
	mu sync.Mutex
	sb strings.Builder
}

func (b *Buffer) AppendText(s string) {
	b.mu.Lock()
	b.sb.WriteString(s)
	b.mu.Unlock()
}

func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.String()
}

func (b *Buffer) Reset() {
	b.mu.Lock()
	b.sb.Reset()
	b.mu.Unlock()
}

// Tee 将同一段追踪依次写入多个Sink
func Tee(sinks ...Sink) Sink {
	return Func(func(s string) {
		for _, sink := range sinks {
			sink.AppendText(s)
		}
	})
}
