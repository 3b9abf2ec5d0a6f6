package runs

import (
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"MomentumBP/pkg/config"
	"MomentumBP/pkg/tracelog"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	// ErrRunNotFound 没有该ID的训练任务
	ErrRunNotFound = errors.New("run not found")
	// ErrRunBusy 训练进行中，不能读写网络
	ErrRunBusy = errors.New("run is training")
	// ErrRunFinished 已经收敛或达到最大轮数
	ErrRunFinished = errors.New("run already finished")
)

// Manager 训练任务管理器
type Manager struct {
	runs map[string]*Run
	mu   sync.RWMutex
	// 每个websocket订阅者的缓冲区大小
	hubBuffer int
}

// NewManager 创建新的训练任务管理器
func NewManager() *Manager {
	return &Manager{
		runs:      make(map[string]*Run),
		hubBuffer: 256,
	}
}

// Create 按配置创建网络和训练器，streamTrace为true时逐条推送数值追踪
func (m *Manager) Create(conf *config.Configuration, streamTrace bool) (*Run, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	set, err := conf.TrainingSet()
	if err != nil {
		return nil, err
	}
	opts, err := conf.TrainerOptions()
	if err != nil {
		return nil, err
	}
	net, err := conf.NewNetwork()
	if err != nil {
		return nil, err
	}

	r := newRun(uuid.New().String(), conf, tracelog.NewHub(m.hubBuffer))
	if streamTrace {
		net.SetSink(tracelog.Func(func(s string) {
			r.publish(Event{Type: EventTrace, Text: s})
		}))
	}
	if err := r.attach(net, set, opts); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.runs[r.ID] = r
	m.mu.Unlock()
	log.Printf("创建训练任务 %s: 拓扑 %s, 样本数 %d, seed %d", r.ID, net.Topology(), len(set), net.Seed())
	return r, nil
}

// Get 获取训练任务
func (m *Manager) Get(id string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, errors.Wrapf(ErrRunNotFound, "id %s", id)
	}
	return r, nil
}

// List 按创建时间排列的全部任务状态
func (m *Manager) List() []Status {
	m.mu.RLock()
	all := make([]*Run, 0, len(m.runs))
	for _, r := range m.runs {
		all = append(all, r)
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].Created.Before(all[j].Created) })
	out := make([]Status, len(all))
	for i, r := range all {
		out[i] = r.Status()
	}
	return out
}

// Delete 停止并移除训练任务，关闭其所有订阅
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	r, ok := m.runs[id]
	delete(m.runs, id)
	m.mu.Unlock()
	if !ok {
		return errors.Wrapf(ErrRunNotFound, "id %s", id)
	}
	if done := r.Stop(); done != nil {
		<-done
	}
	r.hub.Close()
	log.Printf("删除训练任务 %s", id)
	return nil
}

// Close 删除全部任务
func (m *Manager) Close() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.runs))
	for id := range m.runs {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		_ = m.Delete(id)
	}
}

// EventType websocket消息类型
type EventType string

const (
	EventEpoch EventType = "epoch"
	EventTrace EventType = "trace"
	EventDone  EventType = "done"
)

// Event 推送给订阅者的一条消息
type Event struct {
	Type    EventType `json:"type"`
	Epoch   int       `json:"epoch,omitempty"`
	Error   float64   `json:"error,omitempty"`
	Elapsed string    `json:"elapsed,omitempty"`
	State   string    `json:"state,omitempty"`
	Text    string    `json:"text,omitempty"`
}

func (r *Run) publish(ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		log.Printf("训练任务 %s 序列化消息失败: %v", r.ID, err)
		return
	}
	r.hub.Publish(string(b))
}

func formatElapsed(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}
