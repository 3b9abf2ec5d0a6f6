package runs

import (
	"context"
	"log"
	"sync"
	"time"

	"MomentumBP/pkg/config"
	"MomentumBP/pkg/dataProcess"
	"MomentumBP/pkg/network"
	"MomentumBP/pkg/tracelog"
	"MomentumBP/pkg/training"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

/*
该文件实现单个训练任务：后台训练、停止以及空闲时对网络的读写
训练进行时网络只由训练协程访问，其余操作返回ErrRunBusy
*/

// Run 一个训练任务
type Run struct {
	ID      string
	Created time.Time
	Config  *config.Configuration

	hub *tracelog.Hub

	mu      sync.Mutex
	net     *network.NeuronNetwork
	trainer *training.Trainer
	samples int
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	state   training.State
	epoch   int
	err     float64
	history []float64
	lastErr error
}

// Status 训练任务状态
type Status struct {
	ID        string           `json:"id"`
	Created   time.Time        `json:"created"`
	Topology  network.Topology `json:"topology"`
	Samples   int              `json:"samples"`
	Seed      int64            `json:"seed"`
	State     training.State   `json:"state"`
	Running   bool             `json:"running"`
	Epoch     int              `json:"epoch"`
	Error     float64          `json:"error"`
	LastError string           `json:"last_error,omitempty"`
}

func newRun(id string, conf *config.Configuration, hub *tracelog.Hub) *Run {
	return &Run{
		ID:      id,
		Created: time.Now(),
		Config:  conf,
		hub:     hub,
		state:   training.Training,
	}
}

func (r *Run) attach(net *network.NeuronNetwork, set dataProcess.TrainingSet, opts training.Options) error {
	opts.EpochHook = r.onEpoch
	trainer, err := training.NewTrainer(net, set, opts)
	if err != nil {
		return err
	}
	r.net, r.trainer, r.samples = net, trainer, len(set)
	return nil
}

func (r *Run) onEpoch(s training.EpochStats) error {
	r.mu.Lock()
	r.epoch, r.err = s.Epoch, s.Error
	r.history = append(r.history, s.Error)
	r.mu.Unlock()
	r.publish(Event{Type: EventEpoch, Epoch: s.Epoch, Error: s.Error, Elapsed: formatElapsed(s.Elapsed)})
	return nil
}

// Hub 该任务的消息广播器
func (r *Run) Hub() *tracelog.Hub { return r.hub }

func (r *Run) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := Status{
		ID:       r.ID,
		Created:  r.Created,
		Topology: r.net.Topology(),
		Samples:  r.samples,
		Seed:     r.net.Seed(),
		State:    r.state,
		Running:  r.running,
		Epoch:    r.epoch,
		Error:    r.err,
	}
	if r.lastErr != nil {
		st.LastError = r.lastErr.Error()
	}
	return st
}

// History 每轮误差
func (r *Run) History() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.history...)
}

// Start 在后台开始或继续训练
func (r *Run) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrRunBusy
	}
	if r.state != training.Training {
		return errors.Wrapf(ErrRunFinished, "state %s", r.state)
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.running, r.cancel, r.done = true, cancel, make(chan struct{})
	r.lastErr = nil
	go r.train(ctx, cancel, r.done)
	return nil
}

func (r *Run) train(ctx context.Context, cancel context.CancelFunc, done chan struct{}) {
	defer close(done)
	defer cancel()

	res, err := r.trainer.Run(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	r.mu.Lock()
	r.running = false
	r.state = res.State
	r.lastErr = err
	r.mu.Unlock()

	if err != nil {
		log.Printf("训练任务 %s 出错: %v", r.ID, err)
	}
	log.Printf("训练任务 %s 停止: 状态 %s, 轮数 %d, 误差 %.6f", r.ID, res.State, res.Epochs, res.Error)
	r.publish(Event{Type: EventDone, Epoch: res.Epochs, Error: res.Error, State: res.State.String()})
}

// Stop 请求在当前轮结束后停止，返回训练协程结束时关闭的通道
// 没有在训练时返回nil
func (r *Run) Stop() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return nil
	}
	r.cancel()
	return r.done
}

// Wait 等待当前训练结束
func (r *Run) Wait() {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done != nil {
		<-done
	}
}

// idle 在训练未进行时持锁执行f
func (r *Run) idle(f func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrRunBusy
	}
	return f()
}

// Forward 前向传播，不写追踪
func (r *Run) Forward(input []float64) ([]float64, error) {
	var out []float64
	err := r.idle(func() error {
		sink := r.net.Sink()
		r.net.SetSink(tracelog.Discard)
		defer r.net.SetSink(sink)
		var err error
		out, err = r.net.FeedForward(input)
		return err
	})
	return out, err
}

// Weights 每层的权重矩阵
func (r *Run) Weights() ([]*mat.Dense, error) {
	var w []*mat.Dense
	err := r.idle(func() error {
		w = r.net.Weights()
		return nil
	})
	return w, err
}

func (r *Run) Snapshot() (network.Snapshot, error) {
	var snap network.Snapshot
	err := r.idle(func() error {
		snap = r.net.SnapshotWeightDeltas()
		return nil
	})
	return snap, err
}

func (r *Run) Restore(snap network.Snapshot) error {
	return r.idle(func() error {
		return r.net.RestoreWeightDeltas(snap)
	})
}
