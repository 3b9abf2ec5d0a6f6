package training

import (
	"context"
	"fmt"
	"time"

	"MomentumBP/pkg/dataProcess"
	"MomentumBP/pkg/network"

	"github.com/pkg/errors"
)

/*
该文件实现收敛循环：每轮遍历整个训练集，直到整轮误差不超过阈值
*/

// DefaultThreshold 整轮误差的收敛阈值
const DefaultThreshold = 0.01

// State 训练状态机的状态
type State int

const (
	Training     State = iota // 训练中
	Converged                 // 整轮误差 <= 阈值
	NotConverged              // 达到最大轮数仍未收敛
)

func (s State) String() string {
	switch s {
	case Training:
		return "TRAINING"
	case Converged:
		return "CONVERGED"
	case NotConverged:
		return "NOT_CONVERGED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText 用于JSON输出状态名
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CommitPolicy 权重提交时机
type CommitPolicy int

const (
	PerExample CommitPolicy = iota // 每个样本之后立即提交（在线梯度下降）
	PerEpoch                       // 整轮结束后提交一次（批量梯度下降）
)

func (p CommitPolicy) String() string {
	switch p {
	case PerExample:
		return "per-example"
	case PerEpoch:
		return "per-epoch"
	}
	return fmt.Sprintf("CommitPolicy(%d)", int(p))
}

// ParseCommitPolicy 解析 per-example / per-epoch，空字符串为默认值
func ParseCommitPolicy(s string) (CommitPolicy, error) {
	switch s {
	case "", "per-example", "example":
		return PerExample, nil
	case "per-epoch", "epoch", "batch":
		return PerEpoch, nil
	}
	return PerExample, errors.Errorf("unknown commit policy %q", s)
}

// EpochStats 每轮结束后的统计
type EpochStats struct {
	Epoch   int           `json:"epoch"`
	Error   float64       `json:"error"`
	Elapsed time.Duration `json:"elapsed"`
}

// Options 训练选项
type Options struct {
	Threshold float64      // 收敛阈值，<=0时使用DefaultThreshold
	MaxEpochs int          // 最大轮数，0表示不限制
	Commit    CommitPolicy // 权重提交时机
	// EpochHook 每轮结束后调用，返回错误时停止训练（单步模式、进度推送）
	EpochHook func(EpochStats) error
}

// DefaultOptions 阈值0.01，不限轮数，每个样本后提交
func DefaultOptions() Options {
	return Options{
		Threshold: DefaultThreshold,
		Commit:    PerExample,
	}
}

// Result 训练结果
type Result struct {
	State   State     `json:"state"`
	Epochs  int       `json:"epochs"`
	Error   float64   `json:"error"`
	History []float64 `json:"history"`
}

// Trainer 收敛循环，单线程顺序执行
type Trainer struct {
	net   *network.NeuronNetwork
	set   dataProcess.TrainingSet
	opts  Options
	state State
	epoch int
	hist  []float64
	start time.Time
}

// NewTrainer 在开始训练前校验训练集的形状
func NewTrainer(net *network.NeuronNetwork, set dataProcess.TrainingSet, opts Options) (*Trainer, error) {
	if net == nil {
		return nil, errors.New("nil network")
	}
	if err := set.Validate(net.Topology()); err != nil {
		return nil, errors.WithMessage(err, "invalid training set")
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.MaxEpochs < 0 {
		return nil, errors.Errorf("negative max epochs %d", opts.MaxEpochs)
	}
	return &Trainer{
		net:   net,
		set:   set,
		opts:  opts,
		state: Training,
	}, nil
}

func (t *Trainer) State() State { return t.state }

func (t *Trainer) Epoch() int { return t.epoch }

// History 每轮误差的拷贝
func (t *Trainer) History() []float64 {
	return append([]float64(nil), t.hist...)
}

// RunEpoch 按固定顺序遍历训练集一次，返回整轮误差
// 不改变状态机状态，由Run负责判断收敛
func (t *Trainer) RunEpoch() (float64, error) {
	if t.start.IsZero() {
		t.start = time.Now()
	}
	t.epoch++
	sink := t.net.Sink()
	sink.AppendText(fmt.Sprintf("\n\n iteration no.%d", t.epoch))

	epochErr := 0.0
	for i, ex := range t.set {
		sink.AppendText(fmt.Sprintf("\n\n===== INPUT no.%d =====\n", i))
		e, err := t.net.TrainOnExample(ex.Input, ex.Expected)
		if err != nil {
			return epochErr, errors.WithMessagef(err, "epoch %d example %d", t.epoch, i)
		}
		epochErr += e
		if t.opts.Commit == PerExample {
			t.net.CommitWeights()
		}
	}
	if t.opts.Commit == PerEpoch {
		t.net.CommitWeights()
	}
	t.hist = append(t.hist, epochErr)
	return epochErr, nil
}

// Run 至少执行一轮，之后整轮误差<=阈值时进入Converged，
// 达到MaxEpochs时进入NotConverged。ctx只在两轮之间检查
func (t *Trainer) Run(ctx context.Context) (Result, error) {
	if t.state != Training {
		return t.result(), nil
	}
	for {
		epochErr, err := t.RunEpoch()
		if err != nil {
			return t.result(), err
		}

		if epochErr <= t.opts.Threshold {
			t.state = Converged
		} else if t.opts.MaxEpochs > 0 && t.epoch >= t.opts.MaxEpochs {
			t.state = NotConverged
		}

		if t.opts.EpochHook != nil {
			stats := EpochStats{Epoch: t.epoch, Error: epochErr, Elapsed: time.Since(t.start)}
			if err := t.opts.EpochHook(stats); err != nil {
				return t.result(), errors.WithMessagef(err, "stopped after epoch %d", t.epoch)
			}
		}
		if t.state != Training {
			return t.result(), nil
		}
		if err := ctx.Err(); err != nil {
			return t.result(), err
		}
	}
}

func (t *Trainer) result() Result {
	r := Result{State: t.state, Epochs: t.epoch, History: t.History()}
	if len(t.hist) > 0 {
		r.Error = t.hist[len(t.hist)-1]
	}
	return r
}
