package network

import (
	"fmt"
	"math"
	"strings"

	"MomentumBP/pkg/tracelog"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

/*
该文件包含整个神经网络的初始化方法
*/

// Hyperparameters 网络超参数，构造后不可修改
type Hyperparameters struct {
	LearningRate float64 `json:"learning_rate" yaml:"learning_rate"` // mi
	MomentumRate float64 `json:"momentum_rate" yaml:"momentum_rate"` // alpha
	Gain         float64 `json:"lambda" yaml:"lambda"`               // sigmoid增益lambda
}

// DefaultHyperparameters lambda=0.5, mi=0.7, alpha=0.7
func DefaultHyperparameters() Hyperparameters {
	return Hyperparameters{
		LearningRate: 0.7,
		MomentumRate: 0.7,
		Gain:         0.5,
	}
}

func (hp Hyperparameters) Validate() error {
	for _, p := range []struct {
		name string
		v    float64
	}{
		{"learning rate", hp.LearningRate},
		{"momentum rate", hp.MomentumRate},
		{"lambda", hp.Gain},
	} {
		if math.IsNaN(p.v) || math.IsInf(p.v, 0) {
			return errors.Wrapf(ErrInvalidHyperparameters, "%s is %v", p.name, p.v)
		}
	}
	return nil
}

// Topology 每层宽度：第0项为输入宽度，最后一项为输出宽度
type Topology []int

func (t Topology) Validate() error {
	if len(t) < 2 {
		return errors.Wrapf(ErrInvalidTopology, "need at least 2 layer widths, got %d", len(t))
	}
	for i, w := range t {
		if w <= 0 {
			return errors.Wrapf(ErrInvalidTopology, "layer %d has width %d", i, w)
		}
	}
	return nil
}

func (t Topology) InputWidth() int { return t[0] }

func (t Topology) OutputWidth() int { return t[len(t)-1] }

// String 以分号分隔，例如 2;3;3;1
func (t Topology) String() string {
	s := make([]string, len(t))
	for i, w := range t {
		s[i] = fmt.Sprint(w)
	}
	return strings.Join(s, ";")
}

// NeuronNetwork 多层前馈网络，结构在构造后不再变化
type NeuronNetwork struct {
	Layers []*Layer

	hp       Hyperparameters
	topology Topology
	seed     int64
	sink     tracelog.Sink
}

type options struct {
	seed       int64
	initScale  float64
	initMethod WeightInitMethod
	weights    [][][]float64
	sink       tracelog.Sink
	mode       PropagationMode
}

// Option 网络构造选项
type Option func(*options)

// WithSeed 固定权重初始化的随机种子，种子<=0时使用当前时间
func WithSeed(seed int64) Option {
	return func(o *options) { o.seed = seed }
}

// WithInitScale 覆盖DefaultInitScale
func WithInitScale(scale float64) Option {
	return func(o *options) { o.initScale = scale }
}

func WithInitMethod(m WeightInitMethod) Option {
	return func(o *options) { o.initMethod = m }
}

// WithWeights 使用给定的初始权重，下标依次为 层、神经元、输入
func WithWeights(w [][][]float64) Option {
	return func(o *options) { o.weights = w }
}

func WithSink(s tracelog.Sink) Option {
	return func(o *options) { o.sink = s }
}

func WithPropagation(m PropagationMode) Option {
	return func(o *options) { o.mode = m }
}

// NewNeuronNetwork 按拓扑创建len(topology)-1层，第k层宽度为topology[k+1]，输入宽度为topology[k]+1
func NewNeuronNetwork(hp Hyperparameters, topology Topology, opts ...Option) (*NeuronNetwork, error) {
	if err := topology.Validate(); err != nil {
		return nil, err
	}
	if err := hp.Validate(); err != nil {
		return nil, err
	}
	o := options{initScale: DefaultInitScale, sink: tracelog.Discard}
	for _, opt := range opts {
		opt(&o)
	}
	if o.weights != nil {
		if err := checkWeights(topology, o.weights); err != nil {
			return nil, err
		}
	}

	seed := resolveSeed(o.seed)
	init := newWeightInitializer(o.initMethod, o.initScale, seed)

	layers := make([]*Layer, len(topology)-1)
	for k := range layers {
		layers[k] = newLayer(hp, topology[k+1], topology[k]+1, init)
		layers[k].mode = o.mode
		if o.weights != nil {
			for j, n := range layers[k].Neurons {
				copy(n.weights, o.weights[k][j])
			}
		}
	}

	nn := &NeuronNetwork{
		Layers:   layers,
		hp:       hp,
		topology: append(Topology(nil), topology...),
		seed:     seed,
	}
	nn.SetSink(o.sink)
	return nn, nil
}

func checkWeights(topology Topology, w [][][]float64) error {
	if len(w) != len(topology)-1 {
		return errors.Wrapf(ErrShapeMismatch, "weights for %d layers, topology has %d", len(w), len(topology)-1)
	}
	for k := range w {
		if len(w[k]) != topology[k+1] {
			return errors.Wrapf(ErrShapeMismatch, "layer %d: weights for %d neurons, want %d", k, len(w[k]), topology[k+1])
		}
		for j := range w[k] {
			if len(w[k][j]) != topology[k]+1 {
				return errors.Wrapf(ErrShapeMismatch, "layer %d neuron %d: %d weights, want %d", k, j, len(w[k][j]), topology[k]+1)
			}
		}
	}
	return nil
}

// SetSink 设置追踪输出，nil表示丢弃
func (nn *NeuronNetwork) SetSink(s tracelog.Sink) {
	if s == nil {
		s = tracelog.Discard
	}
	nn.sink = s
	for _, l := range nn.Layers {
		l.sink = s
	}
}

func (nn *NeuronNetwork) Sink() tracelog.Sink { return nn.sink }

func (nn *NeuronNetwork) Hyperparameters() Hyperparameters { return nn.hp }

func (nn *NeuronNetwork) Topology() Topology {
	return append(Topology(nil), nn.topology...)
}

// Seed 实际使用的初始化种子
func (nn *NeuronNetwork) Seed() int64 { return nn.seed }

// Weights 每层一个 神经元数 x 输入宽度 的权重矩阵（拷贝）
func (nn *NeuronNetwork) Weights() []*mat.Dense {
	w := make([]*mat.Dense, len(nn.Layers))
	for i, l := range nn.Layers {
		w[i] = l.WeightMatrix()
	}
	return w
}

// Outputs 最近一次前向传播每层的输出
func (nn *NeuronNetwork) Outputs() [][]float64 {
	out := make([][]float64, len(nn.Layers))
	for i, l := range nn.Layers {
		out[i] = l.Outputs()
	}
	return out
}

func (nn *NeuronNetwork) String() string {
	s := make([]string, len(nn.Layers))
	for i, l := range nn.Layers {
		s[i] = fmt.Sprintf("%2d: %d neurons x %d inputs", i+1, l.Width(), l.InputWidth)
	}
	return fmt.Sprintf("topology %s lambda=%v mi=%v alpha=%v seed=%d\n%s",
		nn.topology, nn.hp.Gain, nn.hp.LearningRate, nn.hp.MomentumRate, nn.seed, strings.Join(s, "\n"))
}
