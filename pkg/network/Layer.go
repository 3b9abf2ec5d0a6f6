package network

import (
	"fmt"

	"MomentumBP/pkg/tracelog"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

/*
该文件包含神经网络层的封装：前向传播、输出层误差、隐藏层delta、误差传播向量以及权重更新
*/

// PropagationMode 误差传播向量的求和方式
type PropagationMode int

const (
	PropagateAll    PropagationMode = iota // 每个输入下标都参与求和
	LegacyStrideTwo                        // 下标步长为2，只用于与旧工具的数值输出逐位对比
)

func (m PropagationMode) String() string {
	switch m {
	case PropagateAll:
		return "all"
	case LegacyStrideTwo:
		return "legacy-stride-two"
	}
	return "unknown"
}

// Layer 一层神经元，共享同一组超参数
type Layer struct {
	Neurons    []*Neuron
	InputWidth int // 包含偏置输入

	hp    Hyperparameters
	mode  PropagationMode
	sink  tracelog.Sink
	input []float64 // 最近一次前向传播的输入，计算权重变化时使用
}

func newLayer(hp Hyperparameters, width, inputWidth int, init *weightInitializer) *Layer {
	neurons := make([]*Neuron, width)
	for i := range neurons {
		neurons[i] = newNeuron(init.weights(inputWidth))
	}
	return &Layer{
		Neurons:    neurons,
		InputWidth: inputWidth,
		hp:         hp,
		sink:       tracelog.Discard,
	}
}

// Width 该层神经元个数
func (l *Layer) Width() int {
	return len(l.Neurons)
}

// Forward 缓存输入并按顺序计算每个神经元的输出
func (l *Layer) Forward(input []float64) ([]float64, error) {
	if len(input) != l.InputWidth {
		return nil, errors.Wrapf(ErrShapeMismatch, "layer expects %d inputs, got %d", l.InputWidth, len(input))
	}
	l.input = append(l.input[:0], input...)

	output := make([]float64, len(l.Neurons))
	for i, n := range l.Neurons {
		out, err := n.Activate(l.input, l.hp.Gain)
		if err != nil {
			return nil, err
		}
		output[i] = out
		l.sink.AppendText(fmt.Sprintf(" %+1.6f ", out))
	}
	return output, nil
}

// ComputeOutputError 仅用于输出层：设置各神经元的delta并返回 Σ 0.5*diff²
func (l *Layer) ComputeOutputError(expected []float64) (float64, error) {
	if len(expected) != len(l.Neurons) {
		return 0, errors.Wrapf(ErrShapeMismatch, "output layer has %d neurons, expected vector has %d values", len(l.Neurons), len(expected))
	}
	var errSum float64
	for i, n := range l.Neurons {
		diff := expected[i] - n.Output()
		n.ComputeDelta(l.hp.Gain, diff)
		errSum += 0.5 * diff * diff
		l.sink.AppendText(fmt.Sprintf("\noutput diff: %v", diff))
	}
	return errSum, nil
}

// BackPropagate 仅用于隐藏层：errProp为下游层的误差传播向量
// errProp的最后一项对应偏置输入，在这里不使用
func (l *Layer) BackPropagate(errProp []float64) error {
	if len(errProp) < len(l.Neurons) {
		return errors.Wrapf(ErrShapeMismatch, "layer has %d neurons, error propagation vector has %d values", len(l.Neurons), len(errProp))
	}
	for i, n := range l.Neurons {
		n.ComputeDelta(l.hp.Gain, errProp[i])
	}
	return nil
}

// ErrorPropagation 计算上一层的误差传播向量：
// 对每个输入下标i，累加本层所有神经元的 delta * w[i]
func (l *Layer) ErrorPropagation() []float64 {
	step := 1
	if l.mode == LegacyStrideTwo {
		step = 2
	}
	errProp := make([]float64, l.InputWidth)
	for _, n := range l.Neurons {
		for i := 0; i < l.InputWidth; i += step {
			errProp[i] += n.delta * n.weights[i]
		}
	}
	return errProp
}

// ComputeWeightDeltas 使用缓存的输入为每个神经元累加权重变化
func (l *Layer) ComputeWeightDeltas(learningRate, momentumRate float64) error {
	if l.input == nil {
		return errors.New("ComputeWeightDeltas called before Forward")
	}
	for j, n := range l.Neurons {
		if err := n.AccumulateWeightDelta(l.input, learningRate, momentumRate); err != nil {
			return err
		}
		l.sink.AppendText(fmt.Sprintf("\nneuron %d: ", j+1))
		for i := range n.weights {
			l.sink.AppendText(fmt.Sprintf(" %+1.6f (%+1.6f) ", n.weights[i], n.lastDelta[i]))
		}
	}
	return nil
}

// CommitWeights 提交本层所有神经元的累计权重变化
func (l *Layer) CommitWeights() {
	for _, n := range l.Neurons {
		n.CommitWeights()
	}
}

// Outputs 最近一次前向传播各神经元的输出
func (l *Layer) Outputs() []float64 {
	out := make([]float64, len(l.Neurons))
	for i, n := range l.Neurons {
		out[i] = n.Output()
	}
	return out
}

// WeightMatrix 以 神经元数 x 输入宽度 的矩阵形式返回权重拷贝
func (l *Layer) WeightMatrix() *mat.Dense {
	w := mat.NewDense(len(l.Neurons), l.InputWidth, nil)
	for i, n := range l.Neurons {
		w.SetRow(i, n.weights)
	}
	return w
}

// LayerSnapshot 一层中每个神经元的上一次权重变化向量
type LayerSnapshot [][]float64

// SnapshotWeightDeltas 返回本层上一次权重变化的深拷贝
func (l *Layer) SnapshotWeightDeltas() LayerSnapshot {
	snap := make(LayerSnapshot, len(l.Neurons))
	for i, n := range l.Neurons {
		snap[i] = n.LastWeightDelta()
	}
	return snap
}

// RestoreWeightDeltas 用快照覆盖上一次权重变化，先校验全部形状再修改
func (l *Layer) RestoreWeightDeltas(snap LayerSnapshot) error {
	if err := l.checkSnapshot(snap); err != nil {
		return err
	}
	for i, n := range l.Neurons {
		copy(n.lastDelta, snap[i])
	}
	return nil
}

func (l *Layer) checkSnapshot(snap LayerSnapshot) error {
	if len(snap) != len(l.Neurons) {
		return errors.Wrapf(ErrSnapshotShape, "layer has %d neurons, snapshot has %d", len(l.Neurons), len(snap))
	}
	for i, d := range snap {
		if len(d) != l.InputWidth {
			return errors.Wrapf(ErrSnapshotShape, "neuron %d has %d weights, snapshot has %d", i, l.InputWidth, len(d))
		}
	}
	return nil
}
