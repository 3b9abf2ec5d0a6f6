package network

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

/*
该文件包含单个神经元（Adaline）的计算：激活、delta、带动量的权重变化累加以及权重提交
*/

// Neuron 单个sigmoid神经元
// 权重向量最后一项对应偏置输入1.0
type Neuron struct {
	weights          []float64 // 输入权重，长度 = 上一层宽度+1
	lastDelta        []float64 // 上一次的权重变化，用于动量项
	accumulatedDelta []float64 // 累计的权重变化，提交后清零
	output           float64   // 最近一个样本的输出
	delta            float64   // 最近一个样本的delta
}

func newNeuron(weights []float64) *Neuron {
	return &Neuron{
		weights:          weights,
		lastDelta:        make([]float64, len(weights)),
		accumulatedDelta: make([]float64, len(weights)),
	}
}

// InputWidth 神经元的输入宽度（包含偏置）
func (n *Neuron) InputWidth() int {
	return len(n.weights)
}

// Activate 计算 v = Σ input[i]*w[i]，output = sigmoid(gain*v) 并保存输出
func (n *Neuron) Activate(input []float64, gain float64) (float64, error) {
	if len(input) != len(n.weights) {
		return 0, errors.Wrapf(ErrShapeMismatch, "neuron expects %d inputs, got %d", len(n.weights), len(input))
	}
	n.output = Sigmoid(floats.Dot(input, n.weights), gain)
	return n.output, nil
}

// ComputeDelta delta = errSignal * gain * output * (1-output)
// 输出层的errSignal为(expected-output)，隐藏层为误差传播向量中对应的分量
func (n *Neuron) ComputeDelta(gain, errSignal float64) float64 {
	n.delta = errSignal * gain * n.output * (1 - n.output)
	return n.delta
}

// AccumulateWeightDelta 动量规则：
// last[i] = learningRate*delta*input[i] + momentumRate*last[i]
// acc[i] += last[i]
// 调用前必须已经计算过当前样本的delta
func (n *Neuron) AccumulateWeightDelta(input []float64, learningRate, momentumRate float64) error {
	if len(input) != len(n.weights) {
		return errors.Wrapf(ErrShapeMismatch, "neuron expects %d inputs, got %d", len(n.weights), len(input))
	}
	floats.Scale(momentumRate, n.lastDelta)
	floats.AddScaled(n.lastDelta, learningRate*n.delta, input)
	floats.Add(n.accumulatedDelta, n.lastDelta)
	return nil
}

// CommitWeights 应用累计的权重变化并清零累加器，是唯一修改权重的方法
func (n *Neuron) CommitWeights() {
	floats.Add(n.weights, n.accumulatedDelta)
	clear(n.accumulatedDelta)
}

func (n *Neuron) Output() float64 { return n.output }

func (n *Neuron) Delta() float64 { return n.delta }

// Weights 返回权重向量的拷贝
func (n *Neuron) Weights() []float64 {
	return append([]float64(nil), n.weights...)
}

// LastWeightDelta 返回上一次权重变化的拷贝
func (n *Neuron) LastWeightDelta() []float64 {
	return append([]float64(nil), n.lastDelta...)
}

// AccumulatedWeightDelta 返回尚未提交的累计权重变化的拷贝
func (n *Neuron) AccumulatedWeightDelta() []float64 {
	return append([]float64(nil), n.accumulatedDelta...)
}
