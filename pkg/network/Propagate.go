package network

import (
	"fmt"

	"github.com/pkg/errors"
)

/*
该文件包含网络的前向传播、后向传播和权重提交
*/

// bias 每层输入末尾追加的常数偏置输入
const bias = 1.0

// FeedForward 在输入末尾追加偏置1.0后逐层前向传播，返回最后一层输出
func (nn *NeuronNetwork) FeedForward(input []float64) ([]float64, error) {
	if len(input) != nn.topology.InputWidth() {
		return nil, errors.Wrapf(ErrShapeMismatch, "network expects %d inputs, got %d", nn.topology.InputWidth(), len(input))
	}
	return nn.forward(input)
}

func (nn *NeuronNetwork) forward(input []float64) ([]float64, error) {
	nn.sink.AppendText("\n== OUTPUTS ==")
	a := input
	for i, layer := range nn.Layers {
		x := make([]float64, len(a), len(a)+1)
		copy(x, a)
		x = append(x, bias)

		nn.sink.AppendText(fmt.Sprintf("\nLayer %d:", i+1))
		out, err := layer.Forward(x)
		if err != nil {
			return nil, errors.WithMessagef(err, "layer %d", i+1)
		}
		a = out
	}
	return a, nil
}

// TrainOnExample 对单个样本做前向传播、输出层误差、逐层反向传播并累加权重变化
// 返回该样本的误差 Σ 0.5*diff²。向量长度不匹配时在任何修改之前返回错误
func (nn *NeuronNetwork) TrainOnExample(input, expected []float64) (float64, error) {
	if len(input) != nn.topology.InputWidth() {
		return 0, errors.Wrapf(ErrShapeMismatch, "network expects %d inputs, got %d", nn.topology.InputWidth(), len(input))
	}
	if len(expected) != nn.topology.OutputWidth() {
		return 0, errors.Wrapf(ErrShapeMismatch, "network has %d outputs, expected vector has %d values", nn.topology.OutputWidth(), len(expected))
	}

	if _, err := nn.forward(input); err != nil {
		return 0, err
	}

	exampleErr, err := nn.propagateErrorInDeltas(expected)
	if err != nil {
		return 0, err
	}

	nn.sink.AppendText("\n\n== WEIGHTS ==")
	for i, layer := range nn.Layers {
		nn.sink.AppendText(fmt.Sprintf("\n= Layer %d =", i+1))
		if err := layer.ComputeWeightDeltas(nn.hp.LearningRate, nn.hp.MomentumRate); err != nil {
			return 0, errors.WithMessagef(err, "layer %d", i+1)
		}
	}
	return exampleErr, nil
}

// propagateErrorInDeltas 计算输出层误差后，从最后一个隐藏层到第一层依次计算delta
func (nn *NeuronNetwork) propagateErrorInDeltas(expected []float64) (float64, error) {
	last := nn.Layers[len(nn.Layers)-1]
	exampleErr, err := last.ComputeOutputError(expected)
	if err != nil {
		return 0, err
	}
	for i := len(nn.Layers) - 2; i >= 0; i-- {
		errProp := nn.Layers[i+1].ErrorPropagation()
		if err := nn.Layers[i].BackPropagate(errProp); err != nil {
			return 0, errors.WithMessagef(err, "layer %d", i+1)
		}
	}
	return exampleErr, nil
}

// CommitWeights 应用并清零全网络累计的权重变化
func (nn *NeuronNetwork) CommitWeights() {
	for _, layer := range nn.Layers {
		layer.CommitWeights()
	}
}

// Predict 返回输出向量中最大值的下标，用于分类数据集
func (nn *NeuronNetwork) Predict(input []float64) (int, error) {
	output, err := nn.FeedForward(input)
	if err != nil {
		return 0, err
	}
	maxIdx := 0
	for i := 1; i < len(output); i++ {
		if output[i] > output[maxIdx] {
			maxIdx = i
		}
	}
	return maxIdx, nil
}
