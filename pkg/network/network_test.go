package network

import (
	"math"
	"strings"
	"testing"

	"MomentumBP/pkg/tracelog"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

var xorInputs = [][]float64{{1, 1}, {1, 0}, {0, 1}, {0, 0}}
var xorOutputs = [][]float64{{0}, {1}, {1}, {0}}

func newTestNetwork(t *testing.T, hp Hyperparameters, topology Topology, opts ...Option) *NeuronNetwork {
	t.Helper()
	nn, err := NewNeuronNetwork(hp, topology, opts...)
	require.NoError(t, err)
	return nn
}

func TestNewNeuronNetworkInvalid(t *testing.T) {
	cases := []struct {
		name     string
		hp       Hyperparameters
		topology Topology
		want     error
	}{
		{"empty", DefaultHyperparameters(), Topology{}, ErrInvalidTopology},
		{"single layer", DefaultHyperparameters(), Topology{3}, ErrInvalidTopology},
		{"zero width", DefaultHyperparameters(), Topology{2, 0, 1}, ErrInvalidTopology},
		{"negative width", DefaultHyperparameters(), Topology{2, 3, -1}, ErrInvalidTopology},
		{"nan gain", Hyperparameters{LearningRate: 0.7, MomentumRate: 0.7, Gain: math.NaN()}, Topology{2, 1}, ErrInvalidHyperparameters},
		{"inf rate", Hyperparameters{LearningRate: math.Inf(1), MomentumRate: 0.7, Gain: 0.5}, Topology{2, 1}, ErrInvalidHyperparameters},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			nn, err := NewNeuronNetwork(c.hp, c.topology)
			assert.Nil(t, nn)
			assert.True(t, errors.Is(err, c.want), "got %v", err)
		})
	}
}

func TestHyperparametersValidateOrder(t *testing.T) {
	hp := Hyperparameters{LearningRate: math.NaN(), MomentumRate: math.Inf(-1), Gain: math.NaN()}
	for i := 0; i < 20; i++ {
		assert.EqualError(t, hp.Validate(), "learning rate is NaN: "+ErrInvalidHyperparameters.Error())
	}
	hp.LearningRate = 0.7
	assert.EqualError(t, hp.Validate(), "momentum rate is -Inf: "+ErrInvalidHyperparameters.Error())
}

func TestNetworkStructure(t *testing.T) {
	nn := newTestNetwork(t, DefaultHyperparameters(), Topology{2, 3, 3, 1}, WithSeed(1))
	require.Len(t, nn.Layers, 3)
	widths := []struct{ width, inputWidth int }{{3, 3}, {3, 4}, {1, 4}}
	for i, w := range widths {
		assert.Equal(t, w.width, nn.Layers[i].Width())
		assert.Equal(t, w.inputWidth, nn.Layers[i].InputWidth)
		for _, n := range nn.Layers[i].Neurons {
			assert.Equal(t, w.inputWidth, n.InputWidth())
		}
	}
}

func TestFeedForwardShape(t *testing.T) {
	nn := newTestNetwork(t, DefaultHyperparameters(), Topology{2, 3, 3, 1}, WithSeed(7))
	out, err := nn.FeedForward([]float64{0.3, 0.9})
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.True(t, out[0] > 0 && out[0] < 1)
}

func TestZeroWeightsOutputHalf(t *testing.T) {
	hp := Hyperparameters{LearningRate: 0.7, MomentumRate: 0.7, Gain: 1}
	nn := newTestNetwork(t, hp, Topology{2, 3, 3, 1}, WithInitMethod(InitZero))
	for _, in := range [][]float64{{0, 0}, {1, -4}, {123.5, 9}} {
		_, err := nn.FeedForward(in)
		require.NoError(t, err)
		for _, layerOut := range nn.Outputs() {
			for _, o := range layerOut {
				assert.Equal(t, 0.5, o)
			}
		}
	}
}

func TestKnownWeightsForward(t *testing.T) {
	hp := Hyperparameters{LearningRate: 0.7, MomentumRate: 0.7, Gain: 2}
	w := [][][]float64{
		{{0.5, -0.5, 0.1}, {0.2, 0.3, -0.4}},
		{{1, -1, 0.25}},
	}
	nn := newTestNetwork(t, hp, Topology{2, 2, 1}, WithWeights(w))

	out, err := nn.FeedForward([]float64{1, 2})
	require.NoError(t, err)

	h0 := 1 / (1 + math.Exp(-2*(0.5*1+(-0.5)*2+0.1*1)))
	h1 := 1 / (1 + math.Exp(-2*(0.2*1+0.3*2+(-0.4)*1)))
	o := 1 / (1 + math.Exp(-2*(1*h0+(-1)*h1+0.25*1)))
	assert.InDelta(t, o, out[0], 1e-15)
}

func TestWithWeightsShape(t *testing.T) {
	_, err := NewNeuronNetwork(DefaultHyperparameters(), Topology{2, 1}, WithWeights([][][]float64{{{1, 2}}}))
	assert.True(t, errors.Is(err, ErrShapeMismatch))
}

func TestDeterminism(t *testing.T) {
	train := func() []*mat.Dense {
		nn := newTestNetwork(t, DefaultHyperparameters(), Topology{2, 3, 1}, WithSeed(2024))
		for epoch := 0; epoch < 50; epoch++ {
			for i := range xorInputs {
				_, err := nn.TrainOnExample(xorInputs[i], xorOutputs[i])
				require.NoError(t, err)
				nn.CommitWeights()
			}
		}
		return nn.Weights()
	}
	a, b := train(), train()
	require.Len(t, b, len(a))
	for i := range a {
		assert.True(t, mat.Equal(a[i], b[i]), "layer %d weights differ", i)
	}
}

func TestSeedsDiffer(t *testing.T) {
	a := newTestNetwork(t, DefaultHyperparameters(), Topology{2, 3, 1}, WithSeed(1))
	b := newTestNetwork(t, DefaultHyperparameters(), Topology{2, 3, 1}, WithSeed(2))
	assert.False(t, mat.Equal(a.Weights()[0], b.Weights()[0]))
	assert.Equal(t, int64(1), a.Seed())
}

func TestTrainOnExampleErrorNonNegative(t *testing.T) {
	nn := newTestNetwork(t, DefaultHyperparameters(), Topology{2, 3, 3, 1}, WithSeed(3))
	for i := range xorInputs {
		e, err := nn.TrainOnExample(xorInputs[i], xorOutputs[i])
		require.NoError(t, err)
		assert.True(t, e > 0, "error %v", e)
		nn.CommitWeights()
	}

	// 输出恰好等于期望值时误差为0
	hp := Hyperparameters{LearningRate: 0.7, MomentumRate: 0.7, Gain: 1}
	zero := newTestNetwork(t, hp, Topology{2, 2}, WithInitMethod(InitZero))
	e, err := zero.TrainOnExample([]float64{1, 1}, []float64{0.5, 0.5})
	require.NoError(t, err)
	assert.Equal(t, 0.0, e)
}

func TestMomentumZeroHasNoHistory(t *testing.T) {
	hp := Hyperparameters{LearningRate: 0.3, MomentumRate: 0, Gain: 0.5}
	nn := newTestNetwork(t, hp, Topology{2, 1}, WithInitMethod(InitZero))
	input := []float64{1, 0}

	for step := 0; step < 2; step++ {
		_, err := nn.TrainOnExample(input, []float64{1})
		require.NoError(t, err)

		n := nn.Layers[0].Neurons[0]
		x := append(append([]float64(nil), input...), 1)
		acc := n.AccumulatedWeightDelta()
		for i := range x {
			assert.Equal(t, hp.LearningRate*n.Delta()*x[i], acc[i])
		}
		nn.CommitWeights()
	}
}

func TestMomentumTwoSteps(t *testing.T) {
	hp := Hyperparameters{LearningRate: 0.7, MomentumRate: 0.5, Gain: 0.5}
	nn := newTestNetwork(t, hp, Topology{2, 1}, WithInitMethod(InitZero))

	_, err := nn.TrainOnExample([]float64{1, 0}, []float64{1})
	require.NoError(t, err)
	_, err = nn.TrainOnExample([]float64{0, 1}, []float64{0})
	require.NoError(t, err)

	// 两个样本之间没有提交，权重仍为0，输出都是0.5
	d1 := (1 - 0.5) * hp.Gain * 0.5 * 0.5
	d2 := (0 - 0.5) * hp.Gain * 0.5 * 0.5
	x1 := []float64{1, 0, 1}
	x2 := []float64{0, 1, 1}

	n := nn.Layers[0].Neurons[0]
	last := n.LastWeightDelta()
	acc := n.AccumulatedWeightDelta()
	for i := range x1 {
		last1 := hp.LearningRate * d1 * x1[i]
		last2 := hp.LearningRate*d2*x2[i] + hp.MomentumRate*last1
		assert.InDelta(t, last2, last[i], 1e-15, "last delta %d", i)
		assert.InDelta(t, last1+last2, acc[i], 1e-15, "accumulated delta %d", i)
	}

	before := n.Weights()
	nn.CommitWeights()
	after := n.Weights()
	for i := range before {
		assert.InDelta(t, before[i]+acc[i], after[i], 1e-15)
	}
	assert.Equal(t, []float64{0, 0, 0}, n.AccumulatedWeightDelta())
}

func TestErrorPropagationSumsEveryIndex(t *testing.T) {
	hp := Hyperparameters{LearningRate: 0.7, MomentumRate: 0.7, Gain: 1}
	w := [][][]float64{
		{{0.1, 0.2, 0.3}, {0.4, 0.5, 0.6}},
		{{0.7, -0.8, 0.9}, {-0.1, 0.2, -0.3}},
	}
	all := newTestNetwork(t, hp, Topology{2, 2, 2}, WithWeights(w))
	legacy := newTestNetwork(t, hp, Topology{2, 2, 2}, WithWeights(w), WithPropagation(LegacyStrideTwo))

	for _, nn := range []*NeuronNetwork{all, legacy} {
		_, err := nn.TrainOnExample([]float64{1, 0.5}, []float64{1, 0})
		require.NoError(t, err)
	}

	out := all.Layers[1]
	propAll := out.ErrorPropagation()
	propLegacy := legacy.Layers[1].ErrorPropagation()
	require.Len(t, propAll, 3)
	require.Len(t, propLegacy, 3)

	for i := 0; i < 3; i++ {
		want := out.Neurons[0].Delta()*w[1][0][i] + out.Neurons[1].Delta()*w[1][1][i]
		assert.InDelta(t, want, propAll[i], 1e-15)
	}
	// 步长为2的旧算法跳过奇数下标，第二个隐藏神经元得不到误差
	assert.Equal(t, propAll[0], propLegacy[0])
	assert.Equal(t, 0.0, propLegacy[1])
	assert.Equal(t, propAll[2], propLegacy[2])
	assert.NotEqual(t, 0.0, propAll[1])
	assert.Equal(t, 0.0, legacy.Layers[0].Neurons[1].Delta())
}

func TestShapeMismatchLeavesStateUntouched(t *testing.T) {
	nn := newTestNetwork(t, DefaultHyperparameters(), Topology{2, 3, 1}, WithSeed(5))
	_, err := nn.TrainOnExample([]float64{1, 0}, []float64{1})
	require.NoError(t, err)

	weights := nn.Weights()
	snap := nn.SnapshotWeightDeltas()

	_, err = nn.TrainOnExample([]float64{1, 0, 1}, []float64{1})
	assert.True(t, errors.Is(err, ErrShapeMismatch))
	_, err = nn.TrainOnExample([]float64{1, 0}, []float64{1, 0})
	assert.True(t, errors.Is(err, ErrShapeMismatch))
	_, err = nn.FeedForward([]float64{1})
	assert.True(t, errors.Is(err, ErrShapeMismatch))

	for i, w := range nn.Weights() {
		assert.True(t, mat.Equal(weights[i], w))
	}
	assert.Empty(t, cmp.Diff(snap, nn.SnapshotWeightDeltas()))
}

func TestSnapshotRoundTrip(t *testing.T) {
	a := newTestNetwork(t, DefaultHyperparameters(), Topology{2, 3, 1}, WithSeed(11))
	b := newTestNetwork(t, DefaultHyperparameters(), Topology{2, 3, 1}, WithSeed(11))
	for _, nn := range []*NeuronNetwork{a, b} {
		_, err := nn.TrainOnExample(xorInputs[0], xorOutputs[0])
		require.NoError(t, err)
		nn.CommitWeights()
	}

	snap := a.SnapshotWeightDeltas()
	require.NoError(t, a.RestoreWeightDeltas(snap))
	assert.Empty(t, cmp.Diff(snap, a.SnapshotWeightDeltas()))

	// 修改返回的快照不会影响网络
	snap[0][0][0] += 100
	assert.NotEqual(t, snap[0][0][0], a.SnapshotWeightDeltas()[0][0][0])

	for _, nn := range []*NeuronNetwork{a, b} {
		_, err := nn.TrainOnExample(xorInputs[1], xorOutputs[1])
		require.NoError(t, err)
		nn.CommitWeights()
	}
	for i := range a.Weights() {
		assert.True(t, mat.Equal(a.Weights()[i], b.Weights()[i]))
	}
}

func TestRestoreReplaysMomentum(t *testing.T) {
	nn := newTestNetwork(t, DefaultHyperparameters(), Topology{2, 2, 1}, WithSeed(9))
	_, err := nn.TrainOnExample(xorInputs[2], xorOutputs[2])
	require.NoError(t, err)
	checkpoint := nn.SnapshotWeightDeltas()

	_, err = nn.TrainOnExample(xorInputs[3], xorOutputs[3])
	require.NoError(t, err)
	first := nn.SnapshotWeightDeltas()

	require.NoError(t, nn.RestoreWeightDeltas(checkpoint))
	_, err = nn.TrainOnExample(xorInputs[3], xorOutputs[3])
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(first, nn.SnapshotWeightDeltas()))
}

func TestRestoreWeightDeltasShape(t *testing.T) {
	nn := newTestNetwork(t, DefaultHyperparameters(), Topology{2, 2, 1}, WithSeed(4))
	_, err := nn.TrainOnExample(xorInputs[0], xorOutputs[0])
	require.NoError(t, err)
	before := nn.SnapshotWeightDeltas()

	bad := nn.SnapshotWeightDeltas()
	bad[0][0][0] = 42
	bad[1][0] = bad[1][0][:2]
	err = nn.RestoreWeightDeltas(bad)
	assert.True(t, errors.Is(err, ErrSnapshotShape))
	assert.Empty(t, cmp.Diff(before, nn.SnapshotWeightDeltas()))

	assert.True(t, errors.Is(nn.RestoreWeightDeltas(before[:1]), ErrSnapshotShape))
}

func TestSnapshotFlatten(t *testing.T) {
	nn := newTestNetwork(t, DefaultHyperparameters(), Topology{3, 2, 2}, WithSeed(8))
	_, err := nn.TrainOnExample([]float64{0.1, 0.2, 0.3}, []float64{1, 0})
	require.NoError(t, err)

	snap := nn.SnapshotWeightDeltas()
	flat := snap.Flatten()
	assert.Len(t, flat, 2*4+2*3)

	back, err := Unflatten(flat, snap.Shape())
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(snap, back))

	_, err = Unflatten(flat[1:], snap.Shape())
	assert.True(t, errors.Is(err, ErrSnapshotShape))
}

func TestTraceOrder(t *testing.T) {
	var buf tracelog.Buffer
	nn := newTestNetwork(t, DefaultHyperparameters(), Topology{2, 3, 1}, WithSeed(6), WithSink(&buf))
	_, err := nn.TrainOnExample(xorInputs[1], xorOutputs[1])
	require.NoError(t, err)

	trace := buf.String()
	outputs := strings.Index(trace, "== OUTPUTS ==")
	diff := strings.Index(trace, "output diff:")
	weights := strings.Index(trace, "== WEIGHTS ==")
	require.True(t, outputs >= 0 && diff >= 0 && weights >= 0, trace)
	assert.True(t, outputs < diff && diff < weights, trace)
	assert.Contains(t, trace, "\nLayer 2:")
	assert.Contains(t, trace, "\n= Layer 2 =")
	assert.Equal(t, 3+1, strings.Count(trace, "\nneuron "))
}

func TestPredict(t *testing.T) {
	w := [][][]float64{{{1, 0, 0}, {0, 1, 0}}}
	nn := newTestNetwork(t, DefaultHyperparameters(), Topology{2, 2}, WithWeights(w))
	idx, err := nn.Predict([]float64{0.1, 0.9})
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
}
