package network

import "github.com/pkg/errors"

// Snapshot 全网络的上一次权重变化，下标依次为 层、神经元、输入
// 用于测试回放和检查点，不是模型持久化格式
type Snapshot []LayerSnapshot

// SnapshotWeightDeltas 返回各层上一次权重变化的深拷贝
func (nn *NeuronNetwork) SnapshotWeightDeltas() Snapshot {
	snap := make(Snapshot, len(nn.Layers))
	for i, l := range nn.Layers {
		snap[i] = l.SnapshotWeightDeltas()
	}
	return snap
}

// RestoreWeightDeltas 恢复快照；形状不一致时不修改任何一层
func (nn *NeuronNetwork) RestoreWeightDeltas(snap Snapshot) error {
	if len(snap) != len(nn.Layers) {
		return errors.Wrapf(ErrSnapshotShape, "network has %d layers, snapshot has %d", len(nn.Layers), len(snap))
	}
	for i, l := range nn.Layers {
		if err := l.checkSnapshot(snap[i]); err != nil {
			return errors.WithMessagef(err, "layer %d", i+1)
		}
	}
	for i, l := range nn.Layers {
		if err := l.RestoreWeightDeltas(snap[i]); err != nil {
			return err
		}
	}
	return nil
}

// Flatten 按层、神经元、输入的顺序展开为一维向量
func (s Snapshot) Flatten() []float64 {
	var flat []float64
	for _, layer := range s {
		for _, d := range layer {
			flat = append(flat, d...)
		}
	}
	return flat
}

// Shape 每层每个神经元的向量长度
func (s Snapshot) Shape() [][]int {
	shape := make([][]int, len(s))
	for i, layer := range s {
		shape[i] = make([]int, len(layer))
		for j, d := range layer {
			shape[i][j] = len(d)
		}
	}
	return shape
}

// Unflatten 按shape把一维向量还原成快照
func Unflatten(flat []float64, shape [][]int) (Snapshot, error) {
	total := 0
	for _, layer := range shape {
		for _, n := range layer {
			total += n
		}
	}
	if total != len(flat) {
		return nil, errors.Wrapf(ErrSnapshotShape, "shape needs %d values, got %d", total, len(flat))
	}
	snap := make(Snapshot, len(shape))
	off := 0
	for i, layer := range shape {
		snap[i] = make(LayerSnapshot, len(layer))
		for j, n := range layer {
			snap[i][j] = append([]float64(nil), flat[off:off+n]...)
			off += n
		}
	}
	return snap, nil
}
