package network

import "github.com/pkg/errors"

var (
	// ErrInvalidTopology 拓扑长度小于2或存在非正的层宽度
	ErrInvalidTopology = errors.New("invalid topology")
	// ErrInvalidHyperparameters 学习率、动量或增益不是有限数
	ErrInvalidHyperparameters = errors.New("invalid hyperparameters")
	// ErrShapeMismatch 输入或期望输出向量长度与网络不匹配
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrSnapshotShape 权重变化快照与网络结构不一致
	ErrSnapshotShape = errors.New("snapshot shape mismatch")
)
