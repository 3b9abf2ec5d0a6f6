package network

import (
	"math"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/stat/distuv"
)

/*
该文件包含权重初始化策略
*/

// DefaultInitScale 初始化缩放常数，权重 = N(0,1) * DefaultInitScale / sqrt(inputWidth)
// 取1.0时标准差为1/√n；若要约99.7%的权重落在[-3/√n, 3/√n]内应取1/3
const DefaultInitScale = 1.0

type WeightInitMethod int

const (
	InitGaussian WeightInitMethod = iota // 零均值高斯初始化，按1/sqrt(inputWidth)缩放
	InitZero                             // 零初始化（测试用）
)

func (m WeightInitMethod) String() string {
	switch m {
	case InitGaussian:
		return "gaussian"
	case InitZero:
		return "zero"
	}
	return "unknown"
}

// weightInitializer 为每个神经元生成初始权重，同一个种子得到完全相同的序列
type weightInitializer struct {
	method WeightInitMethod
	scale  float64
	src    rand.Source
}

func newWeightInitializer(method WeightInitMethod, scale float64, seed int64) *weightInitializer {
	return &weightInitializer{
		method: method,
		scale:  scale,
		src:    rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15),
	}
}

// weights 生成长度为inputWidth的权重向量（inputWidth已包含偏置输入）
func (wi *weightInitializer) weights(inputWidth int) []float64 {
	w := make([]float64, inputWidth)
	if wi.method == InitZero {
		return w
	}
	normal := distuv.Normal{
		Mu:    0,
		Sigma: wi.scale / math.Sqrt(float64(inputWidth)),
		Src:   wi.src,
	}
	for i := range w {
		w[i] = normal.Rand()
	}
	return w
}

// resolveSeed 种子<=0时使用当前时间
func resolveSeed(seed int64) int64 {
	if seed <= 0 {
		seed = time.Now().UTC().UnixNano()
	}
	return seed
}
