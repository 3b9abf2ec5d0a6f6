package network

import "math"

// Sigmoid 带增益(lambda)的logistic函数: 1/(1+e^(-gain*v))
// 输入异常时NaN/Inf直接传播，不做保护
func Sigmoid(v, gain float64) float64 {
	return 1 / (1 + math.Exp(-gain*v))
}
