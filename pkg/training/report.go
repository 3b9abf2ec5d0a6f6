package training

import (
	"context"
	"fmt"
	"time"

	"MomentumBP/pkg/dataProcess"
	"MomentumBP/pkg/network"
	"MomentumBP/pkg/tracelog"

	"github.com/pkg/errors"
)

// Evaluate 只做前向传播，返回整个训练集上的 Σ 0.5*diff²，不写追踪
func Evaluate(net *network.NeuronNetwork, set dataProcess.TrainingSet) (float64, error) {
	sink := net.Sink()
	net.SetSink(tracelog.Discard)
	defer net.SetSink(sink)

	total := 0.0
	for _, ex := range set {
		out, err := net.FeedForward(ex.Input)
		if err != nil {
			return 0, err
		}
		if len(out) != len(ex.Expected) {
			return 0, errors.Errorf("output has %d values, expected vector has %d", len(out), len(ex.Expected))
		}
		for i := range out {
			diff := ex.Expected[i] - out[i]
			total += 0.5 * diff * diff
		}
	}
	return total, nil
}

// TrainModel 训练模型并打印训练前后的误差和耗时
func TrainModel(ctx context.Context, net *network.NeuronNetwork, set dataProcess.TrainingSet, opts Options) (Result, error) {
	trainer, err := NewTrainer(net, set, opts)
	if err != nil {
		return Result{}, err
	}

	initialErr, err := Evaluate(net, set)
	if err != nil {
		return Result{}, err
	}
	fmt.Printf("训练前 - 误差: %.6f, 样本数: %d\n", initialErr, len(set))

	startTrain := time.Now()
	res, err := trainer.Run(ctx)
	elapsed := time.Since(startTrain)
	fmt.Printf("训练耗时: %v\n", elapsed)
	if err != nil {
		return res, err
	}

	fmt.Printf("训练后 - 状态: %s, 轮数: %d, 误差: %.6f\n", res.State, res.Epochs, res.Error)
	return res, nil
}
