package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"

	"MomentumBP/pkg/config"
	"MomentumBP/pkg/network"
	"MomentumBP/pkg/tracelog"
	"MomentumBP/pkg/training"

	"github.com/pkg/errors"
)

const help = `This program serves for demonstration of Back Propagation neural
network training, using momentum modification.

Program reads configuration from given file (the values given by arguments
then override the values from the file), creates a neural network accordingly
and trains it using BGD and momentum in backpropagation. The log of training
is written to a log.txt file. Arguments can be given in any order.

The program can be run as:
   BPMomentum -h
      or
   BPMomentum -f=<config_file_name> [-m=<value>] [-l=<value>] [-a=<value>]
[-t=<values>] [-s] [-e=<epochs>] [-seed=<seed>] [-commit=<policy>]

where:
   -h ...prints this help message
   -s ...step-by-step mode of the training - the log information is written
         to output and the training pauses after every iteration through
         the whole training set
   -m=<value>  ...given double <value> is set as learning rate(mi)
                  best from interval <0.1,0.9>
   -a=<value>  ...given double <value> is set as momentum rate(alpha)
                  best from interval <0.5,0.95>
   -l=<value>  ...given double <value> is set as lambda for activation function
   -t=<values> ...network topology configuration set by layer widths, formated
                  as -t=input;first hidden;second hidden;...;output
   -e=<value>  ...stop after <value> iterations without convergence (0 = never)
   -seed=<value> ...seed of the weight initialization (<=0 = time based)
   -commit=<policy> ...per-example (default) or per-epoch weight updates

A configuration file ending in .yaml or .yml is read as YAML.
`

func main() {
	args := os.Args[1:]
	if len(args) < 1 || isHelp(args[0]) {
		fmt.Print(help)
		return
	}

	stdin := bufio.NewReader(os.Stdin)
	conf, err := loadConfig(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, describe(err))
		fmt.Println("Attempt to set up the network failed.")
		offerSample(stdin)
		os.Exit(1)
	}

	set, err := conf.TrainingSet()
	if err != nil {
		log.Fatalf("加载训练集失败: %v", err)
	}
	opts, err := conf.TrainerOptions()
	if err != nil {
		log.Fatalf("训练选项不正确: %v", err)
	}

	var (
		sink  *tracelog.WriterSink
		flush = func() error { return nil }
	)
	if conf.StepByStep {
		sink = tracelog.NewWriterSink(os.Stdout)
		opts.EpochHook = pauseAfterEpoch(stdin)
	} else {
		f, err := os.Create("log.txt")
		if err != nil {
			log.Printf("无法创建log.txt，追踪写入标准输出: %v", err)
			sink = tracelog.NewWriterSink(os.Stdout)
		} else {
			defer f.Close()
			w := bufio.NewWriter(f)
			sink = tracelog.NewWriterSink(w)
			flush = w.Flush
		}
	}

	nn, err := conf.NewNetwork(network.WithSink(sink))
	if err != nil {
		log.Fatalf("创建网络失败: %v", err)
	}
	fmt.Println(nn)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, trainErr := training.TrainModel(ctx, nn, set, opts)
	if err := flush(); err != nil {
		log.Printf("写入log.txt失败: %v", err)
	}
	if err := sink.Err(); err != nil {
		log.Printf("追踪写入失败: %v", err)
	}
	if trainErr != nil && !errors.Is(trainErr, context.Canceled) {
		log.Fatalf("训练失败: %v", trainErr)
	}
	if trainErr != nil {
		fmt.Printf("训练被中断 - 轮数: %d, 误差: %.6f\n", res.Epochs, res.Error)
	}

	nn.SetSink(tracelog.Discard)
	fmt.Println("\n训练样本输出:")
	for i, ex := range set {
		out, err := nn.FeedForward(ex.Input)
		if err != nil {
			log.Fatalf("前向传播失败: %v", err)
		}
		fmt.Printf("样本 %d 的输出：%v, 期望：%v\n", i, formatVector(out), formatVector(ex.Expected))
	}
}

func isHelp(arg string) bool {
	switch arg {
	case "-h", "-help", "--help":
		return true
	}
	return false
}

func loadConfig(args []string) (*config.Configuration, error) {
	conf, err := config.FromArgs(args)
	if err != nil {
		return nil, err
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func describe(err error) string {
	switch {
	case errors.Is(err, config.ErrNoConfigFile):
		return "You didn't set the mandatory parameter -f=configuration_file_name!"
	case errors.Is(err, config.ErrInvalidTestSet):
		return "Invalid test set! Please check the input/output vectors in configuration file. (" + err.Error() + ")"
	}
	return "Unable to process the configuration file! Please check its accessibility and correctness. (" + err.Error() + ")"
}

// offerSample 询问是否在当前目录生成config.txt示例
func offerSample(in *bufio.Reader) {
	fmt.Println("Would you like to generate a sample config.txt file? (y/n)")
	answer, err := in.ReadString('\n')
	if err != nil && err != io.EOF {
		return
	}
	if a := strings.TrimSpace(answer); a != "y" && a != "Y" {
		return
	}
	f, err := os.Create("config.txt")
	if err != nil {
		fmt.Fprintln(os.Stderr, "Unable to create configuration file. Please check this folder's permissions")
		return
	}
	defer f.Close()
	if err := config.WriteSample(f); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
}

// pauseAfterEpoch 单步模式：每轮结束后等待回车
func pauseAfterEpoch(in *bufio.Reader) func(training.EpochStats) error {
	return func(s training.EpochStats) error {
		fmt.Printf("\n\n-- iteration %d finished, error %.6f; press Enter to continue --", s.Epoch, s.Error)
		if _, err := in.ReadString('\n'); err != nil {
			return errors.Wrap(err, "read stdin")
		}
		return nil
	}
}

func formatVector(v []float64) string {
	s := make([]string, len(v))
	for i, x := range v {
		s[i] = fmt.Sprintf("%.4f", x)
	}
	return "[" + strings.Join(s, " ") + "]"
}
