package config

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"MomentumBP/pkg/dataProcess"
	"MomentumBP/pkg/network"
	"MomentumBP/pkg/training"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

/*
该文件实现训练配置：默认值、配置文件（旧文本格式或YAML）以及命令行覆盖
*/

// ErrNoConfigFile 没有给出必需的 -f= 参数
var ErrNoConfigFile = errors.New("mandatory parameter -f=<config_file> is missing")

// ErrInvalidTestSet 输入/输出向量与拓扑不匹配
var ErrInvalidTestSet = errors.New("invalid test set")

// ErrInvalidOption 训练选项（提交策略、最大轮数）不合法
var ErrInvalidOption = errors.New("invalid training option")

// Configuration 一次训练所需的全部参数
type Configuration struct {
	Lambda       float64                `json:"lambda" yaml:"lambda"`
	LearningRate float64                `json:"learning_rate" yaml:"learning_rate"`
	MomentumRate float64                `json:"momentum_rate" yaml:"momentum_rate"`
	StepByStep   bool                   `json:"step_by_step" yaml:"step_by_step"`
	Topology     network.Topology       `json:"topology" yaml:"topology"`
	Inputs       [][]float64            `json:"inputs" yaml:"inputs"`
	Outputs      [][]float64            `json:"outputs" yaml:"outputs"`
	Seed         int64                  `json:"seed" yaml:"seed"`
	MaxEpochs    int                    `json:"max_epochs" yaml:"max_epochs"`
	Threshold    float64                `json:"threshold" yaml:"threshold"`
	Commit       string                 `json:"commit" yaml:"commit"`
	InitScale    float64                `json:"init_scale" yaml:"init_scale"`
	Dataset      *dataProcess.IDXSource `json:"dataset,omitempty" yaml:"dataset,omitempty"`
}

// Default lambda 0.5，学习率 0.7，动量 0.7，阈值 0.01
func Default() *Configuration {
	hp := network.DefaultHyperparameters()
	return &Configuration{
		Lambda:       hp.Gain,
		LearningRate: hp.LearningRate,
		MomentumRate: hp.MomentumRate,
		Threshold:    training.DefaultThreshold,
		Commit:       training.PerExample.String(),
		InitScale:    network.DefaultInitScale,
	}
}

// ParseFile 按扩展名选择格式：.yaml/.yml 为YAML，其余按旧文本格式解析
func ParseFile(filename string) (*Configuration, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrap(err, "open configuration file")
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return ParseYAML(f)
	}
	return ParseLegacy(f)
}

// ParseYAML 在默认值之上解码YAML
func ParseYAML(r io.Reader) (*Configuration, error) {
	conf := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(conf); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "decode yaml configuration")
	}
	return conf, nil
}

type parseState int

const (
	stateStart parseState = iota
	stateTopology
	stateInputs
	stateOutputs
)

var (
	numberPattern = regexp.MustCompile(`[-+]?(\d+\.?\d*|\.\d+)([eE][-+]?\d+)?`)
	digitPattern  = regexp.MustCompile(`\d`)
)

// ParseLegacy 解析旧的逐行文本格式:
//
//	lambda		0.5
//	learning rate (mi)	0.7
//	momentum rate (alpha)	0.8
//	layer widths: (input;first hidden;second hidden;...;output)
//	2;3;3;1
//	inputs:
//	1;1
//	outputs:
//	0
func ParseLegacy(r io.Reader) (*Configuration, error) {
	conf := Default()
	state := stateStart
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		var err error
		switch state {
		case stateStart:
			switch {
			case strings.Contains(line, "lambda"):
				conf.Lambda, err = lastNumber(line)
			case strings.Contains(line, "learning rate"):
				conf.LearningRate, err = lastNumber(line)
			case strings.Contains(line, "momentum rate"):
				conf.MomentumRate, err = lastNumber(line)
			case strings.Contains(line, "layer widths"):
				state = stateTopology
			case strings.Contains(line, "input"):
				state = stateInputs
			case strings.Contains(line, "output"):
				state = stateOutputs
			}
		case stateTopology:
			switch {
			case strings.Contains(line, ";"):
				conf.Topology, err = ParseTopology(line)
			case strings.Contains(line, "input"):
				state = stateInputs
			case strings.Contains(line, "output"):
				state = stateOutputs
			}
		case stateInputs, stateOutputs:
			switch {
			case digitPattern.MatchString(line):
				var row []float64
				row, err = parseVector(line)
				if state == stateInputs {
					conf.Inputs = append(conf.Inputs, row)
				} else {
					conf.Outputs = append(conf.Outputs, row)
				}
			case strings.Contains(line, "layer widths"):
				state = stateTopology
			case state == stateInputs && strings.Contains(line, "output"):
				state = stateOutputs
			case state == stateOutputs && strings.Contains(line, "input"):
				state = stateInputs
			}
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "line %d", lineNo)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read configuration")
	}
	return conf, nil
}

func lastNumber(line string) (float64, error) {
	all := numberPattern.FindAllString(line, -1)
	if len(all) == 0 {
		return 0, errors.Errorf("no number in %q", line)
	}
	v, err := strconv.ParseFloat(all[len(all)-1], 64)
	return v, errors.Wrapf(err, "parse number in %q", line)
}

// ParseTopology 解析 "2;3;3;1" 形式的层宽度
func ParseTopology(s string) (network.Topology, error) {
	fields := strings.Split(strings.TrimSpace(s), ";")
	topology := make(network.Topology, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		w, err := strconv.Atoi(f)
		if err != nil {
			return nil, errors.Wrapf(err, "layer width %q", f)
		}
		topology = append(topology, w)
	}
	return topology, nil
}

func parseVector(s string) ([]float64, error) {
	fields := strings.Split(strings.TrimSpace(s), ";")
	row := make([]float64, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "vector value %q", f)
		}
		row = append(row, v)
	}
	return row, nil
}

// FromArgs 读取 -f= 指定的配置文件，再用命令行中出现的其余参数覆盖
func FromArgs(args []string) (*Configuration, error) {
	fs := flag.NewFlagSet("BPMomentum", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	file := fs.String("f", "", "configuration file")
	lambda := fs.Float64("l", 0, "lambda of the activation function")
	lr := fs.Float64("m", 0, "learning rate (mi)")
	mr := fs.Float64("a", 0, "momentum rate (alpha)")
	topology := fs.String("t", "", "layer widths input;hidden;...;output")
	step := fs.Bool("s", false, "step-by-step mode")
	epochs := fs.Int("e", 0, "max epochs, 0 means unlimited")
	seed := fs.Int64("seed", 0, "weight initialization seed, <=0 means time based")
	commit := fs.String("commit", "", "per-example or per-epoch")
	if err := fs.Parse(args); err != nil {
		return nil, errors.Wrap(err, "parse arguments")
	}
	if *file == "" {
		return nil, ErrNoConfigFile
	}

	conf, err := ParseFile(*file)
	if err != nil {
		return nil, err
	}

	var overrideErr error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "l":
			conf.Lambda = *lambda
		case "m":
			conf.LearningRate = *lr
		case "a":
			conf.MomentumRate = *mr
		case "t":
			t, err := ParseTopology(*topology)
			if err != nil {
				overrideErr = err
				return
			}
			conf.Topology = t
		case "s":
			conf.StepByStep = *step
		case "e":
			conf.MaxEpochs = *epochs
		case "seed":
			conf.Seed = *seed
		case "commit":
			conf.Commit = *commit
		}
	})
	if overrideErr != nil {
		return nil, errors.WithMessage(overrideErr, "-t")
	}
	return conf, nil
}

// IsTestSetValid 至少一个样本，输入输出数量相等，宽度与拓扑一致
func (c *Configuration) IsTestSetValid() bool {
	if len(c.Inputs) < 1 || len(c.Inputs) != len(c.Outputs) || len(c.Topology) < 2 {
		return false
	}
	in, out := c.Topology.InputWidth(), c.Topology.OutputWidth()
	for i := range c.Inputs {
		if len(c.Inputs[i]) != in || len(c.Outputs[i]) != out {
			return false
		}
	}
	return true
}

// Validate 检查超参数、拓扑、提交策略以及内联训练集
func (c *Configuration) Validate() error {
	if err := c.Hyperparameters().Validate(); err != nil {
		return err
	}
	if err := c.Topology.Validate(); err != nil {
		return err
	}
	if _, err := c.TrainerOptions(); err != nil {
		return errors.Wrap(ErrInvalidOption, err.Error())
	}
	if c.Dataset == nil && !c.IsTestSetValid() {
		return errors.Wrapf(ErrInvalidTestSet, "%d inputs, %d outputs, topology %v", len(c.Inputs), len(c.Outputs), c.Topology)
	}
	return nil
}

func (c *Configuration) Hyperparameters() network.Hyperparameters {
	return network.Hyperparameters{
		LearningRate: c.LearningRate,
		MomentumRate: c.MomentumRate,
		Gain:         c.Lambda,
	}
}

// NetworkOptions 种子与初始化尺度
func (c *Configuration) NetworkOptions() []network.Option {
	opts := []network.Option{network.WithSeed(c.Seed)}
	if c.InitScale > 0 {
		opts = append(opts, network.WithInitScale(c.InitScale))
	}
	return opts
}

// NewNetwork 按配置创建网络，附加的选项放在最后
func (c *Configuration) NewNetwork(extra ...network.Option) (*network.NeuronNetwork, error) {
	return network.NewNeuronNetwork(c.Hyperparameters(), c.Topology, append(c.NetworkOptions(), extra...)...)
}

func (c *Configuration) TrainerOptions() (training.Options, error) {
	commit, err := training.ParseCommitPolicy(c.Commit)
	if err != nil {
		return training.Options{}, err
	}
	if c.MaxEpochs < 0 {
		return training.Options{}, errors.Errorf("negative max epochs %d", c.MaxEpochs)
	}
	opts := training.DefaultOptions()
	opts.Commit = commit
	opts.MaxEpochs = c.MaxEpochs
	if c.Threshold > 0 {
		opts.Threshold = c.Threshold
	}
	return opts, nil
}

// TrainingSet 有数据集时从IDX文件加载，否则使用内联向量
func (c *Configuration) TrainingSet() (dataProcess.TrainingSet, error) {
	if c.Dataset != nil {
		return c.Dataset.Load()
	}
	return dataProcess.FromVectors(c.Inputs, c.Outputs)
}

const sample = `lambda		0.5
learning rate (mi)	0.7
momentum rate (alpha)	0.8

layer widths: (input;first hidden;second hidden;...;output)
2;3;3;1

inputs:
1;1
1;0
0;1
0;0

outputs:
0
1
1
0
`

// WriteSample 写出一个可直接使用的XOR示例配置
func WriteSample(w io.Writer) error {
	_, err := fmt.Fprint(w, sample)
	return errors.Wrap(err, "write sample configuration")
}
