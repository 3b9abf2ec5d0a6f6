package dataProcess

import (
	"compress/gzip"
	"encoding/binary"
	"io"
	"os"
	"strings"

	"MomentumBP/pkg/network"

	"github.com/pkg/errors"
)

/*
该文件实现训练集的表示、校验以及IDX格式数据集的加载
*/

// Example 一个训练样本：输入向量和期望输出向量
type Example struct {
	Input    []float64 `json:"input" yaml:"input"`
	Expected []float64 `json:"expected" yaml:"expected"`
}

// TrainingSet 按固定顺序排列的训练样本
type TrainingSet []Example

// ErrEmptyTrainingSet 训练集中没有样本
var ErrEmptyTrainingSet = errors.New("empty training set")

// Validate 检查每个输入长度等于拓扑输入宽度，每个期望输出长度等于输出宽度
func (ts TrainingSet) Validate(topology network.Topology) error {
	if err := topology.Validate(); err != nil {
		return err
	}
	if len(ts) == 0 {
		return ErrEmptyTrainingSet
	}
	for i, ex := range ts {
		if len(ex.Input) != topology.InputWidth() {
			return errors.Wrapf(network.ErrShapeMismatch, "example %d: input has %d values, topology input width is %d", i, len(ex.Input), topology.InputWidth())
		}
		if len(ex.Expected) != topology.OutputWidth() {
			return errors.Wrapf(network.ErrShapeMismatch, "example %d: expected output has %d values, topology output width is %d", i, len(ex.Expected), topology.OutputWidth())
		}
	}
	return nil
}

// FromVectors 将输入与输出两组向量按下标配对
func FromVectors(inputs, outputs [][]float64) (TrainingSet, error) {
	if len(inputs) != len(outputs) {
		return nil, errors.Errorf("%d input vectors but %d output vectors", len(inputs), len(outputs))
	}
	ts := make(TrainingSet, len(inputs))
	for i := range inputs {
		ts[i] = Example{Input: inputs[i], Expected: outputs[i]}
	}
	return ts, nil
}

// XOR 异或训练集，配合拓扑[2,3,1]使用
func XOR() TrainingSet {
	return TrainingSet{
		{Input: []float64{1, 1}, Expected: []float64{0}},
		{Input: []float64{1, 0}, Expected: []float64{1}},
		{Input: []float64{0, 1}, Expected: []float64{1}},
		{Input: []float64{0, 0}, Expected: []float64{0}},
	}
}

// OneHotEncode 将标签转换为one-hot编码
func OneHotEncode(label int, numClasses int) []float64 {
	oneHot := make([]float64, numClasses)
	oneHot[label] = 1.0
	return oneHot
}

// openIDX 打开IDX文件，.gz后缀时自动解压
func openIDX(filename string) (io.ReadCloser, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrap(err, "无法打开文件")
	}
	if !strings.HasSuffix(filename, ".gz") {
		return file, nil
	}
	reader, err := gzip.NewReader(file)
	if err != nil {
		file.Close()
		return nil, errors.Wrap(err, "无法解压缩文件")
	}
	return struct {
		io.Reader
		io.Closer
	}{reader, file}, nil
}

// IDX文件头中的维度不可信，超过上限的文件直接拒绝
const (
	maxIDXImageBytes = 1 << 24
	maxIDXTotalBytes = 1 << 32
)

// LoadImages 从 IDX 文件加载图像数据
func LoadImages(filename string) ([][]byte, error) {
	rc, err := openIDX(filename)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return readImages(rc)
}

func readImages(reader io.Reader) ([][]byte, error) {
	// 读取 IDX 头信息（魔数、维度等）
	var header struct {
		Magic, NumImages, NumRows, NumCols int32
	}
	if err := binary.Read(reader, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrap(err, "读取图像文件头失败")
	}
	if header.Magic != 2051 {
		return nil, errors.Errorf("文件格式不正确（魔数%d不匹配）", header.Magic)
	}
	if header.NumImages < 0 || header.NumRows <= 0 || header.NumCols <= 0 {
		return nil, errors.Errorf("图像维度不正确: %d x %d x %d", header.NumImages, header.NumRows, header.NumCols)
	}

	size := int64(header.NumRows) * int64(header.NumCols)
	if size > maxIDXImageBytes || size*int64(header.NumImages) > maxIDXTotalBytes {
		return nil, errors.Errorf("图像数据过大: %d x %d x %d", header.NumImages, header.NumRows, header.NumCols)
	}

	// 按实际读到的数据增长，不按文件头预分配
	var images [][]byte
	for i := 0; i < int(header.NumImages); i++ {
		img := make([]byte, size)
		if _, err := io.ReadFull(reader, img); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, errors.Wrapf(err, "读取第%d张图像失败", i)
		}
		images = append(images, img)
	}
	return images, nil
}

// LoadLabels 从 IDX 文件加载标签数据
func LoadLabels(filename string) ([]byte, error) {
	rc, err := openIDX(filename)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return readLabels(rc)
}

func readLabels(reader io.Reader) ([]byte, error) {
	// 魔数用于验证文件的格式是否正确
	var header struct {
		Magic, NumItems int32
	}
	if err := binary.Read(reader, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrap(err, "读取标签文件头失败")
	}
	if header.Magic != 2049 {
		return nil, errors.Errorf("文件格式不正确（魔数%d不匹配）", header.Magic)
	}
	if header.NumItems < 0 {
		return nil, errors.Errorf("标签数量不正确: %d", header.NumItems)
	}
	if int64(header.NumItems) > maxIDXTotalBytes {
		return nil, errors.Errorf("标签数量过大: %d", header.NumItems)
	}
	labels, err := io.ReadAll(io.LimitReader(reader, int64(header.NumItems)))
	if err != nil {
		return nil, errors.Wrap(err, "读取标签数据失败")
	}
	if len(labels) != int(header.NumItems) {
		return nil, errors.Wrapf(io.ErrUnexpectedEOF, "读取标签数据失败: 期望%d个，实际%d个", header.NumItems, len(labels))
	}
	return labels, nil
}

// IDXSource IDX格式数据集的位置，limit<=0表示全部加载
type IDXSource struct {
	Images     string `json:"images" yaml:"images"`
	Labels     string `json:"labels" yaml:"labels"`
	NumClasses int    `json:"num_classes" yaml:"num_classes"`
	Limit      int    `json:"limit" yaml:"limit"`
}

// Load 加载图像和标签，像素归一化到0-1，标签转为one-hot
func (src IDXSource) Load() (TrainingSet, error) {
	images, err := LoadImages(src.Images)
	if err != nil {
		return nil, errors.WithMessage(err, "加载图像数据失败")
	}
	labels, err := LoadLabels(src.Labels)
	if err != nil {
		return nil, errors.WithMessage(err, "加载标签数据失败")
	}
	return src.build(images, labels)
}

func (src IDXSource) build(images [][]byte, labels []byte) (TrainingSet, error) {
	if len(images) != len(labels) {
		return nil, errors.Errorf("图像数量%d与标签数量%d不一致", len(images), len(labels))
	}
	numClasses := src.NumClasses
	if numClasses <= 0 {
		numClasses = 10
	}
	n := len(images)
	if src.Limit > 0 && src.Limit < n {
		n = src.Limit
	}
	ts := make(TrainingSet, n)
	for i := 0; i < n; i++ {
		if int(labels[i]) >= numClasses {
			return nil, errors.Errorf("第%d个标签%d超出类别数%d", i, labels[i], numClasses)
		}
		input := make([]float64, len(images[i]))
		for j, px := range images[i] {
			input[j] = float64(px) / 255.0
		}
		ts[i] = Example{Input: input, Expected: OneHotEncode(int(labels[i]), numClasses)}
	}
	return ts, nil
}
