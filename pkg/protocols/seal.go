package protocols

import (
	"encoding/base64"
	"sync"

	"MomentumBP/pkg/network"

	"github.com/pkg/errors"
	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/ring"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"
)

/*
该文件实现权重增量快照的CKKS加密：快照展平后按槽数分块，每块一个密文
*/

// InitParameters 初始化CKKS参数
func InitParameters() (ckks.Parameters, error) {
	return ckks.NewParametersFromLiteral(
		ckks.ParametersLiteral{
			LogN:            14,
			LogQ:            []int{55, 45, 45, 45, 45, 45, 45, 45},
			LogP:            []int{61, 61, 61},
			LogDefaultScale: 45,
			Xs:              ring.Ternary{H: 192},
		})
}

// Sealer 持有一对密钥，可以加密和解密快照
type Sealer struct {
	mu        sync.Mutex
	params    ckks.Parameters
	encoder   *ckks.Encoder
	encryptor *rlwe.Encryptor
	decryptor *rlwe.Decryptor
}

// SealedSnapshot 加密后的快照，Shape用于解密后恢复层结构
type SealedSnapshot struct {
	Shape  [][]int
	Count  int
	Chunks []*rlwe.Ciphertext
}

// SealedPayload 便于JSON传输的形式，密文为base64
type SealedPayload struct {
	Shape  [][]int  `json:"shape"`
	Count  int      `json:"count"`
	Chunks []string `json:"chunks"`
}

func NewSealer() (*Sealer, error) {
	params, err := InitParameters()
	if err != nil {
		return nil, errors.Wrap(err, "ckks parameters")
	}
	kg := rlwe.NewKeyGenerator(params)
	sk, pk := kg.GenKeyPairNew()
	return &Sealer{
		params:    params,
		encoder:   ckks.NewEncoder(params),
		encryptor: ckks.NewEncryptor(params, pk),
		decryptor: ckks.NewDecryptor(params, sk),
	}, nil
}

// Slots 每个密文能容纳的值的个数
func (s *Sealer) Slots() int {
	return 1 << s.params.LogMaxSlots()
}

// Seal 加密快照中的全部权重增量
func (s *Sealer) Seal(snap network.Snapshot) (*SealedSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	flat := snap.Flatten()
	slots := s.Slots()
	sealed := &SealedSnapshot{Shape: snap.Shape(), Count: len(flat)}
	for start := 0; start < len(flat); start += slots {
		end := min(start+slots, len(flat))
		pt := ckks.NewPlaintext(s.params, s.params.MaxLevel())
		if err := s.encoder.Encode(flat[start:end], pt); err != nil {
			return nil, errors.Wrapf(err, "encode chunk %d", start/slots)
		}
		ct, err := s.encryptor.EncryptNew(pt)
		if err != nil {
			return nil, errors.Wrapf(err, "encrypt chunk %d", start/slots)
		}
		sealed.Chunks = append(sealed.Chunks, ct)
	}
	return sealed, nil
}

// Open 解密并恢复快照，结果是近似值
func (s *Sealer) Open(sealed *SealedSnapshot) (network.Snapshot, error) {
	if sealed == nil {
		return nil, errors.New("nil sealed snapshot")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	slots := s.Slots()
	if sealed.Count < 0 || sealed.Count > len(sealed.Chunks)*slots {
		return nil, errors.Wrapf(network.ErrSnapshotShape, "%d values do not fit %d chunks", sealed.Count, len(sealed.Chunks))
	}
	if want := (sealed.Count + slots - 1) / slots; want != len(sealed.Chunks) {
		return nil, errors.Wrapf(network.ErrSnapshotShape, "%d values need %d chunks, got %d", sealed.Count, want, len(sealed.Chunks))
	}
	flat := make([]float64, 0, sealed.Count)
	decoded := make([]float64, slots)
	for i, ct := range sealed.Chunks {
		if ct == nil {
			return nil, errors.Wrapf(network.ErrSnapshotShape, "chunk %d is missing", i)
		}
		pt := s.decryptor.DecryptNew(ct)
		if err := s.encoder.Decode(pt, decoded); err != nil {
			return nil, errors.Wrapf(err, "decode chunk %d", i)
		}
		n := min(slots, sealed.Count-len(flat))
		flat = append(flat, decoded[:n]...)
	}
	return network.Unflatten(flat, sealed.Shape)
}

// Marshal 将密文序列化为base64
func (ss *SealedSnapshot) Marshal() (*SealedPayload, error) {
	p := &SealedPayload{Shape: ss.Shape, Count: ss.Count, Chunks: make([]string, len(ss.Chunks))}
	for i, ct := range ss.Chunks {
		b, err := ct.MarshalBinary()
		if err != nil {
			return nil, errors.Wrapf(err, "marshal chunk %d", i)
		}
		p.Chunks[i] = base64.StdEncoding.EncodeToString(b)
	}
	return p, nil
}

// Unmarshal 从base64恢复密文
func (p *SealedPayload) Unmarshal() (*SealedSnapshot, error) {
	ss := &SealedSnapshot{Shape: p.Shape, Count: p.Count, Chunks: make([]*rlwe.Ciphertext, len(p.Chunks))}
	for i, enc := range p.Chunks {
		b, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return nil, errors.Wrapf(err, "decode base64 chunk %d", i)
		}
		ct := new(rlwe.Ciphertext)
		if err := ct.UnmarshalBinary(b); err != nil {
			return nil, errors.Wrapf(err, "unmarshal chunk %d", i)
		}
		ss.Chunks[i] = ct
	}
	return ss, nil
}
