package protocols

import (
	"encoding/json"
	"testing"

	"MomentumBP/pkg/dataProcess"
	"MomentumBP/pkg/network"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tuneinsight/lattigo/v6/core/rlwe"
)

func trainedSnapshot(t *testing.T) network.Snapshot {
	t.Helper()
	nn, err := network.NewNeuronNetwork(network.DefaultHyperparameters(), network.Topology{2, 3, 1}, network.WithSeed(11))
	require.NoError(t, err)
	for _, ex := range dataProcess.XOR() {
		_, err := nn.TrainOnExample(ex.Input, ex.Expected)
		require.NoError(t, err)
		nn.CommitWeights()
	}
	return nn.SnapshotWeightDeltas()
}

func assertSnapshotNear(t *testing.T, want, got network.Snapshot) {
	t.Helper()
	require.Equal(t, want.Shape(), got.Shape())
	wf, gf := want.Flatten(), got.Flatten()
	for i := range wf {
		assert.InDelta(t, wf[i], gf[i], 1e-5, "value %d", i)
	}
}

func TestSealOpen(t *testing.T) {
	sealer, err := NewSealer()
	require.NoError(t, err)

	snap := trainedSnapshot(t)
	sealed, err := sealer.Seal(snap)
	require.NoError(t, err)
	assert.Len(t, sealed.Chunks, 1)
	assert.Equal(t, 3*3+1*4, sealed.Count)

	opened, err := sealer.Open(sealed)
	require.NoError(t, err)
	assertSnapshotNear(t, snap, opened)
}

func TestSealedPayloadRoundTrip(t *testing.T) {
	sealer, err := NewSealer()
	require.NoError(t, err)

	snap := trainedSnapshot(t)
	sealed, err := sealer.Seal(snap)
	require.NoError(t, err)

	payload, err := sealed.Marshal()
	require.NoError(t, err)
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	var decoded SealedPayload
	require.NoError(t, json.Unmarshal(raw, &decoded))
	back, err := decoded.Unmarshal()
	require.NoError(t, err)

	opened, err := sealer.Open(back)
	require.NoError(t, err)
	assertSnapshotNear(t, snap, opened)
}

func TestOpenRejectsWrongChunkCount(t *testing.T) {
	sealer, err := NewSealer()
	require.NoError(t, err)

	sealed, err := sealer.Seal(trainedSnapshot(t))
	require.NoError(t, err)
	sealed.Count = sealer.Slots() + 1
	_, err = sealer.Open(sealed)
	assert.True(t, errors.Is(err, network.ErrSnapshotShape))

	for _, bad := range []*SealedSnapshot{
		{Count: -5},
		{Count: -5, Chunks: sealed.Chunks},
		{Count: 3 * sealer.Slots(), Chunks: sealed.Chunks},
		{Shape: sealed.Shape, Count: 13, Chunks: []*rlwe.Ciphertext{nil}},
	} {
		assert.NotPanics(t, func() { _, err = sealer.Open(bad) })
		assert.True(t, errors.Is(err, network.ErrSnapshotShape), "count %d", bad.Count)
	}

	_, err = sealer.Open(nil)
	assert.Error(t, err)

	_, err = (&SealedPayload{Chunks: []string{"%%%"}}).Unmarshal()
	assert.Error(t, err)
}
