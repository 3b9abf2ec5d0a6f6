package runs

import (
	"testing"

	"MomentumBP/pkg/config"
	"MomentumBP/pkg/network"
	"MomentumBP/pkg/training"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func xorConfig() *config.Configuration {
	c := config.Default()
	c.Topology = network.Topology{2, 3, 1}
	c.Inputs = [][]float64{{1, 1}, {1, 0}, {0, 1}, {0, 0}}
	c.Outputs = [][]float64{{0}, {1}, {1}, {0}}
	c.Seed = 3
	return c
}

func TestStartStopResume(t *testing.T) {
	m := NewManager()
	defer m.Close()

	c := xorConfig()
	c.Threshold = 1e-12
	r, err := m.Create(c, false)
	require.NoError(t, err)

	require.NoError(t, r.Start())
	assert.True(t, errors.Is(r.Start(), ErrRunBusy))
	_, err = r.Forward([]float64{1, 0})
	assert.True(t, errors.Is(err, ErrRunBusy))

	done := r.Stop()
	require.NotNil(t, done)
	<-done

	st := r.Status()
	assert.Equal(t, training.Training, st.State)
	assert.False(t, st.Running)
	assert.Empty(t, st.LastError, "stopping is not an error")
	first := st.Epoch
	assert.GreaterOrEqual(t, first, 1)
	assert.Len(t, r.History(), first)

	out, err := r.Forward([]float64{1, 0})
	require.NoError(t, err)
	assert.Len(t, out, 1)

	require.NoError(t, r.Start())
	r.Stop()
	r.Wait()
	assert.Greater(t, r.Status().Epoch, first)
	assert.Nil(t, r.Stop())
}

func TestFinishedRunCannotRestart(t *testing.T) {
	m := NewManager()
	c := xorConfig()
	c.MaxEpochs = 5
	c.Threshold = 1e-12
	r, err := m.Create(c, false)
	require.NoError(t, err)

	require.NoError(t, r.Start())
	r.Wait()
	assert.Equal(t, training.NotConverged, r.Status().State)
	assert.Equal(t, 5, r.Status().Epoch)
	assert.True(t, errors.Is(r.Start(), ErrRunFinished))
}

func TestStreamTrace(t *testing.T) {
	m := NewManager()
	c := xorConfig()
	c.MaxEpochs = 1
	r, err := m.Create(c, true)
	require.NoError(t, err)

	msgs, cancel := r.Hub().Subscribe()
	defer cancel()
	require.NoError(t, r.Start())
	r.Wait()

	var kinds []string
	for len(msgs) > 0 {
		kinds = append(kinds, <-msgs)
	}
	require.NotEmpty(t, kinds)
	assert.Contains(t, kinds[0], `"type":"trace"`)
	assert.Contains(t, kinds[len(kinds)-1], `"type":"done"`)
}

func TestManagerRegistry(t *testing.T) {
	m := NewManager()
	a, err := m.Create(xorConfig(), false)
	require.NoError(t, err)
	b, err := m.Create(xorConfig(), false)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)

	got, err := m.Get(b.ID)
	require.NoError(t, err)
	assert.Same(t, b, got)

	require.NoError(t, m.Delete(a.ID))
	_, err = m.Get(a.ID)
	assert.True(t, errors.Is(err, ErrRunNotFound))
	assert.True(t, errors.Is(m.Delete(a.ID), ErrRunNotFound))

	bad := xorConfig()
	bad.Outputs = nil
	_, err = m.Create(bad, false)
	assert.True(t, errors.Is(err, config.ErrInvalidTestSet))
}
