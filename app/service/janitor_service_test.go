package service

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"download-tracker/app/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingPruner struct {
	calls atomic.Int32
	err   error
}

func (p *countingPruner) PruneOrphans() (int, error) {
	p.calls.Add(1)
	return 2, p.err
}

func TestJanitorRunOnce(t *testing.T) {
	pruner := &countingPruner{}
	s := NewJanitorService("@every 1h", pruner, logger.NewNop())
	s.RunOnce()
	assert.EqualValues(t, 1, pruner.calls.Load())

	pruner.err = errors.New("locked")
	s.RunOnce()
	assert.EqualValues(t, 2, pruner.calls.Load())
}

func TestJanitorSchedule(t *testing.T) {
	pruner := &countingPruner{}
	s := NewJanitorService("@every 1s", pruner, logger.NewNop())
	require.NoError(t, s.Start())
	require.NoError(t, s.Start())

	assert.Eventually(t, func() bool { return pruner.calls.Load() >= 1 }, 5*time.Second, 50*time.Millisecond)
	s.Stop()
	s.Stop()
}

func TestJanitorInvalidSchedule(t *testing.T) {
	s := NewJanitorService("not a schedule", &countingPruner{}, logger.NewNop())
	assert.Error(t, s.Start())
}
