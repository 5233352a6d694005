package idgen

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateIncreasing(t *testing.T) {
	s, err := NewSnowflake(3)
	require.NoError(t, err)

	prev := s.Generate()
	for i := 0; i < 10000; i++ {
		id := s.Generate()
		require.Greater(t, id, prev)
		prev = id
	}
}

func TestGenerateConcurrent(t *testing.T) {
	s, err := NewSnowflake(1)
	require.NoError(t, err)

	var mu sync.Mutex
	seen := make(map[int64]bool)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				id := s.Generate()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 8000)
}

func TestGenerateClockBackwards(t *testing.T) {
	s, err := NewSnowflake(2)
	require.NoError(t, err)

	ms := epochMillis + 5000
	s.clock = func() int64 { return ms }
	first := s.Generate()

	ms -= 1000
	second := s.Generate()
	assert.Greater(t, second, first)
}

func TestWorkerRange(t *testing.T) {
	_, err := NewSnowflake(-1)
	assert.Error(t, err)
	_, err = NewSnowflake(maxWorkerID + 1)
	assert.Error(t, err)
	assert.Error(t, Init(maxWorkerID+1))
	assert.NoError(t, Init(maxWorkerID))
}

func TestFormatNo(t *testing.T) {
	// 23:30 UTC 在阿尔及尔已是次日
	at := time.Date(2026, 10, 18, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, "DEP26101900000000000Z", formatNo(PrefixDeposit, at, 35))
}

func TestGenerateNo(t *testing.T) {
	no := GenerateNo(PrefixWithdrawal)
	assert.True(t, strings.HasPrefix(no, "WDR"))
	assert.Len(t, no, 3+6+noWidth)
	assert.NotEqual(t, no, GenerateNo(PrefixWithdrawal))
}
