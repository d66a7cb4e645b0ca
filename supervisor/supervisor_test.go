//go:build linux

package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifyPriorityOrder(t *testing.T) {
	limits := Limits{WallTime: time.Second, MemoryBytes: 8 * 1024 * 1024}

	tests := []struct {
		name       string
		returnCode int32
		peakMemory uint64
		usedTime   time.Duration
		want       Status
	}{
		{"clean exit", 0, 1024, 10 * time.Millisecond, Success},
		{"nonzero exit alone", 7, 1024, 10 * time.Millisecond, RuntimeError},
		{"memory over limit beats runtime error", 7, 16 * 1024 * 1024, 10 * time.Millisecond, MemoryLimitExceeded},
		{"time over limit beats memory and runtime", 7, 16 * 1024 * 1024, 2 * time.Second, TimeLimitExceeded},
		{"memory over limit alone", 0, 16 * 1024 * 1024, 10 * time.Millisecond, MemoryLimitExceeded},
		{"time over limit alone", 0, 1024, 2 * time.Second, TimeLimitExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.returnCode, tt.peakMemory, tt.usedTime, limits)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUsedTimeMsConversion(t *testing.T) {
	o := Outcome{UsedTime: 1500 * time.Millisecond}
	assert.EqualValues(t, 1500, o.UsedTimeMs())
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "Success", Success.String())
	assert.Equal(t, "TimeLimitExceeded", TimeLimitExceeded.String())
	assert.Equal(t, "MemoryLimitExceeded", MemoryLimitExceeded.String())
	assert.Equal(t, "RuntimeError", RuntimeError.String())
	assert.Equal(t, "InternalError", InternalError.String())
}
