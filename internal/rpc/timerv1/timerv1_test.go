package timerv1_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"github.com/ctrlsys/ctrlsys/internal/model"
	"github.com/ctrlsys/ctrlsys/internal/rpc/timerv1"
)

func TestCodecRegistered(t *testing.T) {
	c := encoding.GetCodec(timerv1.CodecName)
	if assert.NotNil(t, c) {
		assert.Equal(t, "json", c.Name())
	}
}

func TestTimerStateMapping(t *testing.T) {
	assert.Equal(t, timerv1.TimerStateStarting, timerv1.StateFromJob(model.JobStateStarting))
	assert.Equal(t, timerv1.TimerStateFailed, timerv1.StateFromJob(model.JobStateFailed))
	assert.Equal(t, model.JobStateCompleted, timerv1.TimerStateCompleted.Job())
	assert.Equal(t, model.JobStateUnspecified, timerv1.TimerState(9).Job())
	assert.Equal(t, "running", timerv1.TimerStateRunning.String())
}

func TestValidateTimerID(t *testing.T) {
	assert.NoError(t, timerv1.ValidateTimerID("abc", "abc"))

	err := timerv1.ValidateTimerID("", "abc")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	err = timerv1.ValidateTimerID("xyz", "abc")
	assert.Equal(t, codes.NotFound, status.Code(err))
	assert.Equal(t, "Timer ID 'xyz' not found. This service manages timer 'abc'", status.Convert(err).Message())
}
