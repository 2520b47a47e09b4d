package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReply(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"validation", Validation("time", "格式应为 HH:mm"), "参数错误：time: 格式应为 HH:mm"},
		{"not found", NotFound("任务", "09:00"), "任务 09:00 不存在"},
		{"range", OutOfRange("timeout", 5, 10, 300), "参数错误：timeout 取值 5 超出范围，允许范围 10~300"},
		{"wrapped range", fmt.Errorf("set: %w", OutOfRange("delay", 0, 1, 60)), "参数错误：delay 取值 0 超出范围，允许范围 1~60"},
		{"transient", Transient("tasks.load", errors.New("disk I/O")), "存储暂时不可用，请稍后重试"},
		{"other", errors.New("boom"), "执行失败：boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Reply(tt.err))
		})
	}
}

func TestCheckRange(t *testing.T) {
	assert.NoError(t, CheckRange("x", 10, 10, 300))
	assert.NoError(t, CheckRange("x", 300, 10, 300))
	assert.Error(t, CheckRange("x", 9, 10, 300))
	assert.Error(t, CheckRange("x", 301, 10, 300))
}

func TestTransient(t *testing.T) {
	base := errors.New("locked")
	err := Transient("kv.set", base)
	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, base)
	assert.Nil(t, Transient("noop", nil))
	assert.False(t, IsTransient(base))
	assert.Equal(t, "no confirmation received", (&TimeoutFailure{}).Error())
}
