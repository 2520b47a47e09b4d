package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "dailytask/pkg/logx"
)

func openDrivers(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "db", "test.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })

	mem, err := Open(Config{Driver: "memory"}, logx.Nop())
	require.NoError(t, err)
	return map[string]Store{"sqlite": sq, "memory": mem}
}

func TestTaskCRUD(t *testing.T) {
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, st.InsertTask(ctx, Task{ID: "b", TimeOfDay: "18:00:00"}))
			require.NoError(t, st.InsertTask(ctx, Task{ID: "a", TimeOfDay: "08:30:00"}))

			tasks, err := st.LoadTasks(ctx)
			require.NoError(t, err)
			require.Len(t, tasks, 2)
			assert.Equal(t, "08:30:00", tasks[0].TimeOfDay, "sorted by time of day")
			assert.False(t, tasks[0].CreatedAt.IsZero())

			ok, err := st.TaskExistsByTime(ctx, "18:00:00")
			require.NoError(t, err)
			assert.True(t, ok)

			assert.ErrorIs(t, st.InsertTask(ctx, Task{ID: "c", TimeOfDay: "08:30:00"}), ErrDuplicate)
			assert.ErrorIs(t, st.UpdateTask(ctx, Task{ID: "b", TimeOfDay: "08:30:00"}), ErrDuplicate)

			require.NoError(t, st.UpdateTask(ctx, Task{ID: "b", TimeOfDay: "07:00:00"}))
			tasks, err = st.LoadTasks(ctx)
			require.NoError(t, err)
			assert.Equal(t, "b", tasks[0].ID)

			require.NoError(t, st.DeleteTask(ctx, "a"))
			assert.ErrorIs(t, st.DeleteTask(ctx, "a"), ErrNotFound)
			assert.ErrorIs(t, st.UpdateTask(ctx, Task{ID: "zz", TimeOfDay: "09:00:00"}), ErrNotFound)

			tasks, err = st.LoadTasks(ctx)
			require.NoError(t, err)
			assert.Len(t, tasks, 1)
		})
	}
}

func TestSettingsLastWriteWins(t *testing.T) {
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := st.GetSetting(ctx, "timeout-seconds")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, st.PutSetting(ctx, "timeout-seconds", "30"))
			require.NoError(t, st.PutSetting(ctx, "timeout-seconds", "45"))
			v, ok, err := st.GetSetting(ctx, "timeout-seconds")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "45", v)

			all, err := st.ListSettings(ctx)
			require.NoError(t, err)
			assert.Equal(t, map[string]string{"timeout-seconds": "45"}, all)
		})
	}
}

func TestNotificationLog(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 10, 14, 8, 0, 0, 0, time.Local)
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, st.AppendNotification(ctx, Notification{Source: "app", Text: "昨天", At: base.Add(-24 * time.Hour)}))
			require.NoError(t, st.AppendNotification(ctx, Notification{Source: "app", Text: "考勤打卡成功", At: base.Add(time.Minute)}))
			require.NoError(t, st.AppendNotification(ctx, Notification{Source: "telegram:1", Title: "t", Text: "电量", At: base.Add(2 * time.Minute)}))

			got, err := st.ListNotificationsSince(ctx, base, 0)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "考勤打卡成功", got[0].Text)
			assert.Equal(t, "t", got[1].Title)
			assert.Equal(t, base.Add(time.Minute).UnixMilli(), got[0].At.UnixMilli())

			got, err = st.ListNotificationsSince(ctx, base, 1)
			require.NoError(t, err)
			assert.Len(t, got, 1)

			removed, err := st.PruneNotifications(ctx, base)
			require.NoError(t, err)
			assert.Equal(t, int64(1), removed)
		})
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "postgres"}, logx.Nop())
	assert.Error(t, err)
}

func TestMemoryClosed(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Close())
	_, err := m.LoadTasks(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
