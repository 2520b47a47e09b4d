package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dailytask/internal/eventbus"
	"dailytask/internal/scheduler"
	"dailytask/internal/settings"
	"dailytask/internal/storage"
	"dailytask/internal/transport"
	logx "dailytask/pkg/logx"
)

type recBus struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (b *recBus) Publish(e eventbus.Event) {
	b.mu.Lock()
	b.events = append(b.events, e)
	b.mu.Unlock()
}

func (b *recBus) Subscribe(int) (<-chan eventbus.Event, func()) { return nil, func() {} }

func (b *recBus) SubscribeTopics(...string) (<-chan eventbus.Event, func()) {
	return nil, func() {}
}

func (b *recBus) types() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, e.Type)
	}
	return out
}

type sentReply struct{ title, body string }

type recReplier struct{ sent []sentReply }

func (r *recReplier) Send(_ context.Context, title, body string) error {
	r.sent = append(r.sent, sentReply{title, body})
	return nil
}

type fixedBattery struct {
	level int
	err   error
}

func (b fixedBattery) Level(context.Context) (int, error) { return b.level, b.err }

type fixedStatus struct{ snap scheduler.Snapshot }

func (s fixedStatus) Snapshot() scheduler.Snapshot { return s.snap }

type fixedLogs []string

func (l fixedLogs) Recent(n int) []string {
	if n > len(l) {
		n = len(l)
	}
	return l[len(l)-n:]
}

type recRestarter struct{ reasons []string }

func (r *recRestarter) Restart(reason string) error {
	r.reasons = append(r.reasons, reason)
	return nil
}

type harness struct {
	r       *Router
	bus     *recBus
	store   *storage.Memory
	set     *settings.Settings
	replier *recReplier
	now     time.Time
	delayed []func()
	delays  []time.Duration
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		bus:     &recBus{},
		store:   storage.NewMemory(),
		replier: &recReplier{},
		now:     time.Date(2026, 10, 14, 9, 30, 0, 0, time.Local),
	}
	set, err := settings.New(h.store, nil, logx.Nop())
	require.NoError(t, err)
	h.set = set
	ids := 0
	r, err := New(Deps{
		Bus:           h.bus,
		Settings:      set,
		Tasks:         h.store,
		Notifications: h.store,
		Battery:       fixedBattery{level: 87},
		Logs:          fixedLogs{"l1", "l2", "l3"},
		Restarter:     &recRestarter{},
		Version:       "1.2.3",
		Now:           func() time.Time { return h.now },
		AfterFunc: func(d time.Duration, f func()) {
			h.delays = append(h.delays, d)
			h.delayed = append(h.delayed, f)
		},
		NewID: func() string { ids++; return fmt.Sprintf("id-%d", ids) },
	}, h.replier, Options{Log: logx.Nop()})
	require.NoError(t, err)
	h.r = r
	return h
}

func (h *harness) exec(text string) (Reply, bool) {
	return h.r.Execute(context.Background(), "telegram:1", text)
}

func (h *harness) addTasks(t *testing.T, times ...string) {
	t.Helper()
	for i, tod := range times {
		require.NoError(t, h.store.InsertTask(context.Background(), storage.Task{ID: fmt.Sprintf("seed-%d", i), TimeOfDay: tod}))
	}
}

func TestExactTokenMatching(t *testing.T) {
	tests := []struct {
		text    string
		handled bool
		topic   string
	}{
		{"启动任务", true, eventbus.TopicStartRequested},
		{"  启动  ", true, eventbus.TopicStartRequested},
		{"start", true, eventbus.TopicStartRequested},
		{"cmd:停止任务", true, eventbus.TopicStopRequested},
		{"#stop", true, eventbus.TopicStopRequested},
		{"息屏", true, eventbus.TopicMaskShow},
		{"unmute", true, eventbus.TopicMaskHide},
		{"今天启动任务了吗", false, ""},
		{"请停止", false, ""},
		{"Start", false, ""},
		{"", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			h := newHarness(t)
			_, ok := h.exec(tt.text)
			assert.Equal(t, tt.handled, ok)
			if tt.topic == "" {
				assert.Empty(t, h.bus.types())
			} else {
				assert.Equal(t, []string{tt.topic}, h.bus.types())
			}
		})
	}
}

func TestControlCarriesSource(t *testing.T) {
	h := newHarness(t)
	rep, ok := h.exec("启动任务")
	require.True(t, ok)
	assert.True(t, rep.IsZero(), "scheduler reports the outcome")
	require.Len(t, h.bus.events, 1)
	assert.Equal(t, eventbus.ControlRequest{Source: "telegram:1"}, h.bus.events[0].Data)
}

func TestDefaultRuleIsTaskKeyword(t *testing.T) {
	h := newHarness(t)

	rep, ok := h.exec("打卡")
	assert.True(t, ok)
	assert.True(t, rep.IsZero())
	assert.Equal(t, []string{eventbus.TopicRetryRequested}, h.bus.types())

	_, ok = h.exec("打卡了吗")
	assert.False(t, ok)
	assert.Len(t, h.bus.events, 1)

	require.NoError(t, h.set.Set(context.Background(), settings.KeyTaskKeyword, "签到"))
	_, ok = h.exec("打卡")
	assert.False(t, ok)
	_, ok = h.exec("签到")
	assert.True(t, ok)
}

func TestArityMismatch(t *testing.T) {
	h := newHarness(t)
	rep, ok := h.exec("添加任务")
	require.True(t, ok)
	assert.Equal(t, TitleTasks, rep.Title)
	assert.Contains(t, rep.Body, "参数错误")
	assert.Contains(t, rep.Body, "添加任务 HH:mm")

	rep, _ = h.exec("电量 现在")
	assert.Contains(t, rep.Body, "参数数量不正确")
}

func TestAddTaskAndDuplicate(t *testing.T) {
	h := newHarness(t)
	rep, ok := h.exec("添加任务 9:05")
	require.True(t, ok)
	assert.Equal(t, TitleTasks, rep.Title)
	assert.Contains(t, rep.Body, "已添加任务 09:05:00")
	assert.Contains(t, rep.Body, "1. 09:05:00")
	assert.Equal(t, []string{eventbus.TopicTasksChanged}, h.bus.types())

	tasks, err := h.store.LoadTasks(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "id-2", tasks[0].ID, "id-1 is the request id")
	assert.Equal(t, h.now, tasks[0].CreatedAt)

	rep, _ = h.exec("添加任务 09:05")
	assert.Equal(t, "参数错误：time: 任务 09:05:00 已存在", rep.Body)
	assert.Len(t, h.bus.events, 1, "no change event on rejection")

	rep, _ = h.exec("添加任务 25:00")
	assert.Contains(t, rep.Body, "格式错误")
}

func TestModifyAndDeleteTask(t *testing.T) {
	h := newHarness(t)
	h.addTasks(t, "08:30:00", "17:30:00")

	rep, _ := h.exec("修改任务 2 18:00")
	assert.Contains(t, rep.Body, "已将任务 17:30:00 修改为 18:00:00")
	assert.Contains(t, rep.Body, "2. 18:00:00")

	rep, _ = h.exec("修改任务 18:00 08:30")
	assert.Equal(t, "参数错误：time: 任务 08:30:00 已存在", rep.Body)

	rep, _ = h.exec("修改任务 5 10:00")
	assert.Equal(t, "任务 #5 不存在", rep.Body)

	rep, _ = h.exec("删除任务 08:30")
	assert.Contains(t, rep.Body, "已删除任务 08:30:00")
	assert.Contains(t, rep.Body, "共 1 个任务")

	rep, _ = h.exec("删除任务 1")
	assert.Contains(t, rep.Body, "任务列表为空")

	assert.Equal(t, []string{eventbus.TopicTasksChanged, eventbus.TopicTasksChanged, eventbus.TopicTasksChanged}, h.bus.types())
}

func TestModifyTimeout(t *testing.T) {
	h := newHarness(t)
	rep, _ := h.exec("修改超时 5")
	assert.Equal(t, TitleTimeout, rep.Title)
	assert.Equal(t, "参数错误：timeout-seconds 取值 5 超出范围，允许范围 10~300", rep.Body)

	rep, _ = h.exec("timeout 45")
	assert.Equal(t, "超时时间已更新为：45 秒", rep.Body)
	v, err := h.set.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 45, v.TimeoutSeconds)

	rep, _ = h.exec("修改超时 abc")
	assert.Contains(t, rep.Body, "不是整数")
}

func TestLoopToggle(t *testing.T) {
	h := newHarness(t)
	rep, _ := h.exec("暂停循环")
	assert.Equal(t, Reply{Title: TitleLoop, Body: "循环任务状态已更新为：暂停"}, rep)
	v, _ := h.set.Load(context.Background())
	assert.False(t, v.AutoStart)

	rep, _ = h.exec("开始循环")
	assert.Equal(t, "循环任务状态已更新为：开启", rep.Body)
	v, _ = h.set.Load(context.Background())
	assert.True(t, v.AutoStart)
}

func TestAttendanceLog(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	day := func(d, hh, mm int) time.Time { return time.Date(2026, 10, d, hh, mm, 0, 0, time.Local) }
	for _, n := range []storage.Notification{
		{Source: "com.app", Text: "考勤打卡：08:31 已打卡", At: day(13, 8, 31)},
		{Source: "com.app", Text: "考勤打卡：08:29 已打卡", At: day(14, 8, 29)},
		{Source: "com.app", Text: "系统通知", At: day(14, 8, 40)},
		{Source: "com.app", Text: "考勤打卡：09:10 已打卡", At: day(14, 9, 10)},
	} {
		require.NoError(t, h.store.AppendNotification(ctx, n))
	}

	rep, _ := h.exec("考勤记录")
	assert.Equal(t, TitleAttendance, rep.Title)
	assert.Equal(t,
		"【第1次】考勤打卡：08:29 已打卡，时间：2026-10-14 08:29:00\n【第2次】考勤打卡：09:10 已打卡，时间：2026-10-14 09:10:00",
		rep.Body)
}

func TestRetryReply(t *testing.T) {
	h := newHarness(t)
	rep, _ := h.exec("重试打卡")
	assert.Equal(t, Reply{Title: TitleRetry, Body: "已收到远程指令，正在尝试重新打卡"}, rep)
	assert.Equal(t, []string{eventbus.TopicRetryRequested}, h.bus.types())
}

func TestRestartIsDelayed(t *testing.T) {
	h := newHarness(t)
	rs := h.r.deps.Restarter.(*recRestarter)

	rep, _ := h.exec("重启应用")
	assert.Equal(t, "应用将在 3 秒后重启", rep.Body)
	assert.Empty(t, rs.reasons)
	require.Len(t, h.delayed, 1)
	assert.Equal(t, 3*time.Second, h.delays[0])

	h.delayed[0]()
	assert.Equal(t, []string{"command from telegram:1"}, rs.reasons)
}

func TestQueryLogs(t *testing.T) {
	h := newHarness(t)
	rep, _ := h.exec("查询日志")
	assert.Equal(t, "l1\nl2\nl3", rep.Body)

	rep, _ = h.exec("logs 2")
	assert.Equal(t, "l2\nl3", rep.Body)

	rep, _ = h.exec("logs 51")
	assert.Contains(t, rep.Body, "允许范围 1~50")
	rep, _ = h.exec("logs 0")
	assert.Contains(t, rep.Body, "超出范围")
}

func TestBatteryAndVersion(t *testing.T) {
	h := newHarness(t)
	rep, _ := h.exec("电量")
	assert.Equal(t, Reply{Title: TitleBattery, Body: "当前手机剩余电量为：87%"}, rep)

	h.r.deps.Battery = fixedBattery{err: errors.New("no supply")}
	rep, _ = h.exec("battery")
	assert.Equal(t, "执行失败：读取电量失败: no supply", rep.Body)

	rep, _ = h.exec("version")
	assert.Equal(t, "当前版本：1.2.3", rep.Body)
}

func TestQueryStatus(t *testing.T) {
	h := newHarness(t)
	rep, _ := h.exec("查询状态")
	assert.Equal(t, "执行失败："+errUnavailable.Error(), rep.Body)

	h.r.deps.Status = fixedStatus{snap: scheduler.Snapshot{
		State:         scheduler.Waiting,
		Date:          "2026-10-14",
		Completed:     1,
		Total:         2,
		StartedAt:     h.now.Add(-2 * time.Hour),
		NextOrdinal:   2,
		NextTimeOfDay: "17:30:00",
		NextAt:        h.now.Add(8 * time.Hour),
		Remaining:     8 * 3600,
	}}
	rep, _ = h.exec("status")
	assert.Equal(t, TitleStatus, rep.Title)
	assert.Contains(t, rep.Body, "已完成：1/2")
	assert.Contains(t, rep.Body, "2 hours ago")
	assert.Contains(t, rep.Body, "下一个任务：第 2 个 17:30:00")
	assert.Contains(t, rep.Body, "8 hours later")
}

func TestQueryConfigAndMaskDelay(t *testing.T) {
	h := newHarness(t)
	rep, _ := h.exec("查询配置")
	assert.Contains(t, rep.Body, "timeout-seconds: 30")
	assert.Contains(t, rep.Body, "auto-start: true")

	rep, _ = h.exec("延迟蒙版")
	assert.Equal(t, "当前蒙版延迟：5 秒", rep.Body)
	rep, _ = h.exec("延迟蒙版 12")
	assert.Equal(t, "蒙版延迟已更新为：12 秒", rep.Body)
	rep, _ = h.exec("延迟蒙版 90")
	assert.Contains(t, rep.Body, "允许范围 1~60")
}

func TestHelp(t *testing.T) {
	h := newHarness(t)
	rep, _ := h.exec("帮助")
	assert.Contains(t, rep.Body, "- 启动任务：启动今日任务")

	rep, _ = h.exec("帮助 timeout")
	assert.Contains(t, rep.Body, "modify-timeout")
	assert.Contains(t, rep.Body, "用法：修改超时 <秒>")

	rep, _ = h.exec("帮助 不存在")
	assert.Contains(t, rep.Body, "未知命令")
}

func TestHandleSendsReplyAndRecoversPanics(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.r.Register(Command{Name: "boom", Title: "爆炸", Handle: func(context.Context, *Request) (Reply, error) {
		panic("kaboom")
	}}))

	ok := h.r.Handle(context.Background(), transport.Inbound{SourceID: "telegram:1", Text: "boom"})
	assert.True(t, ok)
	require.Len(t, h.replier.sent, 1)
	assert.Equal(t, "爆炸", h.replier.sent[0].title)
	assert.Equal(t, "执行失败：panic: kaboom", h.replier.sent[0].body)

	assert.False(t, h.r.Handle(context.Background(), transport.Inbound{SourceID: "telegram:1", Text: "hello"}))
	assert.Len(t, h.replier.sent, 1)

	assert.Error(t, h.r.Register(Command{Name: "dup", Synonyms: []string{"启动"}, Handle: handleVersion}))
}

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in, want string
		ok       bool
	}{
		{"9:05", "09:05:00", true},
		{"09:05", "09:05:00", true},
		{"23:59", "23:59:00", true},
		{"08:30:15", "08:30:15", true},
		{"08：30", "08:30:00", true},
		{"24:00", "", false},
		{"12:60", "", false},
		{"0830", "", false},
	}
	for _, tt := range tests {
		got, err := ParseTimeOfDay(tt.in)
		if tt.ok {
			require.NoError(t, err, tt.in)
			assert.Equal(t, tt.want, got)
		} else {
			assert.Error(t, err, tt.in)
		}
	}
}
