package command

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"dailytask/internal/errs"
	"dailytask/internal/eventbus"
	"dailytask/internal/scheduler"
	"dailytask/internal/settings"
	"dailytask/internal/storage"
	logx "dailytask/pkg/logx"
)

// Report titles shared with the notifier.
const (
	TitleBattery    = "查询手机电量通知"
	TitleStart      = "启动任务通知"
	TitleStop       = "停止任务通知"
	TitleLoop       = "循环任务状态通知"
	TitleScreen     = "屏幕状态通知"
	TitleAttendance = "当天考勤记录通知"
	TitleRetry      = "重试打卡通知"
	TitleTasks      = "任务列表通知"
	TitleRestart    = "重启应用通知"
	TitleConfig     = "查询配置通知"
	TitleTimeout    = "修改超时通知"
	TitleStatus     = "查询状态通知"
	TitleLogs       = "查询日志通知"
	TitleVersion    = "查询版本通知"
	TitleMask       = "蒙版延迟通知"
	TitleHelp       = "帮助"
)

const (
	restartDelay    = 3 * time.Second
	defaultLogLines = 10
	maxLogLines     = 50
	attendanceLimit = 200
)

var errUnavailable = errors.New("当前环境不支持该功能")

func builtins(r *Router) []Command {
	return []Command{
		{Name: "battery-query", Synonyms: []string{"电量", "查询电量", "battery"}, Title: TitleBattery,
			Description: "查询手机电量", Handle: handleBattery},
		{Name: "start-task", Synonyms: []string{"启动任务", "启动", "start"}, Title: TitleStart,
			Description: "启动今日任务", Handle: publishControl(eventbus.TopicStartRequested)},
		{Name: "stop-task", Synonyms: []string{"停止任务", "停止", "stop"}, Title: TitleStop,
			Description: "停止今日任务", Handle: publishControl(eventbus.TopicStopRequested)},
		{Name: "enable-auto-loop", Synonyms: []string{"开始循环", "loop-on"}, Title: TitleLoop,
			Description: "开启每日自动启动", Handle: setLoop(true)},
		{Name: "disable-auto-loop", Synonyms: []string{"暂停循环", "loop-off"}, Title: TitleLoop,
			Description: "暂停每日自动启动", Handle: setLoop(false)},
		{Name: "mute-screen", Synonyms: []string{"息屏", "mute"}, Title: TitleScreen,
			Description: "显示蒙版", Handle: publishPlain(eventbus.TopicMaskShow)},
		{Name: "unmute-screen", Synonyms: []string{"亮屏", "unmute"}, Title: TitleScreen,
			Description: "隐藏蒙版", Handle: publishPlain(eventbus.TopicMaskHide)},
		{Name: "attendance-log-query", Synonyms: []string{"考勤记录", "attendance"}, Title: TitleAttendance,
			Description: "查询当天考勤记录", Handle: handleAttendance},
		{Name: "retry-now", Synonyms: []string{"重试打卡", "retry"}, Title: TitleRetry,
			Description: "立即重新打卡", Handle: handleRetry},
		{Name: "add-task", Synonyms: []string{"添加任务"}, Title: TitleTasks,
			Usage: "添加任务 HH:mm", Description: "添加打卡时间", MinArgs: 1, MaxArgs: 1, Handle: handleAddTask},
		{Name: "modify-task", Synonyms: []string{"修改任务"}, Title: TitleTasks,
			Usage: "修改任务 <序号|HH:mm> HH:mm", Description: "修改打卡时间", MinArgs: 2, MaxArgs: 2, Handle: handleModifyTask},
		{Name: "delete-task", Synonyms: []string{"删除任务"}, Title: TitleTasks,
			Usage: "删除任务 <序号|HH:mm>", Description: "删除打卡时间", MinArgs: 1, MaxArgs: 1, Handle: handleDeleteTask},
		{Name: "list-tasks", Synonyms: []string{"任务列表"}, Title: TitleTasks,
			Description: "列出打卡时间", Handle: handleListTasks},
		{Name: "restart-app", Synonyms: []string{"重启应用", "restart"}, Title: TitleRestart,
			Description: "重启服务", Handle: handleRestart},
		{Name: "query-config", Synonyms: []string{"查询配置", "config"}, Title: TitleConfig,
			Description: "查询运行配置", Handle: handleQueryConfig},
		{Name: "modify-timeout", Synonyms: []string{"修改超时", "timeout"}, Title: TitleTimeout,
			Usage: "修改超时 <秒>", Description: "修改确认超时", MinArgs: 1, MaxArgs: 1, Handle: handleModifyTimeout},
		{Name: "query-status", Synonyms: []string{"查询状态", "status"}, Title: TitleStatus,
			Description: "查询任务状态", Handle: handleStatus},
		{Name: "query-logs", Synonyms: []string{"查询日志", "logs"}, Title: TitleLogs,
			Usage: "查询日志 [条数]", Description: "查看最近日志", MaxArgs: 1, Handle: handleLogs},
		{Name: "query-version", Synonyms: []string{"查询版本", "version"}, Title: TitleVersion,
			Description: "查询版本", Handle: handleVersion},
		{Name: "delay-mask", Synonyms: []string{"延迟蒙版"}, Title: TitleMask,
			Usage: "延迟蒙版 [秒]", Description: "查询或修改蒙版恢复延迟", MaxArgs: 1, Handle: handleDelayMask},
		{Name: "help", Synonyms: []string{"帮助"}, Title: TitleHelp,
			Usage: "帮助 [命令]", Description: "显示命令列表", MaxArgs: 1, Handle: r.handleHelp},
	}
}

func publish(req *Request, topic string, data any) {
	req.Deps.Bus.Publish(eventbus.Event{Type: topic, Time: req.Deps.Now(), Data: data})
}

// publishControl forwards to the scheduler; its start and stop reports are
// the reply.
func publishControl(topic string) HandlerFunc {
	return func(ctx context.Context, req *Request) (Reply, error) {
		publish(req, topic, eventbus.ControlRequest{Source: req.Source})
		return Reply{}, nil
	}
}

func publishPlain(topic string) HandlerFunc {
	return func(ctx context.Context, req *Request) (Reply, error) {
		publish(req, topic, nil)
		return Reply{}, nil
	}
}

func handleBattery(ctx context.Context, req *Request) (Reply, error) {
	if req.Deps.Battery == nil {
		return Reply{}, errUnavailable
	}
	level, err := req.Deps.Battery.Level(ctx)
	if err != nil {
		return Reply{}, fmt.Errorf("读取电量失败: %w", err)
	}
	return Reply{Title: TitleBattery, Body: fmt.Sprintf("当前手机剩余电量为：%d%%", level)}, nil
}

func setLoop(on bool) HandlerFunc {
	return func(ctx context.Context, req *Request) (Reply, error) {
		if err := req.Deps.Settings.SetBool(ctx, settings.KeyAutoStart, on); err != nil {
			return Reply{}, err
		}
		state := "暂停"
		if on {
			state = "开启"
		}
		return Reply{Title: TitleLoop, Body: "循环任务状态已更新为：" + state}, nil
	}
}

func handleRetry(ctx context.Context, req *Request) (Reply, error) {
	publish(req, eventbus.TopicRetryRequested, eventbus.ControlRequest{Source: req.Source})
	return Reply{Title: TitleRetry, Body: "已收到远程指令，正在尝试重新打卡"}, nil
}

// dayStart is the first instant of the service day containing now.
func dayStart(now time.Time, resetHour int) time.Time {
	key := settings.DayKey(now, resetHour)
	d, err := time.ParseInLocation("2006-01-02", key, now.Location())
	if err != nil {
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	}
	return d.Add(time.Duration(resetHour) * time.Hour)
}

func handleAttendance(ctx context.Context, req *Request) (Reply, error) {
	if req.Deps.Notifications == nil {
		return Reply{}, errUnavailable
	}
	v, err := req.Deps.Settings.Load(ctx)
	if err != nil {
		return Reply{}, err
	}
	since := dayStart(req.Deps.Now(), v.ResetHour)
	list, err := req.Deps.Notifications.ListNotificationsSince(ctx, since, attendanceLimit)
	if err != nil {
		return Reply{}, errs.Transient("notifications list", err)
	}
	var b strings.Builder
	n := 0
	for _, it := range list {
		if v.AttendanceKeyword != "" && !strings.Contains(it.Text, v.AttendanceKeyword) {
			continue
		}
		n++
		fmt.Fprintf(&b, "【第%d次】%s，时间：%s\n", n, it.Text, it.At.In(since.Location()).Format("2006-01-02 15:04:05"))
	}
	if n == 0 {
		return Reply{Title: TitleAttendance, Body: "今日暂无考勤记录"}, nil
	}
	return Reply{Title: TitleAttendance, Body: strings.TrimRight(b.String(), "\n")}, nil
}

func loadTasks(ctx context.Context, req *Request) ([]storage.Task, error) {
	tasks, err := req.Deps.Tasks.LoadTasks(ctx)
	if err != nil {
		return nil, errs.Transient("tasks load", err)
	}
	return tasks, nil
}

func taskListReply(ctx context.Context, req *Request, head string) (Reply, error) {
	tasks, err := loadTasks(ctx, req)
	if err != nil {
		return Reply{}, err
	}
	lines := make([]string, 0, len(tasks)+2)
	if head != "" {
		lines = append(lines, head)
	}
	if len(tasks) == 0 {
		lines = append(lines, "任务列表为空")
		return Reply{Title: TitleTasks, Body: strings.Join(lines, "\n")}, nil
	}
	lines = append(lines, fmt.Sprintf("共 %d 个任务：", len(tasks)))
	for i, t := range tasks {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, t.TimeOfDay))
	}
	return Reply{Title: TitleTasks, Body: strings.Join(lines, "\n")}, nil
}

func tasksChanged(req *Request) {
	publish(req, eventbus.TopicTasksChanged, nil)
}

func duplicate(tod string) error {
	return errs.Validation("time", "任务 %s 已存在", tod)
}

func handleAddTask(ctx context.Context, req *Request) (Reply, error) {
	tod, err := ParseTimeOfDay(req.Args[0])
	if err != nil {
		return Reply{}, err
	}
	exists, err := req.Deps.Tasks.TaskExistsByTime(ctx, tod)
	if err != nil {
		return Reply{}, errs.Transient("tasks exists", err)
	}
	if exists {
		return Reply{}, duplicate(tod)
	}
	t := storage.Task{ID: req.Deps.NewID(), TimeOfDay: tod, CreatedAt: req.Deps.Now()}
	if err := req.Deps.Tasks.InsertTask(ctx, t); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return Reply{}, duplicate(tod)
		}
		return Reply{}, errs.Transient("tasks insert", err)
	}
	tasksChanged(req)
	return taskListReply(ctx, req, "已添加任务 "+tod)
}

func handleModifyTask(ctx context.Context, req *Request) (Reply, error) {
	tasks, err := loadTasks(ctx, req)
	if err != nil {
		return Reply{}, err
	}
	t, _, err := findTask(tasks, req.Args[0])
	if err != nil {
		return Reply{}, err
	}
	tod, err := ParseTimeOfDay(req.Args[1])
	if err != nil {
		return Reply{}, err
	}
	if tod == t.TimeOfDay {
		return taskListReply(ctx, req, "任务时间未变化")
	}
	for _, other := range tasks {
		if other.TimeOfDay == tod {
			return Reply{}, duplicate(tod)
		}
	}
	old := t.TimeOfDay
	t.TimeOfDay = tod
	if err := req.Deps.Tasks.UpdateTask(ctx, t); err != nil {
		switch {
		case errors.Is(err, storage.ErrDuplicate):
			return Reply{}, duplicate(tod)
		case errors.Is(err, storage.ErrNotFound):
			return Reply{}, errs.NotFound("任务", old)
		}
		return Reply{}, errs.Transient("tasks update", err)
	}
	tasksChanged(req)
	return taskListReply(ctx, req, fmt.Sprintf("已将任务 %s 修改为 %s", old, tod))
}

func handleDeleteTask(ctx context.Context, req *Request) (Reply, error) {
	tasks, err := loadTasks(ctx, req)
	if err != nil {
		return Reply{}, err
	}
	t, _, err := findTask(tasks, req.Args[0])
	if err != nil {
		return Reply{}, err
	}
	if err := req.Deps.Tasks.DeleteTask(ctx, t.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Reply{}, errs.NotFound("任务", t.TimeOfDay)
		}
		return Reply{}, errs.Transient("tasks delete", err)
	}
	tasksChanged(req)
	return taskListReply(ctx, req, "已删除任务 "+t.TimeOfDay)
}

func handleListTasks(ctx context.Context, req *Request) (Reply, error) {
	return taskListReply(ctx, req, "")
}

func handleRestart(ctx context.Context, req *Request) (Reply, error) {
	if req.Deps.Restarter == nil {
		return Reply{}, errUnavailable
	}
	rs := req.Deps.Restarter
	log := req.Logger
	source := req.Source
	req.Deps.AfterFunc(restartDelay, func() {
		if err := rs.Restart("command from " + source); err != nil {
			log.Error("restart failed", logx.Err(err))
		}
	})
	return Reply{Title: TitleRestart, Body: fmt.Sprintf("应用将在 %d 秒后重启", int(restartDelay/time.Second))}, nil
}

func handleQueryConfig(ctx context.Context, req *Request) (Reply, error) {
	all, err := req.Deps.Settings.All(ctx)
	if err != nil {
		return Reply{}, err
	}
	lines := make([]string, 0, len(all))
	for _, k := range settings.Keys() {
		lines = append(lines, k+": "+all[k])
	}
	return Reply{Title: TitleConfig, Body: strings.Join(lines, "\n")}, nil
}

func parseInt(field, s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, errs.Validation(field, "%q 不是整数", s)
	}
	return n, nil
}

func handleModifyTimeout(ctx context.Context, req *Request) (Reply, error) {
	n, err := parseInt(settings.KeyTimeoutSeconds, req.Args[0])
	if err != nil {
		return Reply{}, err
	}
	if err := req.Deps.Settings.SetInt(ctx, settings.KeyTimeoutSeconds, n); err != nil {
		return Reply{}, err
	}
	return Reply{Title: TitleTimeout, Body: fmt.Sprintf("超时时间已更新为：%d 秒", n)}, nil
}

func handleDelayMask(ctx context.Context, req *Request) (Reply, error) {
	if len(req.Args) == 0 {
		v, err := req.Deps.Settings.Load(ctx)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Title: TitleMask, Body: fmt.Sprintf("当前蒙版延迟：%d 秒", v.MaskDelaySeconds)}, nil
	}
	n, err := parseInt(settings.KeyMaskDelaySeconds, req.Args[0])
	if err != nil {
		return Reply{}, err
	}
	if err := req.Deps.Settings.SetInt(ctx, settings.KeyMaskDelaySeconds, n); err != nil {
		return Reply{}, err
	}
	return Reply{Title: TitleMask, Body: fmt.Sprintf("蒙版延迟已更新为：%d 秒", n)}, nil
}

func handleStatus(ctx context.Context, req *Request) (Reply, error) {
	if req.Deps.Status == nil {
		return Reply{}, errUnavailable
	}
	snap := req.Deps.Status.Snapshot()
	now := req.Deps.Now()
	lines := []string{
		"状态：" + snap.State.Label(),
		fmt.Sprintf("日期：%s", snap.Date),
	}
	if req.Deps.Calendar != nil {
		if cal := req.Deps.Calendar.Resolver(); cal != nil {
			lines = append(lines, "今天是："+cal.Describe(now))
		}
	}
	lines = append(lines, fmt.Sprintf("已完成：%d/%d", snap.Completed, snap.Total))
	if !snap.StartedAt.IsZero() {
		lines = append(lines, "启动于："+snap.StartedAt.Format("15:04:05")+"（"+humanize.RelTime(snap.StartedAt, now, "ago", "from now")+"）")
	}
	switch {
	case snap.WindowTaskID != "":
		lines = append(lines, fmt.Sprintf("等待打卡结果，剩余 %d 秒", snap.WindowRemaining))
	case snap.NextTimeOfDay != "":
		lines = append(lines, fmt.Sprintf("下一个任务：第 %d 个 %s", snap.NextOrdinal, snap.NextTimeOfDay))
		if !snap.NextAt.IsZero() {
			lines = append(lines, fmt.Sprintf("实际执行：%s（%s，剩余 %d 秒）",
				snap.NextAt.Format("15:04:05"), humanize.RelTime(now, snap.NextAt, "later", "overdue"), snap.Remaining))
		}
	case snap.Done:
		lines = append(lines, scheduler.MsgDayDone)
	}
	if snap.RetryTarget != "" {
		lines = append(lines, "待重试任务："+snap.RetryTarget)
	}
	return Reply{Title: TitleStatus, Body: strings.Join(lines, "\n")}, nil
}

func handleLogs(ctx context.Context, req *Request) (Reply, error) {
	if req.Deps.Logs == nil {
		return Reply{}, errUnavailable
	}
	n := defaultLogLines
	if len(req.Args) == 1 {
		v, err := parseInt("n", req.Args[0])
		if err != nil {
			return Reply{}, err
		}
		if err := errs.CheckRange("n", v, 1, maxLogLines); err != nil {
			return Reply{}, err
		}
		n = v
	}
	lines := req.Deps.Logs.Recent(n)
	if len(lines) == 0 {
		return Reply{Title: TitleLogs, Body: "暂无日志"}, nil
	}
	return Reply{Title: TitleLogs, Body: strings.Join(lines, "\n")}, nil
}

func handleVersion(ctx context.Context, req *Request) (Reply, error) {
	v := req.Deps.Version
	if v == "" {
		v = "dev"
	}
	return Reply{Title: TitleVersion, Body: "当前版本：" + v}, nil
}
