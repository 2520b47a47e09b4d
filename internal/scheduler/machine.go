package scheduler

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"dailytask/internal/calendar"
	"dailytask/internal/classifier"
	"dailytask/internal/errs"
	"dailytask/internal/eventbus"
	"dailytask/internal/settings"
	"dailytask/internal/storage"
	logx "dailytask/pkg/logx"
)

// Operator-facing texts.
const (
	MsgStarted         = "任务启动成功，请注意下次打卡时间"
	MsgAlreadyRunning  = "任务启动失败，任务已在运行中，请勿重复启动"
	MsgAlreadyStopped  = "任务停止失败，任务已经停止，请勿重复停止"
	MsgNoTasks         = "任务启动失败，任务列表为空，请先添加任务"
	MsgTasksUnreadable = "任务启动失败，读取任务列表失败，请稍后重试"
	MsgRestDay         = "今天是%s，已设置为休息日，任务不会执行"
	MsgDayDone         = "今日任务已全部执行完毕"
	MsgNoConfirmation  = "未监听到打卡成功的通知，请手动登录检查"
)

const (
	maskLead             = 10 // seconds before launch when the mask is shown
	defaultSettleDelay   = 500 * time.Millisecond
	defaultLaunchTimeout = 15 * time.Second
	autoStartFromHour    = 7
	autoStartUntilHour   = 10
)

type slot struct {
	kind     TimerKind
	timer    Timer
	gen      uint64
	taskID   string
	deadline time.Time
	settling bool
	masked   bool
	retry    bool
}

func (s *slot) live() bool { return s.timer != nil }

// launchSlot is an in-flight Launch call.
type launchSlot struct {
	gen    uint64
	taskID string
	retry  bool
	cancel context.CancelFunc
}

func (l *launchSlot) live() bool { return l.gen != 0 }

// machine owns all scheduler state. Every method must run on the loop
// goroutine; timer callbacks re-enter through post.
type machine struct {
	clock    Clock
	bus      eventbus.Bus
	tasks    storage.TaskStore
	settings SettingsSource
	calendar CalendarSource
	launcher Launcher
	log      logx.Logger
	randInt  func(n int) int
	post     func(func())
	spawn    func(func())
	ctx      context.Context

	settleDelay   time.Duration
	launchTimeout time.Duration

	active      bool
	launch      launchSlot
	list        []storage.Task
	values      settings.Values
	run         DayRun
	retryTarget string
	jitter      map[string]time.Duration

	gen uint64
	pre slot
	win slot
}

func (m *machine) now() time.Time { return m.clock.Now() }

func (m *machine) publish(typ string, data any) {
	m.bus.Publish(eventbus.Event{Type: typ, Time: m.now(), Data: data})
}

func (m *machine) reject(action, source, reason string) {
	m.log.Info("request rejected", logx.String("action", action), logx.String("source", source), logx.String("reason", reason))
	m.publish(eventbus.TopicRejected, Rejection{Action: action, Source: source, Reason: reason})
}

func (m *machine) refreshValues() {
	v, err := m.settings.Load(m.ctx)
	if err != nil {
		m.log.Warn("settings unavailable; using defaults", logx.Err(err))
	}
	m.values = v
}

func (m *machine) reloadTasks() bool {
	list, err := m.tasks.LoadTasks(m.ctx)
	if err != nil {
		m.log.Warn("task store unavailable; keeping previous list", logx.Err(err))
		return false
	}
	sort.Slice(list, func(i, j int) bool { return list[i].TimeOfDay < list[j].TimeOfDay })
	m.list = list
	return true
}

func (m *machine) resolver() *calendar.Resolver {
	if m.calendar == nil {
		return nil
	}
	return m.calendar.Resolver()
}

func (m *machine) shouldRun(now time.Time) (bool, string) {
	r := m.resolver()
	return r.ShouldRun(now, m.values.WeekendEnabled, m.values.HolidayEnabled), r.Describe(now)
}

// ensureDay resets DayRun when the service day changed. It reports whether
// a rollover happened; callers holding a stale timer generation should bail.
func (m *machine) ensureDay(now time.Time) bool {
	key := m.values.DayKey(now)
	if m.run.Date == key {
		return false
	}
	prev := m.run.Date
	m.run = newDayRun(key)
	m.jitter = map[string]time.Duration{}
	m.retryTarget = ""
	if prev == "" {
		return false
	}

	m.log.Info("day rollover", logx.String("from", prev), logx.String("to", key), logx.Bool("active", m.active))
	m.cancel(&m.pre)
	m.cancel(&m.win)
	m.abortLaunch()

	reset := DayReset{Previous: prev, Date: key}
	if m.active {
		m.refreshValues()
		m.reloadTasks()
		if ok, desc := m.shouldRun(now); !ok {
			reset.Resting = true
			reset.Reason = fmt.Sprintf(MsgRestDay, desc)
			m.run.Cursor = CursorDone
			m.run.completionAnnounced = true
		} else {
			m.run.StartedAt = now
		}
	}
	m.publish(eventbus.TopicDayReset, reset)
	if m.active && !reset.Resting {
		m.armNext()
	}
	return true
}

func (m *machine) start(source string, auto bool) bool {
	now := m.now()
	m.refreshValues()
	m.ensureDay(now)

	if m.active {
		m.reject("start", source, MsgAlreadyRunning)
		return false
	}
	ok, desc := m.shouldRun(now)
	if !ok {
		m.reject("start", source, fmt.Sprintf(MsgRestDay, desc))
		return false
	}
	if !m.reloadTasks() {
		m.reject("start", source, MsgTasksUnreadable)
		return false
	}
	if len(m.list) == 0 {
		m.reject("start", source, MsgNoTasks)
		return false
	}

	m.active = true
	if m.run.StartedAt.IsZero() {
		m.run.StartedAt = now
	}
	times := make([]string, 0, len(m.list))
	for _, t := range m.list {
		times = append(times, t.TimeOfDay)
	}
	m.log.Info("scheduler started", logx.String("date", m.run.Date), logx.String("day", desc), logx.Bool("auto", auto), logx.Int("tasks", len(m.list)))
	m.publish(eventbus.TopicStarted, Started{Date: m.run.Date, Description: desc, Tasks: times, Auto: auto, Source: source})
	m.armNext()
	return true
}

func (m *machine) stop(source string) {
	if !m.active {
		m.reject("stop", source, MsgAlreadyStopped)
		return
	}
	m.cancel(&m.pre)
	m.cancel(&m.win)
	m.abortLaunch()
	m.active = false
	m.log.Info("scheduler stopped", logx.String("source", source))
	m.publish(eventbus.TopicStopped, Stopped{Source: source})
}

// resolveCursor returns the first task at or after the cursor that has no
// recorded outcome and is still ahead. The task of a live pre-trigger stays
// selected until it fires.
func (m *machine) resolveCursor(now time.Time) int {
	if m.run.Cursor == CursorDone {
		return CursorDone
	}
	for i := max(m.run.Cursor, 0); i < len(m.list); i++ {
		t := m.list[i]
		if _, ok := m.run.Outcomes[t.ID]; ok {
			continue
		}
		at, err := timeOn(now, t.TimeOfDay)
		if err != nil {
			m.log.Warn("skipping task with bad time", logx.String("task", t.ID), logx.String("time", t.TimeOfDay))
			continue
		}
		if m.pre.live() && m.pre.taskID == t.ID {
			return i
		}
		// A task is missed only once both its own and its jittered time passed.
		if planned := at.Add(m.jitterFor(t)); planned.After(at) {
			at = planned
		}
		if !at.After(now) {
			continue
		}
		return i
	}
	return CursorDone
}

func (m *machine) armNext() {
	if !m.active {
		return
	}
	now := m.now()
	idx := m.resolveCursor(now)
	if idx == CursorDone {
		m.run.Cursor = CursorDone
		m.cancel(&m.pre)
		if !m.run.completionAnnounced {
			m.run.completionAnnounced = true
			m.log.Info("day completed", logx.String("date", m.run.Date), logx.Int("completed", m.run.CompletedCount))
			m.publish(eventbus.TopicDayCompleted, DayCompleted{Date: m.run.Date, Completed: m.run.CompletedCount, Total: len(m.list)})
		}
		return
	}

	m.run.Cursor = idx
	t := m.list[idx]
	if m.pre.live() && m.pre.taskID == t.ID {
		return
	}
	m.cancel(&m.pre)

	planned := m.plannedAt(now, t)
	diff := int(math.Ceil(planned.Sub(now).Seconds()))
	if diff < 0 {
		m.log.Error("negative countdown clamped to zero", logx.String("task", t.ID), logx.Int("diff", diff))
		diff = 0
	}
	deadline := now.Add(time.Duration(diff) * time.Second)

	ev := m.taskEvent(t.ID)
	ev.Remaining = diff
	m.log.Info("task armed", logx.Int("ordinal", ev.Ordinal), logx.String("time", t.TimeOfDay), logx.Time("planned", planned), logx.Int("diff", diff))
	m.publish(eventbus.TopicTaskArmed, ev)

	m.pre = m.newSlot(PreTrigger, t.ID, deadline)
	if diff == 0 {
		m.fire()
		return
	}
	if diff <= maskLead {
		m.pre.masked = true
		m.publish(eventbus.TopicMaskShow, ev)
	}
	m.schedulePreTick(now)
}

func (m *machine) schedulePreTick(now time.Time) {
	d := m.pre.deadline.Sub(now)
	if d > time.Second {
		d = time.Second
	}
	gen := m.pre.gen
	m.pre.timer = m.clock.AfterFunc(d, func() { m.post(func() { m.onPreTick(gen) }) })
}

func (m *machine) onPreTick(gen uint64) {
	if gen != m.pre.gen || !m.pre.live() || m.pre.settling {
		return
	}
	now := m.now()
	if m.ensureDay(now) {
		return
	}
	rem := remainingSeconds(m.pre.deadline, now)
	if rem <= maskLead && !m.pre.masked {
		m.pre.masked = true
		m.publish(eventbus.TopicMaskShow, m.taskEvent(m.pre.taskID))
	}
	if rem <= 0 {
		m.fire()
		return
	}
	ev := m.taskEvent(m.pre.taskID)
	ev.Remaining = rem
	m.publish(eventbus.TopicTick, ev)
	m.schedulePreTick(now)
}

// fire hides the mask and launches after the settle delay.
func (m *machine) fire() {
	m.pre.settling = true
	m.publish(eventbus.TopicMaskHide, m.taskEvent(m.pre.taskID))
	gen := m.pre.gen
	m.pre.timer = m.clock.AfterFunc(m.settleDelay, func() { m.post(func() { m.onSettle(gen) }) })
}

func (m *machine) onSettle(gen uint64) {
	if gen != m.pre.gen || !m.pre.settling {
		return
	}
	id := m.pre.taskID
	m.cancel(&m.pre)
	m.attempt(id, false)
}

// attempt starts Launch off the loop; launched picks the result up.
func (m *machine) attempt(taskID string, retry bool) {
	if m.launch.live() {
		prev := m.launch.taskID
		m.log.Warn("launch superseded", logx.String("task", prev))
		if prev != "" && prev != taskID {
			if _, ok := m.run.Outcomes[prev]; !ok {
				m.run.Outcomes[prev] = TimedOut
			}
		}
		m.abortLaunch()
	}
	ev := m.taskEvent(taskID)
	ev.Retry = retry
	m.gen++
	gen := m.gen
	m.launch = launchSlot{gen: gen, taskID: taskID, retry: retry}
	m.publish(eventbus.TopicLaunching, ev)

	if m.launcher == nil {
		m.launched(gen, nil)
		return
	}
	ctx, cancel := context.WithTimeout(m.ctx, m.launchTimeout)
	m.launch.cancel = cancel
	launcher := m.launcher
	m.spawn(func() {
		err := launcher.Launch(ctx)
		cancel()
		m.post(func() { m.launched(gen, err) })
	})
}

// launched resumes an attempt. A stale gen means it was stopped or
// superseded while Launch ran.
func (m *machine) launched(gen uint64, err error) {
	if gen != m.launch.gen {
		return
	}
	taskID, retry := m.launch.taskID, m.launch.retry
	m.launch = launchSlot{}
	ev := m.taskEvent(taskID)
	ev.Retry = retry
	if err != nil {
		m.log.Warn("launch failed", logx.String("task", taskID), logx.Err(err))
		ev.Reason = "launch"
		ev.Detail = err.Error()
		m.publish(eventbus.TopicLaunchFailed, ev)
		m.miss(taskID)
		return
	}
	m.openWindow(taskID, retry)
}

func (m *machine) openWindow(taskID string, retry bool) {
	if m.win.live() {
		prev := m.win.taskID
		m.log.Warn("confirmation window superseded", logx.String("task", prev))
		if prev != "" && prev != taskID {
			if _, ok := m.run.Outcomes[prev]; !ok {
				m.run.Outcomes[prev] = TimedOut
			}
		}
		m.cancel(&m.win)
	}
	timeout := time.Duration(m.values.TimeoutSeconds) * time.Second
	m.win = m.newSlot(ConfirmationWindow, taskID, m.now().Add(timeout))
	m.win.retry = retry
	gen := m.win.gen
	m.win.timer = m.clock.AfterFunc(timeout, func() { m.post(func() { m.onWindowTimeout(gen) }) })

	ev := m.taskEvent(taskID)
	ev.Retry = retry
	ev.Remaining = m.values.TimeoutSeconds
	m.publish(eventbus.TopicWindowOpened, ev)
}

func (m *machine) onWindowTimeout(gen uint64) {
	if gen != m.win.gen || !m.win.live() {
		return
	}
	id, retry := m.win.taskID, m.win.retry
	m.cancel(&m.win)

	ev := m.taskEvent(id)
	ev.Retry = retry
	ev.Reason = (&errs.TimeoutFailure{TaskID: id}).Error()
	ev.Detail = MsgNoConfirmation
	m.log.Warn("confirmation window elapsed", logx.String("task", id), logx.Bool("retry", retry))
	m.publish(eventbus.TopicTimedOut, ev)
	m.publish(eventbus.TopicAppHome, ev)
	m.miss(id)
}

// miss records an attempt that got no confirmation. The task becomes the
// retry target; cursor resolution skips it from now on.
func (m *machine) miss(taskID string) {
	if taskID != "" && m.run.Outcomes[taskID] != Confirmed {
		m.run.Outcomes[taskID] = TimedOut
		m.retryTarget = taskID
	}
	m.armNext()
}

func (m *machine) outcome(res classifier.Result) {
	m.ensureDay(m.now())
	switch res.Verdict {
	case classifier.Success:
		if !m.win.live() {
			m.log.Debug("success outside confirmation window", logx.String("text", res.RawText))
			return
		}
		id := m.win.taskID
		m.cancel(&m.win)
		if id != "" {
			if m.run.Outcomes[id] != Confirmed {
				m.run.CompletedCount++
			}
			m.run.Outcomes[id] = Confirmed
			if m.retryTarget == id {
				m.retryTarget = ""
			}
		}
		ev := m.taskEvent(id)
		ev.Text = res.RawText
		m.log.Info("task confirmed", logx.String("task", id), logx.Int("completed", m.run.CompletedCount))
		m.publish(eventbus.TopicConfirmed, ev)
		m.publish(eventbus.TopicMaskDelay, eventbus.MaskDelay{Seconds: m.values.MaskDelaySeconds})
		m.publish(eventbus.TopicAppHome, ev)
		m.armNext()
	case classifier.Failure:
		if !m.win.live() {
			m.log.Debug("failure outside confirmation window", logx.String("text", res.RawText))
			return
		}
		ev := m.taskEvent(m.win.taskID)
		ev.Reason = string(res.Reason)
		ev.Detail = res.Detail
		ev.Text = res.RawText
		m.log.Warn("task failure reported", logx.String("task", ev.TaskID), logx.String("reason", ev.Reason))
		m.publish(eventbus.TopicFailed, ev)
	}
}

// retry launches now for the retry target, else the cursor task. With
// neither, the attempt is unattributed.
func (m *machine) retry(source string) {
	m.refreshValues()
	m.ensureDay(m.now())
	target := m.retryTarget
	if target == "" && m.active && m.run.Cursor >= 0 && m.run.Cursor < len(m.list) {
		target = m.list[m.run.Cursor].ID
	}
	if target != "" && m.pre.live() && m.pre.taskID == target {
		m.cancel(&m.pre)
	}
	m.log.Info("retry requested", logx.String("source", source), logx.String("task", target))
	m.attempt(target, true)
}

func (m *machine) tasksChanged() {
	// The cursor is re-derived from the last task it passed, so inserts and
	// deletes never move it back over a task already handled.
	var passed string
	if m.run.Cursor > 0 && m.run.Cursor <= len(m.list) {
		passed = m.list[m.run.Cursor-1].TimeOfDay
	}
	if !m.reloadTasks() {
		return
	}
	if m.run.Cursor != CursorDone && passed != "" {
		m.run.Cursor = sort.Search(len(m.list), func(i int) bool { return m.list[i].TimeOfDay > passed })
	}
	if !m.active || m.run.Cursor == CursorDone || m.pre.settling || m.launch.live() {
		return
	}
	if m.pre.live() || !m.win.live() {
		m.cancel(&m.pre)
		m.armNext()
	}
}

func (m *machine) checkAutoStart(now time.Time) {
	m.refreshValues()
	m.ensureDay(now)
	if m.run.autoStartChecked {
		return
	}
	if h := now.Hour(); h < autoStartFromHour || h >= autoStartUntilHour {
		return
	}
	if !m.values.AutoStart || m.active {
		return
	}
	m.run.autoStartChecked = true
	if ok, desc := m.shouldRun(now); !ok {
		m.log.Info("auto-start skipped on rest day", logx.String("day", desc))
		return
	}
	if m.reloadTasks() && len(m.list) == 0 {
		m.log.Info("auto-start skipped; no tasks")
		return
	}
	m.start("auto-start", true)
}

func (m *machine) newSlot(kind TimerKind, taskID string, deadline time.Time) slot {
	m.gen++
	return slot{kind: kind, gen: m.gen, taskID: taskID, deadline: deadline}
}

func (m *machine) abortLaunch() {
	if m.launch.cancel != nil {
		m.launch.cancel()
	}
	m.launch = launchSlot{}
}

func (m *machine) cancel(s *slot) {
	if s.timer != nil {
		s.timer.Stop()
	}
	*s = slot{kind: s.kind}
}

func (m *machine) jitterFor(t storage.Task) time.Duration {
	if d, ok := m.jitter[t.ID]; ok {
		return d
	}
	var d time.Duration
	if m.values.RandomJitter && m.values.JitterRange > 0 {
		span := m.values.JitterRange * 60
		d = time.Duration(m.randInt(2*span+1)-span) * time.Second
	}
	m.jitter[t.ID] = d
	return d
}

func (m *machine) plannedAt(now time.Time, t storage.Task) time.Time {
	at, err := timeOn(now, t.TimeOfDay)
	if err != nil {
		return now
	}
	return at.Add(m.jitterFor(t))
}

func (m *machine) taskEvent(id string) TaskEvent {
	ev := TaskEvent{Date: m.run.Date, TaskID: id}
	for i, t := range m.list {
		if t.ID != id {
			continue
		}
		ev.Ordinal = i + 1
		ev.TimeOfDay = t.TimeOfDay
		if d, ok := m.jitter[id]; ok {
			if at, err := timeOn(m.now(), t.TimeOfDay); err == nil {
				ev.PlannedAt = at.Add(d)
			}
		}
		break
	}
	return ev
}

func (m *machine) state() State {
	switch {
	case !m.active:
		return Idle
	case m.win.live():
		return Confirming
	case m.pre.settling || m.launch.live():
		return Launching
	case m.pre.live():
		return Waiting
	case m.run.Cursor == CursorDone:
		return Completed
	default:
		return Running
	}
}

func (m *machine) snapshot() Snapshot {
	s := Snapshot{
		State:       m.state(),
		Date:        m.run.Date,
		Cursor:      m.run.Cursor,
		Done:        m.run.Cursor == CursorDone,
		StartedAt:   m.run.StartedAt,
		Completed:   m.run.CompletedCount,
		Total:       len(m.list),
		RetryTarget: m.retryTarget,
	}
	if m.pre.live() {
		ev := m.taskEvent(m.pre.taskID)
		s.NextTaskID = ev.TaskID
		s.NextOrdinal = ev.Ordinal
		s.NextTimeOfDay = ev.TimeOfDay
		s.NextAt = m.pre.deadline
	}
	if m.win.live() {
		s.WindowTaskID = m.win.taskID
		s.WindowDeadline = m.win.deadline
	}
	return s
}

// shutdown cancels live timers; the machine is unusable afterwards.
func (m *machine) shutdown() {
	m.cancel(&m.pre)
	m.cancel(&m.win)
	m.abortLaunch()
}

func remainingSeconds(deadline, now time.Time) int {
	d := deadline.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// timeOn returns hh:mm:ss on now's calendar date.
func timeOn(now time.Time, hhmmss string) (time.Time, error) {
	parts := strings.Split(hhmmss, ":")
	if len(parts) == 2 {
		parts = append(parts, "00")
	}
	var h, mi, s int
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("bad time of day %q", hhmmss)
	}
	if _, err := fmt.Sscanf(strings.Join(parts, " "), "%d %d %d", &h, &mi, &s); err != nil {
		return time.Time{}, fmt.Errorf("bad time of day %q: %w", hhmmss, err)
	}
	y, mo, d := now.Date()
	return time.Date(y, mo, d, h, mi, s, 0, now.Location()), nil
}
