package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dailytask/internal/eventbus"
	"dailytask/internal/scheduler"
	logx "dailytask/pkg/logx"
)

const (
	TitleStart   = "启动任务通知"
	TitleStop    = "停止任务通知"
	TitleTask    = "任务执行通知"
	TitleState   = "任务状态通知"
	TitleResult  = "打卡结果通知"
	TitleFailure = "打卡失败通知"
	TitleLaunch  = "启动应用失败通知"
	TitleRetry   = "重试打卡通知"
)

// Sink takes rendered reports.
type Sink interface {
	Send(ctx context.Context, title, body string) error
}

// Reporter subscribes to scheduler events and renders reports.
type Reporter struct {
	bus  eventbus.Bus
	sink Sink
	log  logx.Logger
}

func NewReporter(bus eventbus.Bus, sink Sink, log logx.Logger) *Reporter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reporter{bus: bus, sink: sink, log: log}
}

var reportTopics = []string{
	eventbus.TopicRejected,
	eventbus.TopicStarted,
	eventbus.TopicStopped,
	eventbus.TopicTaskArmed,
	eventbus.TopicLaunchFailed,
	eventbus.TopicConfirmed,
	eventbus.TopicFailed,
	eventbus.TopicTimedOut,
	eventbus.TopicDayCompleted,
	eventbus.TopicDayReset,
	eventbus.TopicReport,
}

// Run forwards reports until ctx is done.
func (r *Reporter) Run(ctx context.Context) error {
	events, unsub := r.bus.SubscribeTopics(reportTopics...)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			title, body, ok := Render(ev)
			if !ok {
				continue
			}
			switch err := r.sink.Send(ctx, title, body); {
			case err == nil:
			case errors.Is(err, ErrDisabled):
				r.log.Debug("report dropped", logx.String("title", title))
			default:
				r.log.Warn("report not queued", logx.String("title", title), logx.Err(err))
			}
		}
	}
}

// Render maps one bus event to a report. ok is false for events that are
// not reported.
func Render(ev eventbus.Event) (title, body string, ok bool) {
	switch d := ev.Data.(type) {
	case eventbus.Report:
		return d.Title, d.Body, d.Title != "" || d.Body != ""
	case scheduler.Rejection:
		switch d.Action {
		case "start":
			return TitleStart, d.Reason, true
		case "stop":
			return TitleStop, d.Reason, true
		case "retry":
			return TitleRetry, d.Reason, true
		default:
			return TitleState, d.Reason, true
		}
	case scheduler.Started:
		lines := []string{scheduler.MsgStarted}
		if d.Description != "" {
			lines = append(lines, "今天是："+d.Description)
		}
		if len(d.Tasks) > 0 {
			lines = append(lines, "任务列表："+strings.Join(d.Tasks, "、"))
		}
		if d.Auto {
			lines = append(lines, "（自动启动）")
		} else if d.Source != "" {
			lines = append(lines, sourceNote(d.Source))
		}
		return TitleStart, strings.Join(lines, "\n"), true
	case scheduler.Stopped:
		if d.Source == "" {
			return TitleStop, "任务已停止", true
		}
		return TitleStop, "任务已停止\n" + sourceNote(d.Source), true
	case scheduler.DayCompleted:
		return TitleState, scheduler.MsgDayDone, true
	case scheduler.DayReset:
		if !d.Resting {
			return "", "", false
		}
		return TitleState, d.Reason, d.Reason != ""
	case scheduler.TaskEvent:
		return renderTask(ev.Type, d)
	}
	return "", "", false
}

func sourceNote(source string) string { return "（来源：" + source + "）" }

func renderTask(typ string, d scheduler.TaskEvent) (string, string, bool) {
	switch typ {
	case eventbus.TopicTaskArmed:
		actual := ""
		if !d.PlannedAt.IsZero() {
			actual = d.PlannedAt.Format("15:04:05")
		}
		return TitleTask, fmt.Sprintf("准备执行第 %d 个任务，计划时间：%s，实际时间: %s", d.Ordinal, d.TimeOfDay, actual), true
	case eventbus.TopicConfirmed:
		body := d.Text
		if body == "" {
			body = "打卡成功"
		}
		return TitleResult, body, true
	case eventbus.TopicFailed:
		body := d.Detail
		if d.Text != "" && d.Text != body {
			body = strings.TrimSpace(body + "\n" + d.Text)
		}
		return TitleFailure, body, true
	case eventbus.TopicTimedOut:
		return TitleResult, d.Detail, true
	case eventbus.TopicLaunchFailed:
		return TitleLaunch, "目标应用启动失败：" + d.Detail, true
	}
	return "", "", false
}
