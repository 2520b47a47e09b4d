// Package command maps trusted inbound text to operator commands.
//
// Matching is by whole first token only: "启动任务" runs start-task while
// "今天启动任务了吗" runs nothing.
package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"dailytask/internal/errs"
	"dailytask/internal/eventbus"
	"dailytask/internal/transport"
	logx "dailytask/pkg/logx"
)

var DefaultPrefixes = []string{"cmd:", "#"}

const defaultTimeout = 15 * time.Second

type Options struct {
	Prefixes       []string
	DefaultTimeout time.Duration
	Log            logx.Logger
}

type Router struct {
	deps    *Deps
	replier Replier
	log     logx.Logger
	timeout time.Duration

	mu       sync.RWMutex
	prefixes []string
	cmds     []*Command
	index    map[string]*Command
}

// New builds a router with the built-in command table registered.
func New(deps Deps, replier Replier, opt Options) (*Router, error) {
	if deps.Bus == nil || deps.Settings == nil || deps.Tasks == nil {
		return nil, errors.New("command: bus, settings and tasks are required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.AfterFunc == nil {
		deps.AfterFunc = func(d time.Duration, f func()) { time.AfterFunc(d, f) }
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	log := opt.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := opt.DefaultTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	r := &Router{
		deps:    &deps,
		replier: replier,
		log:     log,
		timeout: timeout,
		index:   map[string]*Command{},
	}
	r.SetPrefixes(opt.Prefixes)
	for _, c := range builtins(r) {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// SetPrefixes replaces the stripped prefixes. Nil restores the defaults.
func (r *Router) SetPrefixes(p []string) {
	if p == nil {
		p = DefaultPrefixes
	}
	clean := make([]string, 0, len(p))
	for _, s := range p {
		if s = strings.TrimSpace(s); s != "" {
			clean = append(clean, s)
		}
	}
	r.mu.Lock()
	r.prefixes = clean
	r.mu.Unlock()
}

func (r *Router) Register(c Command) error {
	if strings.TrimSpace(c.Name) == "" || c.Handle == nil {
		return errors.New("command: name and handler are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := c
	toks := append([]string{c.Name}, c.Synonyms...)
	for _, tok := range toks {
		if _, dup := r.index[tok]; dup {
			return fmt.Errorf("command: %q registered twice", tok)
		}
	}
	for _, tok := range toks {
		r.index[tok] = &cp
	}
	r.cmds = append(r.cmds, &cp)
	return nil
}

// Commands returns the table in registration order.
func (r *Router) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Command, 0, len(r.cmds))
	for _, c := range r.cmds {
		out = append(out, *c)
	}
	return out
}

func (r *Router) lookup(tok string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.index[tok]
	return c, ok
}

func (r *Router) normalize(text string) string {
	text = strings.TrimSpace(text)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.prefixes {
		if rest, ok := strings.CutPrefix(text, p); ok {
			return strings.TrimSpace(rest)
		}
	}
	return text
}

// Handle runs the command in in.Text and sends its reply. It reports whether
// the text matched anything.
func (r *Router) Handle(ctx context.Context, in transport.Inbound) bool {
	rep, ok := r.Execute(ctx, in.SourceID, in.Text)
	if !ok || rep.IsZero() || r.replier == nil {
		return ok
	}
	if err := r.replier.Send(ctx, rep.Title, rep.Body); err != nil {
		r.log.Warn("command reply failed", logx.String("title", rep.Title), logx.Err(err))
	}
	return ok
}

// Execute matches and runs text without sending anything. Handler errors are
// rendered into the returned reply.
func (r *Router) Execute(ctx context.Context, source, text string) (Reply, bool) {
	body := r.normalize(text)
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return Reply{}, false
	}

	cmd, ok := r.lookup(fields[0])
	if !ok {
		if r.isTaskKeyword(ctx, body) {
			return r.defaultRetry(source), true
		}
		r.log.Debug("ignored inbound text", logx.String("source", source))
		return Reply{}, false
	}

	req := &Request{
		ID:     r.deps.NewID(),
		Source: source,
		Text:   body,
		Token:  fields[0],
		Name:   cmd.Name,
		Args:   fields[1:],
		Deps:   r.deps,
	}
	req.Logger = r.log.With(logx.String("req_id", req.ID))

	if err := checkArity(cmd, len(req.Args)); err != nil {
		return Reply{Title: cmd.Title, Body: errs.Reply(err)}, true
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	h := Chain(cmd.Handle, MWPanicRecover(r.log), MWRequestLog(r.log), MWTimeout(timeout))
	rep, err := h(ctx, req)
	if err != nil {
		title := rep.Title
		if title == "" {
			title = cmd.Title
		}
		return Reply{Title: title, Body: errs.Reply(err)}, true
	}
	return rep, true
}

func checkArity(c *Command, n int) error {
	if n >= c.MinArgs && (c.MaxArgs < 0 || n <= c.MaxArgs) {
		return nil
	}
	usage := c.Usage
	if usage == "" {
		usage = c.Name
	}
	return errs.Validation(c.Name, "参数数量不正确，用法：%s", usage)
}

func (r *Router) isTaskKeyword(ctx context.Context, body string) bool {
	v, err := r.deps.Settings.Load(ctx)
	if err != nil {
		r.log.Warn("settings unavailable; using default keyword", logx.Err(err))
	}
	kw := strings.TrimSpace(v.TaskKeyword)
	return kw != "" && body == kw
}

// defaultRetry is the bare task keyword path. It retries without a reply.
func (r *Router) defaultRetry(source string) Reply {
	r.log.Info("task keyword received; retrying", logx.String("source", source))
	r.deps.Bus.Publish(eventbus.Event{
		Type: eventbus.TopicRetryRequested,
		Time: r.deps.Now(),
		Data: eventbus.ControlRequest{Source: source},
	})
	return Reply{}
}
