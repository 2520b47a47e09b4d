// Package classifier decides whether text from the monitored application
// reports a successful check-in, a failure, or neither.
package classifier

import (
	"strings"
	"unicode/utf8"
)

type Verdict int

const (
	Ignored Verdict = iota
	Success
	Failure
)

func (v Verdict) String() string {
	switch v {
	case Success:
		return "success"
	case Failure:
		return "failure"
	default:
		return "ignored"
	}
}

// Reason is the canonical failure cause.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonNetwork     Reason = "network"
	ReasonWindow      Reason = "scheduling-window"
	ReasonAlreadyDone Reason = "already-completed"
	ReasonLocation    Reason = "location"
	ReasonPermission  Reason = "permission"
	ReasonAuth        Reason = "auth-session"
	ReasonServerBusy  Reason = "server-busy"
	ReasonBiometric   Reason = "biometric"
	ReasonSSID        Reason = "network-ssid"
	ReasonGeneric     Reason = "generic-error"
	ReasonUnknown     Reason = "unknown"
	ReasonTimeout     Reason = "timeout"
)

// Result is handed to the bus; it is never persisted.
type Result struct {
	Verdict Verdict `json:"verdict"`
	Reason  Reason  `json:"reason,omitempty"`
	// Detail is the operator-facing explanation for a failure.
	Detail  string `json:"detail,omitempty"`
	RawText string `json:"raw_text"`
}

// ReasonRule maps any of Keywords to Reason. Rules are tried in order.
type ReasonRule struct {
	Reason   Reason   `json:"reason"`
	Label    string   `json:"label,omitempty"`
	Keywords []string `json:"keywords"`
}

// Rules is the full, ordered rule table.
type Rules struct {
	Failure []string     `json:"failure,omitempty"`
	Success []string     `json:"success,omitempty"`
	Reasons []ReasonRule `json:"reasons,omitempty"`
}

// unknownEcho is how many runes of unmatched failure text are echoed back.
const unknownEcho = 50

// Classifier is immutable and safe for concurrent use.
type Classifier struct {
	failure []string
	success []string
	reasons []ReasonRule
}

// New builds a classifier. Empty sections of rules fall back to the defaults,
// so a config can override only the vocabulary it cares about.
func New(rules Rules) *Classifier {
	def := DefaultRules()
	if len(rules.Failure) == 0 {
		rules.Failure = def.Failure
	}
	if len(rules.Success) == 0 {
		rules.Success = def.Success
	}
	if len(rules.Reasons) == 0 {
		rules.Reasons = def.Reasons
	}
	return &Classifier{
		failure: lowerAll(rules.Failure),
		success: lowerAll(rules.Success),
		reasons: lowerRules(rules.Reasons),
	}
}

// Default returns a classifier over DefaultRules.
func Default() *Classifier { return New(Rules{}) }

// Classify checks failure keywords before success keywords. Failure notices
// from the target app often contain success-adjacent words, so the order matters.
func (c *Classifier) Classify(text string) Result {
	raw := text
	low := strings.ToLower(strings.TrimSpace(text))
	if low == "" {
		return Result{Verdict: Ignored, RawText: raw}
	}
	if containsAny(low, c.failure) {
		reason, detail := c.analyze(low, raw)
		return Result{Verdict: Failure, Reason: reason, Detail: detail, RawText: raw}
	}
	if containsAffirmed(low, c.success) {
		return Result{Verdict: Success, RawText: raw}
	}
	return Result{Verdict: Ignored, RawText: raw}
}

func (c *Classifier) analyze(low, raw string) (Reason, string) {
	for _, r := range c.reasons {
		if containsAny(low, r.Keywords) {
			label := r.Label
			if label == "" {
				label = string(r.Reason)
			}
			return r.Reason, label
		}
	}
	return ReasonUnknown, "未知原因：" + firstRunes(strings.TrimSpace(raw), unknownEcho)
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if k != "" && strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// negations void a success keyword written right after them, as in 未完成.
var negations = []string{"未", "没", "没有", "不", "非", "not ", "no "}

// containsAffirmed is containsAny, skipping matches that are negated or that
// start inside a longer word ("abnormal").
func containsAffirmed(s string, keywords []string) bool {
	for _, k := range keywords {
		if k == "" {
			continue
		}
		for off := 0; ; {
			i := strings.Index(s[off:], k)
			if i < 0 {
				break
			}
			at := off + i
			if !negated(s[:at], k) {
				return true
			}
			off = at + len(k)
		}
	}
	return false
}

func negated(before, keyword string) bool {
	if isLetter(keyword[0]) && before != "" && isLetter(before[len(before)-1]) {
		return true
	}
	for _, n := range negations {
		if strings.HasSuffix(before, n) {
			return true
		}
	}
	return false
}

func isLetter(b byte) bool { return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' }

func firstRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func lowerRules(in []ReasonRule) []ReasonRule {
	out := make([]ReasonRule, 0, len(in))
	for _, r := range in {
		r.Keywords = lowerAll(r.Keywords)
		if r.Reason == ReasonNone || len(r.Keywords) == 0 {
			continue
		}
		out = append(out, r)
	}
	return out
}
