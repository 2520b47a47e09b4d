package command

import (
	"context"
	"strings"
)

func (r *Router) handleHelp(ctx context.Context, req *Request) (Reply, error) {
	var path string
	if len(req.Args) == 1 {
		path = req.Args[0]
	}
	return Reply{Title: TitleHelp, Body: r.helpText(path)}, nil
}

func (r *Router) helpText(name string) string {
	if name == "" {
		lines := []string{"可用命令（发送 帮助 <命令> 查看详情）："}
		for _, c := range r.Commands() {
			tok := c.Name
			if len(c.Synonyms) > 0 {
				tok = c.Synonyms[0]
			}
			if c.Description != "" {
				lines = append(lines, "- "+tok+"："+c.Description)
			} else {
				lines = append(lines, "- "+tok)
			}
		}
		return strings.Join(lines, "\n")
	}

	c, ok := r.lookup(name)
	if !ok {
		return "未知命令：" + name + "，发送 帮助 查看命令列表"
	}
	lines := []string{c.Name, c.Description}
	if c.Usage != "" {
		lines = append(lines, "用法："+c.Usage)
	}
	if len(c.Synonyms) > 0 {
		lines = append(lines, "别名："+strings.Join(c.Synonyms, "、"))
	}
	return strings.Join(filterEmpty(lines), "\n")
}

func filterEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if strings.TrimSpace(s) == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
