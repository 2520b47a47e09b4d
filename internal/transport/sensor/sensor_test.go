package sensor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "dailytask/internal/transport"
	logx "dailytask/pkg/logx"
)

func post(t *testing.T, url, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url+pathNotify, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestNotifyHandler(t *testing.T) {
	now := time.Date(2026, 10, 14, 8, 31, 0, 0, time.UTC)
	s := New(Config{Token: "s3cret"}, logx.Nop())
	s.now = func() time.Time { return now }
	out := make(chan kit.Inbound, 4)
	s.out = out

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	tests := []struct {
		name  string
		token string
		body  string
		code  int
	}{
		{"no token", "", `{"source":"com.app","text":"考勤打卡成功"}`, http.StatusUnauthorized},
		{"bad token", "nope", `{"source":"com.app","text":"考勤打卡成功"}`, http.StatusUnauthorized},
		{"bad json", "s3cret", `{`, http.StatusBadRequest},
		{"unknown field", "s3cret", `{"source":"a","text":"b","x":1}`, http.StatusBadRequest},
		{"missing text", "s3cret", `{"source":"com.app"}`, http.StatusBadRequest},
		{"ok", "s3cret", `{"source":" com.app ","title":"考勤","text":"考勤打卡成功"}`, http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, srv.URL, tt.token, tt.body)
			assert.Equal(t, tt.code, resp.StatusCode)
		})
	}

	require.Len(t, out, 1)
	in := <-out
	assert.Equal(t, kit.Inbound{SourceID: "com.app", Title: "考勤", Text: "考勤打卡成功", At: now}, in)

	resp, err := http.Get(srv.URL + pathNotify)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "auth runs before method check")
}

func TestStartRefusesInsecureBind(t *testing.T) {
	s := New(Config{Addr: "0.0.0.0:0"}, logx.Nop())
	assert.Error(t, s.Start(context.Background(), make(chan kit.Inbound)))
}

func TestStartServesAndStops(t *testing.T) {
	s := New(Config{Addr: "127.0.0.1:0"}, logx.Nop())
	out := make(chan kit.Inbound, 1)
	require.NoError(t, s.Start(context.Background(), out))
	addr := s.Addr()
	require.NotEmpty(t, addr)

	resp := post(t, "http://"+addr, "", `{"source":"telegram:1","text":"查询状态"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "查询状态", (<-out).Text)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.Empty(t, s.Addr())
}

func TestIsLoopbackAddr(t *testing.T) {
	assert.True(t, isLoopbackAddr("127.0.0.1:8787"))
	assert.True(t, isLoopbackAddr("localhost:1"))
	assert.True(t, isLoopbackAddr("[::1]:1"))
	assert.False(t, isLoopbackAddr(":8787"))
	assert.False(t, isLoopbackAddr("10.0.0.2:80"))
}
