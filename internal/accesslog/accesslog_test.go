package accesslog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hoekit/althttpd/internal/reqcontext"
)

func TestLogWritesQuotedCSVLine(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "access.log")
	l := New(logPath)

	req := &reqcontext.Request{
		Host:        "example.com",
		ScriptURI:   "/index.html",
		RemoteAddr:  "203.0.113.5",
		ReplyStatus: "200",
		BytesIn:     0,
		BytesOut:    5,
		DiagLine:    200,
	}
	req.Headers.Referer = `has "quotes"`
	conn := &reqcontext.Connection{RequestNumber: 1, RequestStart: time.Now()}

	closed, err := l.Log(req, conn, "http")
	require.NoError(t, err)
	require.False(t, closed)

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	line := strings.TrimRight(string(data), "\n")
	require.Contains(t, line, `"http://example.com/index.html"`)
	require.Contains(t, line, `"has ""quotes"""`)
	require.Contains(t, line, ",200,")
}

func TestLogClearsPerRequestStateWhenKeepingAlive(t *testing.T) {
	dir := t.TempDir()
	l := New(filepath.Join(dir, "access.log"))

	req := &reqcontext.Request{ReplyStatus: "200", BytesOut: 100, StatusSent: true}
	conn := &reqcontext.Connection{RequestNumber: 1, RequestStart: time.Now()}

	closed, err := l.Log(req, conn, "http")
	require.NoError(t, err)
	require.False(t, closed)
	require.False(t, req.StatusSent)
	require.Zero(t, req.BytesOut)
}

func TestLogReportsCloseLatch(t *testing.T) {
	dir := t.TempDir()
	l := New(filepath.Join(dir, "access.log"))

	req := &reqcontext.Request{ReplyStatus: "404", CloseConnection: true}
	conn := &reqcontext.Connection{RequestNumber: 1, RequestStart: time.Now()}

	closed, err := l.Log(req, conn, "http")
	require.NoError(t, err)
	require.True(t, closed)
}

func TestExpandPathStrftime(t *testing.T) {
	now := time.Date(2026, 8, 1, 13, 5, 9, 0, time.UTC)
	got := expandPath("/var/log/althttpd-%Y-%m-%d.log", now)
	require.Equal(t, "/var/log/althttpd-2026-08-01.log", got)
}

func TestExpandPathLiteralWhenNoTemplate(t *testing.T) {
	require.Equal(t, "/var/log/fixed.log", expandPath("/var/log/fixed.log", time.Now()))
}
