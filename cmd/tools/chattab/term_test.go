package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a2639443196/my-vue-web/backend/internal/model/chat"
)

func TestInputLoopDispatchesUntilQuit(t *testing.T) {
	var got []string
	lines := readLines(strings.NewReader("hello\n\n  /who \n/quit\nignored\n"))

	err := inputLoop(context.Background(), lines, func(line string) error {
		got = append(got, line)
		return nil
	})

	assert.ErrorIs(t, err, errQuit)
	assert.Equal(t, []string{"hello", "/who"}, got)
	assert.NoError(t, finish(err))
}

func TestInputLoopStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := inputLoop(ctx, make(chan string), func(string) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, finish(err))
}

func TestRendererPrintsEachMessageOnce(t *testing.T) {
	var out bytes.Buffer
	r := newRenderer(&out)
	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.Local)

	first := chat.Message{ID: "1", AuthorID: chat.SystemAuthorID, AuthorName: chat.SystemAuthorName, Content: "欢迎", CreatedAt: at, IsSystem: true}
	second := chat.Message{ID: "2", AuthorID: "u1", AuthorName: "Ann", Content: "hi", CreatedAt: at}

	r.render([]chat.Message{first})
	r.render([]chat.Message{first, second})

	assert.Equal(t, "[08:00:00] * 欢迎\n[08:00:00] Ann: hi\n", out.String())
}

func TestNotifierCoalesces(t *testing.T) {
	changes, notify := notifier()
	notify()
	notify()

	require.Len(t, changes, 1)
	<-changes
	assert.Empty(t, changes)
}

func TestToWebSocketURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8080", toWebSocketURL("http://localhost:8080"))
	assert.Equal(t, "wss://hub.example", toWebSocketURL("https://hub.example"))
	assert.Equal(t, "ws://already", toWebSocketURL("ws://already"))
}
