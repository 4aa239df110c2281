package notify_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circulib/lending-engine-go/notify"
)

type loggerSpy struct {
	mu       sync.Mutex
	messages []string
	args     [][]any
}

func (l *loggerSpy) Info(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.messages = append(l.messages, msg)
	l.args = append(l.args, args)
}

func Test_Send_LogsTheNotificationAndReportsSuccess(t *testing.T) {
	// arrange
	spy := &loggerSpy{}
	sender := notify.NewLogSender(spy)

	// act
	err := sender.Send(context.Background(), "reader@example.org", notify.TemplateOverdueNotice, map[string]string{
		notify.ParamItemTitle: "The Pragmatic Programmer",
	})

	// assert
	require.NoError(t, err)
	require.Len(t, spy.messages, 1)
	assert.Equal(t, "notification sent", spy.messages[0])
	assert.Contains(t, spy.args[0], "reader@example.org")
	assert.Contains(t, spy.args[0], string(notify.TemplateOverdueNotice))
	assert.Contains(t, spy.args[0], "The Pragmatic Programmer")
}
