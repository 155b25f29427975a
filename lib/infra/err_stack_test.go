package infra

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var initPC = caller()

func caller() Frame {
	var PCs [3]uintptr
	n := runtime.Callers(2, PCs[:])
	frames := runtime.CallersFrames(PCs[:n])
	frame, _ := frames.Next()
	// Frame.pc() expects a return address.
	return Frame(frame.PC + 1)
}

func TestFrameFormat(t *testing.T) {
	testcases := []struct {
		Frame
		format   string
		contains string
	}{
		{initPC, "%s", "err_stack_test.go"},
		{initPC, "%+s", "lib/infra.init"},
		{initPC, "%n", "init"},
		{initPC, "%v", "err_stack_test.go:"},
		{initPC, "%+v", "lib/infra/err_stack_test.go:"},
		{Frame(0), "%s", "unknownFile"},
		{Frame(0), "%n", "unknownFunc"},
		{Frame(0), "%d", "0"},
	}

	for _, tc := range testcases {
		frameRes := fmt.Sprintf(tc.format, tc.Frame)
		require.Contains(t, frameRes, tc.contains)
	}
}

func TestFrameMarshal(t *testing.T) {
	text, err := initPC.MarshalText()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(text), "github.com/benz9527/xcrbt/lib/infra.init "))

	text, err = Frame(0).MarshalText()
	require.NoError(t, err)
	require.Equal(t, "unknownFrame", string(text))

	js, err := json.Marshal(Frame(0))
	require.NoError(t, err)
	require.Equal(t, `{"frame":"unknownFrame"}`, string(js))

	js, err = json.Marshal(initPC)
	require.NoError(t, err)
	var m map[string]string
	require.NoError(t, json.Unmarshal(js, &m))
	require.Contains(t, m["fileAndLine"], "err_stack_test.go:")
}

var errSentinel = errors.New("sentinel")

func TestErrorStack(t *testing.T) {
	err := NewErrorStack("broken")
	require.Error(t, err)
	require.Equal(t, "broken", err.Error())

	es, ok := err.(ErrorStack)
	require.True(t, ok)
	require.NotEmpty(t, es.Frames())
	require.Contains(t, fmt.Sprintf("%v", es.Frames()[0]), "err_stack_test.go")
	require.True(t, strings.HasPrefix(fmt.Sprintf("%+v", err), "broken\n"))

	require.Nil(t, WrapErrorStack(nil))
	wrapped := WrapErrorStack(errSentinel)
	require.ErrorIs(t, wrapped, errSentinel)
	require.Same(t, wrapped, WrapErrorStack(wrapped))

	withMsg := WrapErrorStackWithMessage(wrapped, "load")
	require.Equal(t, "load: sentinel", withMsg.Error())
	require.ErrorIs(t, withMsg, errSentinel)
	require.Equal(t, wrapped.(ErrorStack).Frames(), withMsg.(ErrorStack).Frames())
}

func TestAppendErrorStack(t *testing.T) {
	require.Nil(t, AppendErrorStack(nil))
	require.Nil(t, AppendErrorStack(nil, nil, nil))

	err := AppendErrorStack(nil, errSentinel, errors.New("other"))
	require.Error(t, err)
	require.ErrorIs(t, err, errSentinel)
	require.Len(t, err.(ErrorStack).Unwrap(), 2)

	err = AppendErrorStack(err, errors.New("third"))
	require.Len(t, err.(ErrorStack).Unwrap(), 3)
}

func TestErrorStackZapInline(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	err := NewErrorStack("zap inline")
	logger.Error("failed", zap.Inline(err.(ErrorStack)))

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "zap inline", fields["error"])
	frames, ok := fields["errorStack"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, frames)
}
