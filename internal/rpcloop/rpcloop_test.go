package rpcloop

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdlbs/sessiond/internal/corelog"
)

func runLines(t *testing.T, l *Loop, input string) []Response {
	t.Helper()
	var out bytes.Buffer
	l.out = &out
	err := l.Run(context.Background(), strings.NewReader(input))
	require.NoError(t, err)

	var responses []Response
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var r Response
		require.NoError(t, json.Unmarshal([]byte(line), &r))
		responses = append(responses, r)
	}
	return responses
}

func TestUnknownMethodReturnsMethodNotFound(t *testing.T) {
	l := New(corelog.Default(), &bytes.Buffer{})
	resp := runLines(t, l, `{"jsonrpc":"2.0","id":1,"method":"nope"}`+"\n")
	require.Len(t, resp, 1)
	require.NotNil(t, resp[0].Error)
	assert.Equal(t, MethodNotFound, resp[0].Error.Code)
}

func TestMalformedJSONReturnsParseError(t *testing.T) {
	l := New(corelog.Default(), &bytes.Buffer{})
	resp := runLines(t, l, `{not json`+"\n")
	require.Len(t, resp, 1)
	require.NotNil(t, resp[0].Error)
	assert.Equal(t, ParseError, resp[0].Error.Code)
}

func TestMissingMethodReturnsInvalidRequest(t *testing.T) {
	l := New(corelog.Default(), &bytes.Buffer{})
	resp := runLines(t, l, `{"jsonrpc":"2.0","id":1}`+"\n")
	require.Len(t, resp, 1)
	require.NotNil(t, resp[0].Error)
	assert.Equal(t, InvalidRequest, resp[0].Error.Code)
}

func TestRegisteredMethodDispatches(t *testing.T) {
	l := New(corelog.Default(), &bytes.Buffer{})
	l.Register("echo", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return "hi", nil
	})
	resp := runLines(t, l, `{"jsonrpc":"2.0","id":1,"method":"echo"}`+"\n")
	require.Len(t, resp, 1)
	require.Nil(t, resp[0].Error)
	assert.Equal(t, "hi", resp[0].Result)
}

func TestInvalidParamsErrorMapsToInvalidParamsCode(t *testing.T) {
	l := New(corelog.Default(), &bytes.Buffer{})
	l.Register("needsParams", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return nil, invalidParams(assertErr("bad"))
	})
	resp := runLines(t, l, `{"jsonrpc":"2.0","id":1,"method":"needsParams"}`+"\n")
	require.Len(t, resp, 1)
	require.NotNil(t, resp[0].Error)
	assert.Equal(t, InvalidParams, resp[0].Error.Code)
}

func TestMultipleLinesHandledInOrder(t *testing.T) {
	l := New(corelog.Default(), &bytes.Buffer{})
	var seen []int
	l.Register("mark", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var p struct {
			N int `json:"n"`
		}
		_ = json.Unmarshal(params, &p)
		seen = append(seen, p.N)
		return p.N, nil
	})
	input := `{"jsonrpc":"2.0","id":1,"method":"mark","params":{"n":1}}` + "\n" +
		`{"jsonrpc":"2.0","id":2,"method":"mark","params":{"n":2}}` + "\n"
	resp := runLines(t, l, input)
	require.Len(t, resp, 2)
	assert.Equal(t, []int{1, 2}, seen)
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

func assertErr(msg string) error { return simpleErr(msg) }
