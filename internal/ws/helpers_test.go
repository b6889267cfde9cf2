package ws

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"zchat/internal/domain"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func testSession(userID, conversationID int64, buffer int) *Session {
	s := newSession(&domain.User{ID: userID, Username: "user"}, conversationID, nil, Options{SendBuffer: buffer}, discard)
	s.setState(StateJoined)
	return s
}

// drain returns every frame currently queued on s, decoded.
func drain(t *testing.T, s *Session) []map[string]any {
	t.Helper()
	var out []map[string]any
	for {
		select {
		case b := <-s.send:
			var m map[string]any
			require.NoError(t, json.Unmarshal(b, &m))
			out = append(out, m)
		default:
			return out
		}
	}
}

func types(frames []map[string]any) []string {
	res := make([]string, 0, len(frames))
	for _, f := range frames {
		res = append(res, f["type"].(string))
	}
	return res
}
