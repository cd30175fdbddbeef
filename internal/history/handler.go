package history

import (
	"context"

	"github.com/outrider-term/outrider/internal/handler"
	"github.com/outrider-term/outrider/internal/protocol"
)

// Wire actions served by the built-in history handler.
const (
	ActionSeed     = "history_seed"
	ActionPush     = "history_push"
	ActionPrev     = "history_prev"
	ActionNext     = "history_next"
	ActionFirst    = "history_first"
	ActionLast     = "history_last"
	ActionDelete   = "history_delete"
	ActionPrevPage = "history_prev_page"
	ActionNextPage = "history_next_page"
)

// NewHandler wraps the store as a built-in handler. It is registered after
// discovered extensions, so a user script can shadow individual actions by
// answering them with a non-skip status.
func NewHandler(s *Store) handler.Handler {
	return handler.NewFunc("history", func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
		p := decodeParams(req.Payload)
		switch req.Action {
		case ActionSeed:
			return s.Seed(p), nil
		case ActionPush:
			return s.Push(p), nil
		case ActionPrev:
			return s.Prev(p), nil
		case ActionNext:
			return s.Next(p), nil
		case ActionFirst:
			return s.First(p), nil
		case ActionLast:
			return s.Last(p), nil
		case ActionDelete:
			return s.Delete(p), nil
		case ActionPrevPage:
			return s.PrevPage(p), nil
		case ActionNextPage:
			return s.NextPage(p), nil
		default:
			return protocol.Skip(), nil
		}
	})
}
