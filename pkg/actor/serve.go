package actor

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"go.uber.org/zap"

	"github.com/pario-ai/google-proxy/pkg/errs"
	"github.com/pario-ai/google-proxy/pkg/models"
)

const maxLineSize = 32 << 20

// Serve reads JSON-lines messages from r, delivers them to a and writes
// replies to w. Streaming requests produce a sequence of chunk replies
// ending in one with done or error set. It blocks until r is exhausted,
// ctx is cancelled or the actor stops; in the last case ErrStopped is
// returned after the rejected message has been answered.
func Serve(ctx context.Context, a *Actor, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), maxLineSize)
	enc := json.NewEncoder(w)
	write := func(reply Reply) error {
		if err := enc.Encode(reply); err != nil {
			a.logger.Warn("write reply failed", zap.Error(err))
			return err
		}
		return nil
	}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			_ = write(Reply{Type: ReplyError, Error: &models.ErrorPayload{Kind: errs.KindValidation, Message: "parse error: " + err.Error()}})
			continue
		}

		switch env.Type {
		case TypeListModels:
			_ = write(Reply{ID: env.ID, Type: ReplyModels, Models: a.Models()})
			continue
		case TypeCacheStats:
			stats := a.CacheStats()
			_ = write(Reply{ID: env.ID, Type: ReplyCacheStats, CacheStats: &stats})
			continue
		}

		kind := models.Kind(env.Type)
		req, err := models.DecodeRequest(kind, line)
		if err != nil {
			_ = write(Reply{ID: env.ID, Type: ReplyError, Error: models.NewErrorPayload(err)})
			continue
		}

		if kind == models.KindStreamingGeneration {
			terminated := false
			_, err := a.Ask(ctx, req, func(c models.Chunk) error {
				terminated = c.Done || c.Error != nil
				return write(Reply{ID: env.ID, Type: ReplyChunk, Chunk: &c})
			})
			if err != nil && !terminated {
				_ = write(Reply{ID: env.ID, Type: ReplyError, Error: models.NewErrorPayload(err)})
			}
			if IsStopped(err) {
				return err
			}
			continue
		}

		resp, err := a.Ask(ctx, req, nil)
		if err != nil {
			_ = write(Reply{ID: env.ID, Type: ReplyError, Error: models.NewErrorPayload(err)})
			if IsStopped(err) {
				return err
			}
			continue
		}
		_ = write(Reply{ID: env.ID, Type: ReplyResponse, Response: resp})
	}
	return scanner.Err()
}
