package kv

import (
	"context"
	"encoding/base64"
	"unicode/utf8"

	"github.com/benbjohnson/clock"

	"github.com/roach88/talon/internal/ir"
	"github.com/roach88/talon/internal/module"
)

func (a *Adapter) reapLoop(ticker *clock.Ticker) {
	defer close(a.done)
	defer ticker.Stop()

	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			n, err := a.Reap(context.Background())
			if err != nil {
				a.logger.Warn("kv reap failed", "error", err)
				continue
			}
			if n > 0 {
				a.logger.Debug("kv reaped expired keys", "count", n)
			}
		}
	}
}

// Reap deletes up to one batch of expired rows and returns how many were
// removed. Each pass is a single statement, so callers are never blocked
// behind a long sweep.
func (a *Adapter) Reap(ctx context.Context) (int64, error) {
	res, err := a.store.Exec(ctx, `
		DELETE FROM kv_entries WHERE key IN (
			SELECT key FROM kv_entries
			WHERE expires_at IS NOT NULL AND expires_at <= ?
			LIMIT ?
		)
	`, a.nowMS(), a.cfg.ReapBatch)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// encodeKeyList renders keys as strings, switching the whole list to base64
// when any key is not valid UTF-8.
func encodeKeyList(keys [][]byte) ir.IRObject {
	plain := true
	for _, k := range keys {
		if !utf8.Valid(k) {
			plain = false
			break
		}
	}

	arr := make(ir.IRArray, len(keys))
	for i, k := range keys {
		if plain {
			arr[i] = ir.IRString(k)
		} else {
			arr[i] = ir.IRString(base64.StdEncoding.EncodeToString(k))
		}
	}

	out := ir.IRObject{"keys": arr}
	if !plain {
		out[module.EncodingKey] = ir.IRString(module.EncodingBase64)
	}
	return out
}
