// Package mq implements the message-queue module: append-only topics with
// dense per-topic offsets starting at 0.
package mq

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/benbjohnson/clock"
	"github.com/klauspost/compress/zstd"

	"github.com/roach88/talon/internal/ir"
	"github.com/roach88/talon/internal/module"
	"github.com/roach88/talon/internal/store"
)

// Payload codecs stored in mq_messages.codec.
const (
	codecRaw  = 0
	codecZstd = 1
)

// Config tunes the adapter.
type Config struct {
	// CompressThreshold is the payload size in bytes above which payloads are
	// stored zstd-compressed. Zero disables compression.
	CompressThreshold int

	// LockStripes is the number of per-topic lock stripes.
	LockStripes int
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		CompressThreshold: 4096,
		LockStripes:       module.DefaultStripes,
	}
}

// Adapter is the mq module.
type Adapter struct {
	store   *store.Store
	clock   clock.Clock
	cfg     Config
	logger  *slog.Logger
	locks   *module.KeyedMutex
	actions module.Actions

	enc *zstd.Encoder
	dec *zstd.Decoder
}

// New creates the adapter.
func New(s *store.Store, clk clock.Clock, cfg Config, logger *slog.Logger) (*Adapter, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("mq: zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("mq: zstd decoder: %w", err)
	}

	a := &Adapter{
		store:  s,
		clock:  clk,
		cfg:    cfg,
		logger: logger.With("module", module.MQ),
		locks:  module.NewKeyedMutex(cfg.LockStripes),
		enc:    enc,
		dec:    dec,
	}
	a.actions = module.Actions{
		"produce": a.produce,
		"consume": a.consume,
		"topics":  a.topics,
		"len":     a.length,
	}
	return a, nil
}

// Name implements module.Adapter.
func (a *Adapter) Name() string { return module.MQ }

// Actions implements module.Adapter.
func (a *Adapter) Actions() []string { return a.actions.Names() }

// Execute implements module.Adapter.
func (a *Adapter) Execute(ctx context.Context, action string, p module.Params) (ir.IRObject, error) {
	return a.actions.Dispatch(ctx, module.MQ, action, p)
}

// Close releases the codec resources.
func (a *Adapter) Close() error {
	a.dec.Close()
	return a.enc.Close()
}

// Stats implements module.StatsProvider.
func (a *Adapter) Stats(ctx context.Context) (ir.IRObject, error) {
	var topics, messages, stored, raw int64
	err := a.store.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM mq_topics),
			COUNT(*),
			COALESCE(SUM(LENGTH(payload)), 0),
			COALESCE(SUM(size), 0)
		FROM mq_messages
	`).Scan(&topics, &messages, &stored, &raw)
	if err != nil {
		return nil, ioErr("stats", err)
	}
	return ir.IRObject{
		"topics":        ir.IRInt(topics),
		"messages":      ir.IRInt(messages),
		"payload_bytes": ir.IRInt(raw),
		"stored_bytes":  ir.IRInt(stored),
	}, nil
}

func ioErr(op string, err error) error {
	return ir.Wrap(ir.KindIOError, module.MQ, fmt.Errorf("mq %s: %w", op, err))
}

func invalid(format string, args ...any) error {
	return ir.ModuleErrorf(ir.KindValidationError, module.MQ, format, args...)
}

func topicParam(p module.Params) (string, error) {
	topic, err := p.String("topic")
	if err != nil {
		return "", err
	}
	if topic == "" {
		return "", invalid("topic must not be empty")
	}
	return topic, nil
}

func (a *Adapter) encode(payload []byte) ([]byte, int) {
	if a.cfg.CompressThreshold > 0 && len(payload) > a.cfg.CompressThreshold {
		return a.enc.EncodeAll(payload, make([]byte, 0, len(payload)/2)), codecZstd
	}
	return payload, codecRaw
}

func (a *Adapter) decode(stored []byte, codec int) ([]byte, error) {
	switch codec {
	case codecRaw:
		return stored, nil
	case codecZstd:
		return a.dec.DecodeAll(stored, nil)
	default:
		return nil, fmt.Errorf("unknown payload codec %d", codec)
	}
}

func (a *Adapter) produce(ctx context.Context, p module.Params) (ir.IRObject, error) {
	topic, err := topicParam(p)
	if err != nil {
		return nil, err
	}
	payload, err := p.Bytes("payload")
	if err != nil {
		return nil, err
	}

	unlock := a.locks.LockString(topic)
	defer unlock()

	now := a.clock.Now().UnixMilli()
	stored, codec := a.encode(payload)

	var offset int64
	err = a.store.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO mq_topics (name, next_seq, created_at) VALUES (?, 0, ?) ON CONFLICT(name) DO NOTHING`,
			topic, now,
		); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, `SELECT next_seq FROM mq_topics WHERE name = ?`, topic).Scan(&offset); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO mq_messages (topic, seq, payload, codec, size, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			topic, offset, nonNil(stored), codec, len(payload), now,
		); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE mq_topics SET next_seq = next_seq + 1 WHERE name = ?`, topic)
		return err
	})
	if err != nil {
		return nil, ioErr("produce", err)
	}
	return ir.IRObject{"topic": ir.IRString(topic), "offset": ir.IRInt(offset)}, nil
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

func (a *Adapter) consume(ctx context.Context, p module.Params) (ir.IRObject, error) {
	topic, err := topicParam(p)
	if err != nil {
		return nil, err
	}
	key := "offset"
	if !p.Has(key) && p.Has("from_offset") {
		key = "from_offset"
	}
	from, err := p.OptInt(key, 0)
	if err != nil {
		return nil, err
	}
	if from < 0 {
		return nil, invalid("offset must be >= 0, got %d", from)
	}
	limit, err := p.OptInt("limit", 0)
	if err != nil {
		return nil, err
	}
	if limit < 0 {
		return nil, invalid("limit must be >= 0, got %d", limit)
	}

	unlock := a.locks.RLockString(topic)
	defer unlock()

	q := `SELECT seq, payload, codec, created_at FROM mq_messages WHERE topic = ? AND seq >= ? ORDER BY seq`
	args := []any{topic, from}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := a.store.Query(ctx, q, args...)
	if err != nil {
		return nil, ioErr("consume", err)
	}
	defer rows.Close()

	messages := ir.IRArray{}
	next := from
	for rows.Next() {
		var seq, createdAt int64
		var stored []byte
		var codec int
		if err := rows.Scan(&seq, &stored, &codec, &createdAt); err != nil {
			return nil, ioErr("consume", err)
		}
		payload, err := a.decode(stored, codec)
		if err != nil {
			return nil, ir.Wrap(ir.KindCorruptState, module.MQ, fmt.Errorf("mq consume offset %d: %w", seq, err))
		}
		msg := ir.IRObject{
			"offset":    ir.IRInt(seq),
			"timestamp": ir.IRInt(createdAt),
		}
		module.PutBytes(msg, map[string][]byte{"payload": payload})
		messages = append(messages, msg)
		next = seq + 1
	}
	if err := rows.Err(); err != nil {
		return nil, ioErr("consume", err)
	}

	return ir.IRObject{
		"topic":       ir.IRString(topic),
		"messages":    messages,
		"next_offset": ir.IRInt(next),
	}, nil
}

func (a *Adapter) topics(ctx context.Context, _ module.Params) (ir.IRObject, error) {
	rows, err := a.store.Query(ctx, `SELECT name, next_seq FROM mq_topics ORDER BY name`)
	if err != nil {
		return nil, ioErr("topics", err)
	}
	defer rows.Close()

	topics := ir.IRArray{}
	for rows.Next() {
		var name string
		var length int64
		if err := rows.Scan(&name, &length); err != nil {
			return nil, ioErr("topics", err)
		}
		topics = append(topics, ir.IRObject{"name": ir.IRString(name), "len": ir.IRInt(length)})
	}
	if err := rows.Err(); err != nil {
		return nil, ioErr("topics", err)
	}
	return ir.IRObject{"topics": topics}, nil
}

func (a *Adapter) length(ctx context.Context, p module.Params) (ir.IRObject, error) {
	topic, err := topicParam(p)
	if err != nil {
		return nil, err
	}

	var n int64
	err = a.store.QueryRow(ctx, `SELECT next_seq FROM mq_topics WHERE name = ?`, topic).Scan(&n)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, ioErr("len", err)
	}
	return ir.IRObject{"topic": ir.IRString(topic), "len": ir.IRInt(n)}, nil
}
