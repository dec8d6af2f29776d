package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
)

// ChannelTimers carries timer transition events between control plane replicas.
const ChannelTimers = "ctrlsys_timers"

// maxNotifyPayload is the largest payload Postgres accepts for NOTIFY with the
// default block size.
const maxNotifyPayload = 7999

var (
	errNoNotifyConn = errors.New("storage: notify connection not configured")

	// ErrNotifyPayloadTooLarge is returned by Notify for payloads Postgres
	// would reject. Callers publish such events locally instead.
	ErrNotifyPayloadTooLarge = errors.New("storage: notify payload too large")
)

// Listen subscribes the notify connection to channel. The subscription
// survives reconnects.
func (db *DB) Listen(ctx context.Context, channel string) error {
	conn, err := db.liveNotifyConn(ctx)
	if err != nil {
		return err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return fmt.Errorf("storage: listen %s: %w", channel, err)
	}

	db.notifyMu.Lock()
	if !slices.Contains(db.listening, channel) {
		db.listening = append(db.listening, channel)
	}
	db.notifyMu.Unlock()
	return nil
}

// WaitForNotification blocks until a notification arrives on any listened
// channel. If the notify connection was lost it is redialled first;
// notifications sent while it was down are not replayed.
func (db *DB) WaitForNotification(ctx context.Context) (channel, payload string, err error) {
	conn, err := db.liveNotifyConn(ctx)
	if err != nil {
		return "", "", err
	}
	notification, err := conn.WaitForNotification(ctx)
	if err != nil {
		return "", "", fmt.Errorf("storage: wait for notification: %w", err)
	}
	return notification.Channel, notification.Payload, nil
}

// Notify sends a notification on channel through the pool.
func (db *DB) Notify(ctx context.Context, channel, payload string) error {
	if len(payload) > maxNotifyPayload {
		return fmt.Errorf("storage: notify %s: %d bytes: %w", channel, len(payload), ErrNotifyPayloadTooLarge)
	}
	if _, err := db.pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, payload); err != nil {
		return wrap("notify "+channel, err)
	}
	return nil
}

// liveNotifyConn returns the notify connection, reconnecting and re-issuing
// LISTEN for every known channel when the previous one was closed.
func (db *DB) liveNotifyConn(ctx context.Context) (*pgx.Conn, error) {
	db.notifyMu.Lock()
	defer db.notifyMu.Unlock()

	if db.notifyDSN == "" {
		return nil, errNoNotifyConn
	}
	if db.notifyConn != nil && !db.notifyConn.IsClosed() {
		return db.notifyConn, nil
	}

	conn, err := pgx.Connect(ctx, db.notifyDSN)
	if err != nil {
		db.notifyConn = nil
		return nil, wrap("reconnect notify", err)
	}
	for _, ch := range db.listening {
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
			_ = conn.Close(ctx)
			return nil, wrap("relisten "+ch, err)
		}
	}
	if db.notifyConn != nil {
		db.logger.Info("storage: notify connection re-established", "channels", len(db.listening))
	}
	db.notifyConn = conn
	return conn, nil
}
