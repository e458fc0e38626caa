package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/jetfinder/internal/engine"
	"github.com/DoyleJ11/jetfinder/internal/session"
	"github.com/DoyleJ11/jetfinder/internal/types"
)

var errUnknownType = errors.New("unknown type")

// Controller is the part of the finder a websocket client can drive.
type Controller interface {
	Session() *session.Session
	StartScanning(ctx context.Context)
	StopScanning()
	LoadGameConfig(ctx context.Context) (engine.GameConfig, error)
	SendWinnerName(ctx context.Context, name string) (string, error)
	ResetCookies(ctx context.Context) error
}

// Handler streams session snapshots to one UI client and runs its commands.
// originPatterns lists extra hosts allowed to connect besides the server's own.
func Handler(f Controller, originPatterns []string, logger *zap.Logger) http.HandlerFunc {
	logger = logger.Named("ws")
	return func(w http.ResponseWriter, r *http.Request) {
		sess := f.Session()

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			logger.Debug("accept failed", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan session.Snapshot, 8)
		clientID := uuid.NewString()
		log := logger.With(zap.String("client", clientID))

		select {
		case sess.Inbox() <- session.Join{ClientID: clientID, Outbox: out}:
		case <-sess.Done():
			conn.Close(websocket.StatusGoingAway, "session closed")
			return
		}
		defer func() {
			select {
			case sess.Inbox() <- session.Leave{ClientID: clientID}:
			case <-sess.Done():
			}
		}()
		log.Debug("observer joined")

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for {
				select {
				case <-writeCtx.Done():
					return
				case snap, ok := <-out:
					if !ok {
						// Left, dropped as slow, or the session shut down.
						conn.Close(websocket.StatusGoingAway, "observer dropped")
						return
					}
					if err := write(writeCtx, conn, types.NewStateMessage(snap)); err != nil {
						log.Debug("writing snapshot", zap.Error(err))
					}
				}
			}
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					log.Debug("read failed", zap.Error(err))
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				_ = write(r.Context(), conn, types.ServerMessage{Type: types.MsgError, Error: "bad json"})
				continue
			}

			reply, err := dispatch(r.Context(), f, cm)
			if err != nil {
				log.Info("client command failed", zap.String("type", cm.Type), zap.Error(err))
				em := types.NewErrorMessage(err)
				reply = &em
			}
			if reply != nil {
				_ = write(r.Context(), conn, *reply)
			}
		}
	}
}

// dispatch runs one client command. State changes reach the client through
// the snapshot stream; only registration has a reply of its own.
func dispatch(ctx context.Context, f Controller, cm types.ClientMessage) (*types.ServerMessage, error) {
	switch cm.Type {
	case types.MsgStartScan:
		f.StartScanning(context.WithoutCancel(ctx))
	case types.MsgStopScan:
		f.StopScanning()
	case types.MsgLoadConfig:
		if _, err := f.LoadGameConfig(ctx); err != nil {
			return nil, err
		}
	case types.MsgRegister:
		msg, err := f.SendWinnerName(ctx, cm.Name)
		if err != nil {
			return nil, err
		}
		return &types.ServerMessage{Type: types.MsgRegistered, Message: msg}, nil
	case types.MsgResetCookies:
		if err := f.ResetCookies(ctx); err != nil {
			return nil, err
		}
	default:
		return nil, errUnknownType
	}
	return nil, nil
}

func write(ctx context.Context, conn *websocket.Conn, msg types.ServerMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, payload)
}
