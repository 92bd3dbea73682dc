package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"pipestock/internal/coordinator"
	"pipestock/internal/inventory"
	"pipestock/internal/model"
	"pipestock/internal/store"
)

const (
	feedStock        = "stock"
	feedTransactions = "transactions"
	liveWriteWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 4096}

// liveUpdate is one message for a live feed. The feed ends after a failed one.
type liveUpdate struct {
	view   any
	failed bool
}

func (s Server) stockLive() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.serveLive(w, r, feedStock, func(ctx context.Context, push func(liveUpdate)) store.Unsubscribe {
			return s.Inventory.WatchInventory(ctx, func(res coordinator.Result[model.StockItem]) {
				push(liveUpdate{view: s.stockListView(res), failed: res.State == coordinator.Failed})
			})
		})
	}
}

func (s Server) transactionsLive() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if l := r.URL.Query().Get("limit"); l != "" {
			var err error
			if limit, err = strconv.Atoi(l); err != nil || limit < 0 {
				s.writeError(w, r, "transactionsLive", errors.Wrapf(inventory.ErrInvalidInput, "limit must be a non-negative integer, got: %s", l))
				return
			}
		}
		s.serveLive(w, r, feedTransactions, func(ctx context.Context, push func(liveUpdate)) store.Unsubscribe {
			return s.Inventory.WatchTransactions(ctx, limit, func(res coordinator.Result[model.Transaction]) {
				push(liveUpdate{view: s.transactionListView(res, limit), failed: res.State == coordinator.Failed})
			})
		})
	}
}

// serveLive upgrades the request and writes every update from watch until the client goes away
// or the feed fails. Only the newest pending update is kept since each one is a full snapshot.
func (s Server) serveLive(w http.ResponseWriter, r *http.Request, feed string,
	watch func(ctx context.Context, push func(liveUpdate)) store.Unsubscribe) {
	tid := getTraceContext(r.Context()).traceID
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Debugf("serveLive: Error upgrading %s feed, err: %v, TraceID: %s", feed, err, tid)
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			s.Logger.Debugf("serveLive: Error closing %s feed, err: %v, TraceID: %s", feed, err, tid)
		}
	}()
	s.Metrics.LiveSubscriberAdded(feed)
	defer s.Metrics.LiveSubscriberRemoved(feed)

	updates := make(chan liveUpdate, 1)
	push := func(u liveUpdate) {
		for {
			select {
			case updates <- u:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	}
	unsubscribe := watch(r.Context(), push)
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.Logger.Debugf("serveLive: Client subscribed to %s feed, TraceID: %s", feed, tid)
	for {
		select {
		case <-closed:
			s.Logger.Debugf("serveLive: Client left %s feed, TraceID: %s", feed, tid)
			return
		case u := <-updates:
			if err := conn.SetWriteDeadline(time.Now().Add(liveWriteWait)); err != nil {
				s.Logger.Debugf("serveLive: Error setting write deadline on %s feed, err: %v, TraceID: %s", feed, err, tid)
				return
			}
			if err := conn.WriteJSON(u.view); err != nil {
				s.Logger.Debugf("serveLive: Error writing to %s feed, err: %v, TraceID: %s", feed, err, tid)
				return
			}
			if u.failed {
				s.Logger.Warnf("serveLive: Closing %s feed, both stores are unavailable, TraceID: %s", feed, tid)
				msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "stores unavailable")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(liveWriteWait))
				return
			}
		}
	}
}
