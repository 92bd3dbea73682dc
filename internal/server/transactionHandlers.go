package server

import (
	"net/http"
	"time"

	"github.com/pkg/errors"
	"pipestock/internal/coordinator"
	"pipestock/internal/inventory"
	"pipestock/internal/model"
)

const dateLayout = "2006-01-02"

// transactionsGet lists transactions newest first, optionally of one type and on one UTC day.
func (s Server) transactionsGet() http.HandlerFunc {
	type response struct {
		listView[transactionView]
		Summary model.TransactionSummary `json:"summary"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		txType := model.TransactionType(q.Get("type"))
		if txType != "" && !txType.Valid() {
			s.writeError(w, r, "transactionsGet", errors.Wrapf(inventory.ErrInvalidInput, "unknown transaction type: %s", txType))
			return
		}
		var day time.Time
		if d := q.Get("date"); d != "" {
			var err error
			if day, err = time.Parse(dateLayout, d); err != nil {
				s.writeError(w, r, "transactionsGet", errors.Wrapf(inventory.ErrInvalidInput, "date must be YYYY-MM-DD, got: %s", d))
				return
			}
		}

		res := s.Inventory.Transactions(r.Context())
		records, isPlaceholder := s.transactionRecords(res, 0)
		filtered := model.FilterTransactions(records, txType, day, time.UTC)

		resp := response{
			listView: newListView(res, filtered, isPlaceholder, transactionViewOf(isPlaceholder)),
			Summary:  model.Summarize(filtered),
		}
		code := http.StatusOK
		if res.State == coordinator.Failed {
			s.Logger.Errorf("transactionsGet: Error reading transactions, err: %v, TraceID: %s",
				res.Err, getTraceContext(r.Context()).traceID)
			code = http.StatusServiceUnavailable
		}
		s.writeJsonResponse(w, resp, code)
	}
}
