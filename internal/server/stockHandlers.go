package server

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
	"pipestock/internal/coordinator"
	"pipestock/internal/inventory"
	"pipestock/internal/model"
)

type mutationResponse struct {
	Item            stockItemView      `json:"item"`
	Transaction     *model.Transaction `json:"transaction"`
	Backend         string             `json:"backend"`
	LedgerError     string             `json:"ledger_error,omitempty"`
	EnteredLowStock bool               `json:"entered_low_stock"`
}

func (s Server) writeMutation(w http.ResponseWriter, r *http.Request, funcName string, res inventory.MutationResult, statusCode int) {
	tid := getTraceContext(r.Context()).traceID
	resp := mutationResponse{
		Item:            s.itemView(false)(res.Item),
		Transaction:     res.Transaction,
		Backend:         res.Backend,
		EnteredLowStock: res.EnteredLowStock,
	}
	if res.LedgerErr != nil {
		s.Logger.Warnf("%s: Stock of %s saved but its transaction was not, err: %v, TraceID: %s",
			funcName, res.Item.ID, res.LedgerErr, tid)
		resp.LedgerError = res.LedgerErr.Error()
	}
	if res.EnteredLowStock {
		go s.notifyLowStock(context.WithoutCancel(r.Context()), res.Item)
	}
	s.writeJsonResponse(w, resp, statusCode)
}

func (s Server) stockAdd() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		in := model.StockInput{}
		if !s.decodeRequest(w, r, "stockAdd", &in) {
			return
		}
		res, err := s.Inventory.AddStock(r.Context(), getActor(r.Context()), in)
		if err != nil {
			s.writeError(w, r, "stockAdd", err)
			return
		}
		s.writeMutation(w, r, "stockAdd", res, http.StatusCreated)
	}
}

func (s Server) stockEdit() http.HandlerFunc {
	type request struct {
		ID string `json:"id"`
		model.StockInput
	}
	return func(w http.ResponseWriter, r *http.Request) {
		req := request{}
		if !s.decodeRequest(w, r, "stockEdit", &req) {
			return
		}
		if req.ID == "" {
			s.writeError(w, r, "stockEdit", errors.Wrap(inventory.ErrInvalidInput, "id is required"))
			return
		}
		res, err := s.Inventory.EditStock(r.Context(), getActor(r.Context()), req.ID, req.StockInput)
		if err != nil {
			s.writeError(w, r, "stockEdit", err)
			return
		}
		s.writeMutation(w, r, "stockEdit", res, http.StatusOK)
	}
}

func (s Server) stockQuantity() http.HandlerFunc {
	type request struct {
		ID       string `json:"id"`
		Quantity *int   `json:"quantity"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		req := request{}
		if !s.decodeRequest(w, r, "stockQuantity", &req) {
			return
		}
		if req.ID == "" || req.Quantity == nil {
			s.writeError(w, r, "stockQuantity", errors.Wrap(inventory.ErrInvalidInput, "id and quantity are required"))
			return
		}
		res, err := s.Inventory.SetQuantity(r.Context(), getActor(r.Context()), req.ID, *req.Quantity)
		if err != nil {
			s.writeError(w, r, "stockQuantity", err)
			return
		}
		s.writeMutation(w, r, "stockQuantity", res, http.StatusOK)
	}
}

func (s Server) stockRemove() http.HandlerFunc {
	type request struct {
		ID string `json:"id"`
	}
	type response struct {
		ID      string `json:"id"`
		Backend string `json:"backend"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		req := request{}
		if !s.decodeRequest(w, r, "stockRemove", &req) {
			return
		}
		if req.ID == "" {
			s.writeError(w, r, "stockRemove", errors.Wrap(inventory.ErrInvalidInput, "id is required"))
			return
		}
		backend, err := s.Inventory.DeleteStock(r.Context(), getActor(r.Context()), req.ID)
		if err != nil {
			s.writeError(w, r, "stockRemove", err)
			return
		}
		s.writeJsonResponse(w, response{ID: req.ID, Backend: backend}, http.StatusOK)
	}
}

// stockGet serves the cached inventory. Stats and types cover every item, the item list only
// those matching search and type.
func (s Server) stockGet() http.HandlerFunc {
	type response struct {
		listView[stockItemView]
		Types []string            `json:"types"`
		Stats model.InventoryStats `json:"stats"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		inv := s.Inventory.Inventory()
		all, isPlaceholder := s.stockRecords(inv)
		filtered := model.FilterStock(all, q.Get("search"), q.Get("type"))

		resp := response{
			listView: newListView(inv, filtered, isPlaceholder, s.itemView(isPlaceholder)),
			Types:    model.UniqueTypes(all),
			Stats:    s.Inventory.Policy.Stats(all),
		}
		code := http.StatusOK
		if inv.State == coordinator.Failed {
			code = http.StatusServiceUnavailable
		}
		s.writeJsonResponse(w, resp, code)
	}
}

func (s Server) stockStats() http.HandlerFunc {
	type response struct {
		Stats              model.InventoryStats      `json:"stats"`
		LowStock           []stockItemView           `json:"low_stock"`
		Placeholder        bool                      `json:"placeholder"`
		RecentTransactions listView[transactionView] `json:"recent_transactions"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		dash := s.Inventory.Dashboard(r.Context())
		resp := response{
			Stats:              dash.Stats,
			LowStock:           make([]stockItemView, 0, len(dash.LowStock)),
			RecentTransactions: s.transactionListView(dash.RecentTransactions, s.Inventory.RecentLimit),
		}
		lowStock := dash.LowStock
		inv := s.Inventory.Inventory()
		if items, isPlaceholder := s.stockRecords(inv); isPlaceholder {
			resp.Stats = s.Inventory.Policy.Stats(items)
			lowStock = s.Inventory.Policy.LowStockItems(items)
			resp.Placeholder = true
		}
		for _, i := range lowStock {
			resp.LowStock = append(resp.LowStock, s.itemView(resp.Placeholder)(i))
		}
		code := http.StatusOK
		if inv.State == coordinator.Failed {
			code = http.StatusServiceUnavailable
		}
		s.writeJsonResponse(w, resp, code)
	}
}
