package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (s Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.loggingMw, s.metricsMw)

	r.Handle("/metrics", s.Metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", s.health()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.authMw)

	stockAPI := api.PathPrefix("/stock").Subrouter()
	stockAPI.Handle("/add", s.maxBytesMw(s.stockAdd())).Methods(http.MethodPost)
	stockAPI.Handle("/edit", s.maxBytesMw(s.stockEdit())).Methods(http.MethodPost)
	stockAPI.Handle("/quantity", s.maxBytesMw(s.stockQuantity())).Methods(http.MethodPost)
	stockAPI.Handle("/remove", s.maxBytesMw(s.stockRemove())).Methods(http.MethodPost)
	stockAPI.HandleFunc("/get", s.stockGet()).Methods(http.MethodGet)
	stockAPI.HandleFunc("/stats", s.stockStats()).Methods(http.MethodGet)
	stockAPI.HandleFunc("/live", s.stockLive()).Methods(http.MethodGet)
	stockAPI.PathPrefix("").Handler(s.notFoundHandler())

	txAPI := api.PathPrefix("/transactions").Subrouter()
	txAPI.HandleFunc("/get", s.transactionsGet()).Methods(http.MethodGet)
	txAPI.HandleFunc("/live", s.transactionsLive()).Methods(http.MethodGet)
	txAPI.PathPrefix("").Handler(s.notFoundHandler())

	r.NotFoundHandler = s.loggingMw(s.notFoundHandler())
	return r
}
