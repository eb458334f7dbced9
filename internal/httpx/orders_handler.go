package httpx

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/campusmarket/order-service/internal/catalog"
	"github.com/campusmarket/order-service/internal/orders"
)

// OrdersHandler exposes the order workflow and the read-only product catalog.
// The caller is identified by the X-User-Id header set by the edge gateway
// after authentication.
type OrdersHandler struct {
	Flow    *orders.Workflow
	Catalog catalog.Store
}

func (h *OrdersHandler) Mount(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Get("/", h.listOrders)
		r.Post("/create-reservation", h.createReservation)
		r.Post("/create-order", h.createOrder)
		r.Get("/{id}", h.getOrder)
		r.Patch("/{id}/cancel", h.cancelOrder)
		r.Patch("/{id}/status", h.updateStatus)
	})
	r.Route("/products", func(r chi.Router) {
		r.Get("/", h.listProducts)
		r.Get("/{id}", h.getProduct)
	})
}

type placeOrderBody struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Notes     string `json:"notes"`
}

func (h *OrdersHandler) createReservation(w http.ResponseWriter, r *http.Request) {
	h.place(w, r, orders.TypeReservation)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	h.place(w, r, orders.TypeOrder)
}

func (h *OrdersHandler) place(w http.ResponseWriter, r *http.Request, t orders.Type) {
	var body placeOrderBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	order, err := h.Flow.PlaceOrder(r.Context(), orders.PlaceOrderRequest{
		ProductID: body.ProductID,
		Quantity:  body.Quantity,
		Notes:     body.Notes,
		ActorID:   r.Header.Get("X-User-Id"),
		Type:      t,
	})
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	f := orders.Filter{
		UserID: r.URL.Query().Get("user_id"),
		Status: orders.Status(r.URL.Query().Get("status")),
		Type:   orders.Type(r.URL.Query().Get("type")),
	}
	if f.Status != "" && !f.Status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status filter")
		return
	}
	if f.Type != "" && !f.Type.Valid() {
		writeError(w, http.StatusBadRequest, "unknown type filter")
		return
	}
	list, err := h.Flow.ListOrders(r.Context(), f)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.Flow.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.Flow.CancelOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

type updateStatusBody struct {
	Status orders.Status `json:"status"`
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var body updateStatusBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	order, err := h.Flow.UpdateStatus(r.Context(), chi.URLParam(r, "id"), body.Status)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	list, err := h.Catalog.ListProducts(r.Context())
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.Catalog.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "product not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func writeWorkflowError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orders.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, orders.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, orders.ErrValidation),
		errors.Is(err, orders.ErrInsufficientStock),
		errors.Is(err, orders.ErrInvalidTransition),
		errors.Is(err, orders.ErrNoActor):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("httpx: unhandled error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("httpx: write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
