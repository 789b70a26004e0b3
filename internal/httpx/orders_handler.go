package httpx

import (
	"net/http"

	"github.com/ariefcatur/go-produce-market/internal/market"
	"github.com/go-chi/chi/v5"
)

type CreateOrderReq struct {
	ListingID string `json:"listing_id"`
	Quantity  int    `json:"quantity"`
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.ListingID == "" {
		h.writeError(w, r, market.Errorf(market.KindInvalidArgument, "listing_id is required"))
		return
	}
	o, err := h.Checkout.PurchaseListing(r.Context(), actorID(r), req.ListingID, req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	out, err := h.Orders.List(r.Context(), actorID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.Get(r.Context(), chi.URLParam(r, "id"), actorID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.Cancel(r.Context(), chi.URLParam(r, "id"), actorID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) transactions(w http.ResponseWriter, r *http.Request) {
	out, err := h.Checkout.Transactions(r.Context(), actorID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
