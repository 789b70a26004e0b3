package httpx

import (
	"net/http"

	"github.com/ariefcatur/go-produce-market/internal/ledger"
	"github.com/ariefcatur/go-produce-market/internal/market"
	"github.com/go-chi/chi/v5"
)

type SubscribeReq struct {
	Plan string `json:"plan"`
}

type UnlockListingReq struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) plans(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ledger.Plans())
}

func (h *Handler) subscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscribeReq
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	sub, err := h.Ledger.Subscribe(r.Context(), actorID(r), req.Plan)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (h *Handler) currentSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.Ledger.Current(r.Context(), actorID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	out, err := h.Ledger.History(r.Context(), actorID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) unlockForListing(w http.ResponseWriter, r *http.Request) {
	var req UnlockListingReq
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Quantity <= 0 {
		h.writeError(w, r, market.Errorf(market.KindInvalidArgument, "quantity must be positive"))
		return
	}
	res, err := h.Checkout.UnlockSellerForListing(r.Context(), actorID(r), chi.URLParam(r, "listingId"), req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) unlockContact(w http.ResponseWriter, r *http.Request) {
	res, err := h.Checkout.UnlockSellerContactOnly(r.Context(), actorID(r), chi.URLParam(r, "sellerId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
