package httpx

import (
	"net/http"

	"github.com/ariefcatur/go-produce-market/internal/deals"
	"github.com/ariefcatur/go-produce-market/internal/market"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type ProposeDealReq struct {
	ListingID     string          `json:"listing_id"`
	Quantity      int             `json:"quantity"`
	ProposedPrice decimal.Decimal `json:"proposed_price"`
	Message       string          `json:"message"`
}

type RespondDealReq struct {
	Decision deals.Decision `json:"decision"`
}

type purchaseResp struct {
	Deal  market.Deal  `json:"deal"`
	Order market.Order `json:"order"`
}

func (h *Handler) proposeDeal(w http.ResponseWriter, r *http.Request) {
	var req ProposeDealReq
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.ListingID == "" {
		h.writeError(w, r, market.Errorf(market.KindInvalidArgument, "listing_id is required"))
		return
	}
	d, err := h.Deals.Propose(r.Context(), actorID(r), req.ListingID, req.Quantity, req.ProposedPrice, req.Message)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// listDeals takes ?role= first, then the identity layer's role header.
func (h *Handler) listDeals(w http.ResponseWriter, r *http.Request) {
	role := deals.Role(r.URL.Query().Get("role"))
	if role == "" {
		if hr := deals.Role(actorRole(r)); hr == deals.RoleBuyer || hr == deals.RoleSeller {
			role = hr
		}
	}
	out, err := h.Deals.List(r.Context(), actorID(r), role, market.DealStatus(r.URL.Query().Get("status")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getDeal(w http.ResponseWriter, r *http.Request) {
	d, err := h.Deals.Get(r.Context(), chi.URLParam(r, "id"), actorID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) respondDeal(w http.ResponseWriter, r *http.Request) {
	var req RespondDealReq
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	d, err := h.Deals.Respond(r.Context(), chi.URLParam(r, "id"), actorID(r), req.Decision)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) cancelDeal(w http.ResponseWriter, r *http.Request) {
	d, err := h.Deals.Cancel(r.Context(), chi.URLParam(r, "id"), actorID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) purchaseDeal(w http.ResponseWriter, r *http.Request) {
	d, o, err := h.Deals.Purchase(r.Context(), chi.URLParam(r, "id"), actorID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, purchaseResp{Deal: d, Order: o})
}
