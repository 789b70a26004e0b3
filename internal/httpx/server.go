package httpx

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/ariefcatur/go-produce-market/internal/checkout"
	"github.com/ariefcatur/go-produce-market/internal/deals"
	"github.com/ariefcatur/go-produce-market/internal/ledger"
	"github.com/ariefcatur/go-produce-market/internal/market"
	"github.com/ariefcatur/go-produce-market/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

func NewRouter(log *zap.Logger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, RequestLogger(log), middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// Handler exposes the engine over REST.
type Handler struct {
	Deals    *deals.Manager
	Checkout *checkout.Service
	Orders   *orders.Materializer
	Ledger   *ledger.Ledger
	Links    market.LinkResolver
	Idem     ResponseStore
	Log      *zap.Logger
}

func (h *Handler) Register(r chi.Router) {
	// the token is the credential here. GET only previews, so mail scanners
	// that prefetch links change nothing; POST performs the action.
	r.Get("/links/{token}", h.previewLink)
	r.Post("/links/{token}", h.followLink)

	r.Group(func(r chi.Router) {
		r.Use(Actor, Idempotency(h.Idem, h.Log))

		r.Post("/deals", h.proposeDeal)
		r.Get("/deals", h.listDeals)
		r.Get("/deals/{id}", h.getDeal)
		r.Put("/deals/{id}/respond", h.respondDeal)
		r.Put("/deals/{id}/cancel", h.cancelDeal)
		r.Put("/deals/{id}/purchase", h.purchaseDeal)

		r.Post("/orders", h.createOrder)
		r.Get("/orders", h.listOrders)
		r.Get("/orders/{id}", h.getOrder)
		r.Put("/orders/{id}/cancel", h.cancelOrder)

		r.Get("/transactions", h.transactions)

		r.Get("/subscriptions/plans", h.plans)
		r.Post("/subscriptions", h.subscribe)
		r.Get("/subscriptions/me", h.currentSubscription)
		r.Get("/subscriptions/me/history", h.history)
		r.Post("/subscriptions/unlock/listings/{listingId}", h.unlockForListing)
		r.Post("/subscriptions/unlock/sellers/{sellerId}", h.unlockContact)
	})
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func statusOf(kind market.Kind) int {
	switch kind {
	case market.KindNotFound:
		return http.StatusNotFound
	case market.KindUnauthorized:
		return http.StatusForbidden
	case market.KindInvalidStateTransition, market.KindConflict,
		market.KindInsufficientStock, market.KindInsufficientPoints:
		return http.StatusConflict
	case market.KindExpired:
		return http.StatusGone
	case market.KindNoActiveEntitlement:
		return http.StatusPaymentRequired
	case market.KindSelfDealNotAllowed, market.KindInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := market.KindOf(err)
	code := statusOf(kind)
	if code == http.StatusInternalServerError {
		h.Log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		writeJSON(w, code, errorBody{Error: "internal error", Code: kind.String()})
		return
	}
	writeJSON(w, code, errorBody{Error: err.Error(), Code: kind.String()})
}

// decode reads a JSON body, rejecting unknown fields and trailing data.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return market.Errorf(market.KindInvalidArgument, "invalid json: %v", err)
	}
	if dec.More() {
		return market.Errorf(market.KindInvalidArgument, "invalid json: trailing data")
	}
	return nil
}

type linkPreview struct {
	Kind market.ActionKind `json:"kind"`
	Deal market.Deal       `json:"deal"`
}

func (h *Handler) resolveLink(w http.ResponseWriter, r *http.Request) (market.Action, bool) {
	if h.Links == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "action links disabled", Code: market.KindNotFound.String()})
		return market.Action{}, false
	}
	a, err := h.Links.Resolve(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.writeError(w, r, err)
		return market.Action{}, false
	}
	return a, true
}

// previewLink shows what following the link would do, for a confirm page.
func (h *Handler) previewLink(w http.ResponseWriter, r *http.Request) {
	a, ok := h.resolveLink(w, r)
	if !ok {
		return
	}
	d, err := h.Deals.Get(r.Context(), a.DealID, a.ActorID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, linkPreview{Kind: a.Kind, Deal: d})
}

func (h *Handler) followLink(w http.ResponseWriter, r *http.Request) {
	a, ok := h.resolveLink(w, r)
	if !ok {
		return
	}
	d, o, err := h.Deals.Act(r.Context(), a)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if o != nil {
		writeJSON(w, http.StatusOK, purchaseResp{Deal: d, Order: *o})
		return
	}
	writeJSON(w, http.StatusOK, d)
}
