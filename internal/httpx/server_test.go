package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-produce-market/internal/checkout"
	"github.com/ariefcatur/go-produce-market/internal/deals"
	"github.com/ariefcatur/go-produce-market/internal/inventory"
	"github.com/ariefcatur/go-produce-market/internal/ledger"
	"github.com/ariefcatur/go-produce-market/internal/market"
	"github.com/ariefcatur/go-produce-market/internal/memstore"
	"github.com/ariefcatur/go-produce-market/internal/orders"
	"github.com/ariefcatur/go-produce-market/internal/redisx"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	buyer  = "buyer-1"
	seller = "seller-1"
)

type testAPI struct {
	srv     *httptest.Server
	ms      *memstore.Store
	mr      *miniredis.Miniredis
	listing market.Listing

	mu     sync.Mutex
	events []market.Event
}

func newAPI(t *testing.T) *testAPI {
	t.Helper()
	a := &testAPI{ms: memstore.New(), mr: miniredis.RunT(t)}
	rdb := redis.NewClient(&redis.Options{Addr: a.mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	log := zap.NewNop()
	n := market.NotifierFunc(func(_ context.Context, ev market.Event) {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.events = append(a.events, ev)
	})
	links := redisx.NewLinkStore(rdb)
	inv := inventory.New(a.ms, log)
	led := ledger.New(a.ms, n, log)
	mat := orders.New(a.ms, inv, led, n, log)
	mgr := &deals.Manager{
		Deals: a.ms, Listings: a.ms, Inventory: inv, Ledger: led, Orders: mat,
		Links: links, Notifier: n, Log: log, BaseURL: "http://market.test",
	}
	h := &Handler{
		Deals: mgr,
		Checkout: &checkout.Service{
			Listings: a.ms, Directory: a.ms, Inventory: inv, Ledger: led, Orders: mat, Deals: mgr, Log: log,
		},
		Orders: mat,
		Ledger: led,
		Links:  links,
		Idem:   redisx.NewResponseCache(rdb),
		Log:    log,
	}
	r := NewRouter(log)
	h.Register(r)
	a.srv = httptest.NewServer(r)
	t.Cleanup(a.srv.Close)

	a.listing = a.ms.PutListing(market.Listing{
		SellerID: seller, Title: "Onions", Unit: "kg",
		UnitPrice: decimal.NewFromInt(30), AvailableQuantity: 50, Active: true,
	})
	a.ms.PutContact(market.Contact{SellerID: seller, Name: "Asha", Email: "asha@farm.test"})
	return a
}

func (a *testAPI) do(t *testing.T, method, path, actor string, body any, headers ...string) (*http.Response, []byte) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, rd)
	require.NoError(t, err)
	if actor != "" {
		req.Header.Set(HeaderActorID, actor)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	res, err := a.srv.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(res.Body)
	require.NoError(t, err)
	return res, buf.Bytes()
}

func decodeAs[T any](t *testing.T, b []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(b, &v))
	return v
}

func (a *testAPI) propose(t *testing.T) market.Deal {
	t.Helper()
	res, body := a.do(t, http.MethodPost, "/deals", buyer, ProposeDealReq{
		ListingID: a.listing.ID, Quantity: 5, ProposedPrice: decimal.NewFromInt(25), Message: "weekly",
	})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	return decodeAs[market.Deal](t, body)
}

func TestHealthz(t *testing.T) {
	a := newAPI(t)
	res, body := a.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestMissingActor(t *testing.T) {
	a := newAPI(t)
	res, _ := a.do(t, http.MethodGet, "/deals", "", nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestDealFlowOverHTTP(t *testing.T) {
	a := newAPI(t)
	d := a.propose(t)
	assert.Equal(t, market.DealPending, d.Status)

	// buyer cannot accept their own proposal
	res, body := a.do(t, http.MethodPut, "/deals/"+d.ID+"/respond", buyer, RespondDealReq{Decision: deals.Accept})
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", decodeAs[errorBody](t, body).Code)

	res, body = a.do(t, http.MethodPut, "/deals/"+d.ID+"/respond", seller, RespondDealReq{Decision: deals.Accept})
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	assert.Equal(t, market.DealAccepted, decodeAs[market.Deal](t, body).Status)

	res, body = a.do(t, http.MethodPut, "/deals/"+d.ID+"/purchase", buyer, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	first := decodeAs[purchaseResp](t, body)
	assert.Equal(t, market.DealPurchased, first.Deal.Status)
	assert.Equal(t, market.OrderPurchased, first.Order.Status)
	assert.True(t, decimal.NewFromInt(125).Equal(first.Order.TotalPrice))

	res, body = a.do(t, http.MethodPut, "/deals/"+d.ID+"/purchase", buyer, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, first.Order.ID, decodeAs[purchaseResp](t, body).Order.ID)

	res, body = a.do(t, http.MethodPut, "/deals/"+d.ID+"/cancel", buyer, nil)
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, "INVALID_STATE_TRANSITION", decodeAs[errorBody](t, body).Code)

	l, err := a.ms.GetListing(context.Background(), a.listing.ID)
	require.NoError(t, err)
	assert.Equal(t, 45, l.AvailableQuantity)
}

func TestProposeErrors(t *testing.T) {
	a := newAPI(t)

	res, body := a.do(t, http.MethodPost, "/deals", seller, ProposeDealReq{
		ListingID: a.listing.ID, Quantity: 1, ProposedPrice: decimal.NewFromInt(10),
	})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "SELF_DEAL_NOT_ALLOWED", decodeAs[errorBody](t, body).Code)

	res, _ = a.do(t, http.MethodPost, "/deals", buyer, ProposeDealReq{
		ListingID: a.listing.ID, Quantity: 500, ProposedPrice: decimal.NewFromInt(10),
	})
	assert.Equal(t, http.StatusConflict, res.StatusCode)

	res, _ = a.do(t, http.MethodPost, "/deals", buyer, ProposeDealReq{
		ListingID: "missing", Quantity: 1, ProposedPrice: decimal.NewFromInt(10),
	})
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res, _ = a.do(t, http.MethodPost, "/deals", buyer, map[string]any{"listing_id": a.listing.ID, "bogus": 1})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestExpiredDealIsGone(t *testing.T) {
	a := newAPI(t)
	d := a.propose(t)
	stored, err := a.ms.GetDeal(context.Background(), d.ID)
	require.NoError(t, err)
	stored.ExpiresAt = time.Now().Add(-time.Minute)
	_, err = a.ms.UpdateDeal(context.Background(), stored)
	require.NoError(t, err)

	res, body := a.do(t, http.MethodPut, "/deals/"+d.ID+"/respond", seller, RespondDealReq{Decision: deals.Accept})
	assert.Equal(t, http.StatusGone, res.StatusCode)
	assert.Equal(t, "EXPIRED", decodeAs[errorBody](t, body).Code)

	res, body = a.do(t, http.MethodGet, "/deals/"+d.ID, buyer, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, market.DealExpired, decodeAs[market.Deal](t, body).Status)
}

func TestListDealsByRole(t *testing.T) {
	a := newAPI(t)
	a.propose(t)

	res, body := a.do(t, http.MethodGet, "/deals?role=seller", seller, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Len(t, decodeAs[[]market.Deal](t, body), 1)

	res, body = a.do(t, http.MethodGet, "/deals", seller, nil, HeaderActorRole, "buyer")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Empty(t, decodeAs[[]market.Deal](t, body))

	res, _ = a.do(t, http.MethodGet, "/deals?status=bogus", buyer, nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestActionLinkAcceptsDeal(t *testing.T) {
	a := newAPI(t)
	d := a.propose(t)

	a.mu.Lock()
	require.NotEmpty(t, a.events)
	p, ok := a.events[0].Payload.(market.DealPayload)
	a.mu.Unlock()
	require.True(t, ok)
	link := p.Links[string(market.ActionAccept)]
	require.True(t, strings.HasPrefix(link, "http://market.test/links/"), link)

	path := strings.TrimPrefix(link, "http://market.test")

	// a prefetching mail scanner only ever GETs
	for i := 0; i < 2; i++ {
		res, body := a.do(t, http.MethodGet, path, "", nil)
		require.Equal(t, http.StatusOK, res.StatusCode, string(body))
		preview := decodeAs[linkPreview](t, body)
		assert.Equal(t, market.ActionAccept, preview.Kind)
		assert.Equal(t, d.ID, preview.Deal.ID)
		assert.Equal(t, market.DealPending, preview.Deal.Status)
	}

	res, body := a.do(t, http.MethodPost, path, "", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	got := decodeAs[market.Deal](t, body)
	assert.Equal(t, d.ID, got.ID)
	assert.Equal(t, market.DealAccepted, got.Status)

	res, _ = a.do(t, http.MethodGet, "/links/not-a-token", "", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	res, _ = a.do(t, http.MethodPost, "/links/not-a-token", "", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestDirectOrderAndCancel(t *testing.T) {
	a := newAPI(t)
	res, body := a.do(t, http.MethodPost, "/orders", buyer, CreateOrderReq{ListingID: a.listing.ID, Quantity: 3})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	o := decodeAs[market.Order](t, body)
	assert.Equal(t, market.SourceDirect, o.Source)

	res, body = a.do(t, http.MethodGet, "/orders", seller, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Len(t, decodeAs[[]market.Order](t, body), 1)

	res, _ = a.do(t, http.MethodGet, "/orders/"+o.ID, "stranger", nil)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	res, body = a.do(t, http.MethodPut, "/orders/"+o.ID+"/cancel", buyer, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	assert.Equal(t, market.OrderCancelled, decodeAs[market.Order](t, body).Status)

	l, err := a.ms.GetListing(context.Background(), a.listing.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, l.AvailableQuantity)

	res, body = a.do(t, http.MethodGet, "/transactions", buyer, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	txs := decodeAs[[]market.Transaction](t, body)
	require.Len(t, txs, 1)
	assert.Equal(t, market.KindOrder, txs[0].Kind)
}

func TestSubscriptionAndUnlock(t *testing.T) {
	a := newAPI(t)

	res, body := a.do(t, http.MethodGet, "/subscriptions/plans", buyer, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Len(t, decodeAs[[]ledger.Plan](t, body), 3)

	res, body = a.do(t, http.MethodGet, "/subscriptions/me", buyer, nil)
	assert.Equal(t, http.StatusPaymentRequired, res.StatusCode)
	assert.Equal(t, "NO_ACTIVE_ENTITLEMENT", decodeAs[errorBody](t, body).Code)

	res, _ = a.do(t, http.MethodPost, "/subscriptions/unlock/sellers/"+seller, buyer, nil)
	assert.Equal(t, http.StatusPaymentRequired, res.StatusCode)

	res, body = a.do(t, http.MethodPost, "/subscriptions", buyer, SubscribeReq{Plan: "basic"})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	assert.Equal(t, 10, decodeAs[market.Subscription](t, body).PointsRemaining)

	res, body = a.do(t, http.MethodPost, "/subscriptions/unlock/sellers/"+seller, buyer, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	cu := decodeAs[checkout.ContactUnlock](t, body)
	assert.Equal(t, "asha@farm.test", cu.Seller.Email)
	assert.Equal(t, 9, cu.PointsRemaining)

	// a second unlock of the same seller is free
	res, body = a.do(t, http.MethodPost, "/subscriptions/unlock/listings/"+a.listing.ID, buyer, UnlockListingReq{Quantity: 2})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	up := decodeAs[checkout.UnlockPurchase](t, body)
	assert.True(t, up.AlreadyUnlocked)
	assert.Equal(t, 9, up.PointsRemaining)
	assert.Equal(t, market.SourceUnlock, up.Order.Source)

	res, body = a.do(t, http.MethodGet, "/subscriptions/me/history", buyer, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	entries := decodeAs[[]market.LedgerEntry](t, body)
	require.Len(t, entries, 2)
	assert.Equal(t, market.ReasonUnlock, entries[0].Reason)

	res, _ = a.do(t, http.MethodPost, "/subscriptions/unlock/listings/"+a.listing.ID, buyer, UnlockListingReq{})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestIdempotencyKeyReplaysResponse(t *testing.T) {
	a := newAPI(t)
	req := CreateOrderReq{ListingID: a.listing.ID, Quantity: 2}

	res, body := a.do(t, http.MethodPost, "/orders", buyer, req, HeaderIdempotencyKey, "k-1")
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	first := decodeAs[market.Order](t, body)

	res, body = a.do(t, http.MethodPost, "/orders", buyer, req, HeaderIdempotencyKey, "k-1")
	require.Equal(t, http.StatusCreated, res.StatusCode)
	assert.Equal(t, "true", res.Header.Get(HeaderReplayed))
	assert.Equal(t, first.ID, decodeAs[market.Order](t, body).ID)

	l, err := a.ms.GetListing(context.Background(), a.listing.ID)
	require.NoError(t, err)
	assert.Equal(t, 48, l.AvailableQuantity, "replay must not reserve again")

	// keys are scoped per actor
	res, _ = a.do(t, http.MethodPost, "/orders", "buyer-2", req, HeaderIdempotencyKey, "k-1")
	require.Equal(t, http.StatusCreated, res.StatusCode)
	assert.Empty(t, res.Header.Get(HeaderReplayed))
}

func TestIdempotencyDoesNotStoreFailures(t *testing.T) {
	a := newAPI(t)
	req := CreateOrderReq{ListingID: a.listing.ID, Quantity: 80}

	res, _ := a.do(t, http.MethodPost, "/orders", buyer, req, HeaderIdempotencyKey, "k-2")
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Empty(t, a.mr.Keys())
}

func TestStatusOf(t *testing.T) {
	cases := map[market.Kind]int{
		market.KindNotFound:               http.StatusNotFound,
		market.KindUnauthorized:           http.StatusForbidden,
		market.KindInvalidStateTransition: http.StatusConflict,
		market.KindConflict:               http.StatusConflict,
		market.KindExpired:                http.StatusGone,
		market.KindInsufficientStock:      http.StatusConflict,
		market.KindInsufficientPoints:     http.StatusConflict,
		market.KindNoActiveEntitlement:    http.StatusPaymentRequired,
		market.KindSelfDealNotAllowed:     http.StatusBadRequest,
		market.KindInvalidArgument:        http.StatusBadRequest,
		market.KindUnknown:                http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, statusOf(kind), kind.String())
	}
}
