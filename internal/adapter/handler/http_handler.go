package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/printhaus/editions/internal/core/domain"
	"github.com/printhaus/editions/internal/core/service"
)

// HTTPHandler exposes the sales core over HTTP. Request validation and
// payment capture live upstream; this layer only shapes requests and maps
// the core's error taxonomy onto status codes.
type HTTPHandler struct {
	purchases *service.PurchaseService
	publishes *service.PublishService
	healthy   func() bool
}

func NewHTTPHandler(purchases *service.PurchaseService, publishes *service.PublishService, healthy func() bool) *HTTPHandler {
	return &HTTPHandler{purchases: purchases, publishes: publishes, healthy: healthy}
}

// Routes mounts the API surface.
func (h *HTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", h.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/artifacts/{artifactID}/purchase", h.Purchase)
		r.Post("/artifacts/{artifactID}/publish", h.SetPublished)
		r.Get("/artifacts/{artifactID}/availability", h.GetAvailability)
		r.Get("/artifacts/{artifactID}/purchases", h.ListPurchases)
		r.Get("/artifacts/{artifactID}", h.GetArtifact)
		r.Get("/sellers/{sellerID}", h.GetSeller)
	})

	r.Route("/admin/cache", func(r chi.Router) {
		r.Post("/artifacts/{artifactID}", h.InvalidateArtifact)
		r.Post("/sellers/{sellerID}", h.InvalidateSeller)
	})

	return r
}

type PurchaseRequest struct {
	BuyerID    string `json:"buyer_id"`
	PaymentRef string `json:"payment_ref"`
}

type PurchaseResponse struct {
	PurchaseID      string `json:"purchase_id"`
	EditionNumber   int    `json:"edition_number"`
	RemainingSupply int    `json:"remaining_supply"`
	AmountPaid      string `json:"amount_paid"`
}

func (h *HTTPHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.BuyerID == "" || req.PaymentRef == "" {
		writeError(w, http.StatusBadRequest, "buyer_id and payment_ref are required")
		return
	}

	result, err := h.purchases.Purchase(r.Context(), chi.URLParam(r, "artifactID"), req.BuyerID, req.PaymentRef)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, PurchaseResponse{
		PurchaseID:      result.PurchaseID,
		EditionNumber:   result.EditionNumber,
		RemainingSupply: result.RemainingSupply,
		AmountPaid:      result.AmountPaid.String(),
	})
}

type SetPublishedRequest struct {
	SellerID  string  `json:"seller_id"`
	Published bool    `json:"published"`
	NewSupply *int    `json:"new_supply,omitempty"`
	NewPrice  *string `json:"new_price,omitempty"`
}

func (h *HTTPHandler) SetPublished(w http.ResponseWriter, r *http.Request) {
	var req SetPublishedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SellerID == "" {
		writeError(w, http.StatusBadRequest, "seller_id is required")
		return
	}

	params := service.SetPublishedParams{
		ArtifactID: chi.URLParam(r, "artifactID"),
		SellerID:   req.SellerID,
		Published:  req.Published,
		NewSupply:  req.NewSupply,
	}
	if req.NewPrice != nil {
		price, err := decimal.NewFromString(*req.NewPrice)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid new_price")
			return
		}
		params.NewPrice = &price
	}

	if err := h.publishes.SetPublished(r.Context(), params); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	availability, err := h.purchases.GetAvailability(r.Context(), chi.URLParam(r, "artifactID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, availability)
}

type ArtifactResponse struct {
	ID           string `json:"id"`
	SellerID     string `json:"seller_id"`
	Title        string `json:"title"`
	TotalSupply  int    `json:"total_supply"`
	SoldCount    int    `json:"sold_count"`
	PricePerUnit string `json:"price_per_unit"`
	IsPublished  bool   `json:"is_published"`
}

func (h *HTTPHandler) GetArtifact(w http.ResponseWriter, r *http.Request) {
	a, err := h.purchases.GetArtifact(r.Context(), chi.URLParam(r, "artifactID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ArtifactResponse{
		ID:           a.ID,
		SellerID:     a.SellerID,
		Title:        a.Title,
		TotalSupply:  a.TotalSupply,
		SoldCount:    a.SoldCount,
		PricePerUnit: a.PricePerUnit.String(),
		IsPublished:  a.IsPublished,
	})
}

type PurchaseListItem struct {
	EditionNumber int    `json:"edition_number"`
	BuyerID       string `json:"buyer_id"`
	AmountPaid    string `json:"amount_paid"`
}

func (h *HTTPHandler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	purchases, err := h.purchases.ListPurchases(r.Context(), chi.URLParam(r, "artifactID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	items := make([]PurchaseListItem, 0, len(purchases))
	for _, p := range purchases {
		items = append(items, PurchaseListItem{
			EditionNumber: p.EditionNumber,
			BuyerID:       p.BuyerID,
			AmountPaid:    p.AmountPaid.String(),
		})
	}
	writeJSON(w, http.StatusOK, items)
}

type SellerResponse struct {
	ID             string `json:"id"`
	PostersForSale int    `json:"posters_for_sale"`
	Subscription   string `json:"subscription"`
}

func (h *HTTPHandler) GetSeller(w http.ResponseWriter, r *http.Request) {
	seller, err := h.publishes.GetSeller(r.Context(), chi.URLParam(r, "sellerID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SellerResponse{
		ID:             seller.ID,
		PostersForSale: seller.PostersForSale,
		Subscription:   string(seller.SubscriptionStatus),
	})
}

func (h *HTTPHandler) InvalidateArtifact(w http.ResponseWriter, r *http.Request) {
	h.purchases.InvalidateArtifact(chi.URLParam(r, "artifactID"))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) InvalidateSeller(w http.ResponseWriter, r *http.Request) {
	h.publishes.InvalidateSeller(chi.URLParam(r, "sellerID"))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if h.healthy != nil && !h.healthy() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "missing or malformed argument")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrSoldOut):
		writeError(w, http.StatusGone, "sold out")
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, "concurrent purchase conflict, retry")
	case errors.Is(err, domain.ErrDuplicatePayment):
		writeError(w, http.StatusConflict, "payment reference already consumed")
	case errors.Is(err, domain.ErrQuotaExceeded):
		writeError(w, http.StatusUnprocessableEntity, "publish quota exceeded")
	case errors.Is(err, domain.ErrInvalidSupplyChange):
		writeError(w, http.StatusUnprocessableEntity, "supply and price are immutable after the first sale")
	case errors.Is(err, domain.ErrPriceBelowFloor):
		writeError(w, http.StatusUnprocessableEntity, "price below platform floor")
	case errors.Is(err, domain.ErrServiceDegraded), errors.Is(err, domain.ErrPoolExhausted):
		writeError(w, http.StatusServiceUnavailable, "service degraded, retry later")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
