// Package cart keeps a local mirror of the signed-in user's server-side cart.
// The server owns the truth: every mutation round-trips and then reloads, so
// the mirror never drifts on speculative local edits.
package cart

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/Harish1404/Anozon-E-commerce/auth"
	"github.com/Harish1404/Anozon-E-commerce/catalog"
	apperrors "github.com/Harish1404/Anozon-E-commerce/errors"
)

const cartPath = "/users/cart"

// Line is one cart entry. Product is the enriched catalog document and may be
// nil when the lookup failed; Price is the server-reported line price kept as
// a fallback for totals.
type Line struct {
	ProductID string           `json:"product_id"`
	Quantity  int              `json:"quantity"`
	Price     float64          `json:"price,omitempty"`
	Product   *catalog.Product `json:"product,omitempty"`
}

// Sync mirrors the server-side cart. All operations are serialized per
// instance: a mutation and its follow-up reload run as one unit, so readers
// never observe the window between them.
type Sync struct {
	api     *auth.Dispatcher
	session *auth.SessionManager
	catalog *catalog.Client
	logger  *slog.Logger

	mu    sync.Mutex
	lines []Line
}

// NewSync creates a cart mirror. The catalog client is used to enrich lines
// with full product documents.
func NewSync(api *auth.Dispatcher, session *auth.SessionManager, cat *catalog.Client, logger *slog.Logger) *Sync {
	return &Sync{api: api, session: session, catalog: cat, logger: logger}
}

// Load fetches the cart from the server and replaces the local mirror.
func (s *Sync) Load(ctx context.Context) error {
	if !s.session.HasCredentials() {
		return apperrors.NotAuthenticated("loading the cart")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reload(ctx)
}

// Add puts quantity units of a product in the cart, then reloads.
// On failure the local mirror is left untouched.
func (s *Sync) Add(ctx context.Context, productID string, quantity int) error {
	if productID == "" {
		return apperrors.Validation("product id is required")
	}
	if quantity < 1 {
		return apperrors.Validation("quantity must be at least 1")
	}
	if !s.session.HasCredentials() {
		return apperrors.NotAuthenticated("adding to the cart")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	resp, err := s.api.PostJSON(ctx, cartPath, map[string]any{
		"product_id": productID,
		"quantity":   quantity,
	})
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperrors.FromResponse(resp)
	}
	_ = resp.Body.Close()

	s.logger.DebugContext(ctx, "cart item added",
		slog.String("product_id", productID),
		slog.Int("quantity", quantity),
	)
	return s.reload(ctx)
}

// Remove deletes a product from the cart, then reloads. Removing a product
// the server no longer has is a no-op, not an error.
func (s *Sync) Remove(ctx context.Context, productID string) error {
	if productID == "" {
		return apperrors.Validation("product id is required")
	}
	if !s.session.HasCredentials() {
		return apperrors.NotAuthenticated("removing from the cart")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	resp, err := s.api.Delete(ctx, cartPath+"/"+url.PathEscape(productID))
	if err != nil {
		return err
	}
	if (resp.StatusCode < 200 || resp.StatusCode > 299) && resp.StatusCode != http.StatusNotFound {
		return apperrors.FromResponse(resp)
	}
	_ = resp.Body.Close()

	s.logger.DebugContext(ctx, "cart item removed", slog.String("product_id", productID))
	return s.reload(ctx)
}

// Clear empties the cart server-side, then reloads.
func (s *Sync) Clear(ctx context.Context) error {
	if !s.session.HasCredentials() {
		return apperrors.NotAuthenticated("clearing the cart")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	resp, err := s.api.Delete(ctx, cartPath)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperrors.FromResponse(resp)
	}
	_ = resp.Body.Close()

	return s.reload(ctx)
}

// reload fetches and enriches the cart. Caller holds s.mu.
func (s *Sync) reload(ctx context.Context) error {
	resp, err := s.api.Get(ctx, cartPath)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperrors.FromResponse(resp)
	}

	var payload json.RawMessage
	if err := auth.DecodeJSON(resp, &payload); err != nil {
		return err
	}

	lines, err := decodeLines(payload)
	if err != nil {
		return err
	}

	for i := range lines {
		product, err := s.catalog.GetByID(ctx, lines[i].ProductID)
		if err != nil {
			// A line whose product cannot be resolved is still a line;
			// it just renders without the full document.
			s.logger.DebugContext(ctx, "cart line enrichment failed",
				slog.String("product_id", lines[i].ProductID),
				slog.String("error", err.Error()),
			)
			continue
		}
		lines[i].Product = product
	}

	s.lines = lines
	return nil
}

// decodeLines accepts both the bare-array and the {"cart": [...]} envelope
// shapes the endpoint has returned over time.
func decodeLines(payload json.RawMessage) ([]Line, error) {
	var lines []Line
	if err := json.Unmarshal(payload, &lines); err == nil {
		return lines, nil
	}

	var wrapped struct {
		Cart  []Line `json:"cart"`
		Items []Line `json:"items"`
	}
	if err := json.Unmarshal(payload, &wrapped); err != nil {
		return nil, apperrors.Wrap(err, "decode cart payload")
	}
	if wrapped.Cart != nil {
		return wrapped.Cart, nil
	}
	return wrapped.Items, nil
}

// Lines returns a copy of the current mirror.
func (s *Sync) Lines() []Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Line, len(s.lines))
	copy(out, s.lines)
	return out
}

// Count returns the total number of units across all lines. Lines without a
// quantity count as one unit.
func (s *Sync) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, line := range s.lines {
		total += quantityOrOne(line.Quantity)
	}
	return total
}

// Total computes the cart value. Per line the enriched product price wins,
// falling back to the server-reported line price, then zero.
func (s *Sync) Total() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0.0
	for _, line := range s.lines {
		price := line.Price
		if line.Product != nil && line.Product.Price > 0 {
			price = line.Product.Price
		}
		total += price * float64(quantityOrOne(line.Quantity))
	}
	return total
}

func quantityOrOne(q int) int {
	if q < 1 {
		return 1
	}
	return q
}
