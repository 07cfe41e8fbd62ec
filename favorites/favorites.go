// Package favorites mirrors the signed-in user's favorites list. Membership
// flips through a single server-side toggle endpoint; the mirror reloads after
// every toggle rather than guessing the new state locally.
package favorites

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/Harish1404/Anozon-E-commerce/auth"
	apperrors "github.com/Harish1404/Anozon-E-commerce/errors"
)

const (
	favoritesPath = "/users/favorites"
	togglePath    = "/users/favorites/toggle"
)

// ToggleResult is the server's answer to a toggle: the confirmation message
// and the product's membership after the flip.
type ToggleResult struct {
	Message    string `json:"message"`
	IsFavorite bool   `json:"is_favorite"`
}

// Sync mirrors the server-side favorites list as a membership set.
type Sync struct {
	api     *auth.Dispatcher
	session *auth.SessionManager
	logger  *slog.Logger

	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewSync creates a favorites mirror.
func NewSync(api *auth.Dispatcher, session *auth.SessionManager, logger *slog.Logger) *Sync {
	return &Sync{api: api, session: session, logger: logger, ids: map[string]struct{}{}}
}

// Load fetches the favorites list and replaces the local mirror.
func (s *Sync) Load(ctx context.Context) error {
	if !s.session.HasCredentials() {
		return apperrors.NotAuthenticated("loading favorites")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reload(ctx)
}

// Toggle flips a product's favorite membership server-side, then reloads the
// mirror. The returned result reflects the server's post-toggle state.
func (s *Sync) Toggle(ctx context.Context, productID string) (*ToggleResult, error) {
	if productID == "" {
		return nil, apperrors.Validation("product id is required")
	}
	if !s.session.HasCredentials() {
		return nil, apperrors.NotAuthenticated("toggling a favorite")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	resp, err := s.api.PostJSON(ctx, togglePath, map[string]string{"product_id": productID})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperrors.FromResponse(resp)
	}

	var result ToggleResult
	if err := auth.DecodeJSON(resp, &result); err != nil {
		return nil, err
	}

	s.logger.DebugContext(ctx, "favorite toggled",
		slog.String("product_id", productID),
		slog.Bool("is_favorite", result.IsFavorite),
	)

	if err := s.reload(ctx); err != nil {
		return nil, err
	}
	return &result, nil
}

// reload fetches and replaces the membership set. Caller holds s.mu.
func (s *Sync) reload(ctx context.Context) error {
	resp, err := s.api.Get(ctx, favoritesPath)
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

	var ids []string
	if err := json.Unmarshal(payload, &ids); err != nil {
		var wrapped struct {
			Favorites []string `json:"favorites"`
		}
		if err := json.Unmarshal(payload, &wrapped); err != nil {
			return apperrors.Wrap(err, "decode favorites payload")
		}
		ids = wrapped.Favorites
	}

	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	s.ids = set
	return nil
}

// IsFavorited reports membership in the local mirror.
func (s *Sync) IsFavorited(productID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[productID]
	return ok
}

// IDs returns the favorited product ids, sorted.
func (s *Sync) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of favorited products.
func (s *Sync) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}
