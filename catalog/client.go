// Package catalog reads the product catalog and normalizes the documents it
// returns into one canonical shape.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/Harish1404/Anozon-E-commerce/auth"
	apperrors "github.com/Harish1404/Anozon-E-commerce/errors"
)

const productsPath = "/products"

// ListParams filters and orders a catalog listing. Zero values are omitted
// from the query.
type ListParams struct {
	Category  string
	MinPrice  float64
	MaxPrice  float64
	SortBy    string
	SortOrder string
	Page      int
	Limit     int
}

// Values encodes the parameters as a query string.
func (p ListParams) Values() url.Values {
	q := url.Values{}
	if p.Category != "" {
		q.Set("category", p.Category)
	}
	if p.MinPrice > 0 {
		q.Set("min_price", strconv.FormatFloat(p.MinPrice, 'f', -1, 64))
	}
	if p.MaxPrice > 0 {
		q.Set("max_price", strconv.FormatFloat(p.MaxPrice, 'f', -1, 64))
	}
	if p.SortBy != "" {
		q.Set("sort_by", p.SortBy)
	}
	if p.SortOrder != "" {
		q.Set("sort_order", p.SortOrder)
	}
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	return q
}

// Client is the product catalog reader.
type Client struct {
	api    *auth.Dispatcher
	logger *slog.Logger
}

// NewClient creates a catalog client on top of the request dispatcher.
func NewClient(api *auth.Dispatcher, logger *slog.Logger) *Client {
	return &Client{api: api, logger: logger}
}

// List fetches the catalog, normalized. The endpoint has returned both a bare
// array and a {"products": [...]} envelope across API versions; both are
// accepted.
func (c *Client) List(ctx context.Context, params ListParams) ([]Product, error) {
	path := productsPath
	if q := params.Values().Encode(); q != "" {
		path += "?" + q
	}

	resp, err := c.api.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperrors.FromResponse(resp)
	}

	var payload json.RawMessage
	if err := auth.DecodeJSON(resp, &payload); err != nil {
		return nil, err
	}

	var docs []map[string]any
	if err := json.Unmarshal(payload, &docs); err != nil {
		var wrapped struct {
			Products []map[string]any `json:"products"`
		}
		if err := json.Unmarshal(payload, &wrapped); err != nil {
			return nil, fmt.Errorf("decode product listing: %w", err)
		}
		docs = wrapped.Products
	}

	products := make([]Product, 0, len(docs))
	for _, doc := range docs {
		products = append(products, Normalize(doc))
	}

	c.logger.DebugContext(ctx, "catalog listed", slog.Int("count", len(products)))
	return products, nil
}

// GetByID fetches a single product, normalized. A missing product surfaces as
// a not-found error carrying the server's detail message.
func (c *Client) GetByID(ctx context.Context, id string) (*Product, error) {
	if id == "" {
		return nil, apperrors.Validation("product id is required")
	}

	resp, err := c.api.Get(ctx, productsPath+"/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperrors.FromResponse(resp)
	}

	var doc map[string]any
	if err := auth.DecodeJSON(resp, &doc); err != nil {
		return nil, err
	}

	product := Normalize(doc)
	return &product, nil
}
