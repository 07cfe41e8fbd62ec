package catalog

import "strconv"

// Product is the normalized catalog item. The API has gone through several
// field renames, so raw payloads arrive in more than one shape; Normalize
// flattens them into this one.
type Product struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Price       float64        `json:"price"`
	Category    string         `json:"category"`
	ImageURL    string         `json:"imageUrl"`
	Stock       int            `json:"stock"`
	Likes       int            `json:"likes"`
	Raw         map[string]any `json:"-"`
}

// Normalize maps a raw product document onto the canonical shape. Field
// precedence per attribute:
//
//	id:    _id, id
//	image: image_url, url
//	stock: stock, stock_quantity
//	likes: likes, likes_count, len(liked_by)
//
// Prices may arrive as numbers or numeric strings. Missing or unparseable
// fields fall back to zero values rather than failing: a half-described
// product is still displayable.
func Normalize(raw map[string]any) Product {
	return Product{
		ID:          stringField(raw, "_id", "id"),
		Name:        stringField(raw, "name"),
		Description: stringField(raw, "description"),
		Price:       floatField(raw, "price"),
		Category:    stringField(raw, "category"),
		ImageURL:    stringField(raw, "image_url", "url"),
		Stock:       intField(raw, "stock", "stock_quantity"),
		Likes:       likesField(raw),
		Raw:         raw,
	}
}

func stringField(raw map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := raw[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func floatField(raw map[string]any, keys ...string) float64 {
	for _, key := range keys {
		switch v := raw[key].(type) {
		case float64:
			return v
		case int:
			return float64(v)
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f
			}
		}
	}
	return 0
}

func intField(raw map[string]any, keys ...string) int {
	for _, key := range keys {
		switch v := raw[key].(type) {
		case float64:
			return int(v)
		case int:
			return v
		case string:
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
	}
	return 0
}

// likesField keys on presence, not value: an explicit likes of 0 wins over a
// populated liked_by list.
func likesField(raw map[string]any) int {
	for _, key := range []string{"likes", "likes_count"} {
		if _, ok := raw[key]; ok {
			return intField(raw, key)
		}
	}
	if likedBy, ok := raw["liked_by"].([]any); ok {
		return len(likedBy)
	}
	return 0
}
