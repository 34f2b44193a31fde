package storefront

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Product is one entry of the remote product list. The entry is kept as the
// bytes the endpoint sent: the typed fields are a best-effort view used by
// presentation helpers, and decoding them never fails.
type Product struct {
	ID       int    `json:"id"`
	Category string `json:"category"`
	Name     string `json:"name"`
	InStock  bool   `json:"inStock"`

	// Optional storefront grid fields.
	Price    *decimal.Decimal `json:"price,omitempty"`
	Discount *decimal.Decimal `json:"discount,omitempty"` // percent off
	Image    string           `json:"image,omitempty"`

	raw json.RawMessage
}

// Raw returns the entry as received, or nil for products built in code.
func (p Product) Raw() json.RawMessage { return p.raw }

// MarshalJSON re-emits the received bytes unchanged.
func (p Product) MarshalJSON() ([]byte, error) {
	if len(p.raw) > 0 {
		return p.raw, nil
	}
	type view Product
	return json.Marshal(view(p))
}

func (p *Product) UnmarshalJSON(b []byte) error {
	raw := make(json.RawMessage, len(b))
	copy(raw, b)
	*p = Product{raw: raw}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		// not an object; passed through as is
		return nil
	}
	p.ID = lenientInt(fields["id"])
	_ = json.Unmarshal(fields["category"], &p.Category)
	_ = json.Unmarshal(fields["name"], &p.Name)
	_ = json.Unmarshal(fields["inStock"], &p.InStock)
	_ = json.Unmarshal(fields["image"], &p.Image)
	p.Price = lenientDecimal(fields["price"])
	p.Discount = lenientDecimal(fields["discount"])
	return nil
}

func lenientInt(b json.RawMessage) int {
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return 0
	}
	if i, err := n.Int64(); err == nil {
		return int(i)
	}
	f, _ := n.Float64()
	return int(f)
}

func lenientDecimal(b json.RawMessage) *decimal.Decimal {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return nil
	}
	return &d
}

var hundred = decimal.NewFromInt(100)

// FinalPrice returns the price after the percent discount, if any.
// ok is false when the product carries no price.
func (p Product) FinalPrice() (decimal.Decimal, bool) {
	if p.Price == nil {
		return decimal.Zero, false
	}
	if p.Discount == nil || !p.Discount.IsPositive() {
		return *p.Price, true
	}
	pct := decimal.Min(*p.Discount, hundred)
	off := p.Price.Mul(pct).Div(hundred)
	return p.Price.Sub(off).Round(2), true
}

// CacheEntry is the persisted unit: the last list fetched successfully and
// the instant it was written.
type CacheEntry struct {
	Data      []Product `json:"data"`
	Timestamp int64     `json:"timestamp"` // unix milliseconds
}

func (e CacheEntry) StoredAt() time.Time { return time.UnixMilli(e.Timestamp) }

func (e CacheEntry) isStale(now time.Time, exp time.Duration) bool {
	return exp > 0 && now.Sub(e.StoredAt()) > exp
}

// State is what a session exposes to presentation.
type State struct {
	Products []Product `json:"products"`
	Loading  bool      `json:"loading"`
	Error    string    `json:"error,omitempty"`
	Offline  bool      `json:"offline"`
}

func (s State) clone() State {
	out := s
	if s.Products != nil {
		out.Products = make([]Product, len(s.Products))
		copy(out.Products, s.Products)
	}
	return out
}
