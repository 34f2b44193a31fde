package storefront

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestFinalPrice(t *testing.T) {
	price := decimal.RequireFromString("0.80")
	half, none, all := decimal.NewFromInt(50), decimal.Zero, decimal.NewFromInt(150)
	odd := decimal.RequireFromString("12.5")

	cases := []struct {
		name string
		p    Product
		want string
		ok   bool
	}{
		{"no price", Product{}, "0", false},
		{"no discount", Product{Price: &price}, "0.8", true},
		{"zero discount", Product{Price: &price, Discount: &none}, "0.8", true},
		{"half off", Product{Price: &price, Discount: &half}, "0.4", true},
		{"fractional", Product{Price: &price, Discount: &odd}, "0.7", true},
		{"capped", Product{Price: &price, Discount: &all}, "0", true},
	}
	for _, tc := range cases {
		got, ok := tc.p.FinalPrice()
		if ok != tc.ok || !got.Equal(decimal.RequireFromString(tc.want)) {
			t.Errorf("%s: want %s/%v, got %s/%v", tc.name, tc.want, tc.ok, got, ok)
		}
	}
}

func TestProductKeepsReceivedBytes(t *testing.T) {
	in := `[{"id":1,"category":"Fruits","name":"Mango","inStock":true,"price":1.20,"discount":12.5,"unit":"kg"},` +
		`{"id":"abc","price":"n/a","tags":["x"]},"not an object",null]`

	var products []Product
	if err := json.Unmarshal([]byte(in), &products); err != nil {
		t.Fatal(err)
	}
	if len(products) != 4 {
		t.Fatalf("entries: %d", len(products))
	}
	out, err := json.Marshal(products)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != in {
		t.Fatalf("entries rewritten:\nwant %s\ngot  %s", in, out)
	}

	p := products[0]
	if p.ID != 1 || p.Category != "Fruits" || !p.InStock {
		t.Fatalf("typed view: %+v", p)
	}
	if !p.Price.Equal(decimal.RequireFromString("1.2")) || !p.Discount.Equal(decimal.RequireFromString("12.5")) {
		t.Fatalf("price/discount: %v %v", p.Price, p.Discount)
	}
	if fp, ok := p.FinalPrice(); !ok || !fp.Equal(decimal.RequireFromString("1.05")) {
		t.Fatalf("final price: %s %v", fp, ok)
	}
	if products[1].ID != 0 || products[1].Price != nil {
		t.Fatalf("malformed fields should be left empty: %+v", products[1])
	}
}
