package catalog

import "fmt"

// Currency is the ISO 4217 code all catalog prices are charged in.
const Currency = "cad"

type Product struct {
	ID          string
	Name        string
	Description string
	PriceCents  int64
}

// DisplayPrice formats the price for templates. Amounts are kept in integer
// cents everywhere else.
func (p Product) DisplayPrice() string {
	return fmt.Sprintf("$%d.%02d", p.PriceCents/100, p.PriceCents%100)
}

var products = []Product{
	{
		ID:          "p1",
		Name:        "The Field Guide",
		Description: "A practical 120-page PDF on running a one-person software business.",
		PriceCents:  1999,
	},
	{
		ID:          "p2",
		Name:        "The Video Workshop",
		Description: "Three hours of screencasts building and shipping a paid product.",
		PriceCents:  2999,
	},
}

// All returns the catalog in display order.
func All() []Product {
	return products
}

// Find looks up a product by its id.
func Find(id string) (Product, bool) {
	for _, p := range products {
		if p.ID == id {
			return p, true
		}
	}
	return Product{}, false
}
