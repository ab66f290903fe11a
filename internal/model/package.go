package model

// CreditPackage is a purchasable bundle. Prices are integer cents; the
// ledger itself never deals in money, only credits.
type CreditPackage struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Credits    int64  `json:"credits"`
	PriceCents int64  `json:"price_cents"`
	Currency   string `json:"currency"`
}

var packages = []CreditPackage{
	{ID: "starter", Name: "Starter", Credits: 10, PriceCents: 499, Currency: "USD"},
	{ID: "seeker", Name: "Seeker", Credits: 25, PriceCents: 999, Currency: "USD"},
	{ID: "mystic", Name: "Mystic", Credits: 60, PriceCents: 1999, Currency: "USD"},
	{ID: "oracle", Name: "Oracle", Credits: 150, PriceCents: 3999, Currency: "USD"},
}

func Packages() []CreditPackage {
	out := make([]CreditPackage, len(packages))
	copy(out, packages)
	return out
}

func PackageByID(id string) (CreditPackage, bool) {
	for _, p := range packages {
		if p.ID == id {
			return p, true
		}
	}
	return CreditPackage{}, false
}

// SpreadCost returns the credit price of a reading by spread type.
// Unknown spreads fall back to the single-card price.
func SpreadCost(spread string) int64 {
	switch spread {
	case "three_card":
		return 3
	case "celtic_cross":
		return 7
	default:
		return 1
	}
}
