package credit

import (
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/atelier/pkg/ledger"
)

// Currency prefixes every bundle price.
const Currency = "MYR"

// Bundle names a purchasable credit package.
type Bundle string

const (
	BundleSmall  Bundle = "Small"
	BundleMedium Bundle = "Medium"
	BundleLarge  Bundle = "Large"
)

type bundleTerms struct {
	credits    ledger.Credits
	priceCents int64
}

var bundleCatalog = map[Bundle]bundleTerms{
	BundleSmall:  {credits: 10, priceCents: 199},
	BundleMedium: {credits: 100, priceCents: 1799},
	BundleLarge:  {credits: 1000, priceCents: 8999},
}

// ParseBundle resolves a caller-supplied bundle name.
func ParseBundle(raw string) (Bundle, error) {
	bundle := Bundle(strings.TrimSpace(raw))
	if _, ok := bundleCatalog[bundle]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidBundle, raw)
	}
	return bundle, nil
}

// Bundles lists the catalog from smallest to largest.
func Bundles() []Bundle {
	return []Bundle{BundleSmall, BundleMedium, BundleLarge}
}

// Credits returns the number of credits the bundle grants.
func (bundle Bundle) Credits() ledger.Credits {
	return bundleCatalog[bundle].credits
}

// PriceCents returns the price in minor currency units.
func (bundle Bundle) PriceCents() int64 {
	return bundleCatalog[bundle].priceCents
}

// Price renders the price with its currency, e.g. "MYR1.99".
func (bundle Bundle) Price() string {
	cents := bundle.PriceCents()
	return fmt.Sprintf("%s%d.%02d", Currency, cents/100, cents%100)
}

// String returns the bundle name.
func (bundle Bundle) String() string {
	return string(bundle)
}

func (bundle Bundle) packageDetail() string {
	return fmt.Sprintf("Package: %s | Price: %s", bundle, bundle.Price())
}
