package inventory

import (
	"strings"
	"unicode"
)

// GenerateSKU derives a SKU from product code, size and color:
// ("tee01", "S", "Jet Black") -> "TEE01-S-JETBLACK".
func GenerateSKU(productCode, size, color string) string {
	parts := make([]string, 0, 3)
	for _, s := range []string{productCode, size, color} {
		if p := skuPart(s); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "-")
}

func skuPart(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// variantKey is the uniqueness key of a variant within the store.
type variantKey struct {
	productID string
	size      string
	color     string
}

func keyOf(productID, size, color string) variantKey {
	return variantKey{
		productID: productID,
		size:      strings.ToLower(strings.TrimSpace(size)),
		color:     strings.ToLower(strings.TrimSpace(color)),
	}
}
