package locator

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
	"golang.org/x/net/html"

	"github.com/loykin/catalogd/internal/product"
)

// ProductSelector matches product-like containers by class heuristics.
const ProductSelector = `[class*="product"], [class*="item"], [class*="card"]`

// Candidate is the raw, best-effort read of one product container.
type Candidate struct {
	Reference     string
	Name          string
	Brand         string
	Category      string
	Description   string
	PriceText     string
	Price         decimal.NullDecimal
	OriginalPrice decimal.NullDecimal
	Image         string
	Images        []string
	Link          string
	Sizes         []string
	Colors        []string
	InStock       bool
}

// ProductStrategy holds the fallback chains used per field.
type ProductStrategy struct {
	Containers    string
	Reference     Chain
	Name          Chain
	Brand         Chain
	Category      Chain
	Description   Chain
	Price         Chain
	OriginalPrice Chain
	Image         Chain
	Link          Chain
	Sizes         Chain
	Colors        Chain
	OutOfStock    Chain
}

// DefaultProducts is the strategy used by LocateProducts.
var DefaultProducts = ProductStrategy{
	Containers: ProductSelector,
	Reference: Chain{
		{Attr: "data-reference"},
		{Attr: "data-ref"},
		{Attr: "data-sku"},
		{Attr: "data-product-id"},
		{Selector: ".reference"},
		{Selector: ".sku"},
		{Selector: "[data-sku]", Attr: "data-sku"},
	},
	Name: Chain{
		{Selector: ".name"},
		{Selector: ".product-name"},
		{Selector: ".title"},
		{Selector: `[class*="title"]`},
		{Selector: "h1, h2, h3, h4"},
		{Selector: "a[title]", Attr: "title"},
		{Selector: "img[alt]", Attr: "alt"},
	},
	Brand: Chain{
		{Attr: "data-brand"},
		{Selector: ".brand"},
		{Selector: `[class*="brand"]`},
	},
	Category: Chain{
		{Attr: "data-category"},
		{Selector: ".category"},
		{Selector: `[class*="category"]`},
	},
	Description: Chain{
		{Selector: ".description"},
		{Selector: `[class*="desc"]`},
	},
	Price: Chain{
		{Attr: "data-price"},
		{Selector: ".price ins"},
		{Selector: ".sale-price"},
		{Selector: ".price"},
		{Selector: `[class*="price"]:not([class*="old"]):not([class*="original"])`},
		{Selector: `[class*="cost"]`},
		{Selector: `[class*="amount"]`},
	},
	OriginalPrice: Chain{
		{Attr: "data-original-price"},
		{Selector: ".original-price"},
		{Selector: ".old-price"},
		{Selector: `[class*="original"]`},
		{Selector: `[class*="old"]`},
		{Selector: ".price del"},
		{Selector: "del"},
		{Selector: "s"},
	},
	Image: Chain{
		{Selector: "img[src]", Attr: "src"},
		{Selector: "img[data-src]", Attr: "data-src"},
		{Selector: "source[srcset]", Attr: "srcset"},
	},
	Link: Chain{
		{Attr: "href"},
		{Selector: "a[href]", Attr: "href"},
	},
	Sizes: Chain{
		{Selector: `[class*="size"] li`},
		{Selector: `[class*="size"] option`},
		{Selector: "[data-size]", Attr: "data-size"},
	},
	Colors: Chain{
		{Selector: `[class*="color"] li`},
		{Selector: `[class*="colour"] li`},
		{Selector: "[data-color]", Attr: "data-color"},
		{Selector: `[class*="color"] [title]`, Attr: "title"},
	},
	OutOfStock: Chain{
		{Selector: `[class*="out-of-stock"]`},
		{Selector: `[class*="sold-out"]`},
		{Selector: `[class*="soldout"]`},
		{Selector: ".unavailable"},
	},
}

// LocateProducts scans snapshot with DefaultProducts. pageURL, when
// non-empty, resolves relative image and link URLs.
func LocateProducts(snapshot, pageURL string) []Candidate {
	return DefaultProducts.Locate(snapshot, pageURL)
}

// Locate returns one Candidate per product container. Containers without
// both a name and a price text are dropped, as are listing wrappers holding
// several products and containers nested inside a kept product.
func (ps ProductStrategy) Locate(snapshot, pageURL string) []Candidate {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(snapshot))
	if err != nil {
		return nil
	}
	var base *url.URL
	if pageURL != "" {
		base, _ = url.Parse(pageURL)
	}

	type found struct {
		node *html.Node
		c    Candidate
	}
	var valid []found
	doc.Find(ps.Containers).Each(func(_ int, s *goquery.Selection) {
		c := ps.read(s, base)
		if c.Name == "" || c.PriceText == "" {
			return
		}
		valid = append(valid, found{node: s.Get(0), c: c})
	})

	nested := make([]int, len(valid))
	for i := range valid {
		for j := range valid {
			if i != j && isAncestor(valid[i].node, valid[j].node) {
				nested[i]++
			}
		}
	}
	var keep []found
	for i, f := range valid {
		if nested[i] >= 2 {
			continue
		}
		keep = append(keep, f)
	}
	out := make([]Candidate, 0, len(keep))
	for i, f := range keep {
		inside := false
		for j, g := range keep {
			if i != j && isAncestor(g.node, f.node) {
				inside = true
				break
			}
		}
		if !inside {
			out = append(out, f.c)
		}
	}
	return out
}

func (ps ProductStrategy) read(s *goquery.Selection, base *url.URL) Candidate {
	c := Candidate{
		Reference:   refValue(ps.Reference.First(s)),
		Name:        ps.Name.First(s),
		Brand:       ps.Brand.First(s),
		Category:    ps.Category.First(s),
		Description: ps.Description.First(s),
		PriceText:   ps.Price.First(s),
		Link:        resolve(base, ps.Link.First(s)),
		Sizes:       ps.Sizes.All(s),
		Colors:      ps.Colors.All(s),
		InStock:     !ps.OutOfStock.Present(s),
	}
	if p, ok := product.ParsePrice(c.PriceText); ok {
		c.Price = decimal.NewNullDecimal(p)
	}
	if p, ok := product.ParsePrice(ps.OriginalPrice.First(s)); ok {
		c.OriginalPrice = decimal.NewNullDecimal(p)
	}
	for _, img := range ps.Image.All(s) {
		c.Images = append(c.Images, resolve(base, firstSrc(img)))
	}
	if len(c.Images) > 0 {
		c.Image = c.Images[0]
	}
	return c
}

// refValue strips a "Ref:" style label.
func refValue(s string) string {
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}

// firstSrc takes the first URL of a srcset value.
func firstSrc(s string) string {
	s = strings.TrimSpace(strings.Split(s, ",")[0])
	if i := strings.IndexByte(s, ' '); i > 0 {
		s = s[:i]
	}
	return s
}

func resolve(base *url.URL, ref string) string {
	if ref == "" || base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

func isAncestor(a, b *html.Node) bool {
	for p := b.Parent; p != nil; p = p.Parent {
		if p == a {
			return true
		}
	}
	return false
}
