package catalog

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/stacklok/catalog-feed-server/internal/destination"
)

const (
	defaultAvailability = "in stock"
	defaultCondition    = "new"
	defaultCurrency     = "USD"
	maxDescriptionRunes = 5000
)

// item is an RSS 2.0 item carrying the g: product namespace
type item struct {
	XMLName      xml.Name `xml:"item"`
	ID           string   `xml:"g:id"`
	Title        string   `xml:"title"`
	Description  string   `xml:"description"`
	Link         string   `xml:"link"`
	ImageLink    string   `xml:"g:image_link,omitempty"`
	Price        string   `xml:"g:price"`
	Availability string   `xml:"g:availability"`
	Condition    string   `xml:"g:condition"`
	Brand        string   `xml:"g:brand,omitempty"`
	GTIN         string   `xml:"g:gtin,omitempty"`
}

// Renderer turns products into feed items
type Renderer struct {
	markets map[destination.MarketKey]destination.Market
	policy  *bluemonday.Policy
}

// NewRenderer creates a renderer for the given markets
func NewRenderer(markets []destination.Market) *Renderer {
	return &Renderer{
		markets: destination.ByKey(markets),
		policy:  bluemonday.StrictPolicy(),
	}
}

// Render returns the item fragment of p for market, or "" when the product must
// not appear in the feed: it has no title or no positive price.
func (r *Renderer) Render(p *Product, market destination.MarketKey) (string, error) {
	title := strings.TrimSpace(r.plainText(p.Title))
	if title == "" {
		return "", nil
	}

	price := p.PriceFor(string(market))
	if price.Amount <= 0 {
		return "", nil
	}

	currency := price.Currency
	if currency == "" {
		currency = r.markets[market].Currency
	}
	if currency == "" {
		currency = defaultCurrency
	}

	it := item{
		ID:           strconv.FormatInt(int64(p.ID), 10),
		Title:        title,
		Description:  r.description(p.Description),
		Link:         p.Link,
		ImageLink:    p.ImageLink,
		Price:        fmt.Sprintf("%.2f %s", price.Amount, strings.ToUpper(currency)),
		Availability: valueOr(p.Availability, defaultAvailability),
		Condition:    valueOr(p.Condition, defaultCondition),
		Brand:        p.Brand,
		GTIN:         p.GTIN,
	}

	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	if err := enc.Encode(it); err != nil {
		return "", fmt.Errorf("failed to encode item %d: %w", p.ID, err)
	}
	buf.WriteByte('\n')
	return buf.String(), nil
}

func (r *Renderer) description(raw string) string {
	text := strings.Join(strings.Fields(r.plainText(raw)), " ")
	runes := []rune(text)
	if len(runes) > maxDescriptionRunes {
		text = string(runes[:maxDescriptionRunes])
	}
	return text
}

// plainText strips markup. The sanitizer escapes entities and the XML encoder
// escapes again, so the sanitized text is unescaped in between.
func (r *Renderer) plainText(s string) string {
	return html.UnescapeString(r.policy.Sanitize(s))
}

func valueOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
