package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/spf13/afero"
	"github.com/tidwall/gjson"
)

// FileRepository reads products from a JSON export. The export is either an
// array of products or an object with a "products" array. It is reloaded when
// the file's modification time changes.
type FileRepository struct {
	fs   afero.Fs
	path string

	mu       sync.Mutex
	loadedAt time.Time
	ids      []ItemID
	products map[ItemID]*Product
}

// NewFileRepository creates a repository over the export at path
func NewFileRepository(fs afero.Fs, path string) *FileRepository {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &FileRepository{fs: fs, path: path}
}

// ListIDs implements Repository
func (r *FileRepository) ListIDs(_ context.Context, limit, offset int) ([]ItemID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.refresh(); err != nil {
		return nil, err
	}
	return page(r.ids, limit, offset), nil
}

// Get implements Repository
func (r *FileRepository) Get(_ context.Context, id ItemID) (*Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.refresh(); err != nil {
		return nil, err
	}
	p, ok := r.products[id]
	if !ok {
		return nil, ErrProductNotFound
	}
	out := *p
	return &out, nil
}

func (r *FileRepository) refresh() error {
	info, err := r.fs.Stat(r.path)
	if err != nil {
		return fmt.Errorf("failed to stat catalog file '%s': %w", r.path, err)
	}
	if r.products != nil && info.ModTime().Equal(r.loadedAt) {
		return nil
	}

	data, err := afero.ReadFile(r.fs, r.path)
	if err != nil {
		return fmt.Errorf("failed to read catalog file '%s': %w", r.path, err)
	}

	products, err := ParseProducts(data)
	if err != nil {
		return fmt.Errorf("failed to parse catalog file '%s': %w", r.path, err)
	}

	r.products = make(map[ItemID]*Product, len(products))
	r.ids = make([]ItemID, 0, len(products))
	for i := range products {
		p := products[i]
		if _, dup := r.products[p.ID]; !dup {
			r.ids = append(r.ids, p.ID)
		}
		r.products[p.ID] = &p
	}
	slices.Sort(r.ids)
	r.loadedAt = info.ModTime()

	slog.Info("Loaded catalog export", "path", r.path, "products", len(r.ids))
	return nil
}

// ParseProducts decodes a JSON product export. Products with "published": false
// or without a positive id are skipped. A bare "price" number is taken as the
// default price.
func ParseProducts(data []byte) ([]Product, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid JSON")
	}

	root := gjson.ParseBytes(data)
	list := root
	if root.IsObject() {
		list = root.Get("products")
	}
	if !list.IsArray() {
		return nil, fmt.Errorf("expected an array of products")
	}

	var products []Product
	list.ForEach(func(_, item gjson.Result) bool {
		if published := item.Get("published"); published.Exists() && !published.Bool() {
			return true
		}
		id := item.Get("id").Int()
		if id <= 0 {
			return true
		}

		p := Product{
			ID:           ItemID(id),
			Title:        item.Get("title").String(),
			Description:  item.Get("description").String(),
			Link:         item.Get("link").String(),
			ImageLink:    item.Get("image_link").String(),
			Brand:        item.Get("brand").String(),
			Availability: item.Get("availability").String(),
			Condition:    item.Get("condition").String(),
			GTIN:         item.Get("gtin").String(),
			Prices:       map[string]Price{},
		}
		if price := item.Get("price"); price.Exists() {
			p.Prices[DefaultPriceKey] = Price{Amount: price.Float(), Currency: item.Get("currency").String()}
		}
		item.Get("prices").ForEach(func(market, price gjson.Result) bool {
			p.Prices[market.String()] = Price{
				Amount:   price.Get("amount").Float(),
				Currency: price.Get("currency").String(),
			}
			return true
		})

		products = append(products, p)
		return true
	})
	return products, nil
}
