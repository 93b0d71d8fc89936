// Package helpers provides fixtures and server helpers for the feed pipeline integration tests.
package helpers

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/onsi/gomega"
	"gopkg.in/yaml.v3"
)

// TestProduct is one entry of a product export file
type TestProduct struct {
	ID          int                `json:"id"`
	Title       string             `json:"title"`
	Description string             `json:"description,omitempty"`
	Link        string             `json:"link"`
	Price       float64            `json:"price"`
	Prices      map[string]float64 `json:"-"`
	Published   *bool              `json:"published,omitempty"`
}

// CreateTestProducts returns n published products with ids 1..n
func CreateTestProducts(n int) []TestProduct {
	products := make([]TestProduct, 0, n)
	for i := 1; i <= n; i++ {
		products = append(products, TestProduct{
			ID:          i,
			Title:       fmt.Sprintf("Product %d", i),
			Description: fmt.Sprintf("<p>Description of <b>product %d</b></p>", i),
			Link:        fmt.Sprintf("https://shop.example.com/products/%d", i),
			Price:       10 + float64(i%7),
		})
	}
	return products
}

// WriteProductsFile writes products as a JSON export and returns its path
func WriteProductsFile(dir string, products []TestProduct) string {
	path := filepath.Join(dir, "products.json")
	data, err := json.MarshalIndent(products, "", "  ")
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	gomega.Expect(os.WriteFile(path, data, 0600)).To(gomega.Succeed())
	return path
}

// MarketFixture is one configured market
type MarketFixture struct {
	Key      string `yaml:"key"`
	Country  string `yaml:"country"`
	Locale   string `yaml:"locale"`
	Currency string `yaml:"currency"`
}

// DefaultMarkets are the markets used by most scenarios
var DefaultMarkets = []MarketFixture{
	{Key: "eu", Country: "DE", Locale: "de_DE", Currency: "EUR"},
	{Key: "us", Country: "US", Locale: "en_US", Currency: "USD"},
}

// ConfigFixture describes the server configuration written by WriteConfigYAML
type ConfigFixture struct {
	Dir          string
	ProductsPath string
	Markets      []MarketFixture
	BatchSize    int

	// RemoteEndpoint enables registration against the given service
	RemoteEndpoint   string
	RegisterInterval string
}

// WriteConfigYAML writes a server configuration with file storage under
// fixture.Dir and returns its path
func WriteConfigYAML(fixture ConfigFixture) string {
	cfg := map[string]any{
		"feed": map[string]any{
			"markets":       fixture.Markets,
			"outputDir":     filepath.Join(fixture.Dir, "feeds"),
			"publicBaseURL": "https://cdn.example.com/feeds",
			"batchSize":     fixture.BatchSize,
		},
		"catalog": map[string]any{
			"type": "file",
			"file": map[string]any{"path": fixture.ProductsPath},
		},
		"storage": map[string]any{
			"type": "file",
			"file": map[string]any{"baseDir": filepath.Join(fixture.Dir, "state")},
		},
	}

	if fixture.RemoteEndpoint != "" {
		cfg["remote"] = map[string]any{
			"endpoint": fixture.RemoteEndpoint,
			"timeout":  "2s",
			"maxTries": 2,
		}
		cfg["registration"] = map[string]any{
			"enabled":  true,
			"interval": fixture.RegisterInterval,
			"feedName": "Example Shop",
			"merchant": map[string]any{
				"name":       "Example Shop",
				"websiteURL": "https://shop.example.com",
			},
		}
	}

	data, err := yaml.Marshal(cfg)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())

	path := filepath.Join(fixture.Dir, "config.yaml")
	gomega.Expect(os.WriteFile(path, data, 0600)).To(gomega.Succeed())
	return path
}
