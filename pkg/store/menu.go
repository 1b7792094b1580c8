package store

import (
	"context"
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/bobbys-table/pkg/menu"
	"github.com/teslashibe/bobbys-table/pkg/money"
)

//go:embed seed/menu.yaml
var defaultMenuYAML []byte

type seedFile struct {
	Items []struct {
		Name        string  `yaml:"name"`
		Category    string  `yaml:"category"`
		Price       float64 `yaml:"price"`
		Description string  `yaml:"description"`
		Unavailable bool    `yaml:"unavailable"`
	} `yaml:"items"`
}

// DefaultMenu returns the embedded seed menu.
func DefaultMenu() ([]MenuItem, error) {
	return ParseMenu(defaultMenuYAML)
}

// LoadMenuFile reads a seed menu from a yaml file.
func LoadMenuFile(path string) ([]MenuItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("store: read menu: %w", err)
	}
	return ParseMenu(data)
}

// ParseMenu decodes a yaml seed menu.
func ParseMenu(data []byte) ([]MenuItem, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("store: parse menu: %w", err)
	}
	out := make([]MenuItem, 0, len(f.Items))
	for _, it := range f.Items {
		if it.Name == "" || it.Price < 0 {
			return nil, fmt.Errorf("store: parse menu: invalid item %q", it.Name)
		}
		out = append(out, MenuItem{
			Name:        it.Name,
			Category:    it.Category,
			Description: it.Description,
			PriceCents:  money.FromDollars(it.Price),
			IsAvailable: !it.Unavailable,
		})
	}
	return out, nil
}

// SeedMenu inserts items that do not exist yet, matched by name.
// It returns the number of rows created.
func (s *Store) SeedMenu(ctx context.Context, items []MenuItem) (int, error) {
	created := 0
	for _, it := range items {
		row := it
		res := s.db.WithContext(ctx).Where(MenuItem{Name: it.Name}).Attrs(row).FirstOrCreate(&row)
		if res.Error != nil {
			return created, fmt.Errorf("store: seed %q: %w", it.Name, res.Error)
		}
		created += int(res.RowsAffected)
	}
	return created, nil
}

// AvailableMenu returns the items currently on offer.
func (s *Store) AvailableMenu(ctx context.Context) ([]menu.Item, error) {
	var rows []MenuItem
	err := s.db.WithContext(ctx).Where("is_available = ?", true).Order("category ASC, name ASC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: load menu: %w", err)
	}
	out := make([]menu.Item, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Item())
	}
	return out, nil
}

// SetAvailability marks a menu item available or not.
func (s *Store) SetAvailability(ctx context.Context, id uint, available bool) error {
	res := s.db.WithContext(ctx).Model(&MenuItem{}).Where("id = ?", id).Update("is_available", available)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

var _ menu.Loader = (*Store)(nil)
