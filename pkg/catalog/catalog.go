// Package catalog reads the product database the feeds are built from.
// Access is read-only; the pipeline never writes back to the catalog.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"feedforge/pkg/feed/rules"
)

// ErrProductNotFound is returned when a queued product id no longer
// resolves to a catalog row.
var ErrProductNotFound = errors.New("product not found")

// Product types.
const (
	TypeSimple    = "simple"
	TypeVariable  = "variable"
	TypeVariation = "variation"
	TypeGrouped   = "grouped"
)

// Product is one catalog row.
type Product struct {
	ID               int64  `db:"id"`
	ParentID         int64  `db:"parent_id"`
	SKU              string `db:"sku"`
	Title            string `db:"title"`
	Description      string `db:"description"`
	ShortDescription string `db:"short_description"`
	Type             string `db:"type"`
	Status           string `db:"status"`
	RegularPrice     string `db:"regular_price"`
	SalePrice        string `db:"sale_price"`
	StockStatus      string `db:"stock_status"`
	Weight           string `db:"weight"`
	Permalink        string `db:"permalink"`
}

// Catalog wraps the product database handle.
type Catalog struct {
	db *sqlx.DB
}

// Open connects to the catalog database at path.
func Open(path string) (*Catalog, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	return &Catalog{db: db}, nil
}

// NewWithDB wraps an existing handle; tests use it with in-memory
// databases.
func NewWithDB(db *sqlx.DB) *Catalog { return &Catalog{db: db} }

func (c *Catalog) Close() error { return c.db.Close() }

// Ping verifies the database is reachable.
func (c *Catalog) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// ListPublishableIDs enumerates the ids eligible for feed inclusion in
// stable id order. Variable parents are listed through their variations;
// grouped products are enumerated and rejected later so the rejection is
// logged per feed.
func (c *Catalog) ListPublishableIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := c.db.SelectContext(ctx, &ids,
		`SELECT id FROM products WHERE status = 'publish' AND type != ? ORDER BY id`,
		TypeVariable)
	if err != nil {
		return nil, fmt.Errorf("enumerate products: %w", err)
	}
	return ids, nil
}

// GetProduct loads one product row.
func (c *Catalog) GetProduct(ctx context.Context, id int64) (*Product, error) {
	var p Product
	err := c.db.GetContext(ctx, &p, `SELECT * FROM products WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load product %d: %w", id, err)
	}
	return &p, nil
}

// CategoryPath returns the product's primary category path, or the
// first assigned path when none is marked primary.
func (c *Catalog) CategoryPath(ctx context.Context, id int64) (string, error) {
	var path string
	err := c.db.GetContext(ctx, &path,
		`SELECT path FROM product_categories WHERE product_id = ?
		 ORDER BY is_primary DESC, path LIMIT 1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load category for %d: %w", id, err)
	}
	return path, nil
}

func (c *Catalog) meta(ctx context.Context, id int64) (map[string]string, error) {
	rows := []struct {
		Key   string `db:"meta_key"`
		Value string `db:"meta_value"`
	}{}
	err := c.db.SelectContext(ctx, &rows,
		`SELECT meta_key, meta_value FROM product_meta WHERE product_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("load meta for %d: %w", id, err)
	}
	m := make(map[string]string, len(rows))
	for _, r := range rows {
		m[r.Key] = r.Value
	}
	return m, nil
}

func (c *Catalog) images(ctx context.Context, id int64) ([]string, error) {
	var urls []string
	err := c.db.SelectContext(ctx, &urls,
		`SELECT url FROM product_images WHERE product_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("load images for %d: %w", id, err)
	}
	return urls, nil
}

// BuildRecord flattens one product into the column map the rule engine
// evaluates: post fields, meta fields, computed prices, URLs, images and
// the category path. Variations inherit empty fields from their parent.
func (c *Catalog) BuildRecord(ctx context.Context, p *Product) (rules.Record, error) {
	merged := *p
	var parent *Product
	if p.Type == TypeVariation && p.ParentID != 0 {
		pp, err := c.GetProduct(ctx, p.ParentID)
		if err != nil && !errors.Is(err, ErrProductNotFound) {
			return nil, err
		}
		if pp != nil {
			parent = pp
			mergeFromParent(&merged, pp)
		}
	}

	rec := rules.Record{
		"id":            fmt.Sprintf("%d", p.ID),
		"sku":           merged.SKU,
		"post_title":    merged.Title,
		"post_content":  merged.Description,
		"post_excerpt":  merged.ShortDescription,
		"permalink":     merged.Permalink,
		"product_type":  merged.Type,
		"stock_status":  merged.StockStatus,
		"regular_price": merged.RegularPrice,
		"sale_price":    merged.SalePrice,
		"_weight":       merged.Weight,
	}
	if parent != nil {
		rec["parent_sku"] = parent.SKU
	}

	// effective price prefers an active sale price
	if strings.TrimSpace(merged.SalePrice) != "" {
		rec["price"] = merged.SalePrice
	} else {
		rec["price"] = merged.RegularPrice
	}

	meta, err := c.meta(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	for k, v := range meta {
		if _, taken := rec[k]; !taken {
			rec[k] = v
		}
	}
	if parent != nil {
		pm, err := c.meta(ctx, parent.ID)
		if err != nil {
			return nil, err
		}
		for k, v := range pm {
			if _, taken := rec[k]; !taken {
				rec[k] = v
			}
		}
	}

	imgs, err := c.images(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if len(imgs) == 0 && parent != nil {
		if imgs, err = c.images(ctx, parent.ID); err != nil {
			return nil, err
		}
	}
	if len(imgs) > 0 {
		rec["image"] = imgs[0]
	}
	if len(imgs) > 1 {
		rec["gallery"] = imgs[1:]
	}

	catID := p.ID
	if parent != nil {
		catID = parent.ID
	}
	path, err := c.CategoryPath(ctx, catID)
	if err != nil {
		return nil, err
	}
	rec["category_path"] = path

	return rec, nil
}

func mergeFromParent(p, parent *Product) {
	if p.SKU == "" {
		p.SKU = parent.SKU
	}
	if p.Title == "" {
		p.Title = parent.Title
	}
	if p.Description == "" {
		p.Description = parent.Description
	}
	if p.ShortDescription == "" {
		p.ShortDescription = parent.ShortDescription
	}
	if p.Permalink == "" {
		p.Permalink = parent.Permalink
	}
	if p.StockStatus == "" {
		p.StockStatus = parent.StockStatus
	}
	if p.Weight == "" {
		p.Weight = parent.Weight
	}
	if p.RegularPrice == "" {
		p.RegularPrice = parent.RegularPrice
	}
	if p.SalePrice == "" {
		p.SalePrice = parent.SalePrice
	}
}
