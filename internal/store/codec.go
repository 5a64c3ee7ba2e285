package store

import "encoding/json"

// EncodeList stores a string list in a TEXT column.
func EncodeList(v []string) string {
	if len(v) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(v)
	return string(b)
}

// DecodeList reverses EncodeList; malformed input yields nil.
func DecodeList(s string) []string {
	var v []string
	if s == "" || json.Unmarshal([]byte(s), &v) != nil {
		return nil
	}
	return v
}

// Columns is the products table column list shared by the SQL backends, in
// the order ScanRow and Args expect.
const Columns = `reference, position, name, brand, category, description, price, original_price,
	discount_percent, in_stock, sizes, colors, images, source_url, extracted_at, run_id`

// Args flattens a row into statement arguments in Columns order.
func Args(r Row) []any {
	rec := r.Record
	return []any{
		rec.Reference, r.Position, rec.Name, rec.Brand, rec.Category, rec.Description,
		rec.Price, rec.OriginalPrice, rec.DiscountPercent, rec.InStock,
		EncodeList(rec.Sizes), EncodeList(rec.Colors), EncodeList(rec.Images),
		rec.SourceURL, rec.ExtractedAt.UTC(), rec.RunID,
	}
}

type scanner interface {
	Scan(dest ...any) error
}

// ScanRow reads one row selected with Columns.
func ScanRow(sc scanner) (Row, error) {
	var (
		r                     Row
		sizes, colors, images string
	)
	rec := &r.Record
	err := sc.Scan(&rec.Reference, &r.Position, &rec.Name, &rec.Brand, &rec.Category, &rec.Description,
		&rec.Price, &rec.OriginalPrice, &rec.DiscountPercent, &rec.InStock,
		&sizes, &colors, &images, &rec.SourceURL, &rec.ExtractedAt, &rec.RunID)
	if err != nil {
		return Row{}, err
	}
	rec.Sizes, rec.Colors, rec.Images = DecodeList(sizes), DecodeList(colors), DecodeList(images)
	rec.ExtractedAt = rec.ExtractedAt.UTC()
	return r, nil
}
