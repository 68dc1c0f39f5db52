/*
Package importer reads the flat-file product list that seeds the catalog.

SOURCES:
  http(s)://... URLs (the published spreadsheet CSV) or a local file path.

FORMAT:
  CSV with a header row. Delimiter is ',' or ';' (whichever the header uses).
  Columns are matched case-insensitively:
    name:     nome, name, produto, product
    price:    valor, price, preco, preço, unit_price, valor_unitario
    quantity: quantidade, quantity, qtd, estoque, stock

  Prices may carry an "R$" prefix and use a decimal comma ("6,50"); they
  must be whole cents.

Rows with a blank name, or a price or quantity that does not parse as a
non-negative number, are dropped and counted in the Report. A missing
column is an error for the whole file.
*/
package importer

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/EricCamachoDM/caixa-festa/pos"
)

// MaxSourceBytes caps how much of a source is read.
const MaxSourceBytes = 10 << 20

var (
	ErrMissingColumn = errors.New("missing required column")
	ErrFetch         = errors.New("failed to fetch catalog source")
	ErrEmptySource   = errors.New("catalog source is empty")
)

// Report summarizes one parse.
type Report struct {
	Rows    int      `json:"rows"`    // data rows seen, header excluded
	Dropped int      `json:"dropped"` // rows that failed to parse
	Reasons []string `json:"reasons,omitempty"`
}

var columnAliases = map[string][]string{
	"name":     {"nome", "name", "produto", "product"},
	"price":    {"valor", "price", "preco", "preço", "unit_price", "valor_unitario", "valor unitário"},
	"quantity": {"quantidade", "quantity", "qtd", "estoque", "stock"},
}

// Load fetches source and parses it.
func Load(ctx context.Context, client *http.Client, source string) ([]pos.ImportRow, Report, error) {
	body, err := Fetch(ctx, client, source)
	if err != nil {
		return nil, Report{}, err
	}
	defer body.Close()
	return Parse(body)
}

// IsRemote reports whether source is an absolute http(s) URL with a host.
// Anything else is treated as a local path by Fetch.
func IsRemote(source string) bool {
	u, err := url.Parse(strings.TrimSpace(source))
	if err != nil || u.Host == "" {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}

// Fetch opens source for reading. A nil client means http.DefaultClient.
func Fetch(ctx context.Context, client *http.Client, source string) (io.ReadCloser, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, fmt.Errorf("%w: no source given", ErrFetch)
	}

	if !IsRemote(source) {
		f, err := os.Open(source)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFetch, err)
		}
		return f, nil
	}

	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	req.Header.Set("Accept", "text/csv, text/plain;q=0.9, */*;q=0.1")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s returned %s", ErrFetch, source, resp.Status)
	}
	return resp.Body, nil
}

// Parse reads CSV rows into import rows.
func Parse(r io.Reader) ([]pos.ImportRow, Report, error) {
	var report Report

	data, err := io.ReadAll(io.LimitReader(r, MaxSourceBytes))
	if err != nil {
		return nil, report, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, report, ErrEmptySource
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = detectDelimiter(data)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, report, fmt.Errorf("failed to read header: %w", err)
	}
	cols, err := resolveColumns(header)
	if err != nil {
		return nil, report, err
	}

	var rows []pos.ImportRow
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			// A broken quote or similar only costs this record.
			report.Rows++
			report.drop(line, err.Error())
			continue
		}
		if isBlank(record) {
			continue
		}
		report.Rows++

		row, reason := parseRecord(record, cols)
		if reason != "" {
			report.drop(line, reason)
			continue
		}
		rows = append(rows, row)
	}

	return rows, report, nil
}

func (r *Report) drop(line int, reason string) {
	r.Dropped++
	r.Reasons = append(r.Reasons, fmt.Sprintf("row %d: %s", line, reason))
}

type columns struct {
	name, price, quantity int
}

func resolveColumns(header []string) (columns, error) {
	found := map[string]int{}
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		for field, aliases := range columnAliases {
			if _, seen := found[field]; seen {
				continue
			}
			for _, alias := range aliases {
				if h == alias {
					found[field] = i
					break
				}
			}
		}
	}

	for _, field := range []string{"name", "price", "quantity"} {
		if _, ok := found[field]; !ok {
			return columns{}, fmt.Errorf("%w: %s (accepted: %s)",
				ErrMissingColumn, field, strings.Join(columnAliases[field], ", "))
		}
	}
	return columns{name: found["name"], price: found["price"], quantity: found["quantity"]}, nil
}

func parseRecord(record []string, cols columns) (pos.ImportRow, string) {
	field := func(i int) string {
		if i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	name := field(cols.name)
	if name == "" {
		return pos.ImportRow{}, "blank name"
	}

	price, err := ParsePrice(field(cols.price))
	if err != nil {
		return pos.ImportRow{}, fmt.Sprintf("%s: %v", name, err)
	}

	qty, err := ParseQuantity(field(cols.quantity))
	if err != nil {
		return pos.ImportRow{}, fmt.Sprintf("%s: %v", name, err)
	}

	return pos.ImportRow{Name: name, UnitPrice: price, Quantity: qty}, ""
}

// ParsePrice accepts "6.50", "6,50", "R$ 6,50" and "1.234,50".
func ParsePrice(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "R$")
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	if s == "" {
		return decimal.Zero, errors.New("blank price")
	}

	if strings.Contains(s, ",") {
		// Brazilian notation: '.' groups thousands, ',' marks decimals.
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid price %q", s)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative price %s", d)
	}
	if !d.Equal(d.Truncate(pos.PriceScale)) {
		return decimal.Zero, fmt.Errorf("price %s has fractions of a cent", d)
	}
	if d.GreaterThan(pos.MaxUnitPrice) {
		return decimal.Zero, fmt.Errorf("price %s is too large", d)
	}
	return d, nil
}

// ParseQuantity accepts non-negative integers; "12.0" is tolerated since
// spreadsheets export whole numbers that way.
func ParseQuantity(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("blank quantity")
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", "."))
	if err != nil || !d.Equal(d.Truncate(0)) {
		return 0, fmt.Errorf("invalid quantity %q", s)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("negative quantity %s", d)
	}
	if d.GreaterThan(decimal.NewFromInt(pos.MaxStock)) {
		return 0, fmt.Errorf("quantity %s is too large", d)
	}
	return int(d.IntPart()), nil
}

func detectDelimiter(data []byte) rune {
	firstLine := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		firstLine = data[:i]
	}
	if bytes.Count(firstLine, []byte(";")) > bytes.Count(firstLine, []byte(",")) {
		return ';'
	}
	return ','
}

func isBlank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
