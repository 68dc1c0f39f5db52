package importer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EricCamachoDM/caixa-festa/pos"
	"github.com/EricCamachoDM/caixa-festa/pos/store"
)

func TestParse_CommaSeparated(t *testing.T) {
	csv := "nome,valor,quantidade\nSoda,6.00,10\nCake,4.5,12\n"

	rows, report, err := Parse(strings.NewReader(csv))

	require.NoError(t, err)
	assert.Equal(t, 2, report.Rows)
	assert.Equal(t, 0, report.Dropped)
	require.Len(t, rows, 2)
	assert.Equal(t, "Soda", rows[0].Name)
	assert.Equal(t, "6", rows[0].UnitPrice.String())
	assert.Equal(t, 10, rows[0].Quantity)
	assert.Equal(t, "4.5", rows[1].UnitPrice.String())
}

func TestParse_SemicolonWithBrazilianPrices(t *testing.T) {
	// GIVEN: a spreadsheet export with ';' and decimal commas
	csv := "\ufeffProduto;Preço;Estoque\n" +
		"Pastel;R$ 8,50;30\n" +
		"Quentão;1.234,00;2\n" +
		"Pipoca;3;5,0\n"

	// WHEN: parsing
	rows, report, err := Parse(strings.NewReader(csv))

	// THEN: every row parses
	require.NoError(t, err)
	assert.Equal(t, 0, report.Dropped)
	require.Len(t, rows, 3)
	assert.Equal(t, "8.5", rows[0].UnitPrice.String())
	assert.Equal(t, "1234", rows[1].UnitPrice.String())
	assert.Equal(t, "Quentão", rows[1].Name)
	assert.Equal(t, 5, rows[2].Quantity)
}

func TestParse_DropsMalformedRows(t *testing.T) {
	csv := strings.Join([]string{
		"name,price,quantity",
		"Soda,6.00,10",
		",1.00,1",                        // blank name
		"Cake,abc,3",                     // bad price
		"Beer,-2,3",                      // negative price
		"Juice,2.00,",                    // blank quantity
		"Water,1.00,-1",                  // negative quantity
		"Candy,0.50,2.5",                 // fractional quantity
		"Gum,0.25,18446744073709551617",  // quantity past any int
		"Mints,0.25,9223372036854775808", // quantity past int64
		"Corn,6.555,3",                   // fraction of a cent
		"",
		"Popcorn,3.00,4",
	}, "\n")

	rows, report, err := Parse(strings.NewReader(csv))

	require.NoError(t, err)
	assert.Equal(t, 11, report.Rows, "blank lines are not rows")
	assert.Equal(t, 9, report.Dropped)
	assert.Len(t, report.Reasons, 9)
	require.Len(t, rows, 2)
	assert.Equal(t, "Soda", rows[0].Name)
	assert.Equal(t, "Popcorn", rows[1].Name)
}

func TestParse_MissingColumn(t *testing.T) {
	_, _, err := Parse(strings.NewReader("nome,valor\nSoda,6\n"))

	require.ErrorIs(t, err, ErrMissingColumn)
	assert.Contains(t, err.Error(), "quantity")
}

func TestParse_Empty(t *testing.T) {
	_, _, err := Parse(strings.NewReader("  \n"))
	assert.ErrorIs(t, err, ErrEmptySource)
}

func TestParse_ExtraColumnsAndOrder(t *testing.T) {
	csv := "categoria,quantidade,nome,valor\nbebida,10,Soda,6\n"

	rows, _, err := Parse(strings.NewReader(csv))

	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, pos.ImportRow{Name: "Soda", UnitPrice: rows[0].UnitPrice, Quantity: 10}, rows[0])
	assert.Equal(t, "6", rows[0].UnitPrice.String())
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"6.50", "6.5", false},
		{"6,50", "6.5", false},
		{"R$6,50", "6.5", false},
		{"R$ 1.234,56", "1234.56", false},
		{"0", "0", false},
		{"", "", true},
		{"six", "", true},
		{"-1", "", true},
		{"6.555", "", true},
		{"6,505", "", true},
		{"6.500", "6.5", false},
		{"10000000000", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePrice(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestParseQuantity(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"12", 12, false},
		{"12.0", 12, false},
		{"12,0", 12, false},
		{"0", 0, false},
		{"2147483647", pos.MaxStock, false},
		{"2147483648", 0, true},
		{"9223372036854775808", 0, true},
		{"18446744073709551617", 0, true},
		{"-3", 0, true},
		{"2.5", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseQuantity(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsRemote(t *testing.T) {
	assert.True(t, IsRemote("https://docs.example/export?format=csv"))
	assert.True(t, IsRemote("HTTP://sheet.example/catalog.csv"))
	assert.False(t, IsRemote("/etc/passwd"))
	assert.False(t, IsRemote("catalog.csv"))
	assert.False(t, IsRemote("file:///tmp/catalog.csv"))
	assert.False(t, IsRemote("ftp://sheet.example/catalog.csv"))
	assert.False(t, IsRemote("https://"))
}

func TestFetch_HTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/catalog.csv" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte("nome,valor,quantidade\nSoda,6,10\n"))
	}))
	defer srv.Close()

	rows, report, err := Load(context.Background(), srv.Client(), srv.URL+"/catalog.csv")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Rows)
	require.Len(t, rows, 1)
	assert.Equal(t, "Soda", rows[0].Name)

	_, _, err = Load(context.Background(), srv.Client(), srv.URL+"/missing.csv")
	assert.ErrorIs(t, err, ErrFetch)
	assert.Contains(t, err.Error(), "404")
}

func TestFetch_LocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.csv")
	require.NoError(t, os.WriteFile(path, []byte("name;price;qtd\nCake;4,50;3\n"), 0o644))

	rows, _, err := Load(context.Background(), nil, path)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "4.5", rows[0].UnitPrice.String())

	_, _, err = Load(context.Background(), nil, filepath.Join(t.TempDir(), "nope.csv"))
	assert.ErrorIs(t, err, ErrFetch)
}

func TestParseThenReconcile(t *testing.T) {
	// GIVEN: a catalog with one product already selling
	svc := pos.NewService(store.NewMemory())
	ctx := context.Background()
	_, err := svc.AddProduct(ctx, "Soda", decimal.RequireFromString("6"), 10)
	require.NoError(t, err)

	// WHEN: an import arrives with the same Soda and a new Cake
	rows, report, err := Parse(strings.NewReader("nome;valor;quantidade\nSoda;6,00;10\nCake;4,50;12\nBad;x;1\n"))
	require.NoError(t, err)
	res, err := svc.ReconcileCatalog(ctx, rows)
	require.NoError(t, err)

	// THEN: Soda is unchanged, Cake is inserted and the bad row never arrives
	assert.Equal(t, 1, report.Dropped)
	assert.Equal(t, pos.ReconcileResult{Inserted: 1, Unchanged: 1}, res)
}
