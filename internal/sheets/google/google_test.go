package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"jobdesk/internal/core"

	goption "google.golang.org/api/option"
)

func TestSheetRange(t *testing.T) {
	tests := []struct {
		sheet string
		want  string
	}{
		{"Invoices", "Invoices!A:F"},
		{"Invoice Log", "'Invoice Log'!A:F"},
		{"Bob's", "'Bob''s'!A:F"},
	}
	for _, tt := range tests {
		if got := sheetRange(tt.sheet, "A:F"); got != tt.want {
			t.Errorf("sheetRange(%q) = %q, want %q", tt.sheet, got, tt.want)
		}
	}
}

func TestInvoiceRow(t *testing.T) {
	job := core.Job{ID: 7, Client: "Rossi", Description: "Boiler service"}
	inv := core.Invoice{
		JobID: 7,
		Price: core.Money{Cents: 12550},
		Paid:  true,
		Charges: []core.ChargeLineItem{
			{ID: "a", Description: "Labour", Amount: core.Money{Cents: 5050}},
			{ID: "b", Description: "Parts", Amount: core.Money{Cents: 7500}},
		},
		UpdatedAt: time.Date(2024, 2, 3, 10, 0, 0, 0, time.UTC),
	}

	row := invoiceRow(job, inv)
	if len(row) != len(Header) {
		t.Fatalf("row has %d cells, header %d", len(row), len(Header))
	}
	if row[0] != int64(7) || row[1] != "Rossi" || row[2] != "Boiler service" {
		t.Errorf("row = %v", row)
	}
	if row[3] != 125.5 {
		t.Errorf("total cell = %v, want 125.5", row[3])
	}
	if row[4] != true || row[5] != "2024-02-03T10:00:00Z" {
		t.Errorf("row = %v", row)
	}
}

func TestNewWithOptions_MissingSpreadsheetID(t *testing.T) {
	_, err := NewWithOptions(context.Background(), "  ", "Invoices", nil, goption.WithoutAuthentication())
	if err == nil || !strings.Contains(err.Error(), "missing spreadsheet ID") {
		t.Fatalf("err = %v", err)
	}
}

func TestNew_MissingCredentials(t *testing.T) {
	_, err := New(context.Background(), Config{SpreadsheetID: "id"}, nil)
	if err == nil || !strings.Contains(err.Error(), "missing service account credentials") {
		t.Fatalf("err = %v", err)
	}
}

func TestClient_AppendInvoice(t *testing.T) {
	var (
		mu       sync.Mutex
		gotPath  string
		gotInput string
		gotBody  struct {
			Values [][]any `json:"values"`
		}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotPath = r.URL.Path
		gotInput = r.URL.Query().Get("valueInputOption")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"spreadsheetId":"sheet-id","updates":{"updatedRange":"Invoices!A2:F2","updatedRows":1}}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	c, err := NewWithOptions(ctx, "sheet-id", "Invoices", nil,
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithHTTPClient(srv.Client()),
		goption.WithoutAuthentication())
	if err != nil {
		t.Fatalf("NewWithOptions: %v", err)
	}

	job := core.Job{ID: 3, Client: "Verdi", Description: "Radiator install"}
	inv := core.Invoice{
		JobID:   3,
		Price:   core.Money{Cents: 45000},
		Charges: []core.ChargeLineItem{{ID: "a", Description: "Install", Amount: core.Money{Cents: 45000}}},
	}
	if err := c.AppendInvoice(ctx, job, inv); err != nil {
		t.Fatalf("AppendInvoice: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(gotPath, "sheet-id") || !strings.HasSuffix(gotPath, ":append") {
		t.Errorf("path = %q", gotPath)
	}
	if gotInput != "USER_ENTERED" {
		t.Errorf("valueInputOption = %q", gotInput)
	}
	if len(gotBody.Values) != 1 || len(gotBody.Values[0]) != len(Header) {
		t.Fatalf("values = %v", gotBody.Values)
	}
	if gotBody.Values[0][1] != "Verdi" || gotBody.Values[0][3] != float64(450) {
		t.Errorf("row = %v", gotBody.Values[0])
	}
}

func TestClient_AppendInvoiceServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":403,"message":"denied"}}`, http.StatusForbidden)
	}))
	defer srv.Close()

	ctx := context.Background()
	c, err := NewWithOptions(ctx, "sheet-id", "", nil,
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithHTTPClient(srv.Client()),
		goption.WithoutAuthentication())
	if err != nil {
		t.Fatalf("NewWithOptions: %v", err)
	}

	err = c.AppendInvoice(ctx, core.Job{ID: 1}, core.Invoice{JobID: 1})
	if err == nil || !strings.Contains(err.Error(), "append invoice row to Invoices") {
		t.Fatalf("err = %v", err)
	}
}
