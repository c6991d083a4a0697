package ingest

import (
	"errors"
	"strings"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestColumnKind(t *testing.T) {
	tests := []struct {
		module domain.Module
		column string
		want   Kind
	}{
		{domain.ModuleChurn, "tenure_months", KindNumber},
		{domain.ModuleChurn, "customer_id", KindString},
		{domain.ModuleChurn, "signup_date", KindString},
		{domain.ModuleChurn, "churn_days_open", KindNumber},
		{domain.ModuleCredit, "debt_to_income", KindNumber},
		{domain.ModuleCredit, "interest_rate", KindNumber},
		{domain.ModuleCredit, "loan_grade", KindString},
		{domain.ModuleFraud, "is_night_time", KindBool},
		{domain.ModuleFraud, "cross_border", KindBool},
		{domain.ModuleFraud, "account_id", KindString},
		{domain.ModuleFraud, "merchant_score", KindNumber},
		{domain.ModuleCyber, "privilege_escalation", KindBool},
		{domain.ModuleCyber, "suspicious_login", KindBool},
		{domain.ModuleCyber, "response_code", KindNumber},
		{domain.ModuleCyber, "timestamp", KindString},
		{domain.ModuleESG, "governance_score", KindNumber},
		{domain.ModuleESG, "company", KindString},
		{domain.ModuleForecast, "spend", KindNumber},
		{domain.ModuleForecast, "period", KindString},
	}
	for _, tt := range tests {
		t.Run(string(tt.module)+"/"+tt.column, func(t *testing.T) {
			if got := ColumnKind(tt.module, tt.column); got != tt.want {
				t.Errorf("ColumnKind(%s, %s) = %v, want %v", tt.module, tt.column, got, tt.want)
			}
		})
	}
}

func TestCoerce(t *testing.T) {
	if got := Coerce(KindNumber, " 12.5 "); got != 12.5 {
		t.Errorf("expected 12.5, got %v", got)
	}
	if got := Coerce(KindNumber, "n/a"); got != 0.0 {
		t.Errorf("expected 0 for malformed number, got %v", got)
	}
	if got := Coerce(KindNumber, "12abc"); got != 0.0 {
		t.Errorf("expected strict parsing, got %v", got)
	}
	for _, raw := range []string{"NaN", "Inf", "-infinity", "+Inf"} {
		if got := Coerce(KindNumber, raw); got != 0.0 {
			t.Errorf("expected 0 for non-finite %q, got %v", raw, got)
		}
	}
	if got := Coerce(KindBool, "TRUE"); got != true {
		t.Errorf("expected true, got %v", got)
	}
	if got := Coerce(KindBool, "maybe"); got != false {
		t.Errorf("expected false, got %v", got)
	}
	if got := Coerce(KindString, " SMB "); got != "SMB" {
		t.Errorf("expected trimmed text, got %v", got)
	}
}

func TestParse(t *testing.T) {
	csv := "\ufeffcustomer_id,tenure_months,segment,signup_date\n" +
		"C1,3,SMB,2024-01-15\n" +
		"C2,oops,Enterprise\n" +
		"\n" +
		"C3,24,Startup,2024-02-01,extra\n"

	ds, err := Parse(strings.NewReader(csv), domain.ModuleChurn, Options{})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	want := []string{"customer_id", "tenure_months", "segment", "signup_date"}
	if len(ds.Columns) != len(want) {
		t.Fatalf("expected %d columns, got %v", len(want), ds.Columns)
	}
	for i, c := range want {
		if ds.Columns[i] != c {
			t.Errorf("column %d: expected %q, got %q", i, c, ds.Columns[i])
		}
	}
	if len(ds.Rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(ds.Rows))
	}

	if ds.Rows[0][domain.ColTenureMonths] != 3.0 || ds.Rows[0][domain.ColCustomerID] != "C1" {
		t.Errorf("unexpected first row: %v", ds.Rows[0])
	}
	if ds.Rows[1][domain.ColTenureMonths] != 0.0 {
		t.Errorf("expected malformed number coerced to 0, got %v", ds.Rows[1][domain.ColTenureMonths])
	}
	if v, ok := ds.Rows[1][domain.ColSignupDate]; !ok || v != "" {
		t.Errorf("expected short row padded, got %v", ds.Rows[1])
	}
	if len(ds.Rows[2]) != 4 {
		t.Errorf("expected extra fields dropped, got %v", ds.Rows[2])
	}
	if len(ds.Digest) != 64 {
		t.Errorf("expected hex sha256 digest, got %q", ds.Digest)
	}
}

func TestParseDigest(t *testing.T) {
	a, _ := ParseBytes([]byte("amount\n1\n"), domain.ModuleFraud, Options{})
	b, _ := ParseBytes([]byte("amount\n1\n"), domain.ModuleFraud, Options{})
	c, _ := ParseBytes([]byte("amount\n2\n"), domain.ModuleFraud, Options{})
	if a.Digest != b.Digest {
		t.Error("expected identical uploads to share a digest")
	}
	if a.Digest == c.Digest {
		t.Error("expected different uploads to differ")
	}
}

func TestParseEmpty(t *testing.T) {
	ds, err := Parse(strings.NewReader(""), domain.ModuleCredit, Options{})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(ds.Rows) != 0 || len(ds.Columns) != 0 {
		t.Errorf("expected empty dataset, got %+v", ds)
	}

	ds, err = Parse(strings.NewReader("loan_id,loan_amount\n"), domain.ModuleCredit, Options{})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(ds.Rows) != 0 || len(ds.Columns) != 2 {
		t.Errorf("expected header only dataset, got %+v", ds)
	}
}

func TestParseErrors(t *testing.T) {
	if _, err := Parse(strings.NewReader("a\n1\n"), domain.Module("weather"), Options{}); !errors.Is(err, domain.ErrUnknownModule) {
		t.Errorf("expected ErrUnknownModule, got %v", err)
	}

	_, err := Parse(strings.NewReader("amount\n1\n2\n3\n"), domain.ModuleFraud, Options{MaxRows: 2})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput over the row limit, got %v", err)
	}

	ds, err := Parse(strings.NewReader("amount\n1\n2\n"), domain.ModuleFraud, Options{MaxRows: 2})
	if err != nil || len(ds.Rows) != 2 {
		t.Errorf("expected exactly MaxRows accepted, got %v / %v", ds, err)
	}
}

func TestParseTyped(t *testing.T) {
	csv := "transaction_id,account_id,amount,is_night_time,cross_border,timestamp\n" +
		"T1,A1,1500.50,true,0,2024-05-01T02:00:00Z\n"
	ds, err := Parse(strings.NewReader(csv), domain.ModuleFraud, Options{})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	row := ds.Rows[0]
	if row.Float(domain.ColAmount) != 1500.5 {
		t.Errorf("expected amount 1500.5, got %v", row[domain.ColAmount])
	}
	if row[domain.ColIsNightTime] != true || row[domain.ColCrossBorder] != false {
		t.Errorf("unexpected booleans: %v", row)
	}
	if _, ok := row.Time(domain.ColTimestamp); !ok {
		t.Error("expected timestamp kept as parseable text")
	}
}
