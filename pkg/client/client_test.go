package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openhms/medledger/pkg/client"
)

var ctx = context.Background()

func TestOverviewAndValidate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/ledger":
			json.NewEncoder(w).Encode(map[string]any{"blocks": 7, "tip": "abc123"})
		case "/api/v1/ledger/validate":
			json.NewEncoder(w).Encode(map[string]any{"valid": false, "failed_index": 3, "error": "bad hash"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := client.New(srv.URL)

	ov, err := c.Overview(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ov.Blocks != 7 || ov.Tip != "abc123" {
		t.Errorf("overview: %+v", ov)
	}

	vr, err := c.Validate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if vr.Valid || vr.FailedIndex != 3 {
		t.Errorf("validation result: %+v", vr)
	}
}

func TestVerifyRecord_sendsTuple(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/ledger/verify" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]any{"attested": true})
	}))
	defer srv.Close()

	ok, err := client.New(srv.URL).VerifyRecord(ctx, "PATIENTS", "42", "aabb")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("expected attested=true")
	}
	if got["table_name"] != "PATIENTS" || got["record_id"] != "42" || got["data_hash"] != "aabb" {
		t.Errorf("request payload: %v", got)
	}
}

func TestErrorResponsesSurfaceMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "limit must be a positive integer"})
	}))
	defer srv.Close()

	_, err := client.New(srv.URL).Blocks(ctx, -1)
	if err == nil {
		t.Fatal("expected error")
	}
	if want := "limit must be a positive integer"; !strings.Contains(err.Error(), want) {
		t.Errorf("error %q does not carry server message %q", err, want)
	}
}

func TestSync_summaryRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"run_id":    "e4b1c9aa-0000-0000-0000-000000000000",
			"processed": 12,
			"attested":  4,
			"errors":    map[string]string{"STAFF": "permission denied"},
		})
	}))
	defer srv.Close()

	summary, err := client.New(srv.URL).Sync(ctx, []string{"PATIENTS", "STAFF"})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Processed != 12 || summary.Attested != 4 {
		t.Errorf("summary: %+v", summary)
	}
	if summary.Errors["STAFF"] == "" {
		t.Error("per-table error lost in transit")
	}
}
