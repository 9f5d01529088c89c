package inventory

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestUploadForPreview(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/products/import-preview" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("missing file part: %v", err)
		}
		defer file.Close()
		if header.Filename != "products.csv" {
			t.Fatalf("file name = %q", header.Filename)
		}
		body, _ := io.ReadAll(file)
		if string(body) != "name,price\nmouse,9.99\n" {
			t.Fatalf("unexpected file contents: %q", body)
		}
		json.NewEncoder(w).Encode(map[string]string{"jobId": "job-42"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	jobID, err := c.UploadForPreview(context.Background(), "products.csv", strings.NewReader("name,price\nmouse,9.99\n"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if jobID != "job-42" {
		t.Fatalf("job id = %q, want job-42", jobID)
	}
}

func TestUploadForPreview_ErrorCarriesResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "file exceeds 10MB limit", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.UploadForPreview(context.Background(), "big.csv", strings.NewReader("x"))
	if err == nil {
		t.Fatalf("expected error")
	}
	if err.Error() != "file exceeds 10MB limit" {
		t.Fatalf("error message = %q, want the response body text", err.Error())
	}
}

func TestConfirmImport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/products/confirm-import" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if payload["jobId"] != "job-42" {
			t.Fatalf("jobId = %q", payload["jobId"])
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	if err := c.ConfirmImport(context.Background(), "job-42"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
}

func TestConfirmImport_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "job already confirmed", http.StatusConflict)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	err := c.ConfirmImport(context.Background(), "job-42")
	if err == nil || err.Error() != "job already confirmed" {
		t.Fatalf("error = %v, want body text", err)
	}
}

func TestJobStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/import/status/job-42" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(JobStatusResponse{
			JobID:          "job-42",
			Status:         "completed",
			SucceededCount: 8,
			FailedCount:    2,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	resp, err := c.JobStatus(context.Background(), "job-42")
	if err != nil {
		t.Fatalf("job status: %v", err)
	}
	if resp.Status != "completed" || resp.SucceededCount != 8 || resp.FailedCount != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}
