package spruceapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wphospital/sprucepy/internal/core"
)

func TestCreateRun(t *testing.T) {
	var form map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/runs" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		form = map[string]string{
			"task":       r.PostFormValue("task"),
			"status":     r.PostFormValue("status"),
			"created_by": r.PostFormValue("created_by"),
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": 42}`))
	}))
	defer srv.Close()

	client := New(Options{BaseURL: srv.URL})
	id, err := client.CreateRun(context.Background(), "7", "1", time.Now())
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if id != "42" {
		t.Errorf("run id = %q, want %q", id, "42")
	}
	if form["task"] != "7" || form["created_by"] != "1" {
		t.Errorf("form = %v", form)
	}
	if form["status"] != string(core.RunStatusInProgress) {
		t.Errorf("status = %q, want in progress", form["status"])
	}
}

func TestFinalizeRunForm(t *testing.T) {
	var form map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/runs/42" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		r.ParseForm()
		form = map[string]string{
			"status":      r.PostFormValue("status"),
			"return_code": r.PostFormValue("return_code"),
			"error_text":  r.PostFormValue("error_text"),
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := New(Options{BaseURL: srv.URL})
	rc := 17
	err := client.FinalizeRun(context.Background(), "42", Finalization{
		EndTime:    time.Now(),
		Status:     core.RunStatusFail,
		ReturnCode: &rc,
		Error:      "boom",
	})
	if err != nil {
		t.Fatalf("FinalizeRun: %v", err)
	}
	if form["status"] != "fail" || form["return_code"] != "17" || form["error_text"] != "boom" {
		t.Errorf("form = %v", form)
	}
}

func TestSecretByKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sekrit" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/secrets/db_password":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"value": "hunter2"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	t.Run("found", func(t *testing.T) {
		client := New(Options{BaseURL: srv.URL, Token: "sekrit"})
		val, err := client.SecretByKey(context.Background(), "db_password")
		if err != nil {
			t.Fatalf("SecretByKey: %v", err)
		}
		if val != "hunter2" {
			t.Errorf("value = %q", val)
		}
	})

	t.Run("missing key", func(t *testing.T) {
		client := New(Options{BaseURL: srv.URL, Token: "sekrit"})
		_, err := client.SecretByKey(context.Background(), "nope")
		if !errors.Is(err, ErrSecretNotFound) {
			t.Errorf("err = %v, want ErrSecretNotFound", err)
		}
	})

	t.Run("bad token", func(t *testing.T) {
		client := New(Options{BaseURL: srv.URL, Token: "wrong"})
		_, err := client.SecretByKey(context.Background(), "db_password")
		if !errors.Is(err, ErrSecretPermission) {
			t.Errorf("err = %v, want ErrSecretPermission", err)
		}
	})
}

func TestRecipients(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("task_id") != "7" || r.URL.Query().Get("category") != "error" {
			t.Errorf("query = %v", r.URL.Query())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"person": 3, "mode": "email", "email": "a@example.org", "send_line": "to", "task_name": "Nightly"}]`))
	}))
	defer srv.Close()

	client := New(Options{BaseURL: srv.URL})
	recipients, err := client.Recipients(context.Background(), "7", "error")
	if err != nil {
		t.Fatalf("Recipients: %v", err)
	}
	if len(recipients) != 1 || recipients[0].Person != 3 || recipients[0].TaskName != "Nightly" {
		t.Errorf("recipients = %+v", recipients)
	}
}

func TestServerErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := New(Options{BaseURL: srv.URL})
	if _, err := client.CreateRun(context.Background(), "1", "1", time.Now()); err == nil {
		t.Error("expected error on 500")
	}
	if err := client.PatchHeartbeat(context.Background(), "1", time.Now()); err == nil {
		t.Error("expected error on 500")
	}
}
