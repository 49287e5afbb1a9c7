package vision

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDetect(t *testing.T) {
	var gotContentType string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/recognize" {
			t.Errorf("path = %q", r.URL.Path)
		}
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		json.NewEncoder(w).Encode(recognizeResponse{
			Faces: []Detection{
				{Name: "Dave", Box: Rect{Top: 10, Right: 110, Bottom: 90, Left: 30}},
				{Name: Unknown},
			},
		})
	}))
	defer srv.Close()

	d := NewHTTPDetector(srv.URL + "/")
	faces, err := d.Detect(context.Background(), []byte("jpegbytes"))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	if gotContentType != "image/jpeg" {
		t.Errorf("content type = %q", gotContentType)
	}
	if string(gotBody) != "jpegbytes" {
		t.Errorf("body = %q", gotBody)
	}
	if len(faces) != 2 || faces[0].Name != "Dave" {
		t.Errorf("faces = %+v", faces)
	}
	if !faces[1].IsUnknown() {
		t.Error("second face should be unknown")
	}
	if faces[0].Box.Left != 30 {
		t.Errorf("box = %+v", faces[0].Box)
	}
}

func TestDetect_ServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := NewHTTPDetector(srv.URL)
	if _, err := d.Detect(context.Background(), nil); err == nil {
		t.Fatal("expected error on 503")
	}
}

func TestRegisterPending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/register" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		if req["name"] != "Frank" {
			t.Errorf("name = %q", req["name"])
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewHTTPDetector(srv.URL)
	if err := d.RegisterPending(context.Background(), "Frank"); err != nil {
		t.Fatalf("RegisterPending: %v", err)
	}
}

func TestRegisterPending_NoPendingFace(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no unknown face in view", http.StatusConflict)
	}))
	defer srv.Close()

	d := NewHTTPDetector(srv.URL)
	if err := d.RegisterPending(context.Background(), "Frank"); err == nil {
		t.Fatal("expected error when no face is pending")
	}
}

func TestKnownNames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string][]string{"names": {"Dave", "Frank"}})
	}))
	defer srv.Close()

	d := NewHTTPDetector(srv.URL)
	names, err := d.KnownNames(context.Background())
	if err != nil {
		t.Fatalf("KnownNames: %v", err)
	}
	if len(names) != 2 || names[0] != "Dave" {
		t.Errorf("names = %v", names)
	}
}
