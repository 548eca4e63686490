package drive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"receipts/internal/core"
	"receipts/internal/filestore"

	gdrive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

var folderQuery = regexp.MustCompile(`name = '([^']*)' and '([^']*)' in parents`)

// fakeDrive serves the subset of the Drive v3 REST surface used by Store.
type fakeDrive struct {
	mu           sync.Mutex
	folders      map[string]string
	lists        int
	folderCreate int
	uploads      int
	copyQuery    string
	copyMIME     string
	deleted      []string
	exportStatus int
	exportBody   string
}

func newFakeDrive() *fakeDrive {
	return &fakeDrive{folders: map[string]string{}}
}

func (f *fakeDrive) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p := r.URL.Path
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(p, "/files"):
		f.lists++
		resp := &gdrive.FileList{}
		if m := folderQuery.FindStringSubmatch(r.URL.Query().Get("q")); m != nil {
			if id, ok := f.folders[m[2]+"/"+m[1]]; ok {
				resp.Files = []*gdrive.File{{Id: id, Name: m[1]}}
			}
		}
		_ = json.NewEncoder(w).Encode(resp)

	case r.Method == http.MethodPost && strings.Contains(p, "/upload/"):
		f.uploads++
		_ = json.NewEncoder(w).Encode(&gdrive.File{
			Id:          fmt.Sprintf("file-%d", f.uploads),
			Name:        "receipt_20260301_100000.jpg",
			WebViewLink: fmt.Sprintf("https://drive.google.com/file/d/file-%d/view", f.uploads),
			MimeType:    "image/jpeg",
		})

	case r.Method == http.MethodPost && strings.HasSuffix(p, "/files"):
		var meta gdrive.File
		_ = json.NewDecoder(r.Body).Decode(&meta)
		f.folderCreate++
		id := fmt.Sprintf("fld-%d", f.folderCreate)
		f.folders[meta.Parents[0]+"/"+meta.Name] = id
		_ = json.NewEncoder(w).Encode(&gdrive.File{Id: id, Name: meta.Name})

	case r.Method == http.MethodPost && strings.HasSuffix(p, "/copy"):
		var meta gdrive.File
		_ = json.NewDecoder(r.Body).Decode(&meta)
		f.copyQuery = r.URL.Query().Get("ocrLanguage")
		f.copyMIME = meta.MimeType
		_ = json.NewEncoder(w).Encode(&gdrive.File{Id: "doc-1"})

	case r.Method == http.MethodGet && strings.HasSuffix(p, "/export"):
		if f.exportStatus != 0 {
			w.WriteHeader(f.exportStatus)
			_, _ = w.Write([]byte(`{"error":{"code":403,"message":"export denied"}}`))
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(f.exportBody))

	case r.Method == http.MethodDelete:
		f.deleted = append(f.deleted, p[strings.LastIndex(p, "/")+1:])
		w.WriteHeader(http.StatusNoContent)

	default:
		http.NotFound(w, r)
	}
}

func newTestStore(t *testing.T, api *fakeDrive) *Store {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s, err := New(context.Background(), "root", nil, Options{Now: func() time.Time { return now }},
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNew_RequiresRoot(t *testing.T) {
	if _, err := New(context.Background(), " ", nil, Options{}, option.WithoutAuthentication()); err == nil {
		t.Fatal("expected error for missing root folder")
	}
}

func TestStore_CreatesFoldersOnceAndUploads(t *testing.T) {
	api := newFakeDrive()
	s := newTestStore(t, api)
	ctx := context.Background()
	att := core.Attachment{ID: "F1", Name: "r.jpg", MIMEType: "image/jpeg"}

	f, err := s.Store(ctx, att, []byte("jpeg"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if f.URL != "https://drive.google.com/file/d/file-1/view" || f.Folder != "2026/03" || f.ID != "file-1" {
		t.Errorf("unexpected stored file %+v", f)
	}
	if api.folders["root/2026"] == "" || api.folders[api.folders["root/2026"]+"/03"] == "" {
		t.Fatalf("year/month folders not created: %v", api.folders)
	}

	lists := api.lists
	if _, err := s.Store(ctx, att, []byte("jpeg")); err != nil {
		t.Fatalf("second Store: %v", err)
	}
	if api.lists != lists || api.folderCreate != 2 {
		t.Errorf("folders looked up again: lists %d -> %d, creates %d", lists, api.lists, api.folderCreate)
	}
	if api.uploads != 2 {
		t.Errorf("uploads = %d, want 2", api.uploads)
	}
}

func TestStore_ReusesExistingFolders(t *testing.T) {
	api := newFakeDrive()
	api.folders["root/2026"] = "y2026"
	api.folders["y2026/03"] = "m03"
	s := newTestStore(t, api)

	if _, err := s.Store(context.Background(), core.Attachment{MIMEType: "application/pdf"}, []byte("%PDF")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if api.folderCreate != 0 {
		t.Errorf("existing folders recreated %d times", api.folderCreate)
	}
}

func TestRecognize_ExportsTextAndDeletesCopy(t *testing.T) {
	api := newFakeDrive()
	api.exportBody = "\ufeff合計 ¥3,000\n"
	s := newTestStore(t, api)

	text, err := s.Recognize(context.Background(), filestore.StoredFile{ID: "file-1", Name: "r.jpg"}, nil)
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if text != "合計 ¥3,000" {
		t.Errorf("text = %q", text)
	}
	if api.copyQuery != "ja" || api.copyMIME != documentMIME {
		t.Errorf("copy sent ocrLanguage=%q mime=%q", api.copyQuery, api.copyMIME)
	}
	if len(api.deleted) != 1 || api.deleted[0] != "doc-1" {
		t.Errorf("deleted = %v, want [doc-1]", api.deleted)
	}
}

func TestRecognize_DeletesCopyWhenExportFails(t *testing.T) {
	api := newFakeDrive()
	api.exportStatus = http.StatusForbidden
	s := newTestStore(t, api)

	if _, err := s.Recognize(context.Background(), filestore.StoredFile{ID: "file-1"}, nil); err == nil {
		t.Fatal("expected export error")
	}
	if len(api.deleted) != 1 {
		t.Errorf("transient document not deleted: %v", api.deleted)
	}
}

func TestRecognize_EmptyText(t *testing.T) {
	api := newFakeDrive()
	api.exportBody = "  \n"
	s := newTestStore(t, api)

	_, err := s.Recognize(context.Background(), filestore.StoredFile{ID: "file-1"}, nil)
	if !errors.Is(err, filestore.ErrNoText) {
		t.Fatalf("expected ErrNoText, got %v", err)
	}
}

func TestEscapeQuery(t *testing.T) {
	if got := escapeQuery(`a'b\c`); got != `a\'b\\c` {
		t.Errorf("escapeQuery = %q", got)
	}
}
