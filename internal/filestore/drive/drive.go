// Package drive stores receipts in Google Drive under year and month
// folders and recognizes their text with Drive's OCR conversion.
package drive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"receipts/internal/core"
	"receipts/internal/filestore"

	gdrive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	folderMIME   = "application/vnd.google-apps.folder"
	documentMIME = "application/vnd.google-apps.document"

	// maxExportBytes caps the text read back from an OCR export.
	maxExportBytes = 1 << 20
	cleanupTimeout = 30 * time.Second
)

// Options tunes a Store.
type Options struct {
	OCRLanguage string
	Now         func() time.Time
	Logger      *slog.Logger
}

// Store implements filestore.Store and filestore.Recognizer on Drive v3.
type Store struct {
	svc     *gdrive.Service
	rootID  string
	ocrLang string
	now     func() time.Time
	logger  *slog.Logger

	mu      sync.Mutex
	folders map[string]string
}

var (
	_ filestore.Store      = (*Store)(nil)
	_ filestore.Recognizer = (*Store)(nil)
)

// New creates a Drive store rooted at rootFolderID. credentialsJSON is a
// service account key; when empty, clientOpts must carry authentication.
func New(ctx context.Context, rootFolderID string, credentialsJSON []byte, opts Options, clientOpts ...option.ClientOption) (*Store, error) {
	if strings.TrimSpace(rootFolderID) == "" {
		return nil, errors.New("missing DRIVE_ROOT_FOLDER_ID")
	}
	var all []option.ClientOption
	if len(credentialsJSON) > 0 {
		all = append(all, option.WithCredentialsJSON(credentialsJSON), option.WithScopes(gdrive.DriveScope))
	}
	all = append(all, clientOpts...)

	svc, err := gdrive.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	if opts.Now == nil {
		opts.Now = filestore.Clock(time.UTC)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.OCRLanguage == "" {
		opts.OCRLanguage = "ja"
	}
	return &Store{
		svc:     svc,
		rootID:  rootFolderID,
		ocrLang: opts.OCRLanguage,
		now:     opts.Now,
		logger:  opts.Logger,
		folders: make(map[string]string),
	}, nil
}

// Store uploads body into the YYYY/MM folder of the current time.
func (s *Store) Store(ctx context.Context, att core.Attachment, body []byte) (filestore.StoredFile, error) {
	t := s.now()
	year, month := filestore.Folders(t)

	yearID, err := s.folder(ctx, s.rootID, year)
	if err != nil {
		return filestore.StoredFile{}, err
	}
	monthID, err := s.folder(ctx, yearID, month)
	if err != nil {
		return filestore.StoredFile{}, err
	}

	name := filestore.FileName(t, att.Extension())
	meta := &gdrive.File{Name: name, Parents: []string{monthID}, MimeType: att.MIMEType}
	created, err := s.svc.Files.Create(meta).
		Media(bytes.NewReader(body), googleapi.ContentType(att.MIMEType)).
		Fields("id", "name", "webViewLink", "mimeType").
		SupportsAllDrives(true).
		Context(ctx).Do()
	if err != nil {
		return filestore.StoredFile{}, fmt.Errorf("upload %s: %w", name, err)
	}

	s.logger.InfoContext(ctx, "Receipt stored in Drive", "file_id", created.Id, "name", created.Name, "folder", year+"/"+month)
	return filestore.StoredFile{
		ID:       created.Id,
		Name:     created.Name,
		URL:      created.WebViewLink,
		MIMEType: att.MIMEType,
		Folder:   path.Join(year, month),
	}, nil
}

// Recognize converts a copy of the file into a document with OCR, exports
// it as plain text and deletes the copy.
func (s *Store) Recognize(ctx context.Context, file filestore.StoredFile, _ []byte) (text string, err error) {
	doc, err := s.svc.Files.Copy(file.ID, &gdrive.File{Name: file.Name + "_ocr", MimeType: documentMIME}).
		OcrLanguage(s.ocrLang).
		Fields("id").
		SupportsAllDrives(true).
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("ocr copy of %s: %w", file.ID, err)
	}

	// The transient document is removed even when the export fails or ctx
	// has been cancelled.
	defer func() {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()
		if derr := s.svc.Files.Delete(doc.Id).SupportsAllDrives(true).Context(cctx).Do(); derr != nil {
			s.logger.WarnContext(ctx, "Failed to delete OCR document", "doc_id", doc.Id, "error", derr)
		}
	}()

	resp, err := s.svc.Files.Export(doc.Id, "text/plain").Context(ctx).Download()
	if err != nil {
		return "", fmt.Errorf("export ocr text of %s: %w", file.ID, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxExportBytes))
	if err != nil {
		return "", fmt.Errorf("read ocr text of %s: %w", file.ID, err)
	}
	text = strings.TrimSpace(strings.TrimPrefix(string(b), "\ufeff"))
	if text == "" {
		return "", fmt.Errorf("%w: %s", filestore.ErrNoText, file.Name)
	}
	return text, nil
}

// folder returns the id of the child folder name under parent, creating it
// when absent. Results are cached for the life of the process.
func (s *Store) folder(ctx context.Context, parent, name string) (string, error) {
	key := parent + "/" + name
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.folders[key]; ok {
		return id, nil
	}

	q := fmt.Sprintf("name = '%s' and '%s' in parents and mimeType = '%s' and trashed = false",
		escapeQuery(name), escapeQuery(parent), folderMIME)
	list, err := s.svc.Files.List().Q(q).
		Fields("files(id, name)").
		PageSize(1).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("find folder %s: %w", name, err)
	}
	if len(list.Files) > 0 {
		s.folders[key] = list.Files[0].Id
		return list.Files[0].Id, nil
	}

	created, err := s.svc.Files.Create(&gdrive.File{Name: name, MimeType: folderMIME, Parents: []string{parent}}).
		Fields("id").
		SupportsAllDrives(true).
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("create folder %s: %w", name, err)
	}
	s.logger.InfoContext(ctx, "Drive folder created", "name", name, "parent", parent, "folder_id", created.Id)
	s.folders[key] = created.Id
	return created.Id, nil
}

func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}
