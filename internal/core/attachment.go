package core

import (
	"path"
	"strings"
)

// AttachmentKind classifies an attachment for the pipeline.
type AttachmentKind int

const (
	KindUnsupported AttachmentKind = iota
	KindImage
	KindPDF
)

func (k AttachmentKind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindPDF:
		return "pdf"
	default:
		return "unsupported"
	}
}

// Attachment is a file shared alongside a chat message.
type Attachment struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MIMEType    string `json:"mime_type"`
	DownloadURL string `json:"download_url"`
}

// ClassifyMIME maps a declared media type onto an AttachmentKind.
func ClassifyMIME(mimeType string) AttachmentKind {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	switch {
	case strings.HasPrefix(mt, "image/"):
		return KindImage
	case mt == "application/pdf":
		return KindPDF
	default:
		return KindUnsupported
	}
}

// Kind classifies the attachment by its declared media type.
func (a Attachment) Kind() AttachmentKind {
	return ClassifyMIME(a.MIMEType)
}

var extByMIME = map[string]string{
	"image/jpeg":      "jpg",
	"image/jpg":       "jpg",
	"image/png":       "png",
	"image/gif":       "gif",
	"image/webp":      "webp",
	"image/heic":      "heic",
	"image/heif":      "heif",
	"application/pdf": "pdf",
}

// Extension infers a file extension: declared media type first, then the
// file name suffix, then "bin".
func (a Attachment) Extension() string {
	mt := strings.ToLower(strings.TrimSpace(a.MIMEType))
	if ext, ok := extByMIME[mt]; ok {
		return ext
	}
	if ext := strings.TrimPrefix(path.Ext(a.Name), "."); ext != "" {
		return strings.ToLower(ext)
	}
	return "bin"
}
