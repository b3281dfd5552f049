// Package apperror defines the registry's internal error taxonomy and its
// mapping onto the Registry V2 error envelope.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies one of the error cases the registry distinguishes
// internally. It is distinct from the wire-level Code: several Kinds can
// map onto the same Code (e.g. MalformedDigest and DigestMismatch both
// surface as DIGEST_INVALID).
type Kind int

const (
	KindInternal Kind = iota
	KindMalformedDigest
	KindDigestMismatch
	KindUnknownUploadSession
	KindEmptyAppend
	KindBlobUnknown
	KindBlobCorrupt
	KindManifestUnknown
	KindManifestStructureInvalid
	KindUnsupportedManifestContentType
	KindReferencedBlobMissing
)

// Error is a typed registry error carrying the OCI error code and HTTP
// status it resolves to. Handlers never construct the JSON error envelope
// themselves; they return an *Error and let the HTTP layer translate it.
type Error struct {
	Kind    Kind
	Code    string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, code string, status int, message string) *Error {
	return &Error{Kind: kind, Code: code, Status: status, Message: message}
}

// Named constructors, one per row of the error-handling table: kind, HTTP
// status, and OCI code are fixed at the call site so handlers never guess.
func MalformedDigest(msg string) *Error {
	return newError(KindMalformedDigest, "DIGEST_INVALID", http.StatusBadRequest, msg)
}

func DigestMismatch(expected, actual string) *Error {
	return newError(KindDigestMismatch, "DIGEST_INVALID", http.StatusBadRequest,
		fmt.Sprintf("digest mismatch: expected %s, got %s", expected, actual))
}

func UnknownUploadSession(id string) *Error {
	return newError(KindUnknownUploadSession, "BLOB_UPLOAD_UNKNOWN", http.StatusNotFound,
		fmt.Sprintf("unknown upload session %q", id))
}

func EmptyAppend() *Error {
	return newError(KindEmptyAppend, "BLOB_UPLOAD_INVALID", http.StatusBadRequest, "PATCH body must not be empty")
}

func BlobUnknown(digest string) *Error {
	return newError(KindBlobUnknown, "BLOB_UNKNOWN", http.StatusNotFound,
		fmt.Sprintf("blob unknown: %s", digest))
}

func BlobCorrupt(digest, fp string) *Error {
	return newError(KindBlobCorrupt, "BLOB_UNKNOWN", http.StatusNotFound,
		fmt.Sprintf("blob %s references missing block %s", digest, fp))
}

func ManifestUnknown(repo, ref string) *Error {
	return newError(KindManifestUnknown, "MANIFEST_UNKNOWN", http.StatusNotFound,
		fmt.Sprintf("manifest unknown: %s:%s", repo, ref))
}

func ManifestStructureInvalid(msg string) *Error {
	return newError(KindManifestStructureInvalid, "MANIFEST_INVALID", http.StatusBadRequest, msg)
}

func UnsupportedManifestContentType(ct string) *Error {
	return newError(KindUnsupportedManifestContentType, "MANIFEST_INVALID", http.StatusBadRequest,
		fmt.Sprintf("unsupported manifest content-type: %s", ct))
}

func ReferencedBlobMissing(digest string) *Error {
	return newError(KindReferencedBlobMissing, "BLOB_UNKNOWN", http.StatusNotFound,
		fmt.Sprintf("referenced blob missing: %s", digest))
}

func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Code: "INTERNAL_ERROR", Status: http.StatusInternalServerError, Message: "internal error", Err: err}
}

// As extracts an *Error from err, following the chain produced by %w wraps.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Envelope is the body shape of every non-2xx Registry V2 response.
type Envelope struct {
	Errors []EnvelopeEntry `json:"errors"`
}

type EnvelopeEntry struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ToEnvelope converts err (an *Error if possible, otherwise an opaque
// internal error) into the wire envelope plus the HTTP status to send it
// with.
func ToEnvelope(err error) (int, Envelope) {
	e, ok := As(err)
	if !ok {
		e = Internal(err)
	}
	return e.Status, Envelope{Errors: []EnvelopeEntry{{Code: e.Code, Message: e.Message}}}
}
