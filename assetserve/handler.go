package assetserve

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/tweag/asset-hashserve/api"
	"github.com/tweag/asset-hashserve/fingerprint"
	"github.com/tweag/asset-hashserve/internal/logging"
	"golang.org/x/net/http/httpguts"
)

const (
	// CacheControl is sent with every served asset.
	CacheControl = "public, max-age=31536000, immutable"
	// DefaultMIMEType is used for assets without a MIME type.
	DefaultMIMEType = "application/octet-stream"
	// PathValue is the wildcard name of the handler pattern.
	PathValue = "asset"
)

var ErrUnknownAsset = errors.New("unknown asset")

// Response is a validated asset response. Nothing is written until WriteTo.
type Response struct {
	Asset  api.Asset
	Header http.Header
}

func (r *Response) WriteTo(w http.ResponseWriter) error {
	for k, vs := range r.Header {
		w.Header()[k] = vs
	}
	w.WriteHeader(http.StatusOK)
	_, err := w.Write(r.Asset.Data)
	return err
}

// Outcome describes one handled request.
type Outcome struct {
	// Path is the logical path, empty if the request could not be split.
	Path string
	// Rejection is nil for served assets.
	Rejection *Rejection
	Size      int64
}

// Observer is called once per request handled by ServeHTTP.
type Observer func(Outcome)

type Option func(*Handler)

func WithObserver(observer Observer) Option {
	return func(h *Handler) {
		h.observer = observer
	}
}

// Handler serves versioned asset paths. It is safe for concurrent use.
type Handler struct {
	registry api.Registry
	mount    string
	observer Observer
}

// NewHandler serves the registry under mount, which should match the prefix given to the Builder.
func NewHandler(registry api.Registry, mount string, opts ...Option) *Handler {
	h := &Handler{
		registry: registry,
		mount:    strings.TrimSuffix(mount, "/"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Mount is the path prefix without a trailing slash.
func (h *Handler) Mount() string {
	return h.mount
}

// Pattern is the http.ServeMux pattern the handler expects to be registered with.
func (h *Handler) Pattern() string {
	return "GET " + h.mount + "/{" + PathValue + "...}"
}

// Resolve validates a request path of the form <token>/<logical path>, relative to the mount.
// The returned error is always a *Rejection.
func (h *Handler) Resolve(requestPath string) (*Response, error) {
	token, logicalPath, ok := strings.Cut(requestPath, "/")
	if !ok {
		return nil, reject(KindBadRequest, ReasonInvalidURL, nil)
	}

	asset, ok := h.registry.Get(logicalPath)
	if !ok {
		return nil, reject(KindNotFound, ReasonNotFound, nil)
	}

	raw, err := fingerprint.Decode(token)
	if errors.Is(err, fingerprint.ErrInvalidLength) {
		return nil, reject(KindBadRequest, ReasonHashLength, err)
	} else if err != nil {
		return nil, reject(KindBadRequest, ReasonHashFormat, err)
	}
	if len(raw) != fingerprint.Size {
		return nil, reject(KindBadRequest, ReasonHashLength, nil)
	}

	if !fingerprint.Fingerprint(raw).Matches(asset.Checksum.Hash) {
		return nil, reject(KindBadRequest, ReasonHashMismatch, nil)
	}

	return buildResponse(asset)
}

func buildResponse(asset api.Asset) (*Response, error) {
	mimeType := asset.MIMEType
	if mimeType == "" {
		mimeType = DefaultMIMEType
	}
	if !httpguts.ValidHeaderFieldValue(mimeType) {
		return nil, reject(KindInternal, ReasonResponse, errors.New("invalid content type "+strconv.Quote(mimeType)))
	}
	header := http.Header{}
	header.Set("Content-Type", mimeType)
	header.Set("Cache-Control", CacheControl)
	header.Set("Content-Length", strconv.Itoa(len(asset.Data)))
	return &Response{Asset: asset, Header: header}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestPath := r.PathValue(PathValue)
	if requestPath == "" {
		// not routed through Pattern
		requestPath = strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, h.mount), "/")
	}

	resp, err := h.Resolve(requestPath)
	if err != nil {
		rejection, _ := AsRejection(err)
		logging.Debugf("rejecting asset request %s: %v", r.URL.Path, err)
		h.observe(Outcome{Path: logicalPathOf(requestPath), Rejection: rejection})
		writeRejection(w, rejection)
		return
	}
	if err := resp.WriteTo(w); err != nil {
		logging.Debugf("writing asset %s: %v", resp.Asset.Path, err)
	}
	h.observe(Outcome{Path: resp.Asset.Path, Size: resp.Asset.SizeBytes()})
}

func (h *Handler) observe(outcome Outcome) {
	if h.observer != nil {
		h.observer(outcome)
	}
}

func logicalPathOf(requestPath string) string {
	_, logicalPath, _ := strings.Cut(requestPath, "/")
	return logicalPath
}

func writeRejection(w http.ResponseWriter, rejection *Rejection) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(rejection.StatusCode())
	w.Write([]byte(rejection.Reason))
}
