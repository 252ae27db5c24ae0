package source

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"golang.org/x/net/html"

	"github.com/dangattringer/rust-rag/internal/domain"
)

// CratePrefix marks docs.rs identifiers: "crate:serde" or "crate:serde@1.0.210".
const CratePrefix = "crate:"

const (
	DefaultDocsRSURL = "https://docs.rs"
	DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

type DocsRSConfig struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	// MaxDownloadBytes caps the documentation archive size; 0 means 256 MiB.
	// The decompressed pages together may use at most eight times as much.
	MaxDownloadBytes int64
	// MaxPageBytes caps one decompressed page; 0 means 8 MiB. Larger pages
	// are skipped.
	MaxPageBytes int64
}

// DocsRS downloads the rustdoc archive of a crate from docs.rs and converts
// every documentation page to a markdown Document.
type DocsRS struct {
	baseURL   string
	userAgent string
	maxBytes  int64
	maxPage   int64
	client    *http.Client
	logger    zerolog.Logger
}

func NewDocsRS(cfg DocsRSConfig, logger zerolog.Logger) *DocsRS {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultDocsRSURL
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	maxBytes := cfg.MaxDownloadBytes
	if maxBytes <= 0 {
		maxBytes = 256 << 20
	}
	maxPage := cfg.MaxPageBytes
	if maxPage <= 0 {
		maxPage = 8 << 20
	}
	return &DocsRS{
		baseURL:   base,
		userAgent: ua,
		maxBytes:  maxBytes,
		maxPage:   maxPage,
		client:    &http.Client{Timeout: timeout},
		logger:    logger,
	}
}

// ParseCrate splits "crate:name[@version]" into its parts.
func ParseCrate(identifier string) (name, version string, err error) {
	ref, ok := strings.CutPrefix(identifier, CratePrefix)
	if !ok {
		return "", "", fmt.Errorf("%w: %q is not a crate identifier", domain.ErrFetch, identifier)
	}
	name, version, _ = strings.Cut(ref, "@")
	if name == "" || strings.ContainsAny(name, "/ ") {
		return "", "", fmt.Errorf("%w: invalid crate name in %q", domain.ErrFetch, identifier)
	}
	return name, version, nil
}

func (d *DocsRS) Fetch(ctx context.Context, identifier string) ([]domain.Document, error) {
	name, version, err := ParseCrate(identifier)
	if err != nil {
		return nil, err
	}
	latest, err := d.LatestVersion(ctx, name)
	switch {
	case err != nil && version == "":
		return nil, err
	case err != nil:
		d.logger.Warn().Err(err).Str("crate", name).Str("requested", version).Msg("Could not look up the latest version")
	case version == "":
		version = latest
	case version != latest:
		d.logger.Warn().Str("crate", name).Str("requested", version).Str("latest", latest).Msg("Requested version is not the latest")
	}

	archive, err := d.download(ctx, name, version)
	if err != nil {
		return nil, err
	}
	docs, err := d.pages(name, version, archive)
	if err != nil {
		return nil, err
	}
	d.logger.Info().Str("crate", name).Str("version", version).Int("pages", len(docs)).Msg("Crate documentation extracted")
	return docs, nil
}

var versionPattern = regexp.MustCompile(`\d+\.\d+\.\d+(?:-[0-9A-Za-z.-]+)?`)

// LatestVersion reads the version from the crate title on the docs.rs crate page.
func (d *DocsRS) LatestVersion(ctx context.Context, name string) (string, error) {
	body, err := d.get(ctx, fmt.Sprintf("%s/crate/%s/latest", d.baseURL, name), 4<<20)
	if err != nil {
		return "", err
	}
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: parse crate page of %s: %w", domain.ErrFetch, name, err)
	}
	title := findByID(root, "crate-title")
	if title == nil {
		return "", fmt.Errorf("%w: no crate title on the docs.rs page of %s", domain.ErrFetch, name)
	}
	v := versionPattern.FindString(textContent(title))
	if v == "" {
		return "", fmt.Errorf("%w: no version in crate title of %s", domain.ErrFetch, name)
	}
	return v, nil
}

func (d *DocsRS) download(ctx context.Context, name, version string) ([]byte, error) {
	url := fmt.Sprintf("%s/crate/%s/%s/download", d.baseURL, name, version)
	d.logger.Info().Str("url", url).Msg("Downloading docs")
	start := time.Now()
	body, err := d.get(ctx, url, d.maxBytes)
	if err != nil {
		return nil, err
	}
	d.logger.Info().
		Str("crate", name).
		Str("size", humanize.Bytes(uint64(len(body)))).
		Dur("elapsed", time.Since(start)).
		Msg("Downloaded docs")
	return body, nil
}

func (d *DocsRS) get(ctx context.Context, url string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrFetch, err)
	}
	req.Header.Set("User-Agent", d.userAgent)
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %w", domain.ErrFetch, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: documentation not found: %s", domain.ErrFetch, url)
	}
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: GET %s: status %d: %s", domain.ErrFetch, url, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", domain.ErrFetch, url, err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: %s is larger than %s", domain.ErrFetch, url, humanize.Bytes(uint64(limit)))
	}
	return body, nil
}

// skippedPages are rustdoc support pages with no crate documentation.
var skippedPages = map[string]bool{
	"all.html": true, "help.html": true, "settings.html": true, "search.html": true,
}

// pages converts every documentation page in a rustdoc archive, in archive
// order. Decompression is bounded per page and for the archive as a whole.
func (d *DocsRS) pages(name, version string, archive []byte) ([]domain.Document, error) {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, fmt.Errorf("%w: open archive of %s@%s: %w", domain.ErrFetch, name, version, err)
	}
	budget := 8 * d.maxBytes
	var docs []domain.Document
	for _, f := range zr.File {
		p := strings.TrimPrefix(path.Clean("/"+f.Name), "/")
		if f.FileInfo().IsDir() || path.Ext(p) != ".html" || skippedPages[path.Base(p)] {
			continue
		}
		if top, _, _ := strings.Cut(p, "/"); top == "src" || top == "static.files" {
			continue
		}
		page, err := readPage(f, min(d.maxPage, budget))
		if err != nil {
			return nil, fmt.Errorf("%w: open %s: %w", domain.ErrFetch, p, err)
		}
		budget -= int64(len(page))
		if int64(len(page)) > d.maxPage {
			d.logger.Warn().Str("page", p).Str("limit", humanize.IBytes(uint64(d.maxPage))).Msg("Skipping oversized page")
			continue
		}
		if budget < 0 {
			return nil, fmt.Errorf("%w: %s@%s decompresses to more than %s", domain.ErrFetch, name, version, humanize.IBytes(uint64(8*d.maxBytes)))
		}
		md, err := RustdocMarkdown(bytes.NewReader(page))
		if err != nil {
			return nil, fmt.Errorf("%w: parse %s: %w", domain.ErrFetch, p, err)
		}
		if md == "" {
			continue
		}
		docs = append(docs, domain.Document{
			ID:      fmt.Sprintf("%s@%s/%s", name, version, p),
			Format:  domain.FormatMarkdown,
			Content: md,
		})
	}
	return docs, nil
}

// readPage decompresses at most limit+1 bytes of f, so callers can tell an
// oversized entry from one that fits exactly.
func readPage(f *zip.File, limit int64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, limit+1))
}
