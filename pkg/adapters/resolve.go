package adapters

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chainsafe/senate-indexer/pkg/retry"
)

// UnknownTitle is stored when a proposal title cannot be resolved.
const UnknownTitle = "Unknown"

const maxBodySize = 4 << 20

var yamlTitle = regexp.MustCompile(`title:\s*(.*?)\n`)

// httpGet fetches url. Throttling and server errors are retryable, other
// client errors are permanent.
func httpGet(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to build request: %w", err))
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", url, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("GET %s returned %d", url, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, retry.Permanent(fmt.Errorf("GET %s returned %d", url, resp.StatusCode))
	}
	return body, nil
}

func cleanTitle(title string) string {
	title = strings.TrimSpace(title)
	title = strings.TrimPrefix(title, "# ")
	return strings.TrimSpace(title)
}

// IPFSResolver resolves Aave style proposal titles from IPFS metadata documents.
type IPFSResolver struct {
	fetcher *retry.GatewayFetcher
	client  *http.Client
	logger  *zap.Logger
}

// NewIPFSResolver creates a resolver rotating over gateways.
func NewIPFSResolver(gateways []string, exec *retry.Executor, timeout time.Duration, logger *zap.Logger) *IPFSResolver {
	return &IPFSResolver{
		fetcher: retry.NewGatewayFetcher(gateways, exec),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Title returns the title stored under the sha256 multihash digest, or UnknownTitle.
func (r *IPFSResolver) Title(ctx context.Context, digest [32]byte) string {
	path := "f01701220" + hex.EncodeToString(digest[:])

	var body []byte
	err := r.fetcher.Fetch(ctx, path, func(ctx context.Context, url string) error {
		var err error
		body, err = httpGet(ctx, r.client, url)
		return err
	})
	if err != nil {
		r.logger.Warn("Failed to fetch proposal metadata from IPFS",
			zap.String("cid", path),
			zap.Error(err),
		)
		return UnknownTitle
	}
	return titleFromMetadata(body)
}

func titleFromMetadata(body []byte) string {
	var doc struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(body, &doc); err == nil && strings.TrimSpace(doc.Title) != "" {
		return cleanTitle(doc.Title)
	}
	if m := yamlTitle.FindSubmatch(body); m != nil {
		if title := cleanTitle(string(m[1])); title != "" {
			return title
		}
	}
	return UnknownTitle
}

// SpellMetadata is the executive spell description published by the Maker voting portal.
type SpellMetadata struct {
	Title       string
	Date        time.Time
	Expiration  time.Time
	MKRSupport  string
	HasBeenCast bool
}

// MakerAPI reads executive metadata, poll documents and block heights over HTTP.
type MakerAPI struct {
	executiveURL string
	blockURL     string
	client       *http.Client
	exec         *retry.Executor
	logger       *zap.Logger
}

// NewMakerAPI creates the Maker metadata client.
func NewMakerAPI(executiveURL, blockURL string, exec *retry.Executor, timeout time.Duration, logger *zap.Logger) *MakerAPI {
	return &MakerAPI{
		executiveURL: executiveURL,
		blockURL:     blockURL,
		client:       &http.Client{Timeout: timeout},
		exec:         exec,
		logger:       logger,
	}
}

// Spell returns the metadata of an executive spell. Incomplete documents
// yield a metadata value titled UnknownTitle.
func (m *MakerAPI) Spell(ctx context.Context, spell string) (SpellMetadata, error) {
	unknown := SpellMetadata{Title: UnknownTitle, Date: time.Unix(0, 0).UTC(), Expiration: time.Unix(0, 0).UTC(), MKRSupport: "0"}

	var body []byte
	err := m.exec.DoURL(ctx, retry.Fixed(m.executiveURL+spell), func(ctx context.Context, url string) error {
		var err error
		body, err = httpGet(ctx, m.client, url)
		return err
	})
	if err != nil {
		return unknown, fmt.Errorf("failed to fetch spell %s: %w", spell, err)
	}

	var doc struct {
		Error     any    `json:"error"`
		Title     string `json:"title"`
		Date      string `json:"date"`
		SpellData *struct {
			Expiration  string      `json:"expiration"`
			MKRSupport  json.Number `json:"mkrSupport"`
			HasBeenCast bool        `json:"hasBeenCast"`
		} `json:"spellData"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return unknown, fmt.Errorf("failed to decode spell %s: %w", spell, err)
	}
	if doc.Error != nil || doc.Title == "" || doc.Date == "" || doc.SpellData == nil || doc.SpellData.Expiration == "" {
		return unknown, nil
	}

	date, err := time.Parse(time.RFC3339, doc.Date)
	if err != nil {
		return unknown, fmt.Errorf("spell %s has invalid date %q: %w", spell, doc.Date, err)
	}
	expiration, err := time.Parse(time.RFC3339, doc.SpellData.Expiration)
	if err != nil {
		return unknown, fmt.Errorf("spell %s has invalid expiration %q: %w", spell, doc.SpellData.Expiration, err)
	}
	support := doc.SpellData.MKRSupport.String()
	if support == "" {
		support = "0"
	}

	return SpellMetadata{
		Title:       doc.Title,
		Date:        date.UTC(),
		Expiration:  expiration.UTC(),
		MKRSupport:  support,
		HasBeenCast: doc.SpellData.HasBeenCast,
	}, nil
}

// BlockAt returns the height of the first block at or after ts.
func (m *MakerAPI) BlockAt(ctx context.Context, ts time.Time) (uint64, error) {
	var body []byte
	err := m.exec.DoURL(ctx, retry.Fixed(m.blockURL+strconv.FormatInt(ts.Unix(), 10)), func(ctx context.Context, url string) error {
		var err error
		body, err = httpGet(ctx, m.client, url)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to resolve block at %s: %w", ts.Format(time.RFC3339), err)
	}

	var doc struct {
		Height uint64 `json:"height"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return 0, fmt.Errorf("failed to decode block height: %w", err)
	}
	if doc.Height == 0 {
		return 0, fmt.Errorf("no block height for %s", ts.Format(time.RFC3339))
	}
	return doc.Height, nil
}

// PollTitle fetches a poll document and extracts the text between "title: " and "summary:".
func (m *MakerAPI) PollTitle(ctx context.Context, url string) string {
	if !strings.HasPrefix(url, "https://") && !strings.HasPrefix(url, "http://") {
		m.logger.Warn("Poll document url is not http(s)", zap.String("url", url))
		return UnknownTitle
	}

	var body []byte
	err := m.exec.DoURL(ctx, retry.Fixed(url), func(ctx context.Context, url string) error {
		var err error
		body, err = httpGet(ctx, m.client, url)
		return err
	})
	if err != nil {
		m.logger.Warn("Failed to fetch poll document", zap.String("url", url), zap.Error(err))
		return UnknownTitle
	}
	return pollTitle(string(body))
}

func pollTitle(doc string) string {
	head, _, _ := strings.Cut(doc, "summary:")
	_, title, found := strings.Cut(head, "title: ")
	if !found {
		return UnknownTitle
	}
	if title = strings.TrimSpace(title); title == "" {
		return UnknownTitle
	}
	return title
}
