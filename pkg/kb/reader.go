// Package kb reads domain knowledge bases from a directory tree and turns
// them into prompt digests.
//
// Each domain is a sub directory of the root. An optional kb.yaml names the
// domain and lists the documents it is expected to hold; every .md or .txt
// file in the directory is a document.
package kb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dukex/missionflow/pkg/models"
)

const (
	ManifestFile = "kb.yaml"

	// DefaultMaxDocChars bounds the text taken from one document.
	DefaultMaxDocChars = 20_000
)

var (
	ErrDomainNotFound = errors.New("knowledge base domain not found")
	ErrInvalidDomain  = errors.New("invalid domain id")
)

// Manifest is the optional kb.yaml of a domain.
type Manifest struct {
	Name         string   `yaml:"name"`
	Summary      string   `yaml:"summary"`
	RequiredDocs []string `yaml:"required_docs"`
}

type Reader struct {
	root        string
	maxDocChars int
	now         func() time.Time
	logger      *slog.Logger
}

func NewReader(root string, logger *slog.Logger) *Reader {
	return &Reader{
		root:        root,
		maxDocChars: DefaultMaxDocChars,
		now:         time.Now,
		logger:      logger.With("module", "kb"),
	}
}

// Domains lists the domain ids found under the root.
func (r *Reader) Domains() ([]string, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list knowledge base: %w", err)
	}

	var domains []string

	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			domains = append(domains, entry.Name())
		}
	}

	return domains, nil
}

// ReadDigest implements protocol.DigestReader.
func (r *Reader) ReadDigest(ctx context.Context, domainID string) (*models.Digest, error) {
	domains := []string{domainID}

	if domainID == models.AllDomains {
		var err error
		if domains, err = r.Domains(); err != nil {
			return nil, err
		}
	}

	digest := &models.Digest{
		DomainID:     domainID,
		DocsReviewed: []string{},
		DocsMissing:  []string{},
		DomainsRead:  []string{},
		ReadAt:       r.now(),
	}

	var sections []string

	for _, id := range domains {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		section, err := r.readDomain(id, digest)
		if err != nil {
			return nil, err
		}

		sections = append(sections, section)
		digest.DomainsRead = append(digest.DomainsRead, id)
	}

	digest.Text = strings.Join(sections, "\n\n")

	r.logger.DebugContext(ctx, "Digest read",
		"domain_id", domainID,
		"domains", len(digest.DomainsRead),
		"docs", len(digest.DocsReviewed),
		"chars", len(digest.Text),
	)

	return digest, nil
}

func (r *Reader) readDomain(id string, digest *models.Digest) (string, error) {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidDomain, id)
	}

	dir := filepath.Join(r.root, id)

	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrDomainNotFound, id)
	}

	if err != nil {
		return "", fmt.Errorf("failed to read domain %s: %w", id, err)
	}

	manifest, err := readManifest(dir)
	if err != nil {
		return "", fmt.Errorf("domain %s: %w", id, err)
	}

	title := manifest.Name
	if title == "" {
		title = id
	}

	var b strings.Builder

	fmt.Fprintf(&b, "# Domain %s (%s)\n", title, id)

	if manifest.Summary != "" {
		b.WriteString("\n" + strings.TrimSpace(manifest.Summary) + "\n")
	}

	var present []string

	for _, entry := range entries {
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if entry.IsDir() || (ext != ".md" && ext != ".txt") {
			continue
		}

		body, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return "", fmt.Errorf("failed to read %s/%s: %w", id, entry.Name(), err)
		}

		name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		present = append(present, name)
		digest.DocsReviewed = append(digest.DocsReviewed, qualify(id, name, digest.DomainID))

		fmt.Fprintf(&b, "\n## %s\n\n%s\n", name, truncate(strings.TrimSpace(string(body)), r.maxDocChars))
	}

	for _, required := range manifest.RequiredDocs {
		if !slices.Contains(present, required) {
			digest.DocsMissing = append(digest.DocsMissing, qualify(id, required, digest.DomainID))
		}
	}

	return strings.TrimRight(b.String(), "\n"), nil
}

func readManifest(dir string) (Manifest, error) {
	var manifest Manifest

	body, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if errors.Is(err, os.ErrNotExist) {
		return manifest, nil
	}

	if err != nil {
		return manifest, err
	}

	if err := yaml.Unmarshal(body, &manifest); err != nil {
		return manifest, fmt.Errorf("invalid %s: %w", ManifestFile, err)
	}

	return manifest, nil
}

// qualify prefixes document names with their domain in cross-domain digests.
func qualify(domainID, name, requested string) string {
	if requested == models.AllDomains {
		return domainID + "/" + name
	}

	return name
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text
	}

	return string(runes[:limit]) + "\n[truncated]"
}
