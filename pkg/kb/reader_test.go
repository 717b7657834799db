package kb_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/missionflow/pkg/kb"
	"github.com/dukex/missionflow/pkg/models"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func fixture(t *testing.T) string {
	t.Helper()

	root := t.TempDir()

	writeFile(t, filepath.Join(root, "acme", kb.ManifestFile), `
name: Acme Holdings
summary: Multifamily bridge loan, 48 units.
required_docs: [appraisal, rent-roll, insurance]
`)
	writeFile(t, filepath.Join(root, "acme", "appraisal.md"), "As-is value $12.4M.")
	writeFile(t, filepath.Join(root, "acme", "rent-roll.txt"), "Occupancy 91%.")
	writeFile(t, filepath.Join(root, "acme", "photo.jpg"), "binary")
	writeFile(t, filepath.Join(root, "globex", "covenants.md"), "DSCR 1.20x minimum.")

	return root
}

func TestReadDigest(t *testing.T) {
	t.Parallel()

	reader := kb.NewReader(fixture(t), slog.Default())

	digest, err := reader.ReadDigest(context.Background(), "acme")
	require.NoError(t, err)

	assert.Equal(t, "acme", digest.DomainID)
	assert.Equal(t, []string{"appraisal", "rent-roll"}, digest.DocsReviewed)
	assert.Equal(t, []string{"insurance"}, digest.DocsMissing)
	assert.Equal(t, []string{"acme"}, digest.DomainsRead)
	assert.False(t, digest.ReadAt.IsZero())

	assert.Contains(t, digest.Text, "# Domain Acme Holdings (acme)")
	assert.Contains(t, digest.Text, "Multifamily bridge loan")
	assert.Contains(t, digest.Text, "## appraisal\n\nAs-is value $12.4M.")
	assert.NotContains(t, digest.Text, "binary")
}

func TestReadDigest_AllDomains(t *testing.T) {
	t.Parallel()

	reader := kb.NewReader(fixture(t), slog.Default())

	digest, err := reader.ReadDigest(context.Background(), models.AllDomains)
	require.NoError(t, err)

	assert.Equal(t, []string{"acme", "globex"}, digest.DomainsRead)
	assert.Contains(t, digest.DocsReviewed, "globex/covenants")
	assert.Contains(t, digest.DocsMissing, "acme/insurance")
	assert.Contains(t, digest.Text, "# Domain globex (globex)")

	domains, err := reader.Domains()
	require.NoError(t, err)
	assert.Equal(t, []string{"acme", "globex"}, domains)
}

func TestReadDigest_Errors(t *testing.T) {
	t.Parallel()

	root := fixture(t)
	writeFile(t, filepath.Join(root, "broken", kb.ManifestFile), "name: [unclosed")

	reader := kb.NewReader(root, slog.Default())
	ctx := context.Background()

	_, err := reader.ReadDigest(ctx, "initech")
	require.ErrorIs(t, err, kb.ErrDomainNotFound)

	_, err = reader.ReadDigest(ctx, "../acme")
	require.ErrorIs(t, err, kb.ErrInvalidDomain)

	_, err = reader.ReadDigest(ctx, "broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid kb.yaml")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()

	_, err = reader.ReadDigest(cancelled, "acme")
	require.ErrorIs(t, err, context.Canceled)
}
