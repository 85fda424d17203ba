package directory

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hkbot/internal/domain"
)

const roster = `people:
  - name: Mario Rossi
    phone: "+39 333 111 2222"
    type: Electrician
  - name: Luca Bianchi
    phone: "393334445555"
    type: Plumber
  - name: Anna Verdi
    phone: "393336667777"
    type: Electrician
  - name: Ghost
    phone: "1"
    type: Astronaut
`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeRoster(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "people.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestByType(t *testing.T) {
	d := Load(writeRoster(t, roster), testLogger())

	electricians := d.ByType(domain.Electrician)
	require.Len(t, electricians, 2)
	require.Equal(t, "Mario Rossi", electricians[0].Name)
	require.Equal(t, "Anna Verdi", electricians[1].Name)

	require.Empty(t, d.ByType(domain.Blacksmith))
	require.Equal(t, 3, d.Len(), "unknown professions are skipped")
}

func TestIsSpecialist_NormalizesPhone(t *testing.T) {
	d := Load(writeRoster(t, roster), testLogger())

	require.True(t, d.IsSpecialist("393331112222"))
	require.True(t, d.IsSpecialist("+39-333-444-5555"))
	require.False(t, d.IsSpecialist("390000000000"))
}

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	d := Load(filepath.Join(t.TempDir(), "none.yaml"), testLogger())
	require.NotNil(t, d.ByType(domain.Plumber))
	require.Empty(t, d.ByType(domain.Plumber))
}

func TestReload_KeepsRosterOnParseError(t *testing.T) {
	path := writeRoster(t, roster)
	d := Load(path, testLogger())

	require.NoError(t, os.WriteFile(path, []byte("people: [broken"), 0o644))
	require.Error(t, d.Reload())
	require.Equal(t, 3, d.Len())
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := writeRoster(t, roster)
	d := Load(path, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, d.Watch(ctx))

	updated := roster + `  - name: Sara Neri
    phone: "393338889999"
    type: Receptionist
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	require.Eventually(t, func() bool {
		return d.IsSpecialist("393338889999")
	}, 3*time.Second, 20*time.Millisecond)
}
