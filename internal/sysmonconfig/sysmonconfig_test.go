package sysmonconfig

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelsec/sysmonfleet/internal/logging"
	"github.com/kestrelsec/sysmonfleet/internal/noise"
	"github.com/kestrelsec/sysmonfleet/internal/repository"
)

const sampleConfig = `<Sysmon schemaversion="4.90">
  <EventFiltering>
    <RuleGroup name="base" groupRelation="or">
      <ProcessCreate onmatch="exclude">
        <Image condition="is">C:\Windows\System32\svchost.exe</Image>
      </ProcessCreate>
    </RuleGroup>
    <NetworkConnect onmatch="include">
      <DestinationPort condition="is">4444</DestinationPort>
    </NetworkConnect>
  </EventFiltering>
</Sysmon>`

func TestParse(t *testing.T) {
	cfg, err := Parse(sampleConfig)
	require.NoError(t, err)
	assert.Equal(t, "Sysmon", cfg.Root.XMLName.Local)
	assert.Equal(t, "4.90", cfg.Root.Attr("schemaversion"))

	_, err = Parse("<NotSysmon/>")
	require.Error(t, err)

	_, err = Parse("not xml at all <")
	require.Error(t, err)
}

func TestAddExclusion_ExistingGroup(t *testing.T) {
	cfg, err := Parse(sampleConfig)
	require.NoError(t, err)

	changed, err := cfg.AddExclusion("ProcessCreate", "Image", `C:\noisy\app.exe`, "is")
	require.NoError(t, err)
	assert.True(t, changed)

	out, err := cfg.Serialize()
	require.NoError(t, err)
	assert.Contains(t, out, `<Image condition="is">C:\noisy\app.exe</Image>`)
	// The existing rule and the include group are untouched.
	assert.Contains(t, out, `svchost.exe`)
	assert.Contains(t, out, `<DestinationPort condition="is">4444</DestinationPort>`)
	// The rule landed in the existing exclude group, no second one created.
	assert.Equal(t, 1, strings.Count(out, `<ProcessCreate onmatch="exclude">`))
}

func TestAddExclusion_Dedupe(t *testing.T) {
	cfg, err := Parse(sampleConfig)
	require.NoError(t, err)

	changed, err := cfg.AddExclusion("ProcessCreate", "Image", `C:\Windows\System32\svchost.exe`, "is")
	require.NoError(t, err)
	assert.False(t, changed, "an identical rule must not be duplicated")

	out, err := cfg.Serialize()
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "svchost.exe"))
}

func TestAddExclusion_CreatesGroup(t *testing.T) {
	cfg, err := Parse(sampleConfig)
	require.NoError(t, err)

	changed, err := cfg.AddExclusion("DnsQuery", "QueryName", "telemetry.example.com", "end with")
	require.NoError(t, err)
	assert.True(t, changed)

	out, err := cfg.Serialize()
	require.NoError(t, err)
	assert.Contains(t, out, `<DnsQuery onmatch="exclude">`)
	assert.Contains(t, out, `<QueryName condition="end with">telemetry.example.com</QueryName>`)
}

func TestAddExclusion_Validation(t *testing.T) {
	cfg, err := Parse(sampleConfig)
	require.NoError(t, err)

	_, err = cfg.AddExclusion("", "Image", "x", "is")
	require.Error(t, err)
	_, err = cfg.AddExclusion("ProcessCreate", "", "x", "is")
	require.Error(t, err)
	_, err = cfg.AddExclusion("ProcessCreate", "Image", "", "is")
	require.Error(t, err)
}

func TestSerialize_RoundTrip(t *testing.T) {
	cfg, err := Parse(sampleConfig)
	require.NoError(t, err)

	out, err := cfg.Serialize()
	require.NoError(t, err)

	reparsed, err := Parse(out)
	require.NoError(t, err)
	again, err := reparsed.Serialize()
	require.NoError(t, err)
	assert.Equal(t, out, again, "serialization must be stable")
}

func TestHash(t *testing.T) {
	h1 := Hash("content-a")
	h2 := Hash("content-b")
	assert.Len(t, h1, 64)
	assert.NotEqual(t, h1, h2)
	assert.Equal(t, h1, Hash("content-a"))
}

func newTestService(t *testing.T) (*Service, repository.Repository) {
	t.Helper()
	table, err := noise.DefaultFieldTable()
	require.NoError(t, err)
	repo := repository.NewInMemoryRepository()
	return NewService(repo, table, 5*time.Second, logging.New(logging.ParseLevel("error"), "text")), repo
}

func TestService_AddExclusion(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cfg, err := svc.Create(ctx, "baseline", sampleConfig)
	require.NoError(t, err)
	originalHash := cfg.Hash

	updated, err := svc.AddExclusion(ctx, cfg.ID, 1, "Image", `C:\noisy\app.exe`, "")
	require.NoError(t, err)
	assert.NotEqual(t, originalHash, updated.Hash, "content change must rehash")
	assert.Contains(t, updated.Content, `C:\noisy\app.exe`)

	// Stored copy matches what was returned.
	stored, err := svc.Get(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.Hash, stored.Hash)

	// Re-adding the same rule is a no-op and keeps the hash.
	same, err := svc.AddExclusion(ctx, cfg.ID, 1, "Image", `C:\noisy\app.exe`, "is")
	require.NoError(t, err)
	assert.Equal(t, updated.Hash, same.Hash)

	_, err = svc.AddExclusion(ctx, cfg.ID, 99, "Image", "x", "")
	require.Error(t, err, "unsupported event type must be rejected")

	_, err = svc.AddExclusion(ctx, "missing", 1, "Image", "x", "")
	assert.ErrorIs(t, err, repository.ErrConfigNotFound)
}

func TestService_Create_InvalidXML(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Create(context.Background(), "broken", "<oops")
	require.Error(t, err)

	_, err = svc.Create(context.Background(), "", sampleConfig)
	require.Error(t, err)
}

func TestService_ImportFromURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleConfig))
	}))
	defer srv.Close()

	svc, _ := newTestService(t)
	cfg, err := svc.ImportFromURL(context.Background(), "imported", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "imported", cfg.Name)
	assert.Equal(t, Hash(sampleConfig), cfg.Hash)
}

func TestService_ImportFromURL_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	svc, _ := newTestService(t)
	_, err := svc.ImportFromURL(context.Background(), "missing", srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}
