package tenant

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dataforge/platform/internal/crypto"
	"github.com/dataforge/platform/internal/dbconn"
	"github.com/dataforge/platform/internal/models"
)

type fakeCreds struct {
	mu    sync.Mutex
	calls int
	env   crypto.Envelope
}

func (f *fakeCreds) GetCredentialDefault(ctx context.Context, projectID string, principal models.Principal) (*models.ProjectCredential, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return &models.ProjectCredential{
		ProjectID:  projectID,
		Principal:  principal,
		Ciphertext: f.env.Ciphertext,
		IV:         f.env.IV,
		AuthTag:    f.env.Tag,
	}, nil
}

func testDescriptorEnvelope(t *testing.T, mk *crypto.MasterKey) crypto.Envelope {
	t.Helper()
	plaintext, err := EncodeDescriptor(descriptorFixture())
	require.NoError(t, err)
	env, err := mk.Encrypt(plaintext)
	require.NoError(t, err)
	return env
}

func TestEncodeDecodeDescriptorRoundTrip(t *testing.T) {
	cfg := descriptorFixture()
	plaintext, err := EncodeDescriptor(cfg)
	require.NoError(t, err)

	decoded, err := DecodeDescriptor(plaintext)
	require.NoError(t, err)
	require.Equal(t, cfg.Host, decoded.Host)
	require.Equal(t, cfg.Port, decoded.Port)
	require.Equal(t, cfg.Database, decoded.Database)
	require.Equal(t, cfg.User, decoded.User)
	require.Equal(t, cfg.Password, decoded.Password)
	require.Equal(t, cfg.SSLMode, decoded.SSLMode)
}

func TestRouterOpenFailureIsNotCached(t *testing.T) {
	mk, err := crypto.DeriveMasterKey("01234567890123456789012345678901")
	require.NoError(t, err)

	// A credential whose descriptor decrypts fine but whose host is
	// unreachable should fail Get without panicking and without leaving a
	// half-installed entry in the pool map.
	env := testDescriptorEnvelope(t, mk)
	fc := &fakeCreds{env: env}
	r := New(fc, mk, nil)

	_, err = r.Get(context.Background(), "proj-1", models.PrincipalOwner)
	require.Error(t, err) // dbconn.Open will fail to reach the fixture host

	require.Empty(t, r.pools, "a failed open must not leave a cached entry")
}

func TestRouterCloseOnUnknownProjectIsNoop(t *testing.T) {
	mk, err := crypto.DeriveMasterKey("01234567890123456789012345678901")
	require.NoError(t, err)
	r := New(&fakeCreds{}, mk, nil)

	require.NotPanics(t, func() { r.Close("does-not-exist") })
	require.NotPanics(t, func() { r.CloseAll() })
}

func descriptorFixture() dbconn.Config {
	return dbconn.Config{
		Host:     "127.0.0.1",
		Port:     59999,
		Database: "fixture",
		User:     "fixture_user",
		Password: "fixture_pass",
		SSLMode:  "disable",
	}
}
