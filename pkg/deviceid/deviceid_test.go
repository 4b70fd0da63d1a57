package deviceid

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPersistsAcrossProviders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "device_id")

	first, err := NewProvider(path, "").Get()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(first.DeviceID, "web-"))
	assert.Equal(t, PlatformWeb, first.Platform)

	second, err := NewProvider(path, "").Get()
	require.NoError(t, err)
	assert.Equal(t, first.DeviceID, second.DeviceID)
}

func TestCorruptFileIsRegenerated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device_id")
	require.NoError(t, os.WriteFile(path, []byte("   \n"), 0o600))

	id, err := NewProvider(path, "Android").Get()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id.DeviceID, "android-"))
}

func TestReset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device_id")
	p := NewProvider(path, PlatformIOS).WithName("Test Phone")
	before, err := p.Get()
	require.NoError(t, err)
	assert.Equal(t, "Test Phone", before.DeviceName)

	require.NoError(t, p.Reset())
	after, err := p.Get()
	require.NoError(t, err)
	assert.NotEqual(t, before.DeviceID, after.DeviceID)
}

func TestApply(t *testing.T) {
	h := http.Header{}
	Identity{DeviceID: "web-1", Platform: PlatformWeb, DeviceName: "Laptop"}.Apply(h)
	assert.Equal(t, "web-1", h.Get(HeaderDeviceID))
	assert.Equal(t, "web", h.Get(HeaderDevicePlatform))
	assert.Equal(t, "Laptop", h.Get(HeaderDeviceName))
}
