package artifact

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/survey-agent/config"
)

func TestPublicURL(t *testing.T) {
	assert.Equal(t, "https://bucket-1.storage.googleapis.com/img/a.png", PublicURL("bucket-1", "", "img/a.png"))
	assert.Equal(t, "https://cdn.example.com/a.png", PublicURL("bucket-1", "cdn.example.com", "/a.png"))
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore("charts")

	url, err := store.Put(context.Background(), "x.png", ContentPNG, strings.NewReader("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "https://charts.storage.googleapis.com/x.png", url)
	assert.Equal(t, ContentPNG, store.ContentType("x.png"))
	assert.Equal(t, []string{"x.png"}, store.Names())

	rc, err := store.Get(context.Background(), "x.png")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))
}

func TestMemoryStoreMissing(t *testing.T) {
	_, err := NewMemoryStore("b").Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewGCSStoreRequiresBucket(t *testing.T) {
	_, err := NewGCSStore(context.Background(), config.StorageConfig{}, nil)
	assert.Error(t, err)
}

func TestClientOptions(t *testing.T) {
	assert.Nil(t, clientOptions(" "))
	assert.Len(t, clientOptions(`{"type":"service_account"}`), 1)
	assert.Len(t, clientOptions("/etc/creds.json"), 1)
}

func TestMemeName(t *testing.T) {
	assert.Equal(t, "img/insighted_meme_1.png", MemeName(1))
	assert.Equal(t, "img/insighted_meme_8.png", MemeName(MemeCount))
}
