package minio

import (
	"testing"
	"time"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
)

func TestInfoFrom(t *testing.T) {
	mod := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	info := infoFrom(miniogo.ObjectInfo{Key: "sales/2025.db", Size: 4096, ETag: "abc", LastModified: mod})

	assert.Equal(t, "sales/2025.db", info.Key)
	assert.Equal(t, int64(4096), info.Size)
	assert.Equal(t, mod, info.LastModified)
	assert.False(t, info.IsDir)

	assert.True(t, infoFrom(miniogo.ObjectInfo{Key: "sales/"}).IsDir)
}
