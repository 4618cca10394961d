package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"pipay/internal/storage"
	"pipay/internal/storage/storagetest"
)

func TestInMemoryAdapter(t *testing.T) {
	suite.Run(t, &storagetest.AdapterSuite{
		NewAdapter: func() storage.Adapter { return storage.NewInMemory() },
	})
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, 50, storage.NormalizeLimit(0))
	assert.Equal(t, 50, storage.NormalizeLimit(-3))
	assert.Equal(t, 7, storage.NormalizeLimit(7))
	assert.Equal(t, 500, storage.NormalizeLimit(501))
}
