package uploads

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	rec, err := Decode("f1", []byte(`{"fileId":"f1","fileName":"ch1.pdf","excerptText":"one\ftwo","pageCount":2}`))
	require.NoError(t, err)
	assert.Equal(t, "ch1.pdf", rec.FileName)
	require.NotNil(t, rec.PageCount)
	assert.Equal(t, 2, *rec.PageCount)

	rec, err = Decode("f2", []byte(`{"excerptText":"loose notes"}`))
	require.NoError(t, err)
	assert.Equal(t, "f2", rec.FileID)
	assert.Equal(t, "f2", rec.FileName)
	assert.Nil(t, rec.PageCount)

	for _, bad := range []string{`{"fileId":"other"}`, `{"pageCount":-1}`, `not json`} {
		_, err := Decode("f3", []byte(bad))
		assert.Error(t, err, bad)
	}
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "extracts/f1.json", ObjectKey("f1"))
}

func TestMemoryFetcher(t *testing.T) {
	f := NewMemoryFetcher()
	f.Put(Record{FileID: "f1", FileName: "a.pdf", ExcerptText: "text"})

	rec, err := f.Fetch(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, "text", rec.ExcerptText)

	_, err = f.Fetch(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = f.Fetch(context.Background(), "../etc/passwd")
	assert.True(t, errors.Is(err, ErrInvalidID))
}

func TestMinioFetcherRejectsBadIDWithoutNetwork(t *testing.T) {
	f, err := NewMinioFetcher("localhost:9000", "key", "secret", "uploads", false)
	require.NoError(t, err)
	_, err = f.Fetch(context.Background(), "a/b")
	assert.True(t, errors.Is(err, ErrInvalidID))
}
