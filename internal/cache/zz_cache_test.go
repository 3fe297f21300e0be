package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponses_PutGet(t *testing.T) {
	c := New()

	require.True(t, c.Put("https://example.com/app.css", []byte("body{}"), "text/css"))

	e, ok := c.Get("https://example.com/app.css")
	require.True(t, ok)
	assert.Equal(t, []byte("body{}"), e.Body)
	assert.Equal(t, "text/css", e.ContentType)

	_, ok = c.Get("https://example.com/other.css")
	assert.False(t, ok)
}

func TestResponses_DefaultContentType(t *testing.T) {
	var c Responses
	require.True(t, c.Put("https://example.com/blob", []byte{1, 2, 3}, ""))

	e, ok := c.Get("https://example.com/blob")
	require.True(t, ok)
	assert.Equal(t, DefaultContentType, e.ContentType)
}

func TestResponses_IgnoresEmpty(t *testing.T) {
	c := New()
	assert.False(t, c.Put("https://example.com/empty", nil, "text/plain"))
	assert.False(t, c.Put("", []byte("x"), "text/plain"))
	assert.Equal(t, 0, c.Len())
}

func TestResponses_Reset(t *testing.T) {
	c := New()
	c.Put("https://example.com/a", []byte("a"), "")
	c.Put("https://example.com/b", []byte("b"), "")
	require.Equal(t, 2, c.Len())

	c.Reset()
	assert.Equal(t, 0, c.Len())
	_, ok := c.Get("https://example.com/a")
	assert.False(t, ok)
}

func TestResponses_Concurrent(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			url := fmt.Sprintf("https://example.com/%d", i)
			c.Put(url, []byte("x"), "")
			c.Get(url)
			if i%10 == 0 {
				c.Reset()
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 50)
}
