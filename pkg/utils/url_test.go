package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name string
		base string
		raw  string
		want string
	}{
		{"absolute", "https://shop.example/p/1", "https://img.example/a.jpg", "https://img.example/a.jpg"},
		{"relative", "https://shop.example/p/1", "/img/a.jpg", "https://shop.example/img/a.jpg"},
		{"fragment stripped", "https://shop.example/p/1", "a.jpg#zoom", "https://shop.example/p/a.jpg"},
		{"protocol relative", "https://shop.example/", "//cdn.example/a.jpg", "https://cdn.example/a.jpg"},
		{"data kept", "https://shop.example/", "data:image/png;base64,AAAA", "data:image/png;base64,AAAA"},
		{"empty", "https://shop.example/", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeURL(tt.base, tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsHTTPURL(t *testing.T) {
	assert.True(t, IsHTTPURL("https://img.example/a.jpg"))
	assert.True(t, IsHTTPURL("http://img.example/a.jpg"))
	assert.False(t, IsHTTPURL("ftp://img.example/a.jpg"))
	assert.False(t, IsHTTPURL("/relative.jpg"))
	assert.False(t, IsHTTPURL("javascript:alert(1)"))
}

func TestHashURLStable(t *testing.T) {
	assert.Equal(t, HashURL("https://img.example/a.jpg"), HashURL("https://img.example/a.jpg"))
	assert.NotEqual(t, HashURL("https://img.example/a.jpg"), HashURL("https://img.example/b.jpg"))
	assert.Len(t, HashURL("x"), 64)
}
