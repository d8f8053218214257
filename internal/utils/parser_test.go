package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"The Matrix", "the matrix"},
		{"Amélie", "amelie"},
		{"Spider-Man: Far From Home", "spiderman far from home"},
		{"  Se7en   (1995) ", "se7en 1995"},
		{"!!!", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := NormalizeTitle(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, NormalizeTitle(got))
			assert.Regexp(t, `^[0-9a-z ]*$`, got)
		})
	}
}

func TestSplitExt(t *testing.T) {
	tests := []struct {
		in, stem, ext string
	}{
		{"matrix.png", "matrix", ".png"},
		{"a.b.jpg", "a.b", ".jpg"},
		{"noext", "noext", ""},
		{".png", ".png", ""},
		{"..png", "..png", ""},
		{"m_.gif", "m_", ".gif"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			stem, ext := SplitExt(tt.in)
			assert.Equal(t, tt.stem, stem)
			assert.Equal(t, tt.ext, ext)
		})
	}
}

func TestFileKey(t *testing.T) {
	assert.Equal(t, "the matrix", FileKey("m_the matrix.png"))
	assert.Equal(t, "the matrix", FileKey("The Matrix.JPG"))
	assert.Equal(t, "amelie", FileKey("m_Amélie.webp"))
	// 只去掉一次前缀
	assert.Equal(t, "minception", FileKey("m_m_inception.png"))
	assert.Equal(t, "", FileKey("m_.png"))
}
