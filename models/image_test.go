package models

import (
	"testing"
)

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "photo.jpg", "photo.jpg"},
		{"spaces", "my photo (1).JPG", "my_photo__1_.JPG"},
		{"leading dot", ".hidden.png", "_hidden.png"},
		{"directories dropped", "a/b/c.gif", "c.gif"},
		{"unicode", "café.jpeg", "caf_.jpeg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeFileName(tt.in); got != tt.want {
				t.Errorf("SanitizeFileName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSubjectType(t *testing.T) {
	if !SubjectAlbum.Valid() || SubjectType("node").Valid() {
		t.Error("unexpected Valid() result")
	}
	if !SubjectSiteImage.IsSite() || SubjectUserImage.IsSite() {
		t.Error("unexpected IsSite() result")
	}
}
