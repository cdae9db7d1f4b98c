package waterlevel

import (
	"io/fs"
	"strings"
	"testing"
)

func TestStaticFiles_Index(t *testing.T) {
	data, err := fs.ReadFile(StaticFiles(), "index.html")
	if err != nil {
		t.Fatalf("index.html not embedded: %v", err)
	}
	for _, want := range []string{`src="/video_feed"`, "/ws", "/charts/levels"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("index.html missing %q", want)
		}
	}
}
