// internal/browser/allocator_test.go
package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/focusgroup/internal/config"
)

func TestAllocatorFlags(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		flags := allocatorFlags(config.BrowserConfig{})
		assert.Equal(t, true, flags["no-sandbox"])
		assert.Equal(t, true, flags["disable-dev-shm-usage"])
		assert.NotContains(t, flags, "headless")
		assert.NotContains(t, flags, "window-size")
	})

	t.Run("Headless", func(t *testing.T) {
		flags := allocatorFlags(config.BrowserConfig{Headless: true})
		assert.Equal(t, true, flags["headless"])
	})

	t.Run("IgnoreTLSErrors", func(t *testing.T) {
		flags := allocatorFlags(config.BrowserConfig{IgnoreTLSErrors: true})
		assert.Equal(t, true, flags["ignore-certificate-errors"])
		assert.Equal(t, true, flags["allow-insecure-localhost"])
	})

	t.Run("UserAgentAndViewport", func(t *testing.T) {
		flags := allocatorFlags(config.BrowserConfig{
			UserAgent: "focusgroup/1.0",
			Viewport:  map[string]int{"width": 1920, "height": 1080},
		})
		assert.Equal(t, "focusgroup/1.0", flags["user-agent"])
		assert.Equal(t, "1920,1080", flags["window-size"])
	})

	t.Run("PartialViewportIgnored", func(t *testing.T) {
		flags := allocatorFlags(config.BrowserConfig{Viewport: map[string]int{"width": 800}})
		assert.NotContains(t, flags, "window-size")
	})

	t.Run("CustomArgs", func(t *testing.T) {
		flags := allocatorFlags(config.BrowserConfig{
			Args: []string{"--custom-arg1", "--lang=de-DE", "--no-sandbox=false", "--"},
		})
		assert.Equal(t, true, flags["custom-arg1"])
		assert.Equal(t, "de-DE", flags["lang"])
		assert.Equal(t, "false", flags["no-sandbox"], "args override defaults")
		assert.NotContains(t, flags, "")
	})
}

func TestDefaultAllocatorOptions(t *testing.T) {
	cfg := config.BrowserConfig{Headless: true}
	assert.Len(t, DefaultAllocatorOptions(cfg), len(allocatorFlags(cfg)))

	cfg.ExecPath = "/usr/bin/chromium"
	assert.Len(t, DefaultAllocatorOptions(cfg), len(allocatorFlags(cfg))+1)
}
