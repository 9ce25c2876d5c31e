// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package diagram

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"
)

const minRenderWidth = 2024

// Renderer turns Mermaid source into a rendered diagram, implementing the
// four-step fallback chain from spec §4.10. Each step falls back to the
// next on any error.
type Renderer interface {
	Render(ctx context.Context, mermaidCode string) (Metadata, string)
}

// chainRenderer implements the chromedp → mmdc → HTTP service → raw
// fenced-block fallback chain.
type chainRenderer struct {
	resolution  int    // scale factor for the headless-browser tier, default 2
	outputDir   string // where rendered images are written
	mmdcPath    string // mmdc binary (default "mmdc"), resolved via exec.LookPath
	httpService string // mermaid.ink-compatible rendering endpoint
	httpClient  *http.Client
}

// DefaultRenderer returns a Renderer configured with the package defaults:
// resolution 2x, images written to the OS temp dir, mmdc resolved from
// PATH, and no HTTP rendering service configured (that tier is skipped
// unless RendererConfig.HTTPService is set).
func DefaultRenderer() Renderer {
	return NewRenderer(RendererConfig{})
}

// RendererConfig configures a chain Renderer.
type RendererConfig struct {
	Resolution  int
	OutputDir   string
	MmdcPath    string
	HTTPService string
}

// NewRenderer builds a Renderer from cfg, applying spec-documented
// defaults for zero-valued fields.
func NewRenderer(cfg RendererConfig) Renderer {
	if cfg.Resolution <= 0 {
		cfg.Resolution = 2
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = os.TempDir()
	}
	if cfg.MmdcPath == "" {
		cfg.MmdcPath = "mmdc"
	}
	return &chainRenderer{
		resolution:  cfg.Resolution,
		outputDir:   cfg.OutputDir,
		mmdcPath:    cfg.MmdcPath,
		httpService: cfg.HTTPService,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (r *chainRenderer) Render(ctx context.Context, mermaidCode string) (Metadata, string) {
	width := minRenderWidth * r.resolution

	if path, err := r.renderHeadless(ctx, mermaidCode, width); err == nil {
		return Metadata{Rendered: true, Method: "headless_browser", Width: width, Resolution: r.resolution}, path
	}

	if path, err := r.renderCLI(ctx, mermaidCode, width); err == nil {
		return Metadata{Rendered: true, Method: "cli", Width: width}, path
	}

	if path, err := r.renderHTTPService(ctx, mermaidCode); err == nil {
		return Metadata{Rendered: true, Method: "http_service"}, path
	}

	return Metadata{Rendered: false, Method: "raw"}, fmt.Sprintf("```mermaid\n%s\n```", mermaidCode)
}

// renderHeadless loads a minimal HTML page embedding mermaid.js via a
// data URL and screenshots the rendered diagram with a headless Chrome
// instance. The resolution factor only widens the browser window (width is
// minRenderWidth·resolution); no device pixel ratio is set.
func (r *chainRenderer) renderHeadless(ctx context.Context, mermaidCode string, width int) (string, error) {
	html := fmt.Sprintf(`<!DOCTYPE html><html><body><pre class="mermaid">%s</pre>
<script type="module">import mermaid from "https://cdn.jsdelivr.net/npm/mermaid@10/dist/mermaid.esm.min.mjs";mermaid.initialize({startOnLoad:true});</script>
</body></html>`, mermaidCode)
	dataURL := "data:text/html;base64," + base64.StdEncoding.EncodeToString([]byte(html))

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(width, width*9/16),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()
	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()
	browserCtx, cancel2 := context.WithTimeout(browserCtx, 30*time.Second)
	defer cancel2()

	var buf []byte
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(dataURL),
		chromedp.WaitVisible(`svg`, chromedp.ByQuery),
		chromedp.FullScreenshot(&buf, 100),
	)
	if err != nil {
		return "", fmt.Errorf("headless render: %w", err)
	}

	path := filepath.Join(r.outputDir, "diagram-headless.png")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	return path, nil
}

// renderCLI shells out to mmdc (mermaid-cli), the command-line renderer
// spec §4.10 names as the second fallback tier.
func (r *chainRenderer) renderCLI(ctx context.Context, mermaidCode string, width int) (string, error) {
	if _, err := exec.LookPath(r.mmdcPath); err != nil {
		return "", fmt.Errorf("mmdc not found: %w", err)
	}

	inputPath := filepath.Join(r.outputDir, "diagram-input.mmd")
	if err := os.WriteFile(inputPath, []byte(mermaidCode), 0o644); err != nil {
		return "", fmt.Errorf("write mmdc input: %w", err)
	}
	outputPath := filepath.Join(r.outputDir, "diagram-cli.png")

	cmd := exec.CommandContext(ctx, r.mmdcPath,
		"-i", inputPath,
		"-o", outputPath,
		"-w", fmt.Sprintf("%d", width),
		"--scale", fmt.Sprintf("%d", r.resolution),
	)
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("mmdc render: %w", err)
	}
	return outputPath, nil
}

// renderHTTPService sends a GET request to a configured mermaid.ink
// compatible rendering endpoint with the mermaid code as a
// base64-url-safe-encoded path segment, the third fallback tier. On a 200
// reply it returns that URL.
func (r *chainRenderer) renderHTTPService(ctx context.Context, mermaidCode string) (string, error) {
	if r.httpService == "" {
		return "", fmt.Errorf("no http rendering service configured")
	}
	encoded := base64.URLEncoding.EncodeToString([]byte(mermaidCode))
	url := fmt.Sprintf("%s/%s", r.httpService, encoded)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http render: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("http render: status %d", resp.StatusCode)
	}
	return url, nil
}
