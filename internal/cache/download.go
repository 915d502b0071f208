package cache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path"
	"time"

	"github.com/schollz/progressbar/v3"
)

// HTTPDownloader fetches http and https URLs.
type HTTPDownloader struct {
	Client *http.Client

	// Progress receives a progress bar while downloading. Nil disables it.
	Progress io.Writer
}

// NewHTTPDownloader returns an HTTPDownloader whose client leaves the
// payload exactly as served: archives are hashed byte for byte, so a
// transparently decompressed body would never match its digest.
func NewHTTPDownloader(progress io.Writer) *HTTPDownloader {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DisableCompression = true
	return &HTTPDownloader{
		Client:   &http.Client{Transport: tr},
		Progress: progress,
	}
}

func (h *HTTPDownloader) Download(ctx context.Context, rawURL string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", rawURL, resp.Status)
	}
	if h.Progress != nil {
		bar := progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetDescription(path.Base(req.URL.Path)),
			progressbar.OptionSetWriter(h.Progress),
			progressbar.OptionShowBytes(true),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
		defer bar.Close()
		w = io.MultiWriter(w, bar)
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

// FileDownloader copies file URLs. It serves patches shipped next to a plan.
type FileDownloader struct{}

func (FileDownloader) Download(ctx context.Context, rawURL string, w io.Writer) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	f, err := os.Open(u.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

// CurlDownloader hands the transfer to curl. It covers schemes net/http does
// not speak, ftp in particular.
type CurlDownloader struct {
	Path string // curl binary; "curl" on PATH if empty
}

func (c CurlDownloader) Download(ctx context.Context, rawURL string, w io.Writer) error {
	bin := c.Path
	if bin == "" {
		bin = "curl"
	}
	cmd := exec.CommandContext(ctx, bin, "--fail", "--silent", "--show-error", "--location", rawURL)
	cmd.Stdout = w
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("curl %s: %w", rawURL, err)
	}
	return nil
}
