package productive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/ternarybob/taskferry/internal/interfaces"
	"github.com/ternarybob/taskferry/internal/models"
)

// DownloadURLBuffer fetches a binary asset for re-upload. It never returns an
// error: any failure, including an HTML page served in place of the file,
// yields nil and a warning on the sink.
func (c *Client) DownloadURLBuffer(ctx context.Context, rawURL string, sink interfaces.LogSink) *models.Download {
	if sink == nil {
		sink = interfaces.DiscardSink
	}

	if err := c.gate.Wait(ctx, sink); err != nil {
		return nil
	}

	productiveHost := c.isProductiveHost(rawURL)

	fail := func(markGate bool, format string, args ...interface{}) *models.Download {
		if markGate && productiveHost && ctx.Err() == nil {
			c.gate.MarkError()
		}
		msg := fmt.Sprintf(format, args...)
		c.logger.Warn().Str("url", redactQuery(rawURL)).Msg(msg)
		sink.Log(models.SeverityWarning, msg)
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fail(false, "Skipping download of %s: %v", redactQuery(rawURL), err)
	}
	if productiveHost {
		c.setHeaders(req)
		req.Header.Del("Content-Type")
		req.Header.Set("Accept", "*/*")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fail(true, "Download failed for %s: %v", redactQuery(rawURL), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fail(true, "Download failed for %s: status %d", redactQuery(rawURL), resp.StatusCode)
	}

	buf, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fail(true, "Download failed for %s: %v", redactQuery(rawURL), err)
	}

	contentType := resp.Header.Get("Content-Type")
	if isHTMLPayload(contentType, buf) {
		return fail(false, "Download of %s returned an HTML page instead of a file", redactQuery(rawURL))
	}
	if contentType == "" {
		contentType = mimetype.Detect(buf).String()
	}

	return &models.Download{
		Buffer:      buf,
		ContentType: contentType,
		Filename:    inferFilename(resp.Header.Get("Content-Disposition"), rawURL),
	}
}

// isHTMLPayload reports whether a response looks like a web page, typically a
// login redirect, rather than the requested asset
func isHTMLPayload(contentType string, buf []byte) bool {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		if mediaType == "text/html" || mediaType == "application/xhtml+xml" {
			return true
		}
	} else if strings.Contains(strings.ToLower(contentType), "text/html") {
		return true
	}

	head := buf
	if len(head) > 512 {
		head = head[:512]
	}
	trimmed := strings.ToLower(string(bytes.TrimLeft(head, " \t\r\n\ufeff")))
	if strings.HasPrefix(trimmed, "<!doctype html") || strings.HasPrefix(trimmed, "<html") {
		return true
	}

	return mimetype.Detect(buf).Is("text/html")
}

// inferFilename prefers Content-Disposition, then the URL path basename
func inferFilename(contentDisposition, rawURL string) string {
	if contentDisposition != "" {
		if _, params, err := mime.ParseMediaType(contentDisposition); err == nil {
			if name := strings.TrimSpace(params["filename"]); name != "" {
				return path.Base(name)
			}
		}
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "" || base == "." || base == "/" {
		return ""
	}
	if unescaped, err := url.PathUnescape(base); err == nil {
		base = unescaped
	}
	return base
}
