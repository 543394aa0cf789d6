package linear

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/ternarybob/taskferry/internal/interfaces"
	"github.com/ternarybob/taskferry/internal/models"
)

// URLKind classifies a discovered link
type URLKind int

const (
	URLKindUnknown URLKind = iota
	URLKindAttachment
	URLKindWebPage
)

// AttachOutcome records which stage of the attachment chain succeeded
type AttachOutcome string

const (
	AttachUploaded  AttachOutcome = "uploaded"
	AttachLinked    AttachOutcome = "linked"
	AttachCommented AttachOutcome = "commented"
	AttachSkipped   AttachOutcome = "skipped"
	AttachFailed    AttachOutcome = "failed"
)

var fileExtensions = map[string]bool{
	".pdf": true, ".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true,
	".svg": true, ".bmp": true, ".tif": true, ".tiff": true, ".heic": true,
	".doc": true, ".docx": true, ".xls": true, ".xlsx": true, ".ppt": true, ".pptx": true,
	".odt": true, ".ods": true, ".csv": true, ".txt": true, ".rtf": true, ".json": true, ".xml": true,
	".zip": true, ".rar": true, ".7z": true, ".gz": true, ".tar": true,
	".mp4": true, ".mov": true, ".avi": true, ".webm": true, ".mp3": true, ".wav": true,
	".psd": true, ".ai": true, ".sketch": true, ".fig": true, ".eps": true,
}

var fileHosts = []string{
	"amazonaws.com",
	"cloudfront.net",
	"storage.googleapis.com",
	"blob.core.windows.net",
	"dropboxusercontent.com",
	"files.productive.io",
	"productive-files",
	"uploads.linear.app",
}

var webPageHosts = []string{
	"google.com",
	"youtube.com",
	"youtu.be",
	"github.com",
	"gitlab.com",
	"bitbucket.org",
	"figma.com",
	"notion.so",
	"slack.com",
	"atlassian.net",
	"linkedin.com",
	"loom.com",
	"miro.com",
	"trello.com",
	"linear.app",
}

func hostMatches(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// ClassifyURL decides whether a link is likely a downloadable file or a web page
func ClassifyURL(rawURL string) URLKind {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return URLKindUnknown
	}
	host := strings.ToLower(u.Hostname())

	if !strings.HasPrefix(host, "uploads.") {
		for _, domain := range webPageHosts {
			if hostMatches(host, domain) {
				return URLKindWebPage
			}
		}
	}

	if fileExtensions[strings.ToLower(path.Ext(u.Path))] {
		return URLKindAttachment
	}
	for _, marker := range fileHosts {
		if hostMatches(host, marker) || strings.Contains(host, marker) {
			return URLKindAttachment
		}
	}
	return URLKindUnknown
}

const fileUploadMutation = `mutation FileUpload($contentType: String!, $filename: String!, $size: Int!) {
  fileUpload(contentType: $contentType, filename: $filename, size: $size) {
    success
    uploadFile { uploadUrl assetUrl headers { key value } }
  }
}`

const attachmentCreateMutation = `mutation CreateAttachment($input: AttachmentCreateInput!) {
  attachmentCreate(input: $input) { success }
}`

const attachmentLinkMutation = `mutation LinkURL($issueId: String!, $url: String!, $title: String) {
  attachmentLinkURL(issueId: $issueId, url: $url, title: $title) { success }
}`

// uploadFile requests a signed slot, PUTs the payload and attaches the asset
func (r *Replicator) uploadFile(ctx context.Context, issueID, sourceURL string, dl *models.Download) error {
	filename := dl.Filename
	if filename == "" {
		filename = "attachment"
	}
	contentType := dl.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var uploadResp struct {
		FileUpload struct {
			Success    bool `json:"success"`
			UploadFile struct {
				UploadURL string `json:"uploadUrl"`
				AssetURL  string `json:"assetUrl"`
				Headers   []struct {
					Key   string `json:"key"`
					Value string `json:"value"`
				} `json:"headers"`
			} `json:"uploadFile"`
		} `json:"fileUpload"`
	}
	vars := map[string]interface{}{"contentType": contentType, "filename": filename, "size": len(dl.Buffer)}
	if err := r.api.Do(ctx, fileUploadMutation, vars, &uploadResp); err != nil {
		return fmt.Errorf("failed to request upload slot: %w", err)
	}
	slot := uploadResp.FileUpload.UploadFile
	if !uploadResp.FileUpload.Success || slot.UploadURL == "" {
		return fmt.Errorf("upload slot request was not successful")
	}

	target := UploadTarget{UploadURL: slot.UploadURL, AssetURL: slot.AssetURL, Headers: make(map[string]string, len(slot.Headers))}
	for _, h := range slot.Headers {
		target.Headers[h.Key] = h.Value
	}
	if err := r.api.Upload(ctx, target, dl.Buffer, contentType); err != nil {
		return err
	}

	var attachResp struct {
		AttachmentCreate successPayload `json:"attachmentCreate"`
	}
	input := map[string]interface{}{
		"issueId":  issueID,
		"url":      target.AssetURL,
		"title":    filename,
		"subtitle": sourceURL,
	}
	if err := r.api.Do(ctx, attachmentCreateMutation, map[string]interface{}{"input": input}, &attachResp); err != nil {
		return fmt.Errorf("failed to create attachment: %w", err)
	}
	if !attachResp.AttachmentCreate.Success {
		return fmt.Errorf("attachment create was not successful")
	}
	return nil
}

// LinkURL adds a URL-only attachment to an issue
func (r *Replicator) LinkURL(ctx context.Context, issueID, rawURL string) error {
	var resp struct {
		AttachmentLinkURL successPayload `json:"attachmentLinkURL"`
	}
	vars := map[string]interface{}{"issueId": issueID, "url": rawURL, "title": linkTitle(rawURL)}
	if err := r.api.Do(ctx, attachmentLinkMutation, vars, &resp); err != nil {
		return fmt.Errorf("failed to link url: %w", err)
	}
	if !resp.AttachmentLinkURL.Success {
		return fmt.Errorf("link attachment was not successful")
	}
	return nil
}

func linkTitle(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if base := path.Base(u.Path); base != "" && base != "." && base != "/" {
		if unescaped, err := url.PathUnescape(base); err == nil {
			return unescaped
		}
		return base
	}
	return u.Host
}

// AttachURL runs the attachment chain for one link: binary upload for likely
// files, then a URL attachment, then a plain comment. Each stage runs only
// when the previous one failed. It never returns an error.
func (r *Replicator) AttachURL(ctx context.Context, issueID, rawURL string, sink interfaces.LogSink) AttachOutcome {
	if sink == nil {
		sink = interfaces.DiscardSink
	}

	if ClassifyURL(rawURL) == URLKindAttachment && r.downloader != nil {
		if dl := r.downloader.DownloadURLBuffer(ctx, rawURL, sink); dl != nil {
			err := r.uploadFile(ctx, issueID, rawURL, dl)
			if err == nil {
				return AttachUploaded
			}
			sink.Log(models.SeverityWarning, fmt.Sprintf("Upload of %s failed, linking instead: %v", linkTitle(rawURL), err))
		}
	}

	err := r.LinkURL(ctx, issueID, rawURL)
	if err == nil {
		return AttachLinked
	}
	sink.Log(models.SeverityWarning, fmt.Sprintf("Linking %s failed, posting as comment: %v", linkTitle(rawURL), err))

	if err := r.Comment(ctx, CommentInput{IssueID: issueID, Body: rawURL}); err != nil {
		sink.Log(models.SeverityError, fmt.Sprintf("Could not attach %s: %v", linkTitle(rawURL), err))
		return AttachFailed
	}
	return AttachCommented
}

// AttachURLs runs AttachURL for each link that is not already quoted
// verbatim in one of commentBodies
func (r *Replicator) AttachURLs(ctx context.Context, issueID string, urls, commentBodies []string, sink interfaces.LogSink) map[AttachOutcome]int {
	outcomes := make(map[AttachOutcome]int)

	for _, rawURL := range urls {
		if ctx.Err() != nil {
			break
		}
		if mentionedIn(rawURL, commentBodies) {
			outcomes[AttachSkipped]++
			continue
		}
		outcomes[r.AttachURL(ctx, issueID, rawURL, sink)]++
	}

	return outcomes
}

func mentionedIn(rawURL string, bodies []string) bool {
	for _, body := range bodies {
		if strings.Contains(body, rawURL) {
			return true
		}
	}
	return false
}
