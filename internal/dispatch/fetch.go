package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/itchyny/gojq"

	"github.com/opencode-ai/executor/internal/executor"
	"github.com/opencode-ai/executor/internal/session"
	"github.com/opencode-ai/executor/pkg/protocol"
)

const (
	maxResponseSize     = 5 * 1024 * 1024 // 5MB
	DefaultFetchTimeout = 30 * time.Second
	MaxFetchTimeout     = 120 * time.Second
)

var acceptHeaders = map[string]string{
	protocol.FormatMarkdown: "text/markdown;q=1.0, text/x-markdown;q=0.9, text/plain;q=0.8, text/html;q=0.7, */*;q=0.1",
	protocol.FormatText:     "text/plain;q=1.0, text/markdown;q=0.9, text/html;q=0.8, */*;q=0.1",
	protocol.FormatHTML:     "text/html;q=1.0, application/xhtml+xml;q=0.9, text/plain;q=0.8, text/markdown;q=0.7, */*;q=0.1",
	protocol.FormatJSON:     "application/json;q=1.0, text/json;q=0.9, */*;q=0.1",
}

func (d *Dispatcher) handleFetch(ctx context.Context, exec executor.Executor, req *protocol.ClientPacket, emit session.Emitter) error {
	if req.URL == "" {
		return missingField("url")
	}
	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		return fmt.Errorf("URL must start with http:// or https://")
	}

	format := req.Format
	if format == "" {
		format = protocol.FormatMarkdown
		if req.Filter != "" {
			format = protocol.FormatJSON
		}
	}
	accept, ok := acceptHeaders[format]
	if !ok {
		return fmt.Errorf("format must be 'text', 'markdown', 'html' or 'json'")
	}
	if req.Filter != "" && format != protocol.FormatJSON {
		return fmt.Errorf("filter requires format 'json'")
	}

	reqCtx, cancel := context.WithTimeout(ctx, req.TimeoutDuration(DefaultFetchTimeout, MaxFetchTimeout))
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, req.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", accept)
	httpReq.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := exec.HTTP().Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("request failed with status code: %d", resp.StatusCode)
	}
	if resp.ContentLength > maxResponseSize {
		return fmt.Errorf("response too large (exceeds 5MB limit)")
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if len(body) > maxResponseSize {
		return fmt.Errorf("response too large (exceeds 5MB limit)")
	}

	contentType := resp.Header.Get("Content-Type")
	isHTML := strings.Contains(contentType, "text/html")

	var output string
	switch format {
	case protocol.FormatMarkdown:
		output = string(body)
		if isHTML {
			if output, err = convertHTMLToMarkdown(output); err != nil {
				return fmt.Errorf("failed to convert HTML to markdown: %w", err)
			}
		}
	case protocol.FormatText:
		output = string(body)
		if isHTML {
			if output, err = extractTextFromHTML(output); err != nil {
				return fmt.Errorf("failed to extract text from HTML: %w", err)
			}
		}
	case protocol.FormatJSON:
		if output, err = applyFilter(reqCtx, body, req.Filter); err != nil {
			return err
		}
	default:
		output = string(body)
	}

	return emit(ctx, protocol.Result(req.ID, output, map[string]any{
		"url":         resp.Request.URL.String(),
		"status":      resp.StatusCode,
		"contentType": contentType,
	}))
}

// applyFilter parses body as JSON and runs the jq filter over it, printing
// each result on its own line. An empty filter pretty-prints the document.
func applyFilter(ctx context.Context, body []byte, filter string) (string, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("response is not JSON: %w", err)
	}
	if filter == "" {
		filter = "."
	}

	query, err := gojq.Parse(filter)
	if err != nil {
		return "", fmt.Errorf("jq: filter parse error: %w", err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return "", fmt.Errorf("jq: compile error: %w", err)
	}

	var out []string
	iter := code.RunWithContext(ctx, doc)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := v.(error); ok {
			return "", fmt.Errorf("jq: execution error: %w", err)
		}
		encoded, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", fmt.Errorf("jq: encode result: %w", err)
		}
		out = append(out, string(encoded))
	}
	return strings.Join(out, "\n"), nil
}

// extractTextFromHTML extracts plain text from HTML, removing scripts, styles, and other non-content elements.
func extractTextFromHTML(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}

	doc.Find("script, style, noscript, iframe, object, embed").Remove()

	return strings.TrimSpace(doc.Text()), nil
}

// convertHTMLToMarkdown converts HTML content to Markdown format.
func convertHTMLToMarkdown(html string) (string, error) {
	converter := md.NewConverter("", true, &md.Options{
		HeadingStyle:     "atx",
		HorizontalRule:   "---",
		BulletListMarker: "-",
		CodeBlockStyle:   "fenced",
		EmDelimiter:      "*",
	})

	converter.Remove("script", "style", "meta", "link")

	return converter.ConvertString(html)
}
