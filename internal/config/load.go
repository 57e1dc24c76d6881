package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const (
	maxRemoteMsgBytes = 2 << 20
	remoteMsgTimeout  = 10 * time.Second
)

var msgClient = &http.Client{Timeout: remoteMsgTimeout}

// LoadMsg resolves a system or role message. msg is used as is unless it is
// an http(s) URL, a file:// path or a ~/ path. Markdown files lose their
// YAML (---) or TOML (+++) frontmatter.
func LoadMsg(msg string) (string, error) {
	switch {
	case strings.HasPrefix(msg, "https://"), strings.HasPrefix(msg, "http://"):
		return fetchMsg(msg)
	case strings.HasPrefix(msg, "file://"):
		return readMsgFile(strings.TrimPrefix(msg, "file://"))
	case strings.HasPrefix(msg, "~/"):
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand %q: %w", msg, err)
		}
		return readMsgFile(filepath.Join(home, msg[2:]))
	default:
		return msg, nil
	}
}

func fetchMsg(url string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), remoteMsgTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("fetch role message: %w", err)
	}
	resp, err := msgClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch role message: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bts, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return "", fmt.Errorf("fetch role message: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(bts)))
	}
	bts, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteMsgBytes+1))
	if err != nil {
		return "", fmt.Errorf("read role message: %w", err)
	}
	if len(bts) > maxRemoteMsgBytes {
		return "", fmt.Errorf("read role message: response too large (>%d bytes)", maxRemoteMsgBytes)
	}
	return string(bts), nil
}

func readMsgFile(path string) (string, error) {
	bts, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read role file: %w", err)
	}
	if !strings.EqualFold(filepath.Ext(path), ".md") {
		return string(bts), nil
	}
	return StripFrontmatter(string(bts))
}

var errUnclosedFrontmatter = errors.New("invalid markdown frontmatter: missing closing delimiter")

// StripFrontmatter removes a leading YAML or TOML frontmatter block from
// markdown content. The block must parse.
func StripFrontmatter(content string) (string, error) {
	first, rest, _ := strings.Cut(content, "\n")
	delim := strings.TrimSpace(first)
	if delim != "---" && delim != "+++" {
		return content, nil
	}

	var head []string
	lines := strings.Split(rest, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) != delim {
			head = append(head, line)
			continue
		}
		var (
			parsed map[string]any
			err    error
		)
		meta := []byte(strings.Join(head, "\n"))
		if delim == "+++" {
			err = toml.Unmarshal(meta, &parsed)
		} else {
			err = yaml.Unmarshal(meta, &parsed)
		}
		if err != nil {
			return "", fmt.Errorf("invalid markdown frontmatter: %w", err)
		}
		return strings.TrimLeft(strings.Join(lines[i+1:], "\n"), "\r\n"), nil
	}
	return "", errUnclosedFrontmatter
}
