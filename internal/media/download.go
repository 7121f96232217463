package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	tele "gopkg.in/telebot.v4"
)

// DownloadTimeout is the maximum time to wait for a file download.
const DownloadTimeout = 120 * time.Second

// Fetch downloads a remote artifact. The size cap guards against
// providers handing back unexpectedly large files; maxBytes <= 0 applies
// DefaultMaxBytes. Returns the payload and its sniffed MIME type.
func Fetch(ctx context.Context, url string, maxBytes int64) (data []byte, mimeType string, err error) {
	if url == "" {
		return nil, "", fmt.Errorf("empty url")
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}

	client := &http.Client{Timeout: DownloadTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	data, err = io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read file content: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, "", fmt.Errorf("file exceeds size limit %d", maxBytes)
	}

	return data, DetectMIME(data), nil
}

// DownloadFromTelegram downloads a file from Telegram using the bot API.
func DownloadFromTelegram(bot *tele.Bot, file *tele.File) ([]byte, error) {
	if file == nil || file.FileID == "" {
		return nil, fmt.Errorf("invalid file: missing FileID")
	}

	fileInfo, err := bot.FileByID(file.FileID)
	if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}

	url := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s",
		bot.Token, fileInfo.FilePath)

	client := &http.Client{Timeout: DownloadTimeout}
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read file content: %w", err)
	}

	return data, nil
}

// DownloadPhoto downloads the largest available size of a Telegram photo.
func DownloadPhoto(bot *tele.Bot, photo *tele.Photo) ([]byte, error) {
	if photo == nil || photo.FileID == "" {
		return nil, fmt.Errorf("invalid photo: missing FileID")
	}
	return DownloadFromTelegram(bot, &photo.File)
}
