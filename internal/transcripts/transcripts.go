// Package transcripts archives finished chat exchanges as zstd-compressed
// JSON files, one per session.
package transcripts

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"guildpulse.gg/internal/protocol"
)

type Transcript struct {
	SessionID      string                 `json:"sessionId"`
	UserID         string                 `json:"userId"`
	Messages       []protocol.ChatMessage `json:"messages"`
	TokensUsed     int                    `json:"tokensUsed"`
	ResponseTimeMS int64                  `json:"responseTime"`
	ArchivedAt     time.Time              `json:"archivedAt"`
}

func pathFor(dir, sessionID string) string {
	return filepath.Join(dir, sessionID+".chat.zst")
}

func Write(dir string, tr Transcript) (string, error) {
	if tr.SessionID == "" {
		return "", fmt.Errorf("empty session id")
	}
	path := pathFor(dir, tr.SessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", err
	}
	if err := encodeTo(f, &tr); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return path, nil
}

// encodeTo flushes and closes explicitly: the zstd frame footer and the
// buffered tail land on Flush/Close, so their errors decide whether the
// archive is readable.
func encodeTo(w io.Writer, tr *Transcript) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)
	if err := json.NewEncoder(bw).Encode(tr); err != nil {
		_ = enc.Close()
		return fmt.Errorf("encode transcript: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func Read(path string) (Transcript, error) {
	var tr Transcript
	f, err := os.Open(path)
	if err != nil {
		return tr, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return tr, err
	}
	defer dec.Close()

	if err := json.NewDecoder(bufio.NewReaderSize(dec, 64*1024)).Decode(&tr); err != nil {
		return tr, fmt.Errorf("decode transcript: %w", err)
	}
	return tr, nil
}
