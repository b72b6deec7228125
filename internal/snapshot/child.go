package snapshot

import (
	"bytes"
	"fmt"
	"io"
	"os"

	atomicfile "github.com/natefinch/atomic"
)

// RunChild is the snapshot child's entire body: read the snapshot
// bytes streamed over stdin and atomically create destPath from them,
// mode 0644. It returns a non-nil error if the output file could not
// be written; the caller (cmd/kvsd/main.go) turns that into a failure
// exit status.
//
// Writing atomically (write-to-temp, then rename) means a concurrent
// reader of destPath never observes a partially written snapshot. This
// only governs the visibility of one already-complete file; it does
// not add any durability or write-ahead-logging guarantee.
func RunChild(stdin io.Reader, destPath string) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, stdin); err != nil {
		return fmt.Errorf("snapshot child: read snapshot bytes: %w", err)
	}
	if err := atomicfile.WriteFile(destPath, bytes.NewReader(buf.Bytes())); err != nil {
		return fmt.Errorf("snapshot child: write %s: %w", destPath, err)
	}
	return os.Chmod(destPath, 0o644)
}
