package ledger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// CSVLedger 追加写 CSV 文件，每行写完立即 flush，运行中也可被外部读取。
type CSVLedger struct {
	path string
	f    *os.File
	w    *csv.Writer
}

// OpenCSV 打开（或创建）path。文件不存在或为空时先写表头。
func OpenCSV(path string) (*CSVLedger, error) {
	if path == "" {
		return nil, errors.New("ledger: empty csv path")
	}
	needHeader, err := emptyOrMissing(path)
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ledger: create dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}
	l := &CSVLedger{path: path, f: f, w: csv.NewWriter(f)}
	if needHeader {
		if err := l.write(Header); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return l, nil
}

// Path 返回文件路径。
func (l *CSVLedger) Path() string { return l.path }

func (l *CSVLedger) Append(r Record) error {
	return l.write(r.Fields())
}

func (l *CSVLedger) Close() error {
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		_ = l.f.Close()
		return err
	}
	return l.f.Close()
}

func (l *CSVLedger) write(row []string) error {
	if err := l.w.Write(row); err != nil {
		return fmt.Errorf("ledger: write: %w", err)
	}
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		return fmt.Errorf("ledger: flush: %w", err)
	}
	return nil
}

func emptyOrMissing(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("ledger: stat %s: %w", path, err)
	}
	return info.Size() == 0, nil
}
