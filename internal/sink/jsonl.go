package sink

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"lawcrawler/internal/shared/logger"
	"lawcrawler/internal/shared/types"
)

// JSONLSink 将结果以每行一个 JSON 对象的形式追加到文件。
// 行式追加保证进程中途被杀时已写入的结果仍然完整可读。
type JSONLSink struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	count  int
}

// NewJSONLSink 打开（或创建）结果文件，后续写入均为追加。
func NewJSONLSink(path string) (*JSONLSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create result directory: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open result file: %w", err)
	}
	return &JSONLSink{
		file:   file,
		writer: bufio.NewWriter(file),
	}, nil
}

// Write 追加一条结果并立即冲刷。
func (s *JSONLSink) Write(result *types.AcquisitionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result %s: %w", result.ID, err)
	}
	if _, err := s.writer.Write(line); err != nil {
		return err
	}
	if err := s.writer.WriteByte('\n'); err != nil {
		return err
	}
	s.count++
	return s.writer.Flush()
}

// Close 冲刷并关闭结果文件。
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := logger.WithComponent("Sink")
	l.Info().Int("written", s.count).Msg("Result sink closed.")
	if err := s.writer.Flush(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}
