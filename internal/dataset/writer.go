package dataset

import (
	"archive/tar"
	"fmt"
	"io"
)

// ShardWriter writes examples as paired tar entries readable by StreamShard.
type ShardWriter struct {
	tw *tar.Writer
}

// NewShardWriter wraps w.
func NewShardWriter(w io.Writer) *ShardWriter {
	return &ShardWriter{tw: tar.NewWriter(w)}
}

// Write appends eg to the shard.
func (s *ShardWriter) Write(eg Example) error {
	if eg.Key == "" {
		return fmt.Errorf("%w: empty key", ErrMalformedExample)
	}
	if len(eg.Labels) == 0 {
		return fmt.Errorf("%w: %s has no labels", ErrMalformedExample, eg.Key)
	}
	feats, err := encodeFeats(eg)
	if err != nil {
		return err
	}
	if err := s.put(eg.Key+featsExt, feats); err != nil {
		return err
	}
	return s.put(eg.Key+labelExt, encodeLabels(eg.Labels))
}

func (s *ShardWriter) put(name string, data []byte) error {
	hdr := &tar.Header{Name: name, Size: int64(len(data)), Mode: 0o644}
	if err := s.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write header %s: %w", name, err)
	}
	if _, err := s.tw.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// Close flushes the tar trailer. It does not close the underlying writer.
func (s *ShardWriter) Close() error {
	return s.tw.Close()
}
