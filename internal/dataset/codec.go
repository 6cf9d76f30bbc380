package dataset

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

const (
	featsExt = ".feats"
	labelExt = ".lab"

	featsHeaderSize = 16
)

// ErrMalformedExample indicates an entry that cannot be decoded.
var ErrMalformedExample = errors.New("dataset: malformed example")

// encodeFeats serializes frames, left context and speaker info as a
// little-endian header of rows, cols, left context and speaker dim followed by
// float32 values.
func encodeFeats(eg Example) ([]byte, error) {
	if eg.Frames == nil || eg.Frames.IsEmpty() {
		return nil, fmt.Errorf("%w: %s has no frames", ErrMalformedExample, eg.Key)
	}
	if eg.LeftContext < 0 {
		return nil, fmt.Errorf("%w: %s has negative left context", ErrMalformedExample, eg.Key)
	}
	rows, cols := eg.Frames.Dims()
	buf := make([]byte, featsHeaderSize+4*(rows*cols+len(eg.SpkInfo)))
	binary.LittleEndian.PutUint32(buf[0:], uint32(rows))
	binary.LittleEndian.PutUint32(buf[4:], uint32(cols))
	binary.LittleEndian.PutUint32(buf[8:], uint32(eg.LeftContext))
	binary.LittleEndian.PutUint32(buf[12:], uint32(len(eg.SpkInfo)))
	off := featsHeaderSize
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(float32(eg.Frames.At(i, j))))
			off += 4
		}
	}
	for _, v := range eg.SpkInfo {
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(float32(v)))
		off += 4
	}
	return buf, nil
}

func decodeFeats(data []byte, eg *Example) error {
	if len(data) < featsHeaderSize {
		return fmt.Errorf("%w: feats header truncated", ErrMalformedExample)
	}
	rows := int(binary.LittleEndian.Uint32(data[0:]))
	cols := int(binary.LittleEndian.Uint32(data[4:]))
	left := int(binary.LittleEndian.Uint32(data[8:]))
	spk := int(binary.LittleEndian.Uint32(data[12:]))
	if rows <= 0 || cols <= 0 || spk < 0 {
		return fmt.Errorf("%w: feats are %dx%d+%d", ErrMalformedExample, rows, cols, spk)
	}
	payload := len(data) - featsHeaderSize
	if payload%4 != 0 {
		return fmt.Errorf("%w: feats payload is %d bytes, not a multiple of 4", ErrMalformedExample, payload)
	}
	// Bound each header field by the payload before multiplying.
	n := payload / 4
	if spk > n || cols > n-spk || rows > (n-spk)/cols || rows*cols != n-spk {
		return fmt.Errorf("%w: header %dx%d+%d does not match %d payload values", ErrMalformedExample, rows, cols, spk, n)
	}
	values := make([]float64, rows*cols)
	off := featsHeaderSize
	for i := range values {
		values[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[off:])))
		off += 4
	}
	var spkInfo []float64
	if spk > 0 {
		spkInfo = make([]float64, spk)
		for i := range spkInfo {
			spkInfo[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[off:])))
			off += 4
		}
	}
	eg.Frames = mat.NewDense(rows, cols, values)
	eg.LeftContext = left
	eg.SpkInfo = spkInfo
	return nil
}

// encodeLabels writes one "class weight" pair per line.
func encodeLabels(labels []Label) []byte {
	var b bytes.Buffer
	for _, l := range labels {
		fmt.Fprintf(&b, "%d %s\n", l.Class, strconv.FormatFloat(l.Weight, 'g', -1, 64))
	}
	return b.Bytes()
}

func decodeLabels(data []byte) ([]Label, error) {
	var labels []Label
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("%w: label line %d: want \"class weight\"", ErrMalformedExample, lineNo)
		}
		class, err := strconv.Atoi(fields[0])
		if err != nil || class < 0 {
			return nil, fmt.Errorf("%w: label line %d: class %q", ErrMalformedExample, lineNo, fields[0])
		}
		weight, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: label line %d: weight: %v", ErrMalformedExample, lineNo, err)
		}
		labels = append(labels, Label{Class: class, Weight: weight})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("%w: no labels", ErrMalformedExample)
	}
	return labels, nil
}
