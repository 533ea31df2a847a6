package view

import (
	"context"
	"fmt"

	"github.com/tesseradata/tessera/internal/errors"
	"github.com/tesseradata/tessera/internal/media"
	"github.com/tesseradata/tessera/internal/types"
)

const (
	stringSplitterName  = "string_splitter"
	frameEnumeratorName = "frame_enumerator"
)

// StringSplitter chops a text input into fixed-size chunks. A text of length
// L with chunk_size n yields ceil(L/n) rows; empty text yields none.
//
// Inputs: the text column. Args: chunk_size (int, required).
type StringSplitter struct{}

func (s *StringSplitter) Name() string { return stringSplitterName }

func (s *StringSplitter) OutputColumns(args map[string]interface{}) ([]OutputColumn, error) {
	if _, err := intArg(args, "chunk_size"); err != nil {
		return nil, err
	}
	return []OutputColumn{
		{Name: "chunk", Type: types.String},
		{Name: "chunk_idx", Type: types.Int},
	}, nil
}

func (s *StringSplitter) Open(ctx context.Context, inputs []types.Value, args map[string]interface{}) (Cursor, error) {
	size, err := intArg(args, "chunk_size")
	if err != nil {
		return nil, err
	}
	if len(inputs) != 1 {
		return nil, errors.NewValidationError(errors.CodeMalformedRow,
			fmt.Sprintf("string_splitter expects 1 input, got %d", len(inputs)))
	}
	if inputs[0] == nil {
		return &chunkCursor{}, nil
	}
	text, ok := inputs[0].(string)
	if !ok {
		return nil, errors.NewValidationError(errors.CodeMalformedRow,
			fmt.Sprintf("string_splitter input must be a string, got %T", inputs[0]))
	}
	return &chunkCursor{runes: []rune(text), size: size}, nil
}

// chunkCursor yields ceil(len(runes)/size) chunks. A zero-value cursor
// (NULL input) yields nothing.
type chunkCursor struct {
	runes []rune
	size  int
	idx   int
}

func (c *chunkCursor) Next(ctx context.Context) (map[string]types.Value, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	start := c.idx * c.size
	if c.size == 0 || start >= len(c.runes) {
		return nil, false, nil
	}
	end := start + c.size
	if end > len(c.runes) {
		end = len(c.runes)
	}
	out := map[string]types.Value{
		"chunk":     string(c.runes[start:end]),
		"chunk_idx": int64(c.idx),
	}
	c.idx++
	return out, true, nil
}

func (c *chunkCursor) Close() error { return nil }

// FrameEnumerator enumerates the frame grid of a video at a sampling rate.
// It does not decode media: frames are addressed by index and timestamp, and
// downstream computed columns extract pixels on demand.
//
// Inputs: the video column, then its duration in seconds (float). Args: fps
// (float, required).
type FrameEnumerator struct{}

func (f *FrameEnumerator) Name() string { return frameEnumeratorName }

func (f *FrameEnumerator) OutputColumns(args map[string]interface{}) ([]OutputColumn, error) {
	if _, err := floatArg(args, "fps"); err != nil {
		return nil, err
	}
	return []OutputColumn{
		{Name: "video", Type: types.Video},
		{Name: "frame_idx", Type: types.Int},
		{Name: "ts", Type: types.Float},
	}, nil
}

func (f *FrameEnumerator) Open(ctx context.Context, inputs []types.Value, args map[string]interface{}) (Cursor, error) {
	fps, err := floatArg(args, "fps")
	if err != nil {
		return nil, err
	}
	if fps <= 0 {
		return nil, errors.NewValidationError(errors.CodeMalformedRow,
			fmt.Sprintf("frame_enumerator fps must be positive, got %v", fps))
	}
	if len(inputs) != 2 {
		return nil, errors.NewValidationError(errors.CodeMalformedRow,
			fmt.Sprintf("frame_enumerator expects 2 inputs, got %d", len(inputs)))
	}
	if inputs[0] == nil || inputs[1] == nil {
		return &frameCursor{}, nil
	}
	ref, ok := media.RefFromValue(inputs[0])
	if !ok {
		return nil, errors.NewValidationError(errors.CodeMalformedRow,
			fmt.Sprintf("frame_enumerator input must be a media reference, got %T", inputs[0]))
	}
	duration, ok := types.AsFloat(inputs[1])
	if !ok {
		return nil, errors.NewValidationError(errors.CodeMalformedRow,
			fmt.Sprintf("frame_enumerator duration must be a float, got %T", inputs[1]))
	}
	return &frameCursor{ref: ref, fps: fps, n: int64(duration * fps)}, nil
}

// frameCursor yields n frames addressed by index and timestamp; the frame
// grid of a long video is never materialized at once.
type frameCursor struct {
	ref media.Ref
	fps float64
	n   int64
	idx int64
}

func (c *frameCursor) Next(ctx context.Context) (map[string]types.Value, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if c.idx >= c.n {
		return nil, false, nil
	}
	out := map[string]types.Value{
		"video":     c.ref,
		"frame_idx": c.idx,
		"ts":        float64(c.idx) / c.fps,
	}
	c.idx++
	return out, true, nil
}

func (c *frameCursor) Close() error { return nil }

func intArg(args map[string]interface{}, name string) (int, error) {
	v, ok := args[name]
	if !ok {
		return 0, errors.NewValidationError(errors.CodeMalformedRow,
			fmt.Sprintf("missing iterator argument %q", name))
	}
	n, ok := types.AsInt(v)
	if !ok || n <= 0 {
		return 0, errors.NewValidationError(errors.CodeMalformedRow,
			fmt.Sprintf("iterator argument %q must be a positive integer", name))
	}
	return int(n), nil
}

func floatArg(args map[string]interface{}, name string) (float64, error) {
	v, ok := args[name]
	if !ok {
		return 0, errors.NewValidationError(errors.CodeMalformedRow,
			fmt.Sprintf("missing iterator argument %q", name))
	}
	f, ok := types.AsFloat(v)
	if !ok {
		return 0, errors.NewValidationError(errors.CodeMalformedRow,
			fmt.Sprintf("iterator argument %q must be a number", name))
	}
	return f, nil
}
