// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func plainPrinter() (*Printer, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return NewPrinter(&out, &errOut, ModePlain), &out, &errOut
}

func TestPrinter_PlainMode(t *testing.T) {
	p, out, errOut := plainPrinter()

	p.Title("Playlist")
	p.Success("saved")
	p.Warning("no links")
	p.Error("failed")
	p.Info("note")
	p.Box("Label", "gym")

	assert.Equal(t, "Playlist\nLabel\ngym\n", out.String())
	assert.Equal(t, "OK: saved\nWARN: no links\nERROR: failed\nnote\n", errOut.String())
}

func TestPrinter_RichModeStyles(t *testing.T) {
	var out, errOut bytes.Buffer
	p := NewPrinter(&out, &errOut, ModeRich)

	p.Success("saved")
	p.Box("Label", "gym")

	assert.Contains(t, errOut.String(), "saved")
	assert.Contains(t, errOut.String(), string(IconSuccess))
	assert.Contains(t, out.String(), "gym")
}

func TestNewPrinter_Defaults(t *testing.T) {
	p := NewPrinter(nil, nil, "")
	assert.Equal(t, os.Stdout, p.Out)
	assert.Equal(t, os.Stderr, p.Err)
	assert.False(t, p.Rich())
}

func TestDetectMode_NoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.Equal(t, ModePlain, DetectMode(os.Stdout))
}

func TestIcon_Render(t *testing.T) {
	assert.Contains(t, IconError.Render(), string(IconError))
	assert.Equal(t, string(IconArrow), IconArrow.Render())
}

// =============================================================================
// Spinner Tests
// =============================================================================

func TestWithSpinner_Plain(t *testing.T) {
	p, _, errOut := plainPrinter()

	err := p.WithSpinner("Filtering", func() error { return nil })
	require.NoError(t, err)
	assert.Contains(t, errOut.String(), "PROGRESS: Filtering")
	assert.Contains(t, errOut.String(), "OK: Filtering")
}

func TestWithSpinner_Error(t *testing.T) {
	p, _, errOut := plainPrinter()

	err := p.WithSpinner("Reranking", func() error { return errors.New("oracle down") })
	assert.EqualError(t, err, "oracle down")
	assert.Contains(t, errOut.String(), "ERROR: Reranking: oracle down")
}

func TestSpinner_HaltIsIdempotent(t *testing.T) {
	var errOut bytes.Buffer
	p := NewPrinter(&bytes.Buffer{}, &errOut, ModeRich)
	s := p.startSpinner("working")

	s.halt()
	assert.NotPanics(t, s.halt)
}

func TestWithSpinner_Rich(t *testing.T) {
	var errOut bytes.Buffer
	p := NewPrinter(&bytes.Buffer{}, &errOut, ModeRich)

	err := p.WithSpinner("Refining", func() error { return nil })
	require.NoError(t, err)
	assert.NotContains(t, errOut.String(), "PROGRESS:")
	assert.Contains(t, errOut.String(), "Refining")
}
