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
	"fmt"
	"sync"
	"time"
)

var noteFrames = []string{"♪", "♫", "♬", "♫"}

const frameInterval = 120 * time.Millisecond

// spinner animates a message on the printer's error stream until stopped.
// In plain mode it prints the message once and never animates.
type spinner struct {
	printer *Printer
	message string
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func (p *Printer) startSpinner(message string) *spinner {
	s := &spinner{
		printer: p,
		message: message,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if !p.Rich() {
		fmt.Fprintf(p.Err, "PROGRESS: %s\n", message)
		close(s.done)
		return s
	}
	go s.run()
	return s
}

func (s *spinner) run() {
	defer close(s.done)
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	for i := 0; ; i++ {
		select {
		case <-s.stop:
			fmt.Fprint(s.printer.Err, "\r\033[K")
			return
		case <-ticker.C:
			frame := Styles.Highlight.Render(noteFrames[i%len(noteFrames)])
			fmt.Fprintf(s.printer.Err, "\r%s %s", frame, s.message)
		}
	}
}

// halt stops the animation and clears its line. Safe to call twice.
func (s *spinner) halt() {
	s.once.Do(func() { close(s.stop) })
	<-s.done
}

// WithSpinner runs fn behind a progress indicator and reports its outcome
// with Success or Error.
func (p *Printer) WithSpinner(message string, fn func() error) error {
	s := p.startSpinner(message)
	err := fn()
	s.halt()

	if err != nil {
		p.Error(fmt.Sprintf("%s: %v", message, err))
		return err
	}
	p.Success(message)
	return nil
}
