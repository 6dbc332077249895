package io

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/williampepple1/lead-tracker/internal/behavior"
)

// Step kinds of an interaction script
const (
	StepLoad      = "load"
	StepMove      = "move"
	StepFocus     = "focus"
	StepInput     = "input"
	StepClick     = "click"
	StepScroll    = "scroll"
	StepHide      = "hide"
	StepShow      = "show"
	StepWait      = "wait"
	StepIdleCheck = "idle_check"
	StepAnalyze   = "analyze"
	StepUnload    = "unload"
)

// Step is one recorded visitor interaction
type Step struct {
	Type   string                `json:"type"`
	URL    string                `json:"url,omitempty"`
	X      float64               `json:"x,omitempty"`
	Y      float64               `json:"y,omitempty"`
	Depth  float64               `json:"depth,omitempty"`
	Field  *behavior.FormField   `json:"field,omitempty"`
	Target *behavior.ClickTarget `json:"target,omitempty"`
	Wait   string                `json:"duration,omitempty"`

	duration time.Duration
}

// Duration returns the parsed wait of a wait step
func (s Step) Duration() time.Duration { return s.duration }

func (s *Step) validate() error {
	switch s.Type {
	case StepLoad:
		if s.URL == "" {
			return fmt.Errorf("load step without url")
		}
	case StepFocus, StepInput:
		if s.Field == nil {
			return fmt.Errorf("%s step without field", s.Type)
		}
	case StepClick:
		if s.Target == nil {
			return fmt.Errorf("click step without target")
		}
	case StepWait:
		d, err := time.ParseDuration(s.Wait)
		if err != nil {
			return fmt.Errorf("wait step: %w", err)
		}
		s.duration = d
	case StepMove, StepScroll, StepHide, StepShow, StepIdleCheck, StepAnalyze, StepUnload:
	default:
		return fmt.Errorf("unknown step type %q", s.Type)
	}
	return nil
}

// ScriptReader reads interaction scripts
type ScriptReader struct{}

// NewScriptReader creates a new script reader
func NewScriptReader() *ScriptReader {
	return &ScriptReader{}
}

// ReadFromFile reads a script from a file, one JSON step per line. Blank
// lines and lines starting with # are skipped.
func (r *ScriptReader) ReadFromFile(filename string) ([]Step, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var steps []Step
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		var step Step
		if err := json.Unmarshal([]byte(text), &step); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", filename, line, err)
		}
		if err := step.validate(); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", filename, line, err)
		}
		steps = append(steps, step)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return steps, nil
}
