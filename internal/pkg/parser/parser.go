package parser

import (
	"regexp"
	"strconv"
	"strings"

	jobsmodel "github.com/grabwell/grabwell/internal/model/jobs"
)

var (
	// percentRe matches the first "NN%" or "NN.N%" token on a line.
	percentRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)

	// stageRe matches a leading "[stage]" tag, the common convention of
	// download and transcode tools.
	stageRe = regexp.MustCompile(`^\s*\[([^\]\s][^\]]*)\]`)
)

// Parser incrementally classifies the external tool's output lines into
// structured progress events or raw log events. It is stateful only to
// carry the last seen stage label into lines that omit it and to flag
// percent regressions within a stage. Lines it cannot recognize degrade to
// log events; they are never dropped.
type Parser struct {
	stage       string
	lastPercent float64
	hasPercent  bool
}

// New creates a new Parser.
func New() *Parser {
	return &Parser{}
}

// ParseLine classifies one decoded output line. Exactly one of the returned
// pointers is non-nil.
func (p *Parser) ParseLine(stream jobsmodel.LogStream, line string) (*jobsmodel.ProgressEvent, *jobsmodel.LogEvent) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil, &jobsmodel.LogEvent{Stream: stream, Line: line}
	}

	stage := p.stage
	rest := trimmed
	if m := stageRe.FindStringSubmatch(trimmed); m != nil {
		stage = strings.TrimSpace(m[1])
		rest = strings.TrimSpace(trimmed[len(m[0]):])
	}

	m := percentRe.FindStringSubmatch(rest)
	if m == nil {
		// A stage tag without a percent still carries progress information.
		if stage != p.stage {
			p.setStage(stage)
			return &jobsmodel.ProgressEvent{
				Stage:         stage,
				Indeterminate: true,
				Message:       rest,
			}, nil
		}
		return nil, &jobsmodel.LogEvent{Stream: stream, Line: line}
	}

	percent, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil, &jobsmodel.LogEvent{Stream: stream, Line: line}
	}

	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	if stage != p.stage {
		p.setStage(stage)
	}

	nonMonotonic := p.hasPercent && percent < p.lastPercent
	p.lastPercent = percent
	p.hasPercent = true

	return &jobsmodel.ProgressEvent{
		Stage:        stage,
		Percent:      percent,
		Message:      rest,
		NonMonotonic: nonMonotonic,
	}, nil
}

// setStage switches the current stage and resets per-stage percent tracking.
func (p *Parser) setStage(stage string) {
	p.stage = stage
	p.lastPercent = 0
	p.hasPercent = false
}
