package parser_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobsmodel "github.com/grabwell/grabwell/internal/model/jobs"
	"github.com/grabwell/grabwell/internal/pkg/parser"
)

func TestParseLineProgress(t *testing.T) {
	tests := []struct {
		name         string
		lines        []string
		wantStage    string
		wantPercent  float64
		wantNonMono  bool
		wantProgress bool
	}{
		{
			name:         "plain percent",
			lines:        []string{"10%"},
			wantPercent:  10,
			wantProgress: true,
		},
		{
			name:         "percent with decimals",
			lines:        []string{"downloading 55.5% of 12MiB"},
			wantPercent:  55.5,
			wantProgress: true,
		},
		{
			name:         "stage tag carried",
			lines:        []string{"[download] 10%", "[download] 55%"},
			wantStage:    "download",
			wantPercent:  55,
			wantProgress: true,
		},
		{
			name:         "percent clamped above 100",
			lines:        []string{"105%"},
			wantPercent:  100,
			wantProgress: true,
		},
		{
			name:         "regression flagged within stage",
			lines:        []string{"[download] 80%", "[download] 40%"},
			wantStage:    "download",
			wantPercent:  40,
			wantNonMono:  true,
			wantProgress: true,
		},
		{
			name:         "stage change resets monotonicity tracking",
			lines:        []string{"[download] 90%", "[mux] 5%"},
			wantStage:    "mux",
			wantPercent:  5,
			wantNonMono:  false,
			wantProgress: true,
		},
		{
			name:         "unrecognized line is a log event",
			lines:        []string{"fetching metadata for album"},
			wantProgress: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := parser.New()

			var (
				progress *jobsmodel.ProgressEvent
				log      *jobsmodel.LogEvent
			)
			for _, line := range tt.lines {
				progress, log = p.ParseLine(jobsmodel.LogStreamStdout, line)
			}

			if !tt.wantProgress {
				require.Nil(t, progress)
				require.NotNil(t, log)
				assert.Equal(t, tt.lines[len(tt.lines)-1], log.Line)
				return
			}

			require.NotNil(t, progress)
			require.Nil(t, log)
			assert.Equal(t, tt.wantStage, progress.Stage)
			assert.InDelta(t, tt.wantPercent, progress.Percent, 0.001)
			assert.Equal(t, tt.wantNonMono, progress.NonMonotonic)
		})
	}
}

func TestParseLineStageWithoutPercent(t *testing.T) {
	p := parser.New()

	progress, log := p.ParseLine(jobsmodel.LogStreamStderr, "[mux] remuxing to m4a")
	require.NotNil(t, progress)
	require.Nil(t, log)
	assert.Equal(t, "mux", progress.Stage)
	assert.True(t, progress.Indeterminate)
	assert.Equal(t, "remuxing to m4a", progress.Message)

	// A repeated stage tag without a percent is just a log line.
	progress, log = p.ParseLine(jobsmodel.LogStreamStderr, "[mux] still working")
	assert.Nil(t, progress)
	require.NotNil(t, log)
}

func TestParseLineEmpty(t *testing.T) {
	p := parser.New()

	progress, log := p.ParseLine(jobsmodel.LogStreamStdout, "   ")
	assert.Nil(t, progress)
	require.NotNil(t, log)
}

func TestParseLineCarriesStageIntoBareLines(t *testing.T) {
	p := parser.New()

	_, _ = p.ParseLine(jobsmodel.LogStreamStdout, "[download] 10%")
	progress, log := p.ParseLine(jobsmodel.LogStreamStdout, " 25% of 4MiB at 1MiB/s")
	require.NotNil(t, progress)
	require.Nil(t, log)
	assert.Equal(t, "download", progress.Stage)
	assert.InDelta(t, 25, progress.Percent, 0.001)
}
