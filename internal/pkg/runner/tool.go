package runner

import (
	"fmt"
	"os"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	jobsmodel "github.com/grabwell/grabwell/internal/model/jobs"
)

// ToolConfig represents the external acquisition tool configuration.
type ToolConfig struct {
	// Binary is the tool executable, resolved via PATH when not absolute.
	Binary string
	// CookiesPath points at the authentication cookies file passed to the
	// tool. The path itself is passed on, its contents never are.
	CookiesPath string
	// OutputDir is the directory the tool writes finished media into.
	OutputDir string
	// ExtraArgs are operator-supplied arguments appended to every
	// invocation, before the target.
	ExtraArgs []string
}

// Tool builds invocations of the external acquisition tool from validated
// submissions.
type Tool struct {
	cfg *ToolConfig
}

// NewTool creates a new Tool.
func NewTool(cfg *ToolConfig) *Tool {
	return &Tool{cfg: cfg}
}

// BuildCommand constructs the command for one submission. The target URL
// is always the final argument and every parameter travels as a discrete
// argv element.
func (t *Tool) BuildCommand(req *jobsmodel.SubmitJobRequest) (*Command, error) {
	target := strings.TrimSpace(req.Target)
	if target == "" {
		return nil, status.Error(codes.InvalidArgument, "target is required")
	}
	// A target that parses as a flag would be swallowed by the tool's own
	// argument parser.
	if strings.HasPrefix(target, "-") {
		return nil, status.Error(codes.InvalidArgument, "target must not start with '-'")
	}

	args := []string{
		"--cookies-path", t.cfg.CookiesPath,
		"--output-path", t.cfg.OutputDir,
	}
	if format := strings.TrimSpace(req.Format); format != "" {
		args = append(args, "--codec-song", format)
	}
	if tmpl := strings.TrimSpace(req.OutputTemplate); tmpl != "" {
		args = append(args, "--template-file-single-disc", tmpl)
	}
	args = append(args, t.cfg.ExtraArgs...)
	args = append(args, target)

	// Some tools probe the terminal before emitting carriage-return
	// progress lines, so a terminal type is always advertised.
	env := append(os.Environ(), "TERM=xterm-256color")

	return &Command{
		Path: t.cfg.Binary,
		Args: args,
		Env:  env,
		Dir:  t.cfg.OutputDir,
	}, nil
}

// Redact masks credential-bearing values for logging. The cookies path is
// configuration, not a secret, but its contents must never appear in
// emitted lines.
func (t *Tool) Redact(line string) string {
	if t.cfg.CookiesPath == "" {
		return line
	}
	return strings.ReplaceAll(line, t.cfg.CookiesPath, "[redacted]")
}

// Describe returns a loggable rendition of a command with the target kept
// and everything else summarized.
func Describe(cmd *Command) string {
	return fmt.Sprintf("%s (%d args)", cmd.Path, len(cmd.Args))
}
