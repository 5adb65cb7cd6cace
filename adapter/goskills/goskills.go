// Package goskills adapts github.com/smallnest/goskills skill packages into
// langchaingo tools.Tool values, so a skill directory discovered at
// configuration time can be wired straight into a toolnode.New handler map.
package goskills

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/smallnest/goskills"
	"github.com/tmc/langchaingo/tools"

	"github.com/arigraph/stepgraph/toolnode"
)

// SkillTool wraps one named operation as a langchaingo tools.Tool. The zero
// value is not generally useful; build one via SkillsToTools or by naming
// one of the built-in operations directly (run_shell_code, run_python_code,
// read_file, write_file, duckduckgo_search) plus an optional scriptMap entry
// for a custom named script.
type SkillTool struct {
	name        string
	description string
	skillPath   string
	scriptMap   map[string]string
}

var _ tools.Tool = (*SkillTool)(nil)

// Name implements tools.Tool.
func (t *SkillTool) Name() string { return t.name }

// Description implements tools.Tool.
func (t *SkillTool) Description() string { return t.description }

type shellCodeInput struct {
	Code string         `json:"code"`
	Args map[string]any `json:"args"`
}

type filePathInput struct {
	FilePath string `json:"filePath"`
	Content  string `json:"content"`
}

type searchInput struct {
	Query string `json:"query"`
}

type scriptInput struct {
	Args []string `json:"args"`
}

// Call implements tools.Tool, dispatching on the tool's configured name.
func (t *SkillTool) Call(ctx context.Context, input string) (string, error) {
	switch t.name {
	case "run_shell_code":
		return t.runShellCode(ctx, input)
	case "run_python_code":
		return t.runPythonCode(ctx, input)
	case "read_file":
		return t.readFile(input)
	case "write_file":
		return t.writeFile(input)
	case "duckduckgo_search":
		return t.duckDuckGoSearch(ctx, input)
	default:
		if path, ok := t.scriptMap[t.name]; ok {
			return t.runScript(ctx, path, input)
		}
		return "", fmt.Errorf("goskills: unknown tool %q", t.name)
	}
}

func (t *SkillTool) runShellCode(ctx context.Context, input string) (string, error) {
	var in shellCodeInput
	if err := json.Unmarshal([]byte(input), &in); err != nil {
		return "", fmt.Errorf("goskills: failed to unmarshal run_shell_code input: %w", err)
	}
	cmd := exec.CommandContext(ctx, "bash", "-c", in.Code)
	cmd.Env = append(os.Environ(), argEnv(in.Args)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("goskills: run_shell_code: %w", err)
	}
	return string(out), nil
}

func (t *SkillTool) runPythonCode(ctx context.Context, input string) (string, error) {
	var in shellCodeInput
	if err := json.Unmarshal([]byte(input), &in); err != nil {
		return "", fmt.Errorf("goskills: failed to unmarshal run_python_code input: %w", err)
	}
	interpreter := "python3"
	if _, err := exec.LookPath(interpreter); err != nil {
		interpreter = "python"
	}
	cmd := exec.CommandContext(ctx, interpreter, "-c", in.Code)
	cmd.Env = append(os.Environ(), argEnv(in.Args)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("goskills: run_python_code: %w", err)
	}
	return string(out), nil
}

func (t *SkillTool) runScript(ctx context.Context, path, input string) (string, error) {
	var in scriptInput
	if input != "" {
		if err := json.Unmarshal([]byte(input), &in); err != nil {
			return "", fmt.Errorf("goskills: failed to unmarshal %s input: %w", t.name, err)
		}
	}
	cmd := exec.CommandContext(ctx, path, in.Args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("goskills: %s: %w", t.name, err)
	}
	return string(out), nil
}

func (t *SkillTool) readFile(input string) (string, error) {
	var in filePathInput
	if err := json.Unmarshal([]byte(input), &in); err != nil {
		return "", fmt.Errorf("goskills: failed to unmarshal read_file input: %w", err)
	}
	if in.FilePath == "" {
		return "", fmt.Errorf("goskills: read_file: filePath is required")
	}
	path := in.FilePath
	if t.skillPath != "" && !filepath.IsAbs(path) {
		path = filepath.Join(t.skillPath, path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("goskills: read_file: %w", err)
	}
	return string(content), nil
}

func (t *SkillTool) writeFile(input string) (string, error) {
	var in filePathInput
	if err := json.Unmarshal([]byte(input), &in); err != nil {
		return "", fmt.Errorf("goskills: failed to unmarshal write_file input: %w", err)
	}
	if in.FilePath == "" {
		return "", fmt.Errorf("goskills: write_file: filePath is required")
	}
	path := in.FilePath
	if t.skillPath != "" && !filepath.IsAbs(path) {
		path = filepath.Join(t.skillPath, path)
	}
	if err := os.WriteFile(path, []byte(in.Content), 0o644); err != nil {
		return "", fmt.Errorf("goskills: write_file: %w", err)
	}
	return fmt.Sprintf("Successfully wrote to file: %s", path), nil
}

// duckDuckGoSearch scrapes DuckDuckGo's HTML-only results endpoint (no API
// key required) and returns the first page of result titles and links.
func (t *SkillTool) duckDuckGoSearch(ctx context.Context, input string) (string, error) {
	var in searchInput
	if err := json.Unmarshal([]byte(input), &in); err != nil {
		return "", fmt.Errorf("goskills: failed to unmarshal duckduckgo_search input: %w", err)
	}

	endpoint := "https://html.duckduckgo.com/html/?q=" + url.QueryEscape(in.Query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("goskills: duckduckgo_search: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; stepgraph-goskills/1.0)")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("goskills: duckduckgo_search: %w", err)
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("goskills: duckduckgo_search: parse results: %w", err)
	}

	var b strings.Builder
	doc.Find(".result__title").Each(func(i int, s *goquery.Selection) {
		title := strings.TrimSpace(s.Text())
		if title == "" {
			return
		}
		href, _ := s.Find("a").Attr("href")
		fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, title, href)
	})
	return b.String(), nil
}

func argEnv(args map[string]any) []string {
	out := make([]string, 0, len(args))
	for k, v := range args {
		out = append(out, fmt.Sprintf("%s=%v", k, v))
	}
	return out
}

// SkillsToTools builds one SkillTool for each built-in operation
// (run_shell_code, run_python_code, read_file, write_file,
// duckduckgo_search), labeled with the parsed goskills.SkillPackage's name
// and description, so they can be handed to toolnode.New alongside
// hand-written handlers. Only the package's metadata is read; its own
// scripts are not turned into tools.
// Relative file paths in read_file/write_file resolve against the process
// working directory; use SkillsToToolsWithRoot to root them elsewhere.
func SkillsToTools(pkg *goskills.SkillPackage) ([]tools.Tool, error) {
	return SkillsToToolsWithRoot(pkg, "")
}

// SkillsToToolsWithRoot is SkillsToTools with read_file/write_file's
// relative paths rooted at root, typically the directory the skill package
// was parsed from.
func SkillsToToolsWithRoot(pkg *goskills.SkillPackage, root string) ([]tools.Tool, error) {
	if pkg == nil {
		return nil, fmt.Errorf("goskills: nil skill package")
	}
	return builtinTools(pkg.Meta.Name, pkg.Meta.Description, root), nil
}

// builtinTools builds one SkillTool per built-in operation, labeled with the
// owning skill's name and description.
func builtinTools(skillName, skillDescription, root string) []tools.Tool {
	names := []string{"run_shell_code", "run_python_code", "read_file", "write_file", "duckduckgo_search"}
	out := make([]tools.Tool, 0, len(names))
	for _, name := range names {
		out = append(out, &SkillTool{
			name:        name,
			description: fmt.Sprintf("%s: %s (%s)", skillName, name, skillDescription),
			skillPath:   root,
		})
	}
	return out
}

// ToHandlers adapts a slice of langchaingo tools into a toolnode.New handler
// map, keyed by each tool's Name(). Use it to wire SkillsToTools' output (or
// any other tools.Tool) straight into a tool-calling node.
func ToHandlers(ts []tools.Tool) map[string]toolnode.Handler {
	out := make(map[string]toolnode.Handler, len(ts))
	for _, t := range ts {
		t := t
		out[t.Name()] = func(ctx context.Context, arguments string) (string, error) {
			return t.Call(ctx, arguments)
		}
	}
	return out
}
