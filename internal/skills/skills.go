// Package skills loads markdown skill files and resolves an agent's skill
// selection into a system prompt block.
package skills

import (
	"bufio"
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// Filename is the per-directory skill definition file.
	Filename = "SKILL.md"

	frontmatterDelimiter = "---"
)

// Skill is one parsed skill: YAML frontmatter plus markdown body.
type Skill struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Sandbox marks skills whose instructions assume sandbox executor
	// tools; resolving one drives sandbox tool auto-injection.
	Sandbox bool `yaml:"sandbox"`

	Content string `yaml:"-"`
}

// Selection declares which skills an agent wants: every discovered skill,
// or an explicit name list.
type Selection struct {
	All   bool
	Names []string
}

// Loader discovers skills under <workspace>/skills. Each skill is either a
// <name>.md file or a <name>/SKILL.md directory.
type Loader struct {
	dir    string
	logger *slog.Logger
}

// NewLoader creates a loader for the workspace skills directory.
func NewLoader(workspace string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		dir:    filepath.Join(workspace, "skills"),
		logger: logger.With("component", "skills"),
	}
}

// Discover parses every skill in the workspace, sorted by name.
func (l *Loader) Discover() ([]*Skill, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("skills: read dir: %w", err)
	}

	var skills []*Skill
	for _, entry := range entries {
		path := filepath.Join(l.dir, entry.Name())
		if entry.IsDir() {
			path = filepath.Join(path, Filename)
		} else if !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		skill, err := ParseFile(path)
		if err != nil {
			l.logger.Warn("skill skipped", "path", path, "error", err)
			continue
		}
		skills = append(skills, skill)
	}

	sort.Slice(skills, func(i, j int) bool { return skills[i].Name < skills[j].Name })
	return skills, nil
}

// Resolve concatenates the selected skills into a <skills> prompt block and
// reports whether any selected skill requires a sandbox.
func (l *Loader) Resolve(sel Selection) (block string, sandbox bool, err error) {
	all, err := l.Discover()
	if err != nil {
		return "", false, err
	}

	var chosen []*Skill
	if sel.All {
		chosen = all
	} else {
		byName := make(map[string]*Skill, len(all))
		for _, s := range all {
			byName[s.Name] = s
		}
		for _, name := range sel.Names {
			skill, ok := byName[name]
			if !ok {
				return "", false, fmt.Errorf("skills: %q not found", name)
			}
			chosen = append(chosen, skill)
		}
	}
	if len(chosen) == 0 {
		return "", false, nil
	}

	var b strings.Builder
	b.WriteString("<skills>\n")
	for i, skill := range chosen {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "## %s\n%s\n\n%s", skill.Name, skill.Description, skill.Content)
		if skill.Sandbox {
			sandbox = true
		}
	}
	b.WriteString("\n</skills>")
	return b.String(), sandbox, nil
}

// ParseFile parses one skill file.
func ParseFile(path string) (*Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return Parse(data)
}

// Parse parses skill content: YAML frontmatter between --- delimiters,
// then the markdown body.
func Parse(data []byte) (*Skill, error) {
	frontmatter, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, err
	}

	var skill Skill
	if err := yaml.Unmarshal(frontmatter, &skill); err != nil {
		return nil, fmt.Errorf("parse frontmatter: %w", err)
	}
	if skill.Name == "" {
		return nil, fmt.Errorf("skill name is required")
	}
	if skill.Description == "" {
		return nil, fmt.Errorf("skill description is required")
	}
	skill.Content = strings.TrimSpace(string(body))
	return &skill, nil
}

func splitFrontmatter(data []byte) ([]byte, []byte, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))

	if !scanner.Scan() {
		return nil, nil, fmt.Errorf("empty file")
	}
	if strings.TrimSpace(scanner.Text()) != frontmatterDelimiter {
		return nil, nil, fmt.Errorf("missing opening frontmatter delimiter")
	}

	var frontmatterLines []string
	closed := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == frontmatterDelimiter {
			closed = true
			break
		}
		frontmatterLines = append(frontmatterLines, line)
	}
	if !closed {
		return nil, nil, fmt.Errorf("missing closing frontmatter delimiter")
	}

	var bodyLines []string
	for scanner.Scan() {
		bodyLines = append(bodyLines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("scanner error: %w", err)
	}

	return []byte(strings.Join(frontmatterLines, "\n")), []byte(strings.Join(bodyLines, "\n")), nil
}
