package config

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a group manifest from the provided path.
func Load(path string) (*Group, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve manifest path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}

	doc, err := Parse(data, filepath.Dir(absPath))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	return doc, nil
}

// Parse decodes a manifest. Relative workdir and envFromFile paths resolve
// against baseDir.
func Parse(data []byte, baseDir string) (*Group, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("manifest is empty")
	}
	if err := validateAgainstSchema(raw); err != nil {
		return nil, err
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	var doc Group
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	doc.Workdir = resolveWorkdir(baseDir, os.ExpandEnv(doc.Workdir))

	if doc.Primary != nil {
		doc.Primary.Env = expandEnv(doc.Primary.Env)
	}
	for i, w := range doc.Workers {
		if w == nil {
			continue
		}
		w.ResolvedWorkdir = doc.Workdir

		inlineEnv := expandEnv(w.Env)

		var fileEnv map[string]string
		if w.EnvFromFile != "" {
			expanded := os.ExpandEnv(w.EnvFromFile)
			if !filepath.IsAbs(expanded) {
				expanded = filepath.Clean(filepath.Join(doc.Workdir, expanded))
			}
			w.EnvFromFile = expanded

			var err error
			fileEnv, err = loadEnvFile(expanded)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", workerField(i, "envFromFile"), err)
			}
		}

		// Inline values win over the env file.
		var merged map[string]string
		if len(fileEnv)+len(inlineEnv) > 0 {
			merged = make(map[string]string, len(fileEnv)+len(inlineEnv))
			for k, v := range fileEnv {
				merged[k] = v
			}
			for k, v := range inlineEnv {
				merged[k] = v
			}
		}
		w.Env = merged
	}

	if err := doc.ApplyDefaults(); err != nil {
		return nil, err
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

func expandEnv(env map[string]string) map[string]string {
	if len(env) == 0 {
		return nil
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = os.ExpandEnv(v)
	}
	return out
}

func resolveWorkdir(base, workdir string) string {
	if workdir == "" {
		return base
	}
	if filepath.IsAbs(workdir) {
		return filepath.Clean(workdir)
	}
	return filepath.Clean(filepath.Join(base, workdir))
}

func loadEnvFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load env file %q: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	values := make(map[string]string)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		raw = strings.TrimSpace(strings.TrimPrefix(raw, "export "))
		key, value, ok := strings.Cut(raw, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("load env file %q: invalid line %d", path, lineNo)
		}
		value = strings.TrimSpace(value)
		switch {
		case strings.HasPrefix(value, `"`):
			unquoted, err := strconv.Unquote(value)
			if err != nil {
				return nil, fmt.Errorf("load env file %q: parse value for %s on line %d: %w", path, key, lineNo, err)
			}
			value = unquoted
		case strings.HasPrefix(value, "'"):
			if len(value) < 2 || !strings.HasSuffix(value, "'") {
				return nil, fmt.Errorf("load env file %q: unmatched quote on line %d", path, lineNo)
			}
			value = value[1 : len(value)-1]
		default:
			if comment := strings.IndexRune(value, '#'); comment >= 0 {
				value = strings.TrimSpace(value[:comment])
			}
		}
		values[key] = os.ExpandEnv(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("load env file %q: %w", path, err)
	}
	return values, nil
}
