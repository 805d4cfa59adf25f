package recognizer

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadIntents reads intent definitions from the .yaml/.yml files in dir. A
// missing directory is not an error; unreadable or invalid files are skipped.
func LoadIntents(dir string, logger *slog.Logger) ([]IntentDefinition, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Debug("intents directory does not exist, skipping", "dir", dir)
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read intents dir: %w", err)
	}

	var defs []IntentDefinition
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("cannot read intent file", "path", path, "err", err)
			continue
		}

		var def IntentDefinition
		if err := yaml.Unmarshal(data, &def); err != nil {
			logger.Warn("cannot parse intent file", "path", path, "err", err)
			continue
		}
		if def.Name == "" {
			def.Name = strings.TrimSuffix(name, filepath.Ext(name))
		}

		logger.Info("loaded intent", "intent", def.Name, "path", path)
		defs = append(defs, def)
	}

	return defs, nil
}

// RegisterDir loads the definitions in dir into p. Invalid definitions are
// logged and skipped.
func (p *PatternRecognizer) RegisterDir(dir string) (int, error) {
	defs, err := LoadIntents(dir, p.logger)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, def := range defs {
		if err := p.Register(def); err != nil {
			p.logger.Warn("skipping intent", "intent", def.Name, "err", err)
			continue
		}
		n++
	}
	return n, nil
}
