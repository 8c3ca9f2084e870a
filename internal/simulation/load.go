package simulation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ScenarioFile is the JSON layout of a scenario file.
type ScenarioFile struct {
	Scenarios []Scenario `json:"scenarios"`
}

// LoadScenarios reads scenarios from a JSON file, or from every .json file
// in a directory.
func LoadScenarios(path string) ([]Scenario, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat path: %w", err)
	}
	if info.IsDir() {
		return loadScenariosFromDir(path)
	}
	return loadScenariosFromFile(path)
}

func loadScenariosFromDir(dir string) ([]Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}

	scenarios := make([]Scenario, 0)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		filePath := filepath.Join(dir, entry.Name())
		fileScenarios, err := loadScenariosFromFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", filePath, err)
		}
		scenarios = append(scenarios, fileScenarios...)
	}
	return scenarios, nil
}

func loadScenariosFromFile(path string) ([]Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	var file ScenarioFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	return file.Scenarios, nil
}
