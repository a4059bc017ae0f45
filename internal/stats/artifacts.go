package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"metaflux/internal/model"
)

const runIndexFile = "run_index.json"

type RunConfig struct {
	RunID                   string          `json:"run_id"`
	ModelPath               string          `json:"model_path,omitempty"`
	Objective               model.Objective `json:"objective"`
	Sense                   string          `json:"sense"`
	Algorithm               string          `json:"algorithm"`
	PopulationSize          int             `json:"population_size"`
	Generations             int             `json:"generations"`
	MaxRoundsSameObjective  *float64        `json:"max_rounds_same_objective,omitempty"`
	MaxDeactivatedReactions int             `json:"max_deactivated_reactions"`
	WishedNumFeasibleStarts int             `json:"wished_num_feasible_starts"`
	MaxMetarounds           int             `json:"max_metarounds"`
	RoundsPerMetaround      int             `json:"rounds_per_metaround"`
	MinAbsObjective         float64         `json:"min_abs_objective"`
	Workers                 int             `json:"workers"`
	Seed                    int64           `json:"seed"`
	Sink                    string          `json:"sink"`
}

type RunArtifacts struct {
	Config                RunConfig                     `json:"config"`
	BestByGeneration      []float64                     `json:"best_by_generation"`
	GenerationDiagnostics []model.GenerationDiagnostics `json:"generation_diagnostics,omitempty"`
	StopReason            string                        `json:"stop_reason"`
	FinalBestObjective    float64                       `json:"final_best_objective"`
	Results               []model.ObjectiveGroup        `json:"results"`
	PostprocessRounds     []model.PostprocessRound      `json:"postprocess_rounds,omitempty"`
}

type RunIndexEntry struct {
	RunID              string  `json:"run_id"`
	Algorithm          string  `json:"algorithm"`
	Sense              string  `json:"sense"`
	PopulationSize     int     `json:"population_size"`
	Generations        int     `json:"generations"`
	Seed               int64   `json:"seed"`
	Workers            int     `json:"workers"`
	DistinctResults    int     `json:"distinct_results"`
	FinalBestObjective float64 `json:"final_best_objective"`
	CreatedAtUTC       string  `json:"created_at_utc"`
}

var runArtifactFiles = []string{
	"config.json",
	"objective_history.json",
	"generation_diagnostics.json",
	"results.json",
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, "config.json"), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "objective_history.json"), map[string]any{
		"best_by_generation":   artifacts.BestByGeneration,
		"final_best_objective": artifacts.FinalBestObjective,
		"stop_reason":          artifacts.StopReason,
	}); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "generation_diagnostics.json"), artifacts.GenerationDiagnostics); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "results.json"), artifacts.Results); err != nil {
		return "", err
	}
	if len(artifacts.PostprocessRounds) > 0 {
		if err := WritePostprocessRounds(runDir, artifacts.PostprocessRounds); err != nil {
			return "", err
		}
	}

	return runDir, nil
}

// WriteObjectiveHistory dumps the per-generation best objective values as a
// plain JSON array.
func WriteObjectiveHistory(path string, bestByGeneration []float64) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("objective history path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if bestByGeneration == nil {
		bestByGeneration = []float64{}
	}
	return writeJSON(path, bestByGeneration)
}

func WritePostprocessRounds(runDir string, rounds []model.PostprocessRound) error {
	return writeJSON(filepath.Join(runDir, "postprocess_rounds.json"), rounds)
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range runArtifactFiles {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	for _, optional := range []string{"postprocess_rounds.json", "objective_series.csv"} {
		path := filepath.Join(src, optional)
		if _, err := os.Stat(path); err == nil {
			if err := copyFile(path, filepath.Join(dst, optional)); err != nil {
				return "", err
			}
		} else if !os.IsNotExist(err) {
			return "", err
		}
	}

	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	var cfg RunConfig
	ok, err := readJSON(filepath.Join(baseDir, runID, "config.json"), &cfg)
	return cfg, ok, err
}

func ReadResults(baseDir, runID string) ([]model.ObjectiveGroup, bool, error) {
	var groups []model.ObjectiveGroup
	ok, err := readJSON(filepath.Join(baseDir, runID, "results.json"), &groups)
	return groups, ok, err
}

func ReadPostprocessRounds(baseDir, runID string) ([]model.PostprocessRound, bool, error) {
	var rounds []model.PostprocessRound
	ok, err := readJSON(filepath.Join(baseDir, runID, "postprocess_rounds.json"), &rounds)
	return rounds, ok, err
}

// WriteObjectiveSeries writes the best objective per generation as CSV for
// plotting tools.
func WriteObjectiveSeries(runDir string, bestByGeneration []float64) error {
	path := filepath.Join(runDir, "objective_series.csv")
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"generation", "best_objective"}); err != nil {
		return err
	}
	for i, best := range bestByGeneration {
		if err := writer.Write([]string{
			strconv.Itoa(i + 1),
			strconv.FormatFloat(best, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadObjectiveSeries(baseDir, runID string) ([]float64, bool, error) {
	path := filepath.Join(baseDir, runID, "objective_series.csv")
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []float64{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 2 {
		return nil, false, fmt.Errorf("objective series header must have at least 2 columns")
	}

	series := make([]float64, 0, 128)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(record) < 2 {
			return nil, false, fmt.Errorf("objective series row must have at least 2 columns")
		}
		value, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, false, err
		}
		series = append(series, value)
	}
	return series, true, nil
}

func readJSON(path string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
