package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ScenarioFile is one YAML feature file: a suite of scenarios with hooks.
type ScenarioFile struct {
	Feature     string            `yaml:"feature"`
	Tags        []string          `yaml:"tags"`
	Vars        map[string]string `yaml:"vars"`
	Retries     int               `yaml:"retries"`
	Timeout     time.Duration     `yaml:"timeout"`
	Skip        bool              `yaml:"skip"`
	BeforeSuite []Action          `yaml:"beforeSuite"`
	AfterSuite  []Action          `yaml:"afterSuite"`
	Before      []Action          `yaml:"before"`
	After       []Action          `yaml:"after"`
	Scenarios   []ScenarioConfig  `yaml:"scenarios"`

	// Path is the file the scenarios were read from.
	Path string `yaml:"-"`
}

// ScenarioConfig is one scenario of a feature file.
type ScenarioConfig struct {
	Name    string        `yaml:"name"`
	Tags    []string      `yaml:"tags"`
	Retries *int          `yaml:"retries"`
	Timeout time.Duration `yaml:"timeout"`
	Skip    bool          `yaml:"skip"`
	Throws  *ThrowsConfig `yaml:"throws"`
	Data    *DataConfig   `yaml:"data"`
	Steps   []Action      `yaml:"steps"`
}

// ThrowsConfig declares the failure a scenario is expected to end with.
type ThrowsConfig struct {
	Message string `yaml:"message"`
	Pattern string `yaml:"pattern"`
}

// DataConfig makes a scenario data driven: it runs once per row.
type DataConfig struct {
	File string           `yaml:"file"`
	Rows []map[string]any `yaml:"rows"`
}

// Action is one line of a scenario. Exactly one of Do, Say, TryTo, Within,
// RetryTo or Session is set.
type Action struct {
	Do      string         `yaml:"do"`
	Args    []any          `yaml:"args"`
	Save    string         `yaml:"save"`
	Secret  bool           `yaml:"secret"`
	Retry   int            `yaml:"retry"`
	Timeout time.Duration  `yaml:"timeout"`
	Say     string         `yaml:"say"`
	TryTo   []Action       `yaml:"tryTo"`
	Within  *WithinAction  `yaml:"within"`
	RetryTo *RetryToAction `yaml:"retryTo"`
	Session *SessionAction `yaml:"session"`
}

// WithinAction scopes steps to a locator.
type WithinAction struct {
	Locator string   `yaml:"locator"`
	Steps   []Action `yaml:"steps"`
}

// RetryToAction repeats steps until they pass.
type RetryToAction struct {
	Tries int           `yaml:"tries"`
	Poll  time.Duration `yaml:"poll"`
	Steps []Action      `yaml:"steps"`
}

// SessionAction runs steps in a named session.
type SessionAction struct {
	Name  string   `yaml:"name"`
	Steps []Action `yaml:"steps"`
}

// Kind names the set field, or "" when none or several are set.
func (a *Action) Kind() string {
	kind := ""
	set := 0
	mark := func(ok bool, name string) {
		if ok {
			kind = name
			set++
		}
	}
	mark(a.Do != "", "do")
	mark(a.Say != "", "say")
	mark(a.TryTo != nil, "tryTo")
	mark(a.Within != nil, "within")
	mark(a.RetryTo != nil, "retryTo")
	mark(a.Session != nil, "session")
	if set != 1 {
		return ""
	}
	return kind
}

// Validate checks every scenario and action of the file.
func (f *ScenarioFile) Validate() error {
	var errs []error
	if f.Feature == "" {
		errs = append(errs, errors.New("feature is required"))
	}
	if len(f.Scenarios) == 0 {
		errs = append(errs, errors.New("at least one scenario is required"))
	}
	for name, actions := range map[string][]Action{
		"beforeSuite": f.BeforeSuite,
		"afterSuite":  f.AfterSuite,
		"before":      f.Before,
		"after":       f.After,
	} {
		errs = append(errs, validateActions(name, actions)...)
	}
	for i, sc := range f.Scenarios {
		where := fmt.Sprintf("scenarios[%d]", i)
		if sc.Name == "" {
			errs = append(errs, fmt.Errorf("%s: name is required", where))
		} else {
			where = fmt.Sprintf("scenario %q", sc.Name)
		}
		if len(sc.Steps) == 0 {
			errs = append(errs, fmt.Errorf("%s: no steps", where))
		}
		if sc.Data != nil && sc.Data.File == "" && len(sc.Data.Rows) == 0 {
			errs = append(errs, fmt.Errorf("%s: data needs a file or rows", where))
		}
		errs = append(errs, validateActions(where, sc.Steps)...)
	}
	return errors.Join(errs...)
}

func validateActions(where string, actions []Action) []error {
	var errs []error
	for i := range actions {
		a := &actions[i]
		at := fmt.Sprintf("%s.steps[%d]", where, i)
		switch a.Kind() {
		case "":
			errs = append(errs, fmt.Errorf("%s: exactly one of do, say, tryTo, within, retryTo, session must be set", at))
		case "tryTo":
			errs = append(errs, validateActions(at+".tryTo", a.TryTo)...)
		case "within":
			if a.Within.Locator == "" {
				errs = append(errs, fmt.Errorf("%s: within.locator is required", at))
			}
			errs = append(errs, validateActions(at+".within", a.Within.Steps)...)
		case "retryTo":
			if a.RetryTo.Tries < 1 {
				errs = append(errs, fmt.Errorf("%s: retryTo.tries must be at least 1", at))
			}
			errs = append(errs, validateActions(at+".retryTo", a.RetryTo.Steps)...)
		case "session":
			if a.Session.Name == "" {
				errs = append(errs, fmt.Errorf("%s: session.name is required", at))
			}
			errs = append(errs, validateActions(at+".session", a.Session.Steps)...)
		}
	}
	return errs
}

// LoadScenarioFile reads, parses and validates a YAML feature file.
func LoadScenarioFile(path string) (*ScenarioFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario file: %w", err)
	}

	var f ScenarioFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing scenario file %s: %w", path, err)
	}
	f.Path = path
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario file %s: %w", path, err)
	}
	return &f, nil
}

// ResolveTests expands the configured globs, relative to dir, into file paths.
// Duplicates are dropped and order follows the globs.
func ResolveTests(dir string, patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	for _, pattern := range patterns {
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(dir, pattern)
		}
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad tests pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	return files, nil
}
