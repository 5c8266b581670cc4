package definitions

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/lysyi3m/api-comb/app/database"
	"github.com/lysyi3m/api-comb/app/fetcher"
	"github.com/lysyi3m/api-comb/app/importer"
	"github.com/lysyi3m/api-comb/app/scheduler"
	"gopkg.in/yaml.v3"
)

var ErrNotFound = errors.New("import definition not found")

type Cache struct {
	importsDir string
	cache      map[string]*Definition
	mu         sync.RWMutex
}

func NewCache(importsDir string) *Cache {
	return &Cache{
		importsDir: importsDir,
		cache:      make(map[string]*Definition),
	}
}

// Run reads every definition in the imports directory. The cache is replaced
// only when all files load.
func (c *Cache) Run() error {
	if _, err := os.Stat(c.importsDir); os.IsNotExist(err) {
		c.mu.Lock()
		c.cache = make(map[string]*Definition)
		c.mu.Unlock()
		return nil
	}

	files, err := filepath.Glob(filepath.Join(c.importsDir, "*.yml"))
	if err != nil {
		return fmt.Errorf("failed to find YML files: %w", err)
	}

	loaded := make(map[string]*Definition, len(files))
	for _, file := range files {
		name := strings.TrimSuffix(filepath.Base(file), ".yml")

		def, err := c.readDefinition(name)
		if err != nil {
			return fmt.Errorf("error loading %s: %w", file, err)
		}
		loaded[name] = def

		slog.Debug("Definition loaded", "import", name, "active", def.IsActive(), "frequency", def.Schedule.Frequency)
	}

	c.mu.Lock()
	c.cache = loaded
	c.mu.Unlock()

	return nil
}

// Load re-reads a single definition from disk. A missing file removes the
// definition from the cache and returns ErrNotFound.
func (c *Cache) Load(name string) (*Definition, error) {
	def, err := c.readDefinition(name)
	if errors.Is(err, ErrNotFound) {
		c.mu.Lock()
		delete(c.cache, name)
		c.mu.Unlock()
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[name] = def
	c.mu.Unlock()

	return def, nil
}

func (c *Cache) Get(name string) (*Definition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	def, ok := c.cache[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return def, nil
}

// All returns the cached definitions ordered by name.
func (c *Cache) All() []*Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	defs := make([]*Definition, 0, len(c.cache))
	for _, def := range c.cache {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

func (c *Cache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

func (c *Cache) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.cache[name]
	return ok
}

func (c *Cache) readDefinition(name string) (*Definition, error) {
	file := c.filePath(name)
	def, err := parseDefinition(file)
	if err != nil {
		return nil, err
	}

	def.Name = name

	if err := validateDefinition(def); err != nil {
		return nil, fmt.Errorf("invalid definition %s: %w", file, err)
	}
	return def, nil
}

func (c *Cache) filePath(name string) string {
	return filepath.Join(c.importsDir, name+".yml")
}

func parseDefinition(file string) (*Definition, error) {
	data, err := os.ReadFile(file)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, file)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if def.Source.Method == "" {
		def.Source.Method = DefaultMethod
	}
	if def.Source.Auth.Type == "" {
		def.Source.Auth.Type = DefaultAuthType
	}
	if def.Schedule.Frequency == "" {
		def.Schedule.Frequency = DefaultFrequency
	}
	if def.Schedule.Interval == 0 {
		def.Schedule.Interval = DefaultInterval
	}
	if def.Schedule.Time == "" {
		def.Schedule.Time = DefaultTimeOfDay
	}
	if def.Schedule.DayOfMonth == 0 {
		def.Schedule.DayOfMonth = DefaultDayOfMonth
	}

	return &def, nil
}

func validateDefinition(def *Definition) error {
	if def == nil {
		return fmt.Errorf("definition is nil")
	}

	requiredFields := map[string]string{
		"import name":        def.Name,
		"collection":         def.Collection,
		"source URL":         def.Source.URL,
		"identifier mapping": def.Mapping.Identifier,
	}
	for fieldName, fieldValue := range requiredFields {
		if strings.TrimSpace(fieldValue) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
	}

	nonNegativeFields := map[string]int{
		"timeout":  def.Source.Timeout,
		"interval": def.Schedule.Interval,
	}
	for fieldName, fieldValue := range nonNegativeFields {
		if fieldValue < 0 {
			return fmt.Errorf("%s must be non-negative", fieldName)
		}
	}
	if def.Schedule.MaxRetries != nil && *def.Schedule.MaxRetries < 0 {
		return fmt.Errorf("max retries must be non-negative")
	}

	switch strings.ToUpper(def.Source.Method) {
	case "GET", "POST":
	default:
		return fmt.Errorf("unsupported HTTP method %q", def.Source.Method)
	}

	if err := validateAuth(def.Source.Auth); err != nil {
		return err
	}

	if !database.Frequency(def.Schedule.Frequency).Valid() {
		return fmt.Errorf("unknown frequency %q", def.Schedule.Frequency)
	}
	if !scheduler.ValidTimeOfDay(def.Schedule.Time) {
		return fmt.Errorf("invalid time of day %q, expected HH:MM", def.Schedule.Time)
	}
	if _, err := parseWeekday(def.Schedule.DayOfWeek); err != nil {
		return err
	}
	if def.Schedule.DayOfMonth < 1 || def.Schedule.DayOfMonth > 28 {
		return fmt.Errorf("day of month must be between 1 and 28, got %d", def.Schedule.DayOfMonth)
	}

	for i, filter := range def.Mapping.Filters {
		if filter.Property == "" {
			return fmt.Errorf("filter at index %d must name a property", i)
		}
		if len(filter.Includes) == 0 && len(filter.Excludes) == 0 {
			return fmt.Errorf("filter at index %d must have at least one include or exclude rule", i)
		}
	}

	return importer.Validate(def.Configuration())
}

func validateAuth(auth Auth) error {
	authType := fetcher.AuthType(auth.Type)
	if !fetcher.ValidAuthType(authType) {
		return fmt.Errorf("unknown auth type %q", auth.Type)
	}

	switch authType {
	case fetcher.AuthAPIKey:
		if auth.Key == "" {
			return fmt.Errorf("api_key auth requires a key")
		}
	case fetcher.AuthBasic:
		if auth.Username == "" {
			return fmt.Errorf("basic auth requires a username")
		}
	case fetcher.AuthBearer:
		if auth.Token == "" {
			return fmt.Errorf("bearer auth requires a token")
		}
	}
	return nil
}
