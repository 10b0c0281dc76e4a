package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/transit-schedules-data/pkg/gtfs-static/models"
)

// RunFile lists the regions and feeds of a multi-feed run.
type RunFile struct {
	Regions []RegionSpec `yaml:"regions" validate:"required,min=1,dive"`
}

type RegionSpec struct {
	Abbr        string `yaml:"abbr" validate:"required,max=15"`
	Name        string `yaml:"name" validate:"required,max=255"`
	Timezone    string `yaml:"timezone" validate:"required,timezone"`
	Description string `yaml:"description" validate:"max=255"`
	Notes       string `yaml:"notes"`
	// Listing is an optional operator listing that supplies feed log times.
	Listing *ListingSpec `yaml:"listing"`
	Feeds   []FeedSpec   `yaml:"feeds" validate:"required,min=1,dive"`
}

type ListingSpec struct {
	URL   string            `yaml:"url" validate:"required,url"`
	Query map[string]string `yaml:"query"`
}

// FeedSpec is one operator's archive within a region.
type FeedSpec struct {
	// Agency is the agency_id that owns the feed's schedules. It may be left
	// empty for single-agency feeds.
	Agency string `yaml:"agency" validate:"omitempty,max=15"`
	// Source is an http(s):// URL, an s3://bucket/key or a local path.
	Source string `yaml:"source" validate:"required"`
	// Query is merged into the query string of http sources, e.g. api keys.
	Query   map[string]string `yaml:"query"`
	AsOf    models.CustomTime `yaml:"as_of"`
	LogTime models.CustomTime `yaml:"log_time"`
}

func (r RegionSpec) Region() models.Region {
	return models.Region{
		Abbr:        r.Abbr,
		Name:        r.Name,
		Timezone:    r.Timezone,
		Description: r.Description,
		Notes:       r.Notes,
	}
}

// LoadRunFile reads a YAML run file, expanding ${VAR} references from the
// environment so secrets can stay out of the file.
func LoadRunFile(path string) (*RunFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading run file: %w", err)
	}
	return ParseRunFile(data)
}

func ParseRunFile(data []byte) (*RunFile, error) {
	var rf RunFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &rf); err != nil {
		return nil, fmt.Errorf("parsing run file: %w", err)
	}
	if err := validator.New().Struct(rf); err != nil {
		return nil, fmt.Errorf("validating run file: %w", err)
	}

	seen := map[string]bool{}
	for _, region := range rf.Regions {
		if seen[region.Abbr] {
			return nil, fmt.Errorf("validating run file: region %q listed twice", region.Abbr)
		}
		seen[region.Abbr] = true
	}
	return &rf, nil
}
