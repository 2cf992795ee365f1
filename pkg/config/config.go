// Package config provides configuration loading and management for
// corrfield. It handles loading configuration from YAML files and
// provides default values matching the reference registration setup.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Registration parameters
	Registration struct {
		// Alpha is the regularisation parameter weighting the data term
		Alpha float64 `yaml:"alpha"`

		// Beta is the intensity weighting of the keypoint graph
		Beta float64 `yaml:"beta"`

		// Gamma is the scaling factor for soft correspondences
		Gamma float64 `yaml:"gamma"`

		// Delta is the step size of the MIND descriptor in voxels
		Delta int `yaml:"delta"`

		// Lambda is the regularisation parameter of the thin plate spline
		Lambda float64 `yaml:"lambda"`

		// Sigma is the Gaussian scale of the Förstner operator
		Sigma float64 `yaml:"sigma"`

		// Sigma1 is the Gaussian scale of the MIND descriptor
		Sigma1 float64 `yaml:"sigma1"`
	} `yaml:"registration"`

	// Ablation zone handling parameters
	Ablation struct {
		// BorderDist is the distance from the ablation border within
		// which keypoint density is increased, in voxels
		BorderDist int `yaml:"borderDist"`

		// BorderDensity is the factor by which keypoint density is
		// increased near the ablation border
		BorderDensity float64 `yaml:"borderDensity"`
	} `yaml:"ablation"`

	// Stage parameters, one entry per coarse-to-fine level, encoded as
	// "16x8"-style strings matching the command line
	Stages struct {
		// SearchRadius is the maximum search radius per level
		SearchRadius string `yaml:"searchRadius"`

		// CubeLength is the non-maximum-suppression cube length per level
		CubeLength string `yaml:"cubeLength"`

		// Quantisation is the search step quantisation per level
		Quantisation string `yaml:"quantisation"`

		// PatchRadius is the similarity patch radius per level
		PatchRadius string `yaml:"patchRadius"`

		// Transform is the densification per level: n (thin plate
		// spline) or r (rigid)
		Transform string `yaml:"transform"`
	} `yaml:"stages"`

	// Output parameters
	Output struct {
		// SaveDeformation determines whether per-axis deformation field
		// files are written
		SaveDeformation bool `yaml:"saveDeformation"`

		// SaveSlices determines whether keypoint overlay slices are written
		SaveSlices bool `yaml:"saveSlices"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default registration parameters
	cfg.Registration.Alpha = 2.5
	cfg.Registration.Beta = 150
	cfg.Registration.Gamma = 5
	cfg.Registration.Delta = 1
	cfg.Registration.Lambda = 0
	cfg.Registration.Sigma = 1.4
	cfg.Registration.Sigma1 = 1

	// Set default ablation handling parameters
	cfg.Ablation.BorderDist = 10
	cfg.Ablation.BorderDensity = 2.0

	// Set default two-level pyramid
	cfg.Stages.SearchRadius = "16x8"
	cfg.Stages.CubeLength = "6x3"
	cfg.Stages.Quantisation = "2x1"
	cfg.Stages.PatchRadius = "3x2"
	cfg.Stages.Transform = "nxn"

	// Set default output parameters
	cfg.Output.SaveDeformation = false
	cfg.Output.SaveSlices = false
	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
