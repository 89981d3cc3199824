package descriptor

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest is the static tools.yaml shape loaded at bootstrap: descriptors
// without their implementation bodies, which are wired in by cmd/server
// after the manifest is parsed.
type Manifest struct {
	Tools     []ToolManifestEntry     `yaml:"tools"`
	Resources []ResourceManifestEntry `yaml:"resources"`
	Prompts   []PromptManifestEntry   `yaml:"prompts"`
}

// ToolManifestEntry is one tools.yaml tool entry.
type ToolManifestEntry struct {
	Name         string         `yaml:"name"`
	Version      string         `yaml:"version"`
	Description  string         `yaml:"description"`
	InputSchema  map[string]interface{} `yaml:"inputSchema"`
	OutputSchema map[string]interface{} `yaml:"outputSchema"`
	TimeoutMS    *int64         `yaml:"timeoutMs"`
	Retries      *int           `yaml:"retries"`
}

// ResourceManifestEntry is one tools.yaml resource entry.
type ResourceManifestEntry struct {
	Name               string            `yaml:"name"`
	Type               string            `yaml:"type"`
	Version            string            `yaml:"version"`
	ConnectionConfig   map[string]string `yaml:"connectionConfig"`
	MaxConnections     int               `yaml:"maxConnections"`
	AcquireTimeoutMS   int64             `yaml:"acquireTimeoutMs"`
	EstimatedConnBytes int64             `yaml:"estimatedConnBytes"`
	MaxMemoryBytes     int64             `yaml:"maxMemoryBytes"`
}

// PromptManifestEntry is one tools.yaml prompt entry.
type PromptManifestEntry struct {
	Name          string                 `yaml:"name"`
	Version       string                 `yaml:"version"`
	Template      string                 `yaml:"template"`
	Variables     map[string]interface{} `yaml:"variables"`
	ContextSchema map[string]interface{} `yaml:"contextSchema"`
}

// LoadManifest reads and parses a tools.yaml file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	return &m, nil
}

// ToDescriptor converts a manifest tool entry into a ToolDescriptor; the
// caller still supplies the ToolBody.
func (e ToolManifestEntry) ToDescriptor() *ToolDescriptor {
	return &ToolDescriptor{
		Name:         e.Name,
		Version:      e.Version,
		Description:  e.Description,
		InputSchema:  Schema(e.InputSchema),
		OutputSchema: Schema(e.OutputSchema),
		Timeout:      e.TimeoutMS,
		Retries:      e.Retries,
	}
}

// ToDescriptor converts a manifest resource entry into a
// ResourceDescriptor; the caller still supplies the ResourceBody.
func (e ResourceManifestEntry) ToDescriptor() *ResourceDescriptor {
	return &ResourceDescriptor{
		Name:               e.Name,
		Type:               ResourceType(e.Type),
		Version:            e.Version,
		ConnectionConfig:   e.ConnectionConfig,
		MaxConnections:     e.MaxConnections,
		AcquireTimeoutMS:   e.AcquireTimeoutMS,
		EstimatedConnBytes: e.EstimatedConnBytes,
		MaxMemoryBytes:     e.MaxMemoryBytes,
	}
}

// ToDescriptor converts a manifest prompt entry into a PromptDescriptor.
func (e PromptManifestEntry) ToDescriptor() *PromptDescriptor {
	return &PromptDescriptor{
		Name:            e.Name,
		Version:         e.Version,
		Template:        e.Template,
		VariableSchemas: Schema(e.Variables),
		ContextSchema:   Schema(e.ContextSchema),
	}
}
