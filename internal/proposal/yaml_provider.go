package proposal

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MarcoPoloResearchLab/quotedeck/internal/estimate"
)

//go:embed templates/default.yaml
var defaultTemplate []byte

type yamlDocument struct {
	Sections []yamlSection `yaml:"sections"`
}

type yamlSection struct {
	Key    string      `yaml:"key"`
	Title  string      `yaml:"title"`
	Blocks []yamlBlock `yaml:"blocks"`
}

type yamlBlock struct {
	Key      string   `yaml:"key"`
	Type     string   `yaml:"type"`
	Content  string   `yaml:"content"`
	Features []string `yaml:"features"`
}

// YAMLProvider renders sections from a YAML template document. A block that
// lists features is emitted only when every listed flag is enabled.
type YAMLProvider struct {
	document yamlDocument
}

// NewYAMLProvider parses and validates a template document.
func NewYAMLProvider(raw []byte) (*YAMLProvider, error) {
	var document yamlDocument
	if err := yaml.Unmarshal(raw, &document); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	if len(document.Sections) == 0 {
		return nil, fmt.Errorf("%w: no sections", ErrInvalidTemplate)
	}

	provider := &YAMLProvider{document: document}
	if err := ValidateSections(provider.allSections()); err != nil {
		return nil, err
	}
	return provider, nil
}

// DefaultProvider returns the provider backed by the embedded template.
func DefaultProvider() (*YAMLProvider, error) {
	return NewYAMLProvider(defaultTemplate)
}

// LoadProvider reads the template at path, falling back to the embedded
// template when path is empty.
func LoadProvider(path string) (*YAMLProvider, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return DefaultProvider()
	}
	raw, err := os.ReadFile(trimmed)
	if err != nil {
		return nil, fmt.Errorf("read proposal template: %w", err)
	}
	return NewYAMLProvider(raw)
}

// Sections implements Provider.
func (p *YAMLProvider) Sections(requirements estimate.Requirements) ([]Section, error) {
	sections := make([]Section, 0, len(p.document.Sections))
	for _, rawSection := range p.document.Sections {
		section := Section{Key: rawSection.Key, Title: rawSection.Title}
		for _, rawBlock := range rawSection.Blocks {
			if !featuresEnabled(requirements, rawBlock.Features) {
				continue
			}
			blockType, err := ParseBlockType(rawBlock.Type)
			if err != nil {
				return nil, err
			}
			section.Blocks = append(section.Blocks, Block{
				Key:     rawBlock.Key,
				Type:    blockType,
				Content: strings.TrimSpace(rawBlock.Content),
			})
		}
		sections = append(sections, section)
	}
	return sections, nil
}

func (p *YAMLProvider) allSections() []Section {
	sections := make([]Section, 0, len(p.document.Sections))
	for _, rawSection := range p.document.Sections {
		section := Section{Key: rawSection.Key, Title: rawSection.Title}
		for _, rawBlock := range rawSection.Blocks {
			section.Blocks = append(section.Blocks, Block{
				Key:  rawBlock.Key,
				Type: BlockType(strings.ToLower(strings.TrimSpace(rawBlock.Type))),
			})
		}
		sections = append(sections, section)
	}
	return sections
}

func featuresEnabled(requirements estimate.Requirements, features []string) bool {
	for _, feature := range features {
		if !requirements.Enabled(feature) {
			return false
		}
	}
	return true
}
