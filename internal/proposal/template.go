package proposal

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/quotedeck/internal/estimate"
)

// BlockType enumerates the block kinds a proposal can hold.
type BlockType string

const (
	BlockTypeHeading   BlockType = "heading"
	BlockTypeParagraph BlockType = "paragraph"
	BlockTypeBullet    BlockType = "bullet"
)

var (
	// ErrInvalidTemplate indicates that a template document is malformed.
	ErrInvalidTemplate = errors.New("proposal: invalid template")
	// ErrInvalidBlockType indicates that a block type is not recognised.
	ErrInvalidBlockType = errors.New("proposal: invalid block type")
)

// ParseBlockType validates raw input and returns a BlockType.
func ParseBlockType(raw string) (BlockType, error) {
	switch blockType := BlockType(strings.ToLower(strings.TrimSpace(raw))); blockType {
	case BlockTypeHeading, BlockTypeParagraph, BlockTypeBullet:
		return blockType, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidBlockType, raw)
	}
}

// Block is a single templated block of a section.
type Block struct {
	Key     string
	Type    BlockType
	Content string
}

// Section is an ordered group of blocks.
type Section struct {
	Key    string
	Title  string
	Blocks []Block
}

// Provider produces the proposal sections for a requirements payload.
type Provider interface {
	Sections(requirements estimate.Requirements) ([]Section, error)
}

// ProviderFunc adapts a plain function to Provider.
type ProviderFunc func(requirements estimate.Requirements) ([]Section, error)

// Sections calls f(requirements).
func (f ProviderFunc) Sections(requirements estimate.Requirements) ([]Section, error) {
	return f(requirements)
}

// ValidateSections checks that section and block keys are present and unique.
func ValidateSections(sections []Section) error {
	sectionKeys := make(map[string]struct{}, len(sections))
	blockKeys := make(map[string]struct{})
	for sectionIndex, section := range sections {
		if strings.TrimSpace(section.Key) == "" {
			return fmt.Errorf("%w: section %d has no key", ErrInvalidTemplate, sectionIndex)
		}
		if _, seen := sectionKeys[section.Key]; seen {
			return fmt.Errorf("%w: duplicate section key %q", ErrInvalidTemplate, section.Key)
		}
		sectionKeys[section.Key] = struct{}{}
		for blockIndex, block := range section.Blocks {
			if strings.TrimSpace(block.Key) == "" {
				return fmt.Errorf("%w: block %d of section %q has no key", ErrInvalidTemplate, blockIndex, section.Key)
			}
			if _, seen := blockKeys[block.Key]; seen {
				return fmt.Errorf("%w: duplicate block key %q", ErrInvalidTemplate, block.Key)
			}
			blockKeys[block.Key] = struct{}{}
			if _, err := ParseBlockType(string(block.Type)); err != nil {
				return fmt.Errorf("%w: block %q: %v", ErrInvalidTemplate, block.Key, err)
			}
		}
	}
	return nil
}
