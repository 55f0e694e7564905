// Package script holds the promotional reply table: greeting media and
// caption, the follow-up menu or reminder, keyword replies and the fallback.
package script

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"promo-autoresponder/pkg/constants"
)

// Follow-up kinds sent after the greeting media
const (
	FollowUpMenu     = "menu"
	FollowUpReminder = "reminder"
	FollowUpNone     = "none"
)

// Fallback modes for text that matches no keyword
const (
	FallbackOff           = "off"
	FallbackAlways        = "always"
	FallbackUnlessGreeted = "unless_greeted"
)

var (
	ErrUnknownPreset = errors.New("unknown script preset")
	ErrInvalidScript = errors.New("invalid script")
)

// Reply is one keyword entry. WithMedia replies carry the greeting image
// with Text as its caption.
type Reply struct {
	Text      string `yaml:"text"`
	WithMedia bool   `yaml:"with_media"`
}

type Script struct {
	Name             string           `yaml:"name"`
	MediaPath        string           `yaml:"media_path"`
	MediaMimeType    string           `yaml:"media_mime_type"`
	Caption          string           `yaml:"caption"`
	FollowUp         string           `yaml:"follow_up"`
	Menu             string           `yaml:"menu"`
	Reminder         string           `yaml:"reminder"`
	ReminderDelay    time.Duration    `yaml:"reminder_delay"`
	GreetingKeywords []string         `yaml:"greeting_keywords"`
	CaseSensitive    bool             `yaml:"case_sensitive"`
	Keywords         map[string]Reply `yaml:"keywords"`
	Fallback         string           `yaml:"fallback"`
	FallbackMode     string           `yaml:"fallback_mode"`
}

// Load returns the named preset, overlaid with the YAML file at path when
// path is not empty. Fields missing from the file keep the preset values;
// a keywords or greeting_keywords table in the file replaces the preset's.
func Load(preset, path string) (*Script, error) {
	s, err := Preset(preset)
	if err != nil {
		return nil, err
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read script file: %w", err)
		}
		if err := s.overlay(data); err != nil {
			return nil, fmt.Errorf("failed to parse script file %s: %w", path, err)
		}
	}

	if err := s.prepare(); err != nil {
		return nil, err
	}
	return s, nil
}

// overlay decodes data over s. yaml.v3 merges into a non-nil map, so the
// tables are cleared first and restored when the file leaves them out.
func (s *Script) overlay(data []byte) error {
	keywords, greetings := s.Keywords, s.GreetingKeywords
	s.Keywords, s.GreetingKeywords = nil, nil

	if err := yaml.Unmarshal(data, s); err != nil {
		return err
	}

	if s.Keywords == nil {
		s.Keywords = keywords
	}
	if s.GreetingKeywords == nil {
		s.GreetingKeywords = greetings
	}
	return nil
}

// prepare fills defaults, normalizes keyword keys and validates the table
func (s *Script) prepare() error {
	if s.FollowUp == "" {
		s.FollowUp = FollowUpMenu
	}
	if s.FallbackMode == "" {
		s.FallbackMode = FallbackOff
	}
	if s.ReminderDelay <= 0 {
		s.ReminderDelay = constants.SecondsToDuration(constants.DefaultReminderDelaySeconds)
	}

	keywords := make(map[string]Reply, len(s.Keywords))
	for key, reply := range s.Keywords {
		normalized := s.Normalize(key)
		if normalized == "" {
			return fmt.Errorf("%w: empty keyword", ErrInvalidScript)
		}
		keywords[normalized] = reply
	}
	s.Keywords = keywords

	greetings := make([]string, 0, len(s.GreetingKeywords))
	for _, key := range s.GreetingKeywords {
		if normalized := s.Normalize(key); normalized != "" {
			greetings = append(greetings, normalized)
		}
	}
	s.GreetingKeywords = greetings

	switch s.FollowUp {
	case FollowUpMenu:
		if s.Menu == "" {
			return fmt.Errorf("%w: follow_up menu needs a menu text", ErrInvalidScript)
		}
	case FollowUpReminder:
		if s.Reminder == "" {
			return fmt.Errorf("%w: follow_up reminder needs a reminder text", ErrInvalidScript)
		}
	case FollowUpNone:
	default:
		return fmt.Errorf("%w: unknown follow_up %q", ErrInvalidScript, s.FollowUp)
	}

	switch s.FallbackMode {
	case FallbackOff:
	case FallbackAlways, FallbackUnlessGreeted:
		if s.Fallback == "" {
			return fmt.Errorf("%w: fallback_mode %s needs a fallback text", ErrInvalidScript, s.FallbackMode)
		}
	default:
		return fmt.Errorf("%w: unknown fallback_mode %q", ErrInvalidScript, s.FallbackMode)
	}

	if s.Caption == "" && s.MediaPath == "" {
		return fmt.Errorf("%w: greeting needs a caption or a media path", ErrInvalidScript)
	}

	return nil
}

// Normalize trims text and folds case unless the script is case sensitive
func (s *Script) Normalize(text string) string {
	text = strings.TrimSpace(text)
	if !s.CaseSensitive {
		text = strings.ToLower(text)
	}
	return text
}

// Lookup returns the reply mapped to the normalized text
func (s *Script) Lookup(text string) (Reply, bool) {
	reply, ok := s.Keywords[s.Normalize(text)]
	return reply, ok
}

func (s *Script) IsGreeting(text string) bool {
	normalized := s.Normalize(text)
	for _, greeting := range s.GreetingKeywords {
		if greeting == normalized {
			return true
		}
	}
	return false
}

// HasMedia reports whether the greeting carries an image
func (s *Script) HasMedia() bool {
	return s.MediaPath != ""
}
