package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/suspectuso/commando-rewards/internal/persist"
)

var ErrInvalidSettings = errors.New("invalid settings")

// Channel is a required subscription target shown to users.
type Channel struct {
	URL   string `yaml:"url" json:"url"`
	Title string `yaml:"title" json:"title"`
}

// PaymentMethod is a withdrawal option.
type PaymentMethod struct {
	ID       string `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	Icon     string `yaml:"icon" json:"icon"`
	Category string `yaml:"category" json:"category"`
}

// Settings is the runtime-editable part of the configuration.
// Values are never mutated after construction; updates build a new Settings.
type Settings struct {
	MinWithdrawal    float64         `yaml:"MIN_WITHDRAWAL" json:"MIN_WITHDRAWAL"`
	RequiredChannels []Channel       `yaml:"REQUIRED_CHANNELS" json:"REQUIRED_CHANNELS"`
	PaymentMethods   []PaymentMethod `yaml:"PAYMENT_METHODS" json:"PAYMENT_METHODS"`
}

// MinWithdrawalAmount returns the minimum withdrawal as a decimal.
func (s *Settings) MinWithdrawalAmount() decimal.Decimal {
	return decimal.NewFromFloat(s.MinWithdrawal)
}

// PaymentMethod looks up a method by id.
func (s *Settings) PaymentMethod(id string) (PaymentMethod, bool) {
	for _, m := range s.PaymentMethods {
		if strings.EqualFold(m.ID, id) {
			return m, true
		}
	}
	return PaymentMethod{}, false
}

// Validate applies the rules enforced on admin updates.
func (s *Settings) Validate() error {
	if len(s.RequiredChannels) == 0 {
		return fmt.Errorf("%w: REQUIRED_CHANNELS must not be empty", ErrInvalidSettings)
	}
	for _, ch := range s.RequiredChannels {
		if ch.URL == "" || ch.Title == "" {
			return fmt.Errorf("%w: each channel must have url and title", ErrInvalidSettings)
		}
	}
	if s.MinWithdrawal <= 0 {
		return fmt.Errorf("%w: MIN_WITHDRAWAL must be positive", ErrInvalidSettings)
	}
	if len(s.PaymentMethods) == 0 {
		return fmt.Errorf("%w: PAYMENT_METHODS must not be empty", ErrInvalidSettings)
	}
	for _, m := range s.PaymentMethods {
		if m.ID == "" || m.Name == "" || m.Icon == "" || m.Category == "" {
			return fmt.Errorf("%w: each payment method must have id, name, icon, and category", ErrInvalidSettings)
		}
	}
	return nil
}

// ParseSettings decodes a YAML or JSON settings document.
func ParseSettings(data []byte) (*Settings, error) {
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	return &s, nil
}

// LoadSettings reads the settings file at path.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSettings(data)
}

func encodeSettings(path string, s *Settings) ([]byte, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return json.MarshalIndent(s, "", "  ")
	}
	return yaml.Marshal(s)
}

// SettingsHolder publishes the current Settings. Readers call Load on every
// use; writers validate, persist and then swap the pointer.
type SettingsHolder struct {
	path string
	mu   sync.Mutex
	cur  atomic.Pointer[Settings]
}

func NewSettingsHolder(path string, initial *Settings) *SettingsHolder {
	if initial == nil {
		initial = &Settings{}
	}
	h := &SettingsHolder{path: path}
	h.cur.Store(initial)
	return h
}

// Load returns the current settings snapshot.
func (h *SettingsHolder) Load() *Settings {
	return h.cur.Load()
}

// Replace validates next, writes it to disk and makes it current.
func (h *SettingsHolder) Replace(next *Settings) error {
	if err := next.Validate(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.path != "" {
		data, err := encodeSettings(h.path, next)
		if err != nil {
			return fmt.Errorf("encode settings: %w", err)
		}
		if err := persist.WriteAtomic(h.path, data); err != nil {
			return fmt.Errorf("write settings: %w", err)
		}
	}
	h.cur.Store(next)
	return nil
}

// Reload re-reads the settings file and swaps it in.
func (h *SettingsHolder) Reload() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, err := LoadSettings(h.path)
	if err != nil {
		return err
	}
	h.cur.Store(s)
	return nil
}
