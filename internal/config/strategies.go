package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/aristath/bridgebot/internal/domain"
	"github.com/aristath/bridgebot/internal/modules/allocation"
	"github.com/aristath/bridgebot/internal/modules/execution"
)

// DefaultBridge is used when a strategy names no bridge
const DefaultBridge = "USDT"

// cron specs carry an optional seconds field, matching the scheduler
var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Strategy is one configured trading system
type Strategy struct {
	Name string `yaml:"name"`
	// Capital seeds an empty portfolio and sizes the first target
	Capital decimal.Decimal `yaml:"-"`
	Bridge  domain.Asset    `yaml:"-"`
	// Schedule is a cron spec; empty means manual triggers only
	Schedule string `yaml:"schedule"`
	// Frequency rebalances on every Frequency-th trigger; the others only revalue
	Frequency int                     `yaml:"frequency"`
	Paper     bool                    `yaml:"paper"`
	Funding   execution.FundingPolicy `yaml:"funding"`
	Weights   []allocation.Weight     `yaml:"weights"`

	RawCapital string `yaml:"capital"`
	RawBridge  string `yaml:"bridge"`
}

// Strategies is the parsed strategies file
type Strategies struct {
	List []Strategy `yaml:"strategies"`
}

// LoadStrategies reads and validates a strategies YAML file
func LoadStrategies(path string) (*Strategies, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read strategies file: %w", err)
	}
	return ParseStrategies(data)
}

// ParseStrategies parses and validates strategies YAML
func ParseStrategies(data []byte) (*Strategies, error) {
	var s Strategies
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse strategies: %w", err)
	}
	for i := range s.List {
		if err := s.List[i].normalize(); err != nil {
			return nil, fmt.Errorf("strategy %q: %w", s.List[i].Name, err)
		}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (st *Strategy) normalize() error {
	st.Name = strings.TrimSpace(st.Name)

	if st.RawCapital == "" {
		return fmt.Errorf("capital is required")
	}
	capital, err := decimal.NewFromString(strings.TrimSpace(st.RawCapital))
	if err != nil {
		return fmt.Errorf("invalid capital %q: %w", st.RawCapital, err)
	}
	st.Capital = capital

	bridge := st.RawBridge
	if bridge == "" {
		bridge = DefaultBridge
	}
	st.Bridge = domain.Crypto(bridge)

	if st.Frequency == 0 {
		st.Frequency = 1
	}
	if st.Funding == "" {
		st.Funding = execution.FundingPrecheck
	}

	for i, w := range st.Weights {
		kind := w.Asset.Kind
		if kind == "" {
			kind = domain.KindCrypto
		}
		st.Weights[i].Asset = domain.NewAsset(w.Asset.Ticker, kind)
	}
	return nil
}

// Validate checks one strategy
func (st *Strategy) Validate() error {
	if st.Name == "" {
		return fmt.Errorf("strategy name is required")
	}
	if !st.Capital.IsPositive() {
		return fmt.Errorf("strategy %q: capital must be positive", st.Name)
	}
	if st.Frequency < 1 {
		return fmt.Errorf("strategy %q: frequency must be at least 1", st.Name)
	}
	if err := st.Funding.Validate(); err != nil {
		return fmt.Errorf("strategy %q: %w", st.Name, err)
	}
	if st.Schedule != "" {
		if _, err := scheduleParser.Parse(st.Schedule); err != nil {
			return fmt.Errorf("strategy %q: invalid schedule %q: %w", st.Name, st.Schedule, err)
		}
	}
	if err := allocation.ValidateWeights(st.Weights); err != nil {
		return fmt.Errorf("strategy %q: %w", st.Name, err)
	}
	return nil
}

// Validate checks every strategy and that names are unique
func (s *Strategies) Validate() error {
	seen := make(map[string]bool, len(s.List))
	for i := range s.List {
		st := &s.List[i]
		if err := st.Validate(); err != nil {
			return err
		}
		if seen[st.Name] {
			return fmt.Errorf("duplicate strategy %q", st.Name)
		}
		seen[st.Name] = true
	}
	return nil
}

// Get returns a strategy by name
func (s *Strategies) Get(name string) (Strategy, bool) {
	for _, st := range s.List {
		if st.Name == name {
			return st, true
		}
	}
	return Strategy{}, false
}

// Weights returns the weights of a strategy
func (s *Strategies) Weights(name string) ([]allocation.Weight, bool) {
	st, ok := s.Get(name)
	if !ok {
		return nil, false
	}
	return st.Weights, true
}

// Names returns strategy names in file order
func (s *Strategies) Names() []string {
	names := make([]string, 0, len(s.List))
	for _, st := range s.List {
		names = append(names, st.Name)
	}
	return names
}

// Bridge returns the bridge shared by every strategy. One exchange client
// quotes against one bridge, so mixed bridges are an error.
func (s *Strategies) Bridge() (domain.Asset, error) {
	if len(s.List) == 0 {
		return domain.Crypto(DefaultBridge), nil
	}
	bridge := s.List[0].Bridge
	for _, st := range s.List[1:] {
		if st.Bridge != bridge {
			return domain.Asset{}, fmt.Errorf("strategies %q and %q use different bridges (%s, %s)",
				s.List[0].Name, st.Name, bridge.Ticker, st.Bridge.Ticker)
		}
	}
	return bridge, nil
}
