// Package profile holds the catalogue of named software PLL configurations.
package profile

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/usnistgov/swpll"
	"github.com/usnistgov/swpll/appll"
	"github.com/usnistgov/swpll/lut"
)

//go:embed profiles.toml
var builtin []byte

// Profile is one named loop configuration: gains, decimation, register values
// and either a LUT description or an SDM midpoint.
type Profile struct {
	Name        string `toml:"name" mapstructure:"name"`
	Description string `toml:"description" mapstructure:"description"`
	Actuator    string `toml:"actuator" mapstructure:"actuator"` // "lut" or "sdm"

	InputHz  float64 `toml:"input_hz" mapstructure:"input_hz"`
	TargetHz float64 `toml:"target_hz" mapstructure:"target_hz"`
	RefHz    float64 `toml:"ref_hz" mapstructure:"ref_hz"`

	Kp  float64 `toml:"kp" mapstructure:"kp"`
	Ki  float64 `toml:"ki" mapstructure:"ki"`
	Kii float64 `toml:"kii" mapstructure:"kii"`

	LoopRateCount     int `toml:"loop_rate_count" mapstructure:"loop_rate_count"`
	PLLRatio          int `toml:"pll_ratio" mapstructure:"pll_ratio"`
	RefClkExpectedInc int `toml:"ref_clk_expected_inc" mapstructure:"ref_clk_expected_inc"`
	PPMRange          int `toml:"ppm_range" mapstructure:"ppm_range"`
	LockCount         int `toml:"lock_count" mapstructure:"lock_count"`

	AppPLLCtl  uint32 `toml:"app_pll_ctl" mapstructure:"app_pll_ctl"`
	AppPLLDiv  uint32 `toml:"app_pll_div" mapstructure:"app_pll_div"`
	AppPLLFrac uint32 `toml:"app_pll_frac" mapstructure:"app_pll_frac"`

	// LUT actuator. The table comes from LUTFile (.npy or C header) when set,
	// otherwise it is generated from the fraction limits.
	LUTFile      string  `toml:"lut_file" mapstructure:"lut_file"`
	LUTMaxDenom  int     `toml:"lut_max_denom" mapstructure:"lut_max_denom"`
	LUTFracMin   float64 `toml:"lut_frac_min" mapstructure:"lut_frac_min"`
	LUTFracMax   float64 `toml:"lut_frac_max" mapstructure:"lut_frac_max"`
	NominalIndex int     `toml:"nominal_index" mapstructure:"nominal_index"` // negative means the middle entry

	// SDM actuator.
	CtrlMidPoint int32   `toml:"ctrl_mid_point" mapstructure:"ctrl_mid_point"`
	SDMRateHz    float64 `toml:"sdm_rate_hz" mapstructure:"sdm_rate_hz"`
}

type catalogue struct {
	Default  string    `toml:"default"`
	Profiles []Profile `toml:"profile"`
}

var (
	profiles    map[string]Profile
	defaultName string
)

func init() {
	var err error
	profiles, defaultName, err = decode(builtin)
	if err != nil {
		panic(err)
	}
}

func decode(data []byte) (map[string]Profile, string, error) {
	var c catalogue
	md, err := toml.Decode(string(data), &c)
	if err != nil {
		return nil, "", fmt.Errorf("decoding profiles: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, "", fmt.Errorf("unknown profile keys: %v", undecoded)
	}
	result := make(map[string]Profile)
	for _, p := range c.Profiles {
		if _, ok := result[p.Name]; ok {
			return nil, "", fmt.Errorf("duplicate profile %q", p.Name)
		}
		if err := p.Validate(); err != nil {
			return nil, "", err
		}
		result[p.Name] = p
	}
	if _, ok := result[c.Default]; c.Default != "" && !ok {
		return nil, "", fmt.Errorf("default profile %q is not defined", c.Default)
	}
	return result, c.Default, nil
}

// Load reads an additional catalogue file. Its profiles replace built-in ones
// with the same name.
func Load(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	extra, dflt, err := decode(data)
	if err != nil {
		return fmt.Errorf("%s: %w", filename, err)
	}
	if dflt != "" {
		defaultName = dflt
	}
	for name, p := range extra {
		profiles[name] = p
	}
	return nil
}

// Names returns the known profile names in sorted order.
func Names() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default returns the name of the default profile.
func Default() string {
	return defaultName
}

// Lookup returns the named profile.
func Lookup(name string) (Profile, error) {
	p, ok := profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("unknown profile %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	return p, nil
}

// Kind returns the actuator kind named by the profile.
func (p Profile) Kind() (swpll.ActuatorKind, error) {
	switch strings.ToLower(p.Actuator) {
	case "lut":
		return swpll.LUTActuator, nil
	case "sdm":
		return swpll.SDMActuator, nil
	}
	return 0, fmt.Errorf("profile %q: unknown actuator %q", p.Name, p.Actuator)
}

// Validate checks everything that can be checked without building a controller.
func (p Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("profile has no name")
	}
	kind, err := p.Kind()
	if err != nil {
		return err
	}
	if err := p.Config().Validate(); err != nil {
		return fmt.Errorf("profile %q: %w", p.Name, err)
	}
	if p.RefHz <= 0 || p.InputHz <= 0 {
		return fmt.Errorf("profile %q: reference and input frequencies must be positive", p.Name)
	}
	if err := p.Settings().Validate(); err != nil {
		return fmt.Errorf("profile %q: %w", p.Name, err)
	}
	if kind == swpll.SDMActuator {
		if p.CtrlMidPoint < swpll.SDMLowerLimit || p.CtrlMidPoint > swpll.SDMUpperLimit {
			return fmt.Errorf("profile %q: midpoint %d outside [%d, %d]", p.Name,
				p.CtrlMidPoint, swpll.SDMLowerLimit, swpll.SDMUpperLimit)
		}
	}
	return nil
}

// Config returns the controller parameters of the profile.
func (p Profile) Config() swpll.Config {
	return swpll.Config{
		Kp:                swpll.ToQ1516(p.Kp),
		Ki:                swpll.ToQ1516(p.Ki),
		Kii:               swpll.ToQ1516(p.Kii),
		LoopRateCount:     p.LoopRateCount,
		PLLRatio:          p.PLLRatio,
		RefClkExpectedInc: p.RefClkExpectedInc,
		PPMRange:          p.PPMRange,
		LockCount:         p.LockCount,
	}
}

// Settings returns the application PLL settings the profile programs at start.
func (p Profile) Settings() appll.Settings {
	return appll.FromRegisters(p.InputHz, p.AppPLLCtl, p.AppPLLDiv, p.AppPLLFrac)
}

// Table returns the LUT of a LUT profile.
func (p Profile) Table() ([]int16, error) {
	if p.LUTFile == "" {
		return lut.Generate(p.LUTMaxDenom, p.LUTFracMin, p.LUTFracMax)
	}
	f, err := os.Open(p.LUTFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if strings.EqualFold(filepath.Ext(p.LUTFile), ".npy") {
		return lut.ReadNPY(f)
	}
	return lut.ParseHeader(f)
}

// Nominal returns the zero-error index into table.
func (p Profile) Nominal(table []int16) int {
	if p.NominalIndex < 0 {
		return lut.Nominal(table)
	}
	return p.NominalIndex
}

// NewController builds the controller the profile describes. For LUT profiles
// the table is returned as well, since the controller only borrows it.
func (p Profile) NewController() (*swpll.Controller, []int16, error) {
	kind, err := p.Kind()
	if err != nil {
		return nil, nil, err
	}
	if kind == swpll.SDMActuator {
		c, err := swpll.NewSDMController(p.Config(), p.CtrlMidPoint, swpll.SDMLowerLimit, swpll.SDMUpperLimit)
		return c, nil, err
	}
	table, err := p.Table()
	if err != nil {
		return nil, nil, fmt.Errorf("profile %q: loading LUT: %w", p.Name, err)
	}
	c, err := swpll.NewLUTController(p.Config(), table, p.Nominal(table))
	if err != nil {
		return nil, nil, err
	}
	return c, table, nil
}
