package runtime

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

// validate is shared across the package: flow step validation and
// container config validation both use the same registered tag set.
var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterValidation("url_format", func(fl validator.FieldLevel) bool {
		u, err := url.Parse(fl.Field().String())
		return err == nil && u.Scheme != "" && u.Host != ""
	})
}

// ContainerConfig is the generator's run configuration. Field names
// follow the original snake_case wire format; configAliases lets the
// same document also be keyed by the display names a control-plane UI
// would show an operator.
type ContainerConfig struct {
	FlowTargetURL         string `mapstructure:"flow_target_url" validate:"required,url_format"`
	FlowTargetDNSOverride string `mapstructure:"flow_target_dns_override" validate:"omitempty,ip4"`
	XFFHeaderName         string `mapstructure:"xff_header_name" default:"X-Forwarded-For"`
	SimUsers              int    `mapstructure:"sim_users" validate:"required,gte=1"`
	MinSleepMs            int    `mapstructure:"min_sleep_ms" default:"100" validate:"gte=0"`
	MaxSleepMs            int    `mapstructure:"max_sleep_ms" default:"1000" validate:"gte=0"`
	Debug                 bool   `mapstructure:"debug" default:"false"`
	OverrideStepURLHost   bool   `mapstructure:"override_step_url_host" default:"true"`
	FlowCycleDelayMs      *int   `mapstructure:"flow_cycle_delay_ms" validate:"omitempty,gte=0"`
}

// configAliases maps the display name an operator-facing form would use
// to the internal wire key, mirroring the original Pydantic model's
// alias_generator table verbatim.
var configAliases = map[string]string{
	"Flow Target URL":          "flow_target_url",
	"Flow Target DNS Override": "flow_target_dns_override",
	"XFF Header Name":          "xff_header_name",
	"Simulated Users":          "sim_users",
	"Minimum Step Sleep MS":    "min_sleep_ms",
	"Maximum Step Sleep MS":    "max_sleep_ms",
	"Debug":                    "debug",
	"Override Step URL Host":   "override_step_url_host",
	"Flow Cycle Delay MS":      "flow_cycle_delay_ms",
}

// LoadContainerConfig applies defaults, rewrites any alias keys to their
// wire names, decodes raw into a ContainerConfig, and validates the
// result — including the cross-field min/max sleep ordering check the
// original model enforces.
func LoadContainerConfig(raw map[string]any) (*ContainerConfig, error) {
	normalized := make(map[string]any, len(raw))
	for k, v := range raw {
		if wire, ok := configAliases[k]; ok {
			k = wire
		}
		if s, ok := v.(string); ok && s == "" {
			switch k {
			case "flow_target_dns_override", "flow_cycle_delay_ms":
				continue // empty string means "not set" for these two fields
			}
		}
		normalized[k] = v
	}

	cfg := &ContainerConfig{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("applying config defaults: %w", err)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToTimeHookFunc(time.RFC3339),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("building config decoder: %w", err)
	}
	if err := decoder.Decode(normalized); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, formatValidationError(err)
	}
	if cfg.MinSleepMs > cfg.MaxSleepMs {
		return nil, NewValidationError("min_sleep_ms", fmt.Sprintf("must not exceed max_sleep_ms (%d > %d)", cfg.MinSleepMs, cfg.MaxSleepMs))
	}
	if cfg.FlowTargetDNSOverride != "" && net.ParseIP(cfg.FlowTargetDNSOverride) == nil {
		return nil, NewValidationError("flow_target_dns_override", fmt.Sprintf("%q is not a valid IP address", cfg.FlowTargetDNSOverride))
	}

	return cfg, nil
}

// LoadContainerConfigFile reads a raw JSON config document off disk, for
// the CLI entrypoint's --config flag.
func LoadContainerConfigFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return raw, nil
}

func formatValidationError(err error) *ValidationError {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok || len(validationErrors) == 0 {
		return NewValidationError("", err.Error())
	}
	fe := validationErrors[0]
	msgs := make([]string, 0, len(validationErrors))
	for _, f := range validationErrors {
		msgs = append(msgs, fmt.Sprintf("field %q failed validation (rule: %s)", f.Field(), f.Tag()))
	}
	return NewValidationError(fe.Field(), strings.Join(msgs, "; "))
}
