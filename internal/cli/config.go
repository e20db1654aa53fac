package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-keyprobe/core"
)

// runFlags are the run defaults a command may override from its flags. Zero
// values leave the config file value in place.
type runFlags struct {
	provider    string
	model       string
	proxy       string
	concurrency int
	maxRetries  int
	paid        bool
	storeDriver string
	storeDSN    string
}

// yamlLoader reads a YAML file into the raw map consumed by cfgx. A blank
// path yields an empty map.
type yamlLoader struct {
	path string
}

func (l yamlLoader) LoadRaw(context.Context) (map[string]any, error) {
	raw := map[string]any{}
	if strings.TrimSpace(l.path) == "" {
		return raw, nil
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", l.path, err)
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", l.path, err)
	}
	return raw, nil
}

func loadConfig(ctx context.Context, flags runFlags) (core.Config, error) {
	runtime := core.Config{
		Run: core.RunDefaults{
			ProviderID:      flags.provider,
			Model:           flags.model,
			ProxyEndpoint:   flags.proxy,
			Concurrency:     flags.concurrency,
			MaxRetries:      flags.maxRetries,
			EnablePaidProbe: flags.paid,
		},
		Store: core.StoreConfig{
			Driver: flags.storeDriver,
			DSN:    flags.storeDSN,
		},
	}
	return core.LoadConfig(ctx, yamlLoader{path: configPath}, runtime)
}
