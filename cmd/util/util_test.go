package util

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/ValentinKolb/dMux/rpc/common"
	"github.com/spf13/viper"
)

func TestWrapString(t *testing.T) {
	text := strings.Repeat("word ", 30)
	for _, line := range strings.Split(WrapString(text), "\n") {
		if len(line) > Wrap {
			t.Errorf("Line exceeds %d characters: %q", Wrap, line)
		}
	}
	if WrapString("") != "" {
		t.Error("Expected empty output for empty input")
	}
}

func TestClientFlagSet(t *testing.T) {
	fs := ClientFlagSet()
	for _, name := range []string{"config", "preset", "endpoint", "transport", "serializer", "log-level"} {
		if fs.Lookup(name) == nil {
			t.Errorf("Expected flag --%s", name)
		}
	}
}

func TestGetClientConfig(t *testing.T) {
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "dmux.yaml")
	if err := common.SaveClientConfig(common.MemoryEfficient(), path, false); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	viper.Set("config", path)
	viper.Set("endpoint", "remote:9000")
	viper.Set("transport", "ws")

	cfg, err := GetClientConfig()
	if err != nil {
		t.Fatalf("GetClientConfig failed: %v", err)
	}
	if cfg.Endpoint != "remote:9000" || cfg.Transport.Type != "ws" {
		t.Errorf("Expected flags to override the file, got %s via %s", cfg.Endpoint, cfg.Transport.Type)
	}
	if cfg.Pool.MaxConnections != common.MemoryEfficient().Pool.MaxConnections {
		t.Errorf("Expected options of the file, got max connections %d", cfg.Pool.MaxConnections)
	}

	viper.Reset()
	viper.Set("preset", "high_performance")
	cfg, err = GetClientConfig()
	if err != nil {
		t.Fatalf("GetClientConfig failed: %v", err)
	}
	if cfg.Pool.MaxConnections != common.HighPerformance().Pool.MaxConnections {
		t.Errorf("Expected preset to be applied, got max connections %d", cfg.Pool.MaxConnections)
	}

	viper.Set("preset", "warp-speed")
	if _, err := GetClientConfig(); err == nil {
		t.Error("Expected error for an unknown preset")
	}
}
