package defaults

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nugget/sundevil-helper/internal/config"
)

func TestConfigYAML_Loads(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "g-test")
	t.Setenv("TAVILY_API_KEY", "tvly-test")

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, ConfigYAML, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
	if cfg.Reasoner.Provider != "gemini" || cfg.Reasoner.Gemini.APIKey != "g-test" {
		t.Errorf("reasoner = %+v", cfg.Reasoner)
	}
	if cfg.Search.Primary != "tavily" || cfg.Search.ToolName != "tavily_search_results_json" {
		t.Errorf("search = %+v", cfg.Search)
	}
	if cfg.Agent.MaxCycles != 5 || cfg.Agent.Timezone != "America/Phoenix" {
		t.Errorf("agent = %+v", cfg.Agent)
	}
	if cfg.MQTT.Configured() {
		t.Error("mqtt should be disabled in the example")
	}
}

func TestEnvExample_CoversConfigReferences(t *testing.T) {
	for _, name := range []string{"GOOGLE_API_KEY", "ANTHROPIC_API_KEY", "TAVILY_API_KEY", "BRAVE_API_KEY"} {
		if !strings.Contains(string(ConfigYAML), "${"+name+"}") {
			t.Errorf("config example does not reference %s", name)
		}
		if !strings.Contains(string(EnvExample), name+"=") {
			t.Errorf("env example missing %s", name)
		}
	}
}
