package config

// ConfigDiff describes what changed between two loaded configs.
type ConfigDiff struct {
	SchedulerChanged bool
	NewPollInterval  SchedulerConfig

	EngineChanged bool
	NewEngine     EngineConfig

	MemoryChanged bool
	NewMemory     MemoryConfig

	ModelChanged bool
	NewLLM       LLMConfig

	// Non-reloadable fields that changed (log warnings only)
	NonReloadable []string
}

// HasChanges reports whether any reloadable field changed.
func (d *ConfigDiff) HasChanges() bool {
	return d.SchedulerChanged ||
		d.EngineChanged ||
		d.MemoryChanged ||
		d.ModelChanged
}

// Diff compares two configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Scheduler.PollInterval != new.Scheduler.PollInterval {
		d.SchedulerChanged = true
		d.NewPollInterval = new.Scheduler
	}

	if old.Engine != new.Engine {
		d.EngineChanged = true
		d.NewEngine = new.Engine
	}

	if old.Memory != new.Memory {
		d.MemoryChanged = true
		d.NewMemory = new.Memory
	}

	if old.LLM.Model != new.LLM.Model || old.LLM.RouterModel != new.LLM.RouterModel || old.LLM.MaxTokens != new.LLM.MaxTokens {
		d.ModelChanged = true
		d.NewLLM = new.LLM
	}

	// Non-reloadable warnings
	if old.Telegram.Token != new.Telegram.Token {
		d.NonReloadable = append(d.NonReloadable, "telegram.token")
	}
	if old.Web.Port != new.Web.Port {
		d.NonReloadable = append(d.NonReloadable, "web.port")
	}
	if old.NATS.Port != new.NATS.Port {
		d.NonReloadable = append(d.NonReloadable, "nats.port")
	}
	if old.NATS.DataDir != new.NATS.DataDir {
		d.NonReloadable = append(d.NonReloadable, "nats.data_dir")
	}
	if old.Store.Path != new.Store.Path {
		d.NonReloadable = append(d.NonReloadable, "store.path")
	}
	if old.Vault.Passphrase != new.Vault.Passphrase {
		d.NonReloadable = append(d.NonReloadable, "vault.passphrase")
	}
	if old.LLM.APIKey != new.LLM.APIKey {
		d.NonReloadable = append(d.NonReloadable, "llm.api_key")
	}

	return d
}
